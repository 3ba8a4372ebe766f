// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/utils/perms"
	"github.com/luxfi/utils/profiler"
	"github.com/luxfi/utils/ulimit"

	"github.com/luxfi/ledger/api/health"
	"github.com/luxfi/ledger/api/ledger"
	"github.com/luxfi/ledger/api/server"
	"github.com/luxfi/ledger/backend/kvdb"
	"github.com/luxfi/ledger/config"
	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/node"
	"github.com/luxfi/ledger/pipeline"
)

func startCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "start",
		Short: "Runs the node until interrupted",
		Args:  cobra.NoArgs,
		RunE:  startFunc,
	}
	c.Flags().Bool(TempKeypairKey, false, "Generate a throwaway key pair if none is configured")
	return c
}

func startFunc(c *cobra.Command, _ []string) error {
	flags := c.Flags()
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	allowTemp, err := flags.GetBool(TempKeypairKey)
	if err != nil {
		return err
	}

	logger := newLogger()
	if err := ulimit.Set(cfg.FdLimit, logger); err != nil {
		logger.Warn("couldn't raise the file descriptor limit",
			log.Uint64("limit", cfg.FdLimit),
			log.Err(err),
		)
	}
	if !cfg.HasKeypair() {
		if !allowTemp {
			return fmt.Errorf("%w: run configure first or start with --%s", config.ErrNoKeypair, TempKeypairKey)
		}
		sk, err := keys.NewPrivateKey()
		if err != nil {
			return err
		}
		cfg.SetKeypair(sk)
		logger.Warn("using a temporary key pair",
			log.Stringer("publicKey", sk.PublicKey()),
		)
	}

	g, err := openGateway(cfg, logger)
	if err != nil {
		return err
	}
	return errors.Join(start(c.Context(), cfg, g, logger), g.Close())
}

func start(ctx context.Context, cfg config.Config, g *kvdb.Gateway, logger log.Logger) error {
	n, err := openNode(ctx, cfg, g, logger)
	if err != nil {
		return err
	}
	return errors.Join(run(ctx, cfg, g, n, logger), n.Close())
}

func run(ctx context.Context, cfg config.Config, g *kvdb.Gateway, n *node.Node, logger log.Logger) error {
	exists, err := g.DatabaseExists(ctx, cfg.Database.Name)
	if err != nil {
		return err
	}
	if !exists {
		logger.Info("initializing database",
			log.String("name", cfg.Database.Name),
		)
		if err := createDatabase(ctx, cfg, g, n); err != nil {
			return err
		}
	}

	if cfg.Recovery.URI != "" {
		oracle := &node.HTTPHeightOracle{
			URI:    cfg.Recovery.URI,
			Client: http.DefaultClient,
		}
		if err := n.RecoverFrom(ctx, oracle); err != nil {
			return fmt.Errorf("couldn't recover: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	p, err := pipeline.New(n, cfg.Pipeline, registry, logger)
	if err != nil {
		return err
	}

	serverRegistry := metric.NewRegistry()
	checks, err := health.New(logger, serverRegistry)
	if err != nil {
		return err
	}
	if err := checks.Register("node", n); err != nil {
		return err
	}
	if cfg.Database.Engine == kvdb.BadgerEngine && cfg.Database.Path != "" {
		disk := health.DiskSpace{
			Path:           cfg.Database.Path,
			MinFreePercent: cfg.Database.MinFreeDiskPercent,
		}
		if err := checks.Register("disk", disk); err != nil {
			return err
		}
	}

	listener, err := net.Listen("tcp", cfg.Server.Bind)
	if err != nil {
		return err
	}
	srv, err := server.New(
		logger,
		listener,
		cfg.Server.AllowedOrigins,
		cfg.Server.ShutdownTimeout,
		n.Federation().PublicKey().String(),
		serverRegistry,
		cfg.Server.HTTPConfig,
		cfg.Server.AllowedHosts,
	)
	if err != nil {
		return errors.Join(err, listener.Close())
	}
	if err := addRoutes(srv, n, checks, registry, logger); err != nil {
		return errors.Join(err, listener.Close())
	}

	var prof profiler.ContinuousProfiler
	if cfg.Profiler.Enabled {
		if err := os.MkdirAll(cfg.Profiler.Dir, perms.ReadWriteExecute); err != nil {
			return errors.Join(err, listener.Close())
		}
		prof = profiler.NewContinuous(cfg.Profiler.Dir, cfg.Profiler.Freq, cfg.Profiler.MaxNumFiles)
	}

	logger.Info("starting node",
		log.Stringer("publicKey", n.Federation().PublicKey()),
		log.Int("federationSize", len(n.Federation().Voters())),
		log.String("bind", cfg.Server.Bind),
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return p.Run(ctx)
	})
	eg.Go(func() error {
		err := srv.Dispatch()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown()
	})
	if prof != nil {
		eg.Go(prof.Dispatch)
		eg.Go(func() error {
			<-ctx.Done()
			prof.Shutdown()
			return nil
		})
	}
	err = eg.Wait()
	logger.Info("node stopped")
	return err
}

func addRoutes(srv server.Server, n *node.Node, checks *health.Health, registry *prometheus.Registry, logger log.Logger) error {
	rpcHandler, err := ledger.NewRPCHandler(n, logger)
	if err != nil {
		return err
	}
	return errors.Join(
		srv.AddRoute(rpcHandler, ledger.ServiceName, ""),
		srv.AddRoute(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), "metrics", ""),
		srv.AddRoute(checks, "health", ""),
		srv.AddPrefix(ledger.NewRESTHandler(n, logger), "rest", "/"),
	)
}
