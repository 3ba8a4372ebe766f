// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package commands implements the ledger command line.
package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/backend/kvdb"
	"github.com/luxfi/ledger/config"
	"github.com/luxfi/ledger/node"
)

const (
	ConfigKey      = "config"
	YesKey         = "yes"
	TempKeypairKey = "dev-allow-temp-keypair"
)

// newLogger builds the logger of every command.
var newLogger = func() log.Logger {
	return log.NewLogger("ledger")
}

func Root() *cobra.Command {
	c := &cobra.Command{
		Use:           "ledger",
		Short:         "Runs and administers a federated ledger node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.PersistentFlags().StringP(ConfigKey, "c", config.DefaultPath(), "Path to the config file")
	c.AddCommand(
		configureCommand(),
		showConfigCommand(),
		exportMyPubkeyCommand(),
		initCommand(),
		dropCommand(),
		startCommand(),
		setShardsCommand(),
		setReplicasCommand(),
		addReplicasCommand(),
		removeReplicasCommand(),
		recoverCommand(),
	)
	return c
}

func configPath(flags *pflag.FlagSet) (string, error) {
	return flags.GetString(ConfigKey)
}

// loadConfig reads the config file, falling back to the defaults if there is
// none.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	path, err := configPath(flags)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

// confirm asks [question] and reports whether the answer was yes.
func confirm(c *cobra.Command, question string) (bool, error) {
	fmt.Fprint(c.OutOrStdout(), question)
	answer, err := bufio.NewReader(c.InOrStdin()).ReadString('\n')
	if err != nil && answer == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func openGateway(cfg config.Config, logger log.Logger) (*kvdb.Gateway, error) {
	return kvdb.Open(cfg.Database.Config, logger)
}

// withGateway runs [f] against the configured store and closes it after.
func withGateway(c *cobra.Command, f func(context.Context, config.Config, *kvdb.Gateway, log.Logger) error) error {
	cfg, err := loadConfig(c.Flags())
	if err != nil {
		return err
	}
	logger := newLogger()
	g, err := openGateway(cfg, logger)
	if err != nil {
		return err
	}
	return errors.Join(f(c.Context(), cfg, g, logger), g.Close())
}

func openNode(ctx context.Context, cfg config.Config, gateway backend.Gateway, logger log.Logger) (*node.Node, error) {
	fed, err := cfg.Federation()
	if err != nil {
		return nil, err
	}
	return node.New(ctx, fed, gateway, cfg.Node(), logger)
}

// initDatabase creates the database and writes the genesis block.
func initDatabase(ctx context.Context, cfg config.Config, g *kvdb.Gateway, logger log.Logger) error {
	n, err := openNode(ctx, cfg, g, logger)
	if err != nil {
		return err
	}
	return errors.Join(createDatabase(ctx, cfg, g, n), n.Close())
}

func createDatabase(ctx context.Context, cfg config.Config, g *kvdb.Gateway, n *node.Node) error {
	if err := g.CreateDatabase(ctx, cfg.Database.Name); err != nil {
		return err
	}
	if err := g.SetShards(ctx, cfg.Database.Shards); err != nil {
		return err
	}
	if err := g.SetReplicas(ctx, cfg.Database.Replicas); err != nil {
		return err
	}
	_, err := n.CreateGenesisBlock(ctx)
	return err
}
