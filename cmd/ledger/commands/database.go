// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/backend/kvdb"
	"github.com/luxfi/ledger/config"
)

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Creates the database and writes the genesis block",
		Args:  cobra.NoArgs,
		RunE:  initFunc,
	}
}

func initFunc(c *cobra.Command, _ []string) error {
	return withGateway(c, func(ctx context.Context, cfg config.Config, g *kvdb.Gateway, logger log.Logger) error {
		err := initDatabase(ctx, cfg, g, logger)
		if errors.Is(err, backend.ErrDatabaseAlreadyExists) {
			fmt.Fprint(c.ErrOrStderr(), "The database already exists.\nIf you wish to re-initialize it, first drop it.\n")
			return nil
		}
		return err
	})
}

func dropCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "drop",
		Short: "Drops the database",
		Args:  cobra.NoArgs,
		RunE:  dropFunc,
	}
	c.Flags().BoolP(YesKey, "y", false, "Drop without asking")
	return c
}

func dropFunc(c *cobra.Command, _ []string) error {
	yes, err := c.Flags().GetBool(YesKey)
	if err != nil {
		return err
	}
	return withGateway(c, func(ctx context.Context, cfg config.Config, g *kvdb.Gateway, _ log.Logger) error {
		name := cfg.Database.Name
		if !yes {
			ok, err := confirm(c, fmt.Sprintf("Do you want to drop `%s` database? [y/n]: ", name))
			if err != nil || !ok {
				return err
			}
		}
		err := g.DropDatabase(ctx, name)
		if errors.Is(err, backend.ErrDatabaseDoesNotExist) {
			fmt.Fprintf(c.ErrOrStderr(), "Cannot drop '%s'. The database does not exist.\n", name)
			return nil
		}
		return err
	})
}

func setShardsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-shards <count>",
		Short: "Sets the number of shards of the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			shards, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			return withGateway(c, func(ctx context.Context, _ config.Config, g *kvdb.Gateway, _ log.Logger) error {
				return g.SetShards(ctx, shards)
			})
		},
	}
}

func setReplicasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-replicas <count>",
		Short: "Sets the number of replicas of the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			replicas, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			return withGateway(c, func(ctx context.Context, _ config.Config, g *kvdb.Gateway, _ log.Logger) error {
				return g.SetReplicas(ctx, replicas)
			})
		},
	}
}

func addReplicasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add-replicas <host>...",
		Short: "Adds hosts to the replica set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, hosts []string) error {
			return withGateway(c, func(ctx context.Context, _ config.Config, g *kvdb.Gateway, _ log.Logger) error {
				return g.AddReplicas(ctx, hosts...)
			})
		},
	}
}

func removeReplicasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-replicas <host>...",
		Short: "Removes hosts from the replica set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, hosts []string) error {
			return withGateway(c, func(ctx context.Context, _ config.Config, g *kvdb.Gateway, _ log.Logger) error {
				return g.RemoveReplicas(ctx, hosts...)
			})
		},
	}
}
