// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commands

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend/kvdb"
	"github.com/luxfi/ledger/config"
	"github.com/luxfi/ledger/node"
)

var errNoRecoveryHeight = errors.New("no height given and no recovery uri configured")

func recoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recover [height]",
		Short: "Removes blocks above the confirmed height and their effects",
		Args:  cobra.MaximumNArgs(1),
		RunE:  recoverFunc,
	}
}

func recoverFunc(c *cobra.Command, args []string) error {
	var (
		height    uint64
		hasHeight = len(args) == 1
	)
	if hasHeight {
		var err error
		height, err = strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}
	}
	return withGateway(c, func(ctx context.Context, cfg config.Config, g *kvdb.Gateway, logger log.Logger) error {
		n, err := openNode(ctx, cfg, g, logger)
		if err != nil {
			return err
		}
		switch {
		case hasHeight:
			err = n.Recover(ctx, height)
		case cfg.Recovery.URI != "":
			err = n.RecoverFrom(ctx, &node.HTTPHeightOracle{
				URI:    cfg.Recovery.URI,
				Client: http.DefaultClient,
			})
		default:
			err = errNoRecoveryHeight
		}
		return errors.Join(err, n.Close())
	})
}
