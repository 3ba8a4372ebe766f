// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
)

var errUnexpectedStatus = errors.New("unexpected status")

// HeightOracle reports the height of the last block confirmed outside of
// this node.
type HeightOracle interface {
	LatestHeight(ctx context.Context) (uint64, error)
}

var _ HeightOracle = (*HTTPHeightOracle)(nil)

// HTTPHeightOracle reads the confirmed height from a status endpoint that
// answers {"result":{"latest_block_height":N}}. N may be a number or a
// decimal string.
type HTTPHeightOracle struct {
	URI    string
	Client *http.Client
}

type statusReply struct {
	Result struct {
		LatestBlockHeight json.Number `json:"latest_block_height"`
	} `json:"result"`
}

func (o *HTTPHeightOracle) LatestHeight(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.URI, nil)
	if err != nil {
		return 0, err
	}
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w %d from %s", errUnexpectedStatus, resp.StatusCode, o.URI)
	}
	var reply statusReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return 0, fmt.Errorf("couldn't decode status from %s: %w", o.URI, err)
	}
	return strconv.ParseUint(reply.Result.LatestBlockHeight.String(), 10, 64)
}

// RecoverFrom purges everything written after the height [oracle] reports.
func (n *Node) RecoverFrom(ctx context.Context, oracle HeightOracle) error {
	height, err := oracle.LatestHeight(ctx)
	if err != nil {
		return fmt.Errorf("couldn't fetch the confirmed height: %w", err)
	}
	return n.Recover(ctx, height)
}

// Recover removes the blocks written above [height] together with their
// votes and effects on the outputs, then purges the assets, metadata and
// outputs of transactions no remaining block holds.
func (n *Node) Recover(ctx context.Context, height uint64) error {
	above, err := n.state.GetBlocksAbove(ctx, height)
	if err != nil {
		return err
	}
	for i := len(above) - 1; i >= 0; i-- {
		blk := above[i]
		if err := n.state.DeleteVotes(ctx, blk.ID); err != nil {
			return err
		}
		if err := n.tracker.Rollback(ctx, blk.Block.Block.Transactions); err != nil {
			return err
		}
		if err := n.state.DeleteBlocks(ctx, blk.ID); err != nil {
			return err
		}
		n.log.Info("purged block",
			log.Stringer("blockID", blk.ID),
			log.Uint64("height", blk.Height),
		)
	}
	return n.purgeZombies(ctx)
}

func (n *Node) purgeZombies(ctx context.Context) error {
	blocks, err := n.state.Blocks(ctx)
	if err != nil {
		return err
	}
	live := set.NewSet[ids.ID](len(blocks))
	for _, blk := range blocks {
		live.Add(blk.TxIDs()...)
	}

	assetIDs, err := n.state.AssetIDs(ctx)
	if err != nil {
		return err
	}
	zombieAssets := zombies(assetIDs, live)
	if err := n.state.DeleteAssets(ctx, zombieAssets...); err != nil {
		return err
	}

	metadataIDs, err := n.state.MetadataIDs(ctx)
	if err != nil {
		return err
	}
	zombieMetadata := zombies(metadataIDs, live)
	if err := n.state.DeleteMetadata(ctx, zombieMetadata...); err != nil {
		return err
	}

	changed, err := n.tracker.Prune(ctx, live)
	if err != nil {
		return err
	}
	n.log.Info("purged zombies",
		log.Int("numAssets", len(zombieAssets)),
		log.Int("numMetadata", len(zombieMetadata)),
		log.Int("numOutputs", changed),
	)
	return nil
}

func zombies(txIDs []ids.ID, live set.Set[ids.ID]) []ids.ID {
	var dead []ids.ID
	for _, txID := range txIDs {
		if !live.Contains(txID) {
			dead = append(dead, txID)
		}
	}
	return dead
}
