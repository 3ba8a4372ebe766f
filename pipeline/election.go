// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pipeline

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/node"
)

// runElection watches the votes and undoes every block once its election
// decides it is invalid. After falling behind on the votes it elects every
// stored block it has not handled yet.
func (p *Pipeline) runElection(ctx context.Context) error {
	decided, err := lru.New(p.config.HandledBlocksCacheSize)
	if err != nil {
		return err
	}
	decide := func(ctx context.Context, blkID ids.ID) {
		if decided.Contains(blkID) {
			return
		}
		if status, ok := p.elect(ctx, blkID); ok {
			decided.Add(blkID, status)
		}
	}

	resync := false
	snapshot := func(ctx context.Context) error {
		if !resync {
			resync = true
			return nil
		}
		stored, err := p.node.State().Blocks(ctx)
		if err != nil {
			return err
		}
		for _, blk := range stored {
			if ctx.Err() != nil {
				return nil
			}
			if !blk.IsGenesis() {
				decide(ctx, blk.ID)
			}
		}
		return nil
	}
	handle := func(ctx context.Context, c backend.Change) {
		if c.Op != backend.Insert {
			return
		}
		v, err := block.ParseVote(c.After.Body)
		if err != nil {
			p.log.Warn("dropping malformed vote",
				log.String("id", c.After.ID),
				log.Err(err),
			)
			return
		}
		decide(ctx, v.Vote.VotingForBlock)
	}
	return p.follow(ctx, backend.Votes, snapshot, handle)
}

// elect reports the status of [blkID] once it is decided and handled.
func (p *Pipeline) elect(ctx context.Context, blkID ids.ID) (block.Status, bool) {
	stored, status, err := p.node.GetBlock(ctx, blkID)
	switch {
	case errors.Is(err, node.ErrNotFound):
		return block.Undecided, false
	case err != nil:
		p.log.Error("failed to decide block",
			zap.Stringer("blockID", blkID),
			zap.Error(err),
		)
		return block.Undecided, false
	}

	switch status {
	case block.Valid:
		p.log.Debug("block is valid",
			log.Stringer("blockID", blkID),
		)
	case block.Invalid:
		if _, err := p.node.Invalidate(ctx, stored.Block); err != nil {
			p.log.Error("failed to invalidate block",
				zap.Stringer("blockID", blkID),
				zap.Error(err),
			)
			return status, false
		}
	default:
		return status, false
	}
	p.metrics.decided.WithLabelValues(status.String()).Inc()
	return status, true
}
