// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pipeline

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/node"
	"github.com/luxfi/ledger/state"
)

// runVotes validates every new block and casts the local node's vote on it.
func (p *Pipeline) runVotes(ctx context.Context) error {
	blocks := make(chan *block.Block, p.config.QueueSize)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(blocks)
		return p.intakeBlocks(ctx, blocks)
	})
	g.Go(func() error {
		return p.vote(ctx, blocks)
	})
	return g.Wait()
}

// intakeBlocks emits the stored blocks, lowest height first, then every
// block written afterwards.
func (p *Pipeline) intakeBlocks(ctx context.Context, out chan<- *block.Block) error {
	snapshot := func(ctx context.Context) error {
		stored, err := p.node.State().Blocks(ctx)
		if err != nil {
			return err
		}
		for _, blk := range stored {
			if !send(ctx, out, blk.Block) {
				return nil
			}
		}
		return nil
	}
	handle := func(ctx context.Context, c backend.Change) {
		if c.Op != backend.Insert {
			return
		}
		blk, err := state.ParseStoredBlock(c.After)
		if err != nil {
			p.log.Warn("dropping malformed block",
				log.String("id", c.After.ID),
				log.Err(err),
			)
			return
		}
		send(ctx, out, blk.Block)
	}
	return p.follow(ctx, backend.Chain, snapshot, handle)
}

func (p *Pipeline) vote(ctx context.Context, in <-chan *block.Block) error {
	previous, err := p.node.LastVotedBlockID(ctx)
	switch {
	case errors.Is(err, node.ErrNotFound):
		previous = ids.Empty
	case err != nil:
		return stopped(ctx, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case blk, ok := <-in:
			if !ok {
				return nil
			}
			if p.voteOn(ctx, blk, previous) {
				previous = blk.ID
			}
		}
	}
}

// voteOn reports whether a vote on [blk] was written.
func (p *Pipeline) voteOn(ctx context.Context, blk *block.Block, previous ids.ID) bool {
	if blk.IsGenesis() {
		return false
	}
	voted, err := p.node.HasPreviousVote(ctx, blk.ID)
	if err != nil {
		p.log.Error("refusing to vote",
			zap.Stringer("blockID", blk.ID),
			zap.Error(err),
		)
		return false
	}
	if voted {
		return false
	}

	valid, reason := true, ""
	result, err := p.node.ValidateBlock(ctx, blk)
	switch {
	case err != nil:
		valid, reason = false, err.Error()
	case !result.Valid():
		for _, tx := range blk.Block.Transactions {
			if txErr, ok := result.Invalid[tx.ID]; ok {
				valid, reason = false, txErr.Error()
				break
			}
		}
	}

	v, err := p.node.Vote(blk.ID, previous, valid, reason)
	if err == nil {
		err = p.node.WriteVote(ctx, v)
	}
	if err != nil {
		if !errors.Is(err, backend.ErrDuplicateKey) {
			p.log.Error("failed to vote",
				zap.Stringer("blockID", blk.ID),
				zap.Error(err),
			)
		}
		return false
	}
	p.metrics.votes.WithLabelValues(strconv.FormatBool(valid)).Inc()
	p.log.Debug("voted",
		log.Stringer("blockID", blk.ID),
		log.Bool("valid", valid),
		log.String("reason", reason),
	)
	return true
}
