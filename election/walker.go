// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"context"
	"fmt"
	"sort"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"

	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/keys"
)

// Genesis locates the first block of the chain.
type Genesis interface {
	GenesisBlockID(ctx context.Context) (ids.ID, error)
}

// Walker reconstructs the chain tip a node regards as canonical from the
// votes it cast.
type Walker struct {
	votes   Votes
	genesis Genesis
}

func NewWalker(votes Votes, genesis Genesis) *Walker {
	return &Walker{
		votes:   votes,
		genesis: genesis,
	}
}

// LastVotedBlock returns the block [voter] last extended the chain with, or
// the genesis block if it never voted.
func (w *Walker) LastVotedBlock(ctx context.Context, voter keys.PublicKey) (ids.ID, error) {
	votes, err := w.votes.GetVotesByVoter(ctx, voter)
	if err != nil {
		return ids.Empty, err
	}
	if tip, ok, err := Walk(votes); ok || err != nil {
		return tip, err
	}
	return w.genesis.GenesisBlockID(ctx)
}

// Walk follows the previous -> voted block links of [votes] from the most
// recent vote until no successor is left. It reports false if there are no
// votes and fails with ErrCyclicBlockchain if a block is reached twice.
func Walk(votes []*block.Vote) (ids.ID, bool, error) {
	if len(votes) == 0 {
		return ids.Empty, false, nil
	}

	sorted := make([]*block.Vote, len(votes))
	copy(sorted, votes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Vote.Timestamp < sorted[j].Vote.Timestamp
	})

	// Later votes override earlier ones from the same previous block.
	next := make(map[ids.ID]ids.ID, len(sorted))
	for _, v := range sorted {
		next[v.Vote.PreviousBlock] = v.Vote.VotingForBlock
	}

	tip := sorted[len(sorted)-1].Vote.VotingForBlock
	visited := set.NewSet[ids.ID](len(next))
	for {
		if visited.Contains(tip) {
			return ids.Empty, true, fmt.Errorf("%w: block %s is reached twice", ErrCyclicBlockchain, tip)
		}
		visited.Add(tip)

		successor, ok := next[tip]
		if !ok {
			return tip, true, nil
		}
		tip = successor
	}
}
