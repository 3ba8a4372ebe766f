// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package election decides blocks from the votes of the federation and
// finds the chain tip a node has voted its way to.
package election

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/keys"
)

var (
	ErrMultipleVotes    = errors.New("multiple votes")
	ErrImproperVote     = errors.New("improper vote")
	ErrCyclicBlockchain = errors.New("cyclic blockchain")
)

// Votes reads cast votes.
type Votes interface {
	GetVotesByBlockID(ctx context.Context, blkID ids.ID) ([]*block.Vote, error)
	GetVotesByBlockIDAndVoter(ctx context.Context, blkID ids.ID, voter keys.PublicKey) ([]*block.Vote, error)
	GetVotesByVoter(ctx context.Context, voter keys.PublicKey) ([]*block.Vote, error)
}

// Tally counts votes on blocks.
type Tally struct {
	log       log.Logger
	votes     Votes
	threshold Threshold
}

func NewTally(votes Votes, threshold Threshold, logger log.Logger) (*Tally, error) {
	if err := threshold.Verify(); err != nil {
		return nil, err
	}
	return &Tally{
		log:       logger,
		votes:     votes,
		threshold: threshold,
	}, nil
}

// BlockElectionStatus decides [blkID] from the votes cast by [voters].
// Votes from other keys or with bad signatures are not counted. More than
// one vote from any node, or more votes than voters, fail with
// ErrMultipleVotes.
func (t *Tally) BlockElectionStatus(ctx context.Context, blkID ids.ID, voters []keys.PublicKey) (block.Status, error) {
	votes, err := t.votes.GetVotesByBlockID(ctx, blkID)
	if err != nil {
		return block.Undecided, err
	}

	counts := make(map[keys.PublicKey]int, len(votes))
	for _, v := range votes {
		counts[v.NodePubkey]++
	}
	nodes := make([]keys.PublicKey, 0, len(counts))
	for pk := range counts {
		nodes = append(nodes, pk)
	}
	slices.Sort(nodes)
	for _, pk := range nodes {
		if n := counts[pk]; n > 1 {
			return block.Undecided, fmt.Errorf("%w: Block %s has multiple votes (%d) from voting node %s", ErrMultipleVotes, blkID, n, pk)
		}
	}
	if len(votes) > len(voters) {
		return block.Undecided, fmt.Errorf("%w: Block %s has %d votes cast, but only %d voters", ErrMultipleVotes, blkID, len(votes), len(voters))
	}

	eligible := set.Of(voters...)
	var valid, invalid int
	for _, v := range votes {
		if !eligible.Contains(v.NodePubkey) || v.Vote.VotingForBlock != blkID || !v.VerifySignature() {
			t.log.Debug("ignoring vote",
				log.Stringer("blockID", blkID),
				log.String("voter", v.NodePubkey.String()),
			)
			continue
		}
		if v.Vote.IsBlockValid {
			valid++
		} else {
			invalid++
		}
	}
	return t.threshold.Decide(valid, invalid, len(voters)), nil
}

// HasPreviousVote reports whether [voter] already voted on [blkID].
func (t *Tally) HasPreviousVote(ctx context.Context, blkID ids.ID, voter keys.PublicKey) (bool, error) {
	votes, err := t.votes.GetVotesByBlockIDAndVoter(ctx, blkID, voter)
	if err != nil {
		return false, err
	}
	switch len(votes) {
	case 0:
		return false, nil
	case 1:
		if !votes[0].VerifySignature() {
			return false, fmt.Errorf("%w: Block %s already has an incorrectly signed vote from public key %s", ErrImproperVote, blkID, voter)
		}
		return true, nil
	default:
		return false, fmt.Errorf("%w: Block %s has %d votes from public key %s", ErrMultipleVotes, blkID, len(votes), voter)
	}
}
