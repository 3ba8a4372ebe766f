// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"context"

	"github.com/luxfi/ids"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/keys"
)

// VoteKey is the storage key of the vote of [voter] on [blkID]. Keying votes
// this way lets the gateway reject a second vote of a voter on one block.
func VoteKey(blkID ids.ID, voter keys.PublicKey) string {
	return blkID.String() + "/" + voter.String()
}

// VoteDocument returns the stored form of [v] under [id].
func VoteDocument(id string, v *block.Vote) (*backend.Document, error) {
	body, err := v.Bytes()
	if err != nil {
		return nil, err
	}
	return &backend.Document{
		ID:   id,
		Body: body,
		Index: map[string][]string{
			blockField: {v.Vote.VotingForBlock.String()},
			voterField: {v.NodePubkey.String()},
		},
	}, nil
}

func parseVotes(docs []*backend.Document) ([]*block.Vote, error) {
	votes := make([]*block.Vote, 0, len(docs))
	for _, doc := range docs {
		v, err := block.ParseVote(doc.Body)
		if err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, nil
}

// WriteVote stores [v]. It fails with backend.ErrDuplicateKey if the voter
// already voted on the block.
func (s *State) WriteVote(ctx context.Context, v *block.Vote) error {
	doc, err := VoteDocument(VoteKey(v.Vote.VotingForBlock, v.NodePubkey), v)
	if err != nil {
		return err
	}
	return s.gateway.Insert(ctx, backend.Votes, doc)
}

func (s *State) GetVotesByBlockID(ctx context.Context, blkID ids.ID) ([]*block.Vote, error) {
	return s.findVotes(ctx, backend.ByIndex(blockField, blkID.String()))
}

func (s *State) GetVotesByBlockIDAndVoter(ctx context.Context, blkID ids.ID, voter keys.PublicKey) ([]*block.Vote, error) {
	return s.findVotes(ctx, backend.Query{
		Field: blockField,
		Value: blkID.String(),
		Match: func(doc *backend.Document) bool {
			return doc.HasIndex(voterField, voter.String())
		},
	})
}

func (s *State) GetVotesByVoter(ctx context.Context, voter keys.PublicKey) ([]*block.Vote, error) {
	return s.findVotes(ctx, backend.ByIndex(voterField, voter.String()))
}

// DeleteVotes removes every vote cast on [blkID].
func (s *State) DeleteVotes(ctx context.Context, blkID ids.ID) error {
	docs, err := s.gateway.Find(ctx, backend.Votes, backend.ByIndex(blockField, blkID.String()))
	if err != nil {
		return err
	}
	docIDs := make([]string, len(docs))
	for i, doc := range docs {
		docIDs[i] = doc.ID
	}
	return s.gateway.Delete(ctx, backend.Votes, docIDs...)
}

func (s *State) findVotes(ctx context.Context, q backend.Query) ([]*block.Vote, error) {
	docs, err := s.gateway.Find(ctx, backend.Votes, q)
	if err != nil {
		return nil, err
	}
	return parseVotes(docs)
}
