// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package block

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/ledger/keys"
)

// Vote is a federation node's signed verdict on a block.
type Vote struct {
	NodePubkey keys.PublicKey `json:"node_pubkey"`
	Signature  keys.Signature `json:"signature"`
	Vote       VoteBody       `json:"vote"`
}

// VoteBody is the signed part of a vote. PreviousBlock is the block the
// voter regarded as its chain tip when it voted.
type VoteBody struct {
	InvalidReason  string `json:"invalid_reason,omitempty"`
	IsBlockValid   bool   `json:"is_block_valid"`
	PreviousBlock  ids.ID `json:"previous_block"`
	Timestamp      int64  `json:"timestamp"`
	VotingForBlock ids.ID `json:"voting_for_block"`
}

// NewVote returns a vote by [sk].
func NewVote(
	sk *keys.PrivateKey,
	blockID ids.ID,
	previousBlockID ids.ID,
	valid bool,
	invalidReason string,
	timestamp int64,
) (*Vote, error) {
	v := &Vote{
		NodePubkey: sk.PublicKey(),
		Vote: VoteBody{
			InvalidReason:  invalidReason,
			IsBlockValid:   valid,
			PreviousBlock:  previousBlockID,
			Timestamp:      timestamp,
			VotingForBlock: blockID,
		},
	}
	msg, err := v.Vote.Bytes()
	if err != nil {
		return nil, err
	}
	v.Signature = sk.Sign(msg)
	return v, nil
}

// ParseVote decodes a vote.
func ParseVote(b []byte) (*Vote, error) {
	v := &Vote{}
	if err := json.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return v, nil
}

func (v *VoteBody) Bytes() ([]byte, error) {
	return canonicalJSON(v)
}

func (v *Vote) Bytes() ([]byte, error) {
	return canonicalJSON(v)
}

// ID is the content hash of the signed vote.
func (v *Vote) ID() (ids.ID, error) {
	b, err := v.Bytes()
	if err != nil {
		return ids.Empty, err
	}
	return keys.Hash(b), nil
}

// VerifySignature reports whether the vote is signed by its voter.
func (v *Vote) VerifySignature() bool {
	msg, err := v.Vote.Bytes()
	if err != nil {
		return false
	}
	return v.NodePubkey.VerifySignature(msg, v.Signature)
}
