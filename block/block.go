// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package block

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/txs"
)

var (
	ErrEmptyBlock       = errors.New("Empty block creation is not allowed")
	ErrInvalidHash      = errors.New("invalid hash")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrOperation        = errors.New("operation error")
	ErrMalformed        = errors.New("malformed block")
)

// Block is a signed batch of transactions created by a federation node and
// put to a vote by [Block.Voters].
type Block struct {
	ID        ids.ID         `json:"id"`
	Block     Body           `json:"block"`
	Signature keys.Signature `json:"signature"`
}

// Body is the signed and hashed part of a block. Keys are kept in lexical
// order.
type Body struct {
	NodePubkey   keys.PublicKey   `json:"node_pubkey"`
	Timestamp    int64            `json:"timestamp"`
	Transactions []*txs.Tx        `json:"transactions"`
	Voters       []keys.PublicKey `json:"voters"`
}

// New signs and identifies a block of [transactions] created by [sk].
func New(
	sk *keys.PrivateKey,
	transactions []*txs.Tx,
	voters []keys.PublicKey,
	timestamp int64,
) (*Block, error) {
	if len(transactions) == 0 {
		return nil, ErrEmptyBlock
	}
	blk := &Block{
		Block: Body{
			NodePubkey:   sk.PublicKey(),
			Timestamp:    timestamp,
			Transactions: transactions,
			Voters:       voters,
		},
	}
	msg, err := blk.Block.Bytes()
	if err != nil {
		return nil, err
	}
	blk.ID = keys.Hash(msg)
	blk.Signature = sk.Sign(msg)
	return blk, nil
}

// Parse decodes a block.
func Parse(b []byte) (*Block, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	blk := &Block{}
	if err := dec.Decode(blk); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return blk, nil
}

// Bytes returns the canonical serialization of the body.
func (b *Body) Bytes() ([]byte, error) {
	return canonicalJSON(b)
}

// Bytes returns the canonical serialization of the whole block.
func (b *Block) Bytes() ([]byte, error) {
	return canonicalJSON(b)
}

// VerifyIntegrity checks that the id is the hash of the body and that the
// body is signed by its creator.
func (b *Block) VerifyIntegrity() error {
	msg, err := b.Block.Bytes()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if id := keys.Hash(msg); id != b.ID {
		return fmt.Errorf("%w: block id %s, expected %s", ErrInvalidHash, b.ID, id)
	}
	if !b.Block.NodePubkey.VerifySignature(msg, b.Signature) {
		return fmt.Errorf("%w: block %s is not signed by %s", ErrInvalidSignature, b.ID, b.Block.NodePubkey)
	}
	return nil
}

// IsGenesis reports whether the block holds the GENESIS transaction.
func (b *Block) IsGenesis() bool {
	transactions := b.Block.Transactions
	return len(transactions) == 1 && transactions[0].Operation == txs.Genesis
}

// TxIDs returns the ids of the contained transactions in order.
func (b *Block) TxIDs() []ids.ID {
	txIDs := make([]ids.ID, len(b.Block.Transactions))
	for i, tx := range b.Block.Transactions {
		txIDs[i] = tx.ID
	}
	return txIDs
}

func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
