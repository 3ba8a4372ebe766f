// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/ledger/keys"
)

// Operation is the kind of a transaction.
type Operation string

const (
	Create   Operation = "CREATE"
	Transfer Operation = "TRANSFER"
	Genesis  Operation = "GENESIS"
)

// Creates reports whether [op] introduces a new asset.
func (op Operation) Creates() bool {
	return op == Create || op == Genesis
}

func (op Operation) Valid() bool {
	return op == Create || op == Transfer || op == Genesis
}

// Tx is a signed ledger transaction.
type Tx struct {
	ID        ids.ID         `json:"id"`
	Asset     Asset          `json:"asset"`
	Inputs    []*Input       `json:"inputs"`
	Metadata  map[string]any `json:"metadata"`
	Operation Operation      `json:"operation"`
	Outputs   []*Output      `json:"outputs"`
	Timestamp int64          `json:"timestamp"`
}

// body is the hashed form of a transaction. Keys are kept in lexical order.
type body struct {
	Asset     Asset          `json:"asset"`
	Inputs    []*Input       `json:"inputs"`
	Metadata  map[string]any `json:"metadata"`
	Operation Operation      `json:"operation"`
	Outputs   []*Output      `json:"outputs"`
	Timestamp int64          `json:"timestamp"`
}

// NewCreate returns an unsigned CREATE transaction issued by [issuers].
func NewCreate(
	issuers []keys.PublicKey,
	outputs []*Output,
	asset Asset,
	metadata map[string]any,
) *Tx {
	return newIssuance(Create, issuers, outputs, asset, metadata)
}

// NewGenesis returns the unsigned GENESIS transaction of [issuer].
func NewGenesis(issuer keys.PublicKey) *Tx {
	return newIssuance(
		Genesis,
		[]keys.PublicKey{issuer},
		[]*Output{NewOutput(1, issuer)},
		Asset{Data: map[string]any{"message": "Hello World from the Ledger"}},
		nil,
	)
}

func newIssuance(
	op Operation,
	issuers []keys.PublicKey,
	outputs []*Output,
	asset Asset,
	metadata map[string]any,
) *Tx {
	return &Tx{
		Operation: op,
		Asset:     asset,
		Inputs:    []*Input{{OwnersBefore: issuers}},
		Outputs:   outputs,
		Metadata:  metadata,
		Timestamp: time.Now().UnixNano(),
	}
}

// NewTransfer returns an unsigned TRANSFER of [assetID] consuming [inputs].
func NewTransfer(
	inputs []*Input,
	outputs []*Output,
	assetID ids.ID,
	metadata map[string]any,
) *Tx {
	return &Tx{
		Operation: Transfer,
		Asset:     Ref(assetID),
		Inputs:    inputs,
		Outputs:   outputs,
		Metadata:  metadata,
		Timestamp: time.Now().UnixNano(),
	}
}

// Parse decodes a transaction. Malformed input fails with
// [ErrSchemaValidation].
func Parse(b []byte) (*Tx, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tx := &Tx{}
	if err := dec.Decode(tx); err != nil {
		if errors.Is(err, ErrSchemaValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrSchemaValidation, err)
	}
	return tx, nil
}

// AssetID returns the id of the asset this transaction creates or moves.
func (tx *Tx) AssetID() ids.ID {
	if tx.Operation.Creates() {
		return tx.ID
	}
	return tx.Asset.ID
}

// Spendable returns inputs consuming every output of [tx].
func (tx *Tx) Spendable() []*Input {
	inputs := make([]*Input, len(tx.Outputs))
	for i, out := range tx.Outputs {
		inputs[i] = &Input{
			Fulfills: &OutputRef{
				TxID:  tx.ID,
				Index: uint32(i),
			},
			OwnersBefore: out.Condition.PublicKeys,
		}
	}
	return inputs
}

// Bytes returns the canonical serialization of the whole transaction.
func (tx *Tx) Bytes() ([]byte, error) {
	return canonicalJSON(tx)
}

// IDBytes returns the canonical serialization that the id commits to: the
// signed transaction without its id.
func (tx *Tx) IDBytes() ([]byte, error) {
	return canonicalJSON(tx.body(tx.Inputs))
}

// SigningBytes returns the message signed by the owners of input [i].
func (tx *Tx) SigningBytes(i int) ([]byte, error) {
	unsigned := make([]*Input, len(tx.Inputs))
	for j, in := range tx.Inputs {
		unsigned[j] = in.unsigned()
	}
	msg, err := canonicalJSON(tx.body(unsigned))
	if err != nil {
		return nil, err
	}
	if ref := tx.Inputs[i].Fulfills; ref != nil {
		msg = append(msg, ref.String()...)
	}
	return msg, nil
}

func (tx *Tx) body(inputs []*Input) *body {
	return &body{
		Asset:     tx.Asset,
		Inputs:    inputs,
		Metadata:  tx.Metadata,
		Operation: tx.Operation,
		Outputs:   tx.Outputs,
		Timestamp: tx.Timestamp,
	}
}

// ComputeID returns the content hash of the signed transaction.
func (tx *Tx) ComputeID() (ids.ID, error) {
	b, err := tx.IDBytes()
	if err != nil {
		return ids.Empty, err
	}
	return keys.Hash(b), nil
}

// Sign attaches fulfillments for every input owner whose key is in [signers]
// and sets the transaction id.
func (tx *Tx) Sign(signers ...*keys.PrivateKey) error {
	byPK := make(map[keys.PublicKey]*keys.PrivateKey, len(signers))
	for _, sk := range signers {
		byPK[sk.PublicKey()] = sk
	}

	fulfillments := make([]*Fulfillment, len(tx.Inputs))
	for i, in := range tx.Inputs {
		msg, err := tx.SigningBytes(i)
		if err != nil {
			return err
		}
		f := &Fulfillment{}
		for _, owner := range in.OwnersBefore {
			sk, ok := byPK[owner]
			if !ok {
				continue
			}
			f.Signatures = append(f.Signatures, &Signature{
				PublicKey: owner,
				Signature: sk.Sign(msg),
			})
		}
		if len(f.Signatures) == 0 {
			return fmt.Errorf("%w: input %d", ErrNoSignature, i)
		}
		fulfillments[i] = f
	}
	for i, in := range tx.Inputs {
		in.Fulfillment = fulfillments[i]
	}

	id, err := tx.ComputeID()
	if err != nil {
		return err
	}
	tx.ID = id
	return nil
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
