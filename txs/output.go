// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"

	"github.com/luxfi/ledger/keys"
)

var (
	errNoOwners          = errors.New("condition has no public keys")
	errThresholdTooLow   = errors.New("threshold must be at least 1")
	errThresholdTooHigh  = errors.New("threshold exceeds number of public keys")
	errDuplicateOwner    = errors.New("duplicate public key in condition")
	errZeroAmount        = errors.New("amount must be greater than 0")
	errMissingFulfilment = errors.New("input is not signed")
)

// Condition is the spending requirement of an output: at least Threshold of
// PublicKeys must sign.
type Condition struct {
	PublicKeys []keys.PublicKey `json:"public_keys"`
	Threshold  uint32           `json:"threshold"`
}

func (c *Condition) Verify() error {
	switch {
	case len(c.PublicKeys) == 0:
		return errNoOwners
	case c.Threshold == 0:
		return errThresholdTooLow
	case int(c.Threshold) > len(c.PublicKeys):
		return errThresholdTooHigh
	}
	seen := set.NewSet[keys.PublicKey](len(c.PublicKeys))
	for _, pk := range c.PublicKeys {
		if err := pk.Verify(); err != nil {
			return err
		}
		if seen.Contains(pk) {
			return fmt.Errorf("%w: %s", errDuplicateOwner, pk)
		}
		seen.Add(pk)
	}
	return nil
}

// Owns reports whether [owners] is exactly the set of public keys of the
// condition.
func (c *Condition) Owns(owners []keys.PublicKey) bool {
	if len(owners) != len(c.PublicKeys) {
		return false
	}
	return set.Of(owners...).Equals(set.Of(c.PublicKeys...))
}

// Output assigns an amount of the transaction's asset to a condition.
type Output struct {
	Amount    Amount    `json:"amount"`
	Condition Condition `json:"condition"`
}

// NewOutput returns an output spendable only by all of [owners] together.
func NewOutput(amount uint64, owners ...keys.PublicKey) *Output {
	return &Output{
		Amount: Amount(amount),
		Condition: Condition{
			PublicKeys: owners,
			Threshold:  uint32(len(owners)),
		},
	}
}

// OutputRef identifies an output of a transaction.
type OutputRef struct {
	TxID  ids.ID `json:"transaction_id"`
	Index uint32 `json:"output_index"`
}

func (r OutputRef) String() string {
	return fmt.Sprintf("%s:%d", r.TxID, r.Index)
}

// Signature is one owner's signature in a fulfillment.
type Signature struct {
	PublicKey keys.PublicKey `json:"public_key"`
	Signature keys.Signature `json:"signature"`
}

// Fulfillment proves that an input satisfies the consumed condition.
type Fulfillment struct {
	Signatures []*Signature `json:"signatures"`
}

// Verify returns nil if at least the condition's threshold of its distinct
// public keys signed [msg].
func (f *Fulfillment) Verify(c *Condition, msg []byte) error {
	if f == nil {
		return errMissingFulfilment
	}
	allowed := set.Of(c.PublicKeys...)
	signed := set.NewSet[keys.PublicKey](len(f.Signatures))
	for _, sig := range f.Signatures {
		if sig == nil {
			continue
		}
		if !allowed.Contains(sig.PublicKey) || signed.Contains(sig.PublicKey) {
			continue
		}
		if sig.PublicKey.VerifySignature(msg, sig.Signature) {
			signed.Add(sig.PublicKey)
		}
	}
	if signed.Len() < int(c.Threshold) {
		return fmt.Errorf("%d of %d required signatures", signed.Len(), c.Threshold)
	}
	return nil
}

// Input consumes an output (TRANSFER) or introduces a new asset (CREATE,
// GENESIS, where Fulfills is nil).
type Input struct {
	Fulfillment  *Fulfillment     `json:"fulfillment"`
	Fulfills     *OutputRef       `json:"fulfills"`
	OwnersBefore []keys.PublicKey `json:"owners_before"`
}

func (in *Input) unsigned() *Input {
	return &Input{
		Fulfills:     in.Fulfills,
		OwnersBefore: in.OwnersBefore,
	}
}
