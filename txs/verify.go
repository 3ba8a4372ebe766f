// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import (
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
)

// SyntacticVerify checks every invariant of [tx] that does not depend on
// ledger state. It fails with [ErrSchemaValidation], [ErrAmount],
// [ErrDoubleSpend] for an output referenced twice, or [ErrInvalidHash].
func (tx *Tx) SyntacticVerify() error {
	switch {
	case tx == nil:
		return fmt.Errorf("%w: nil transaction", ErrSchemaValidation)
	case !tx.Operation.Valid():
		return fmt.Errorf("%w: unknown operation %q", ErrSchemaValidation, tx.Operation)
	case len(tx.Inputs) == 0:
		return fmt.Errorf("%w: no inputs", ErrSchemaValidation)
	case len(tx.Outputs) == 0:
		return fmt.Errorf("%w: no outputs", ErrSchemaValidation)
	}

	if err := tx.verifyInputs(); err != nil {
		return err
	}
	if err := tx.verifyOutputs(); err != nil {
		return err
	}
	if err := tx.verifyAsset(); err != nil {
		return err
	}

	id, err := tx.ComputeID()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaValidation, err)
	}
	if id != tx.ID {
		return fmt.Errorf("%w: transaction id %s, expected %s", ErrInvalidHash, tx.ID, id)
	}
	return nil
}

func (tx *Tx) verifyInputs() error {
	consumed := set.NewSet[OutputRef](len(tx.Inputs))
	for i, in := range tx.Inputs {
		if in == nil {
			return fmt.Errorf("%w: input %d is null", ErrSchemaValidation, i)
		}
		if len(in.OwnersBefore) == 0 {
			return fmt.Errorf("%w: input %d has no owners_before", ErrSchemaValidation, i)
		}
		for _, pk := range in.OwnersBefore {
			if err := pk.Verify(); err != nil {
				return fmt.Errorf("%w: input %d: %w", ErrSchemaValidation, i, err)
			}
		}
		if in.Fulfillment != nil {
			for j, sig := range in.Fulfillment.Signatures {
				if sig == nil {
					return fmt.Errorf("%w: input %d: signature %d is null", ErrSchemaValidation, i, j)
				}
			}
		}

		switch {
		case tx.Operation.Creates() && in.Fulfills != nil:
			return fmt.Errorf("%w: %w", ErrSchemaValidation, ErrCreateHasInputs)
		case !tx.Operation.Creates() && in.Fulfills == nil:
			return fmt.Errorf("%w: %w", ErrSchemaValidation, ErrNullInputs)
		case in.Fulfills == nil:
			continue
		}

		if consumed.Contains(*in.Fulfills) {
			return fmt.Errorf("%w: transaction spends %s twice", ErrDoubleSpend, in.Fulfills)
		}
		consumed.Add(*in.Fulfills)
	}
	return nil
}

func (tx *Tx) verifyOutputs() error {
	for i, out := range tx.Outputs {
		if out == nil {
			return fmt.Errorf("%w: output %d is null", ErrSchemaValidation, i)
		}
		if err := out.Condition.Verify(); err != nil {
			return fmt.Errorf("%w: output %d: %w", ErrSchemaValidation, i, err)
		}
		if out.Amount == 0 {
			return fmt.Errorf("%w: output %d: %w", ErrAmount, i, errZeroAmount)
		}
	}
	if _, err := Sum(tx.Outputs); err != nil {
		return err
	}
	return nil
}

func (tx *Tx) verifyAsset() error {
	if !tx.Operation.Creates() {
		if tx.Asset.ID == ids.Empty {
			return fmt.Errorf("%w: %s must reference an asset id", ErrSchemaValidation, tx.Operation)
		}
		return nil
	}
	if tx.Asset.IsRef() {
		return fmt.Errorf("%w: %s must define its asset", ErrSchemaValidation, tx.Operation)
	}
	return VerifyDivisibility(&tx.Asset, tx.Outputs, true)
}

// VerifyDivisibility checks output amounts against the asset's divisibility.
// A non-divisible asset only ever moves in units of one. A divisible asset
// must be issued with a total greater than one.
func VerifyDivisibility(asset *Asset, outputs []*Output, issuance bool) error {
	if !asset.Divisible {
		for i, out := range outputs {
			if out.Amount != 1 {
				return fmt.Errorf("%w: non-divisible asset output %d has amount %d", ErrAmount, i, out.Amount)
			}
		}
		return nil
	}
	if !issuance {
		return nil
	}
	total, err := Sum(outputs)
	if err != nil {
		return err
	}
	if total <= 1 {
		return fmt.Errorf("%w: divisible asset must be issued with amount > 1, got %d", ErrAmount, total)
	}
	return nil
}
