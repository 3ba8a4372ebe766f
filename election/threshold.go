// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"errors"
	"fmt"

	"github.com/luxfi/ledger/block"
)

var errInvalidThreshold = errors.New("invalid threshold")

var (
	TwoThirds      = Threshold{Numerator: 2, Denominator: 3}
	SimpleMajority = Threshold{Numerator: 1, Denominator: 2}
)

// Threshold is the fraction of voters that valid votes must reach for a
// block to be decided valid.
type Threshold struct {
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
}

func (t Threshold) Verify() error {
	if t.Denominator == 0 || t.Numerator >= t.Denominator {
		return fmt.Errorf("%w: %d/%d", errInvalidThreshold, t.Numerator, t.Denominator)
	}
	return nil
}

func (t Threshold) String() string {
	return fmt.Sprintf("%d/%d", t.Numerator, t.Denominator)
}

// Decide returns the status of a block with [valid] and [invalid] votes out
// of [voters]. A block is invalid once the votes still outstanding can no
// longer carry it to the threshold. A block without voters is invalid.
func (t Threshold) Decide(valid, invalid, voters int) block.Status {
	n := uint64(voters)
	switch {
	case voters <= 0:
		return block.Invalid
	case uint64(valid)*t.Denominator >= t.Numerator*n:
		return block.Valid
	case invalid >= voters || uint64(voters-invalid)*t.Denominator < t.Numerator*n:
		return block.Invalid
	default:
		return block.Undecided
	}
}
