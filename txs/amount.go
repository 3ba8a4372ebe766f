// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import (
	"fmt"
	"strconv"

	"github.com/luxfi/math"
)

// Amount is a quantity of an asset. It is serialized as a decimal string.
type Amount uint64

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(a), 10) + `"`), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	str := string(b)
	if len(str) < 2 || str[0] != '"' || str[len(str)-1] != '"' {
		return fmt.Errorf("%w: amount %s must be a string", ErrSchemaValidation, str)
	}
	val, err := strconv.ParseUint(str[1:len(str)-1], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: amount %s: %w", ErrSchemaValidation, str, err)
	}
	*a = Amount(val)
	return nil
}

// add returns a + b, failing with [ErrAmount] on overflow.
func add(a, b Amount) (Amount, error) {
	sum, err := math.Add64(uint64(a), uint64(b))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAmount, err)
	}
	return Amount(sum), nil
}

// Sum returns the total amount of [outputs].
func Sum(outputs []*Output) (Amount, error) {
	var total Amount
	for _, out := range outputs {
		var err error
		total, err = add(total, out.Amount)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
