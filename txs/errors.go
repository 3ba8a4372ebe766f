// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import "errors"

var (
	// Structural failures, detectable without any ledger lookup.
	ErrSchemaValidation = errors.New("schema validation failed")
	ErrAmount           = errors.New("invalid amount")
	ErrInvalidHash      = errors.New("invalid hash")

	// Semantic failures, detected against ledger state.
	ErrDoubleSpend             = errors.New("double spend")
	ErrTransactionDoesNotExist = errors.New("transaction does not exist")
	ErrTransactionOwner        = errors.New("transaction owner mismatch")
	ErrInvalidSignature        = errors.New("invalid signature")
	ErrAssetIDMismatch         = errors.New("asset id mismatch")

	ErrCreateHasInputs = errors.New("A CREATE operation has no inputs")
	ErrNullInputs      = errors.New("Only CREATE transactions can have null inputs")
	ErrNoSignature     = errors.New("no key available to sign input")

	errNoTransactions = errors.New("no transactions")
)

var rejections = []error{
	ErrSchemaValidation,
	ErrAmount,
	ErrInvalidHash,
	ErrDoubleSpend,
	ErrTransactionDoesNotExist,
	ErrTransactionOwner,
	ErrInvalidSignature,
	ErrAssetIDMismatch,
}

// IsInvalid reports whether [err] rejects a transaction, as opposed to a
// failure to check it.
func IsInvalid(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
