// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"context"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/txs"
)

// Federation tells which nodes may create blocks.
type Federation interface {
	IsMember(pk keys.PublicKey) bool
}

// TxVerifier checks one transaction against the ledger.
type TxVerifier interface {
	Verify(ctx context.Context, tx *txs.Tx) (*txs.Tx, error)
}

// Result is the outcome of verifying the transactions of a block.
type Result struct {
	Block *block.Block
	// Invalid maps each transaction that failed verification to its error.
	Invalid map[ids.ID]error
}

// Valid reports whether every transaction of the block is valid.
func (r *Result) Valid() bool {
	return len(r.Invalid) == 0
}

type Verifier struct {
	log        log.Logger
	federation Federation
	txs        TxVerifier
}

func NewVerifier(federation Federation, txVerifier TxVerifier, logger log.Logger) *Verifier {
	return &Verifier{
		log:        logger,
		federation: federation,
		txs:        txVerifier,
	}
}

// Verify checks the integrity and origin of [blk]. Invalid transactions do
// not fail the block; they are reported in the result so that voters can
// vote the block down.
func (v *Verifier) Verify(ctx context.Context, blk *block.Block) (*Result, error) {
	if err := blk.VerifyIntegrity(); err != nil {
		return nil, err
	}
	creator := blk.Block.NodePubkey
	if !v.federation.IsMember(creator) {
		return nil, fmt.Errorf("%w: block %s was created by %s, which is not a federation node",
			block.ErrOperation,
			blk.ID,
			creator,
		)
	}

	result := &Result{
		Block:   blk,
		Invalid: make(map[ids.ID]error),
	}
	consumed := set.NewSet[txs.OutputRef](len(blk.Block.Transactions))
	for _, tx := range blk.Block.Transactions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := v.txs.Verify(ctx, tx); err != nil {
			result.Invalid[tx.ID] = err
			continue
		}
		for _, in := range tx.Inputs {
			if in.Fulfills == nil {
				continue
			}
			if consumed.Contains(*in.Fulfills) {
				result.Invalid[tx.ID] = fmt.Errorf("%w: output %s is spent twice in block %s", txs.ErrDoubleSpend, in.Fulfills, blk.ID)
				break
			}
			consumed.Add(*in.Fulfills)
		}
	}
	if !result.Valid() {
		v.log.Debug("block holds invalid transactions",
			log.Stringer("blockID", blk.ID),
			log.Int("numInvalid", len(result.Invalid)),
		)
	}
	return result, nil
}
