// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/state"
	"github.com/luxfi/ledger/txs"
)

// WriteTransaction puts [tx] into the backlog, assigned to another
// federation member if there is one.
func (n *Node) WriteTransaction(ctx context.Context, tx *txs.Tx) error {
	now := n.Clock.Timestamp()
	assignee := n.federation.Assignee(tx.ID, now, n.federation.PublicKey())
	err := n.state.WriteBacklogTransaction(ctx, &state.BacklogEntry{
		Assignment: state.Assignment{
			Assignee:  assignee,
			Timestamp: now,
		},
		Tx: tx,
	})
	if err != nil {
		return err
	}
	n.log.Debug("wrote transaction to the backlog",
		log.Stringer("txID", tx.ID),
		log.String("assignee", assignee.String()),
	)
	return nil
}

// GetTransaction returns [txID] with where it stands. Transactions held only
// by invalid blocks are not found.
func (n *Node) GetTransaction(ctx context.Context, txID ids.ID) (*txs.Tx, block.TxStatus, error) {
	blocks, err := n.state.GetBlocksContainingTx(ctx, txID)
	if err != nil {
		return nil, block.TxUnknown, err
	}
	var (
		found  *txs.Tx
		status = block.TxUnknown
		valid  []ids.ID
	)
	for _, blk := range blocks {
		blkStatus, err := n.BlockStatus(ctx, blk.Block)
		if err != nil {
			return nil, block.TxUnknown, err
		}
		switch blkStatus {
		case block.Valid:
			valid = append(valid, blk.ID)
			found, status = findTx(blk.Block.Block, txID), block.TxValid
		case block.Undecided:
			if status != block.TxValid {
				found, status = findTx(blk.Block.Block, txID), block.TxUndecided
			}
		}
	}
	if len(valid) > 1 {
		return nil, block.TxUnknown, fmt.Errorf("%w: transaction %s is in blocks %v", ErrCriticalDoubleInclusion, txID, valid)
	}
	if found != nil {
		return found, status, nil
	}

	e, err := n.state.GetBacklogTransaction(ctx, txID)
	if err != nil {
		return nil, block.TxUnknown, fmt.Errorf("transaction %s: %w", txID, err)
	}
	return e.Tx, block.TxBacklog, nil
}

// GetStatus returns where [txID] stands.
func (n *Node) GetStatus(ctx context.Context, txID ids.ID) (block.TxStatus, error) {
	_, status, err := n.GetTransaction(ctx, txID)
	return status, err
}

// GetSpent returns the transaction of a block that is not invalid consuming
// [ref].
func (n *Node) GetSpent(ctx context.Context, ref txs.OutputRef) (*txs.Tx, error) {
	blocks, err := n.state.GetBlocksSpending(ctx, ref)
	if err != nil {
		return nil, err
	}
	var (
		spent    *txs.Tx
		spenders = set.NewSet[ids.ID](1)
	)
	for _, blk := range blocks {
		status, err := n.BlockStatus(ctx, blk.Block)
		if err != nil {
			return nil, err
		}
		if status == block.Invalid {
			continue
		}
		for _, tx := range blk.Block.Block.Transactions {
			for _, in := range tx.Inputs {
				if in.Fulfills != nil && *in.Fulfills == ref {
					spent = tx
					spenders.Add(tx.ID)
				}
			}
		}
	}
	switch spenders.Len() {
	case 0:
		return nil, fmt.Errorf("%w: no transaction spends %s", ErrNotFound, ref)
	case 1:
		return spent, nil
	default:
		return nil, fmt.Errorf("%w: %s is spent by %v", ErrCriticalDoubleSpend, ref, spenders.List())
	}
}

// GetOutputs returns the outputs whose condition includes [owner]. A non-nil
// [spent] keeps only the outputs in that state.
func (n *Node) GetOutputs(ctx context.Context, owner keys.PublicKey, spent *bool) ([]txs.OutputRef, error) {
	utxos, err := n.tracker.OwnedBy(ctx, owner)
	if err != nil {
		return nil, err
	}
	refs := make([]txs.OutputRef, 0, len(utxos))
	for _, u := range utxos {
		isSpent := false
		if u.Spent() {
			// A claim only counts once the claiming transaction is in a
			// block that is not invalid.
			_, err := n.GetSpent(ctx, u.Ref())
			switch {
			case err == nil:
				isSpent = true
			case !errors.Is(err, ErrNotFound):
				return nil, err
			}
		}
		if spent != nil && *spent != isSpent {
			continue
		}
		refs = append(refs, u.Ref())
	}
	return refs, nil
}

// GetTransactionsByAssetID returns the transactions creating or moving
// [assetID] held by blocks that are not invalid.
func (n *Node) GetTransactionsByAssetID(ctx context.Context, assetID ids.ID) ([]*txs.Tx, error) {
	blocks, err := n.state.GetBlocksByAssetID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	var (
		seen   = set.NewSet[ids.ID](0)
		result []*txs.Tx
	)
	for _, blk := range blocks {
		status, err := n.BlockStatus(ctx, blk.Block)
		if err != nil {
			return nil, err
		}
		if status == block.Invalid {
			continue
		}
		for _, tx := range blk.Block.Block.Transactions {
			if tx.AssetID() != assetID || seen.Contains(tx.ID) {
				continue
			}
			seen.Add(tx.ID)
			result = append(result, tx)
		}
	}
	return result, nil
}

func findTx(blk block.Body, txID ids.ID) *txs.Tx {
	for _, tx := range blk.Transactions {
		if tx.ID == txID {
			return tx
		}
	}
	return nil
}
