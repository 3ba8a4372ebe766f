// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package utxo tracks which transaction outputs can still be spent.
package utxo

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/txs"
)

const (
	txField      = "tx"
	ownerField   = "owner"
	spenderField = "spender"
)

// UTXO is a transaction output with the transaction currently claiming it.
// An output is unspent while SpentBy is empty.
type UTXO struct {
	TxID      ids.ID           `serialize:"true"`
	Index     uint32           `serialize:"true"`
	AssetID   ids.ID           `serialize:"true"`
	Amount    uint64           `serialize:"true"`
	Owners    []keys.PublicKey `serialize:"true"`
	Threshold uint32           `serialize:"true"`
	SpentBy   ids.ID           `serialize:"true"`
}

func (u *UTXO) Ref() txs.OutputRef {
	return txs.OutputRef{TxID: u.TxID, Index: u.Index}
}

func (u *UTXO) Spent() bool {
	return u.SpentBy != ids.Empty
}

// Output returns the output [u] was created from.
func (u *UTXO) Output() *txs.Output {
	return &txs.Output{
		Amount: txs.Amount(u.Amount),
		Condition: txs.Condition{
			PublicKeys: u.Owners,
			Threshold:  u.Threshold,
		},
	}
}

func (u *UTXO) document() (*backend.Document, error) {
	body, err := Codec.Marshal(codecVersion, u)
	if err != nil {
		return nil, err
	}
	owners := make([]string, len(u.Owners))
	for i, owner := range u.Owners {
		owners[i] = owner.String()
	}
	doc := &backend.Document{
		ID:   u.Ref().String(),
		Body: body,
		Index: map[string][]string{
			txField:    {u.TxID.String()},
			ownerField: owners,
		},
	}
	if u.Spent() {
		doc.Index[spenderField] = []string{u.SpentBy.String()}
	}
	return doc, nil
}

func parse(doc *backend.Document) (*UTXO, error) {
	u := &UTXO{}
	if _, err := Codec.Unmarshal(doc.Body, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Tracker keeps the unspent set in the utxo collection. Every claim is one
// atomic gateway update, so two transactions can never both claim an output.
type Tracker struct {
	log     log.Logger
	gateway backend.Gateway
}

func New(gateway backend.Gateway, logger log.Logger) *Tracker {
	return &Tracker{
		log:     logger,
		gateway: gateway,
	}
}

// Add records every output of [tx] as unspent. Outputs already recorded are
// kept as they are.
func (t *Tracker) Add(ctx context.Context, tx *txs.Tx) error {
	assetID := tx.AssetID()
	var added []string
	for i, out := range tx.Outputs {
		u := &UTXO{
			TxID:      tx.ID,
			Index:     uint32(i),
			AssetID:   assetID,
			Amount:    uint64(out.Amount),
			Owners:    out.Condition.PublicKeys,
			Threshold: out.Condition.Threshold,
		}
		doc, err := u.document()
		if err != nil {
			return t.undoAdd(ctx, added, err)
		}
		err = t.gateway.Insert(ctx, backend.UTXO, doc)
		if errors.Is(err, backend.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return t.undoAdd(ctx, added, err)
		}
		added = append(added, doc.ID)
	}
	return nil
}

func (t *Tracker) undoAdd(ctx context.Context, added []string, cause error) error {
	if err := t.gateway.Delete(ctx, backend.UTXO, added...); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Get returns the output [ref] points to.
func (t *Tracker) Get(ctx context.Context, ref txs.OutputRef) (*UTXO, error) {
	doc, err := t.gateway.FindOne(ctx, backend.UTXO, ref.String())
	if errors.Is(err, backend.ErrNotFound) {
		return nil, fmt.Errorf("%w: output %s", txs.ErrTransactionDoesNotExist, ref)
	}
	if err != nil {
		return nil, err
	}
	return parse(doc)
}

func (t *Tracker) IsSpent(ctx context.Context, ref txs.OutputRef) (bool, error) {
	u, err := t.Get(ctx, ref)
	if err != nil {
		return false, err
	}
	return u.Spent(), nil
}

// Spend claims every output [tx] consumes for [tx]. It either claims all of
// them or none: on failure the claims made by this call are released.
// Claiming outputs already claimed by [tx] succeeds.
func (t *Tracker) Spend(ctx context.Context, tx *txs.Tx) error {
	var claimed []txs.OutputRef
	for _, in := range tx.Inputs {
		if in.Fulfills == nil {
			continue
		}
		ref := *in.Fulfills
		fresh, err := t.claim(ctx, ref, tx.ID)
		if err != nil {
			if releaseErr := t.release(ctx, tx.ID, claimed...); releaseErr != nil {
				return errors.Join(err, releaseErr)
			}
			return err
		}
		if fresh {
			claimed = append(claimed, ref)
		}
	}
	return nil
}

// claim reports whether [ref] was unspent before this call.
func (t *Tracker) claim(ctx context.Context, ref txs.OutputRef, spender ids.ID) (bool, error) {
	var fresh bool
	_, err := t.gateway.UpsertAtomic(ctx, backend.UTXO, ref.String(), func(current *backend.Document) (*backend.Document, error) {
		if current == nil {
			return nil, fmt.Errorf("%w: output %s", txs.ErrTransactionDoesNotExist, ref)
		}
		u, err := parse(current)
		if err != nil {
			return nil, err
		}
		switch u.SpentBy {
		case ids.Empty:
			fresh = true
		case spender:
			return current, nil
		default:
			return nil, fmt.Errorf("%w: output %s is already spent by %s", txs.ErrDoubleSpend, ref, u.SpentBy)
		}
		u.SpentBy = spender
		return u.document()
	})
	return fresh, err
}

// Release marks the outputs consumed by [tx] unspent again, if [tx] is the
// transaction claiming them.
func (t *Tracker) Release(ctx context.Context, tx *txs.Tx) error {
	var refs []txs.OutputRef
	for _, in := range tx.Inputs {
		if in.Fulfills != nil {
			refs = append(refs, *in.Fulfills)
		}
	}
	return t.release(ctx, tx.ID, refs...)
}

func (t *Tracker) release(ctx context.Context, spender ids.ID, refs ...txs.OutputRef) error {
	var errs []error
	for _, ref := range refs {
		_, err := t.gateway.UpsertAtomic(ctx, backend.UTXO, ref.String(), func(current *backend.Document) (*backend.Document, error) {
			if current == nil {
				return nil, nil
			}
			u, err := parse(current)
			if err != nil {
				return nil, err
			}
			if u.SpentBy != spender {
				return current, nil
			}
			u.SpentBy = ids.Empty
			return u.document()
		})
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Remove forgets every output of [tx].
func (t *Tracker) Remove(ctx context.Context, tx *txs.Tx) error {
	docIDs := make([]string, len(tx.Outputs))
	for i := range tx.Outputs {
		docIDs[i] = txs.OutputRef{TxID: tx.ID, Index: uint32(i)}.String()
	}
	return t.gateway.Delete(ctx, backend.UTXO, docIDs...)
}

// Rollback undoes the effects of [transactions] in reverse order: created
// outputs are removed and consumed outputs become unspent.
func (t *Tracker) Rollback(ctx context.Context, transactions []*txs.Tx) error {
	for i := len(transactions) - 1; i >= 0; i-- {
		tx := transactions[i]
		if err := t.Remove(ctx, tx); err != nil {
			return err
		}
		if err := t.Release(ctx, tx); err != nil {
			return err
		}
		t.log.Debug("rolled back transaction",
			log.Stringer("txID", tx.ID),
		)
	}
	return nil
}

// Prune removes the outputs of transactions outside [live] and releases the
// claims such transactions hold. It returns the number of outputs changed.
func (t *Tracker) Prune(ctx context.Context, live set.Set[ids.ID]) (int, error) {
	utxos, err := t.All(ctx)
	if err != nil {
		return 0, err
	}
	var (
		stale   []string
		changed int
	)
	for _, u := range utxos {
		switch {
		case !live.Contains(u.TxID):
			stale = append(stale, u.Ref().String())
		case u.Spent() && !live.Contains(u.SpentBy):
			if err := t.release(ctx, u.SpentBy, u.Ref()); err != nil {
				return changed, err
			}
			changed++
		}
	}
	if err := t.gateway.Delete(ctx, backend.UTXO, stale...); err != nil {
		return changed, err
	}
	return changed + len(stale), nil
}

// OutputsOf returns the outputs of [txID].
func (t *Tracker) OutputsOf(ctx context.Context, txID ids.ID) ([]*UTXO, error) {
	return t.find(ctx, backend.ByIndex(txField, txID.String()))
}

// OwnedBy returns the outputs whose condition includes [owner].
func (t *Tracker) OwnedBy(ctx context.Context, owner keys.PublicKey) ([]*UTXO, error) {
	return t.find(ctx, backend.ByIndex(ownerField, owner.String()))
}

// SpentBy returns the outputs claimed by [spender].
func (t *Tracker) SpentBy(ctx context.Context, spender ids.ID) ([]*UTXO, error) {
	return t.find(ctx, backend.ByIndex(spenderField, spender.String()))
}

// All returns every tracked output.
func (t *Tracker) All(ctx context.Context) ([]*UTXO, error) {
	return t.find(ctx, backend.All)
}

func (t *Tracker) find(ctx context.Context, q backend.Query) ([]*UTXO, error) {
	docs, err := t.gateway.Find(ctx, backend.UTXO, q)
	if err != nil {
		return nil, err
	}
	utxos := make([]*UTXO, 0, len(docs))
	for _, doc := range docs {
		u, err := parse(doc)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, u)
	}
	return utxos, nil
}
