// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package utxo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/backend/backendmock"
	"github.com/luxfi/ledger/backend/kvdb"
	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/txs"
)

func newTestTracker(t *testing.T) *Tracker {
	g, err := kvdb.Open(kvdb.Config{Engine: kvdb.MemoryEngine}, log.NewNoOpLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, g.Close())
	})
	return New(g, log.NewNoOpLogger())
}

func newKey(t *testing.T) *keys.PrivateKey {
	sk, err := keys.NewPrivateKey()
	require.NoError(t, err)
	return sk
}

func newCreate(t *testing.T, sk *keys.PrivateKey, amounts ...uint64) *txs.Tx {
	outputs := make([]*txs.Output, len(amounts))
	for i, amount := range amounts {
		outputs[i] = txs.NewOutput(amount, sk.PublicKey())
	}
	tx := txs.NewCreate([]keys.PublicKey{sk.PublicKey()}, outputs, txs.Asset{Divisible: true}, nil)
	require.NoError(t, tx.Sign(sk))
	return tx
}

func newSpend(t *testing.T, sk *keys.PrivateKey, from *txs.Tx, metadata map[string]any) *txs.Tx {
	sum, err := txs.Sum(from.Outputs)
	require.NoError(t, err)
	tx := txs.NewTransfer(from.Spendable(), []*txs.Output{txs.NewOutput(uint64(sum), sk.PublicKey())}, from.AssetID(), metadata)
	require.NoError(t, tx.Sign(sk))
	return tx
}

func TestAddAndSpend(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	tracker := newTestTracker(t)
	sk := newKey(t)

	create := newCreate(t, sk, 2, 3)
	require.NoError(tracker.Add(ctx, create))
	require.NoError(tracker.Add(ctx, create))

	ref := txs.OutputRef{TxID: create.ID, Index: 1}
	u, err := tracker.Get(ctx, ref)
	require.NoError(err)
	require.Equal(uint64(3), u.Amount)
	require.Equal(create.ID, u.AssetID)
	require.Equal(txs.NewOutput(3, sk.PublicKey()), u.Output())

	spent, err := tracker.IsSpent(ctx, ref)
	require.NoError(err)
	require.False(spent)

	owned, err := tracker.OwnedBy(ctx, sk.PublicKey())
	require.NoError(err)
	require.Len(owned, 2)

	spend := newSpend(t, sk, create, nil)
	require.NoError(tracker.Spend(ctx, spend))
	// Claiming again for the same transaction is idempotent.
	require.NoError(tracker.Spend(ctx, spend))

	spent, err = tracker.IsSpent(ctx, ref)
	require.NoError(err)
	require.True(spent)

	claimed, err := tracker.SpentBy(ctx, spend.ID)
	require.NoError(err)
	require.Len(claimed, 2)

	rival := newSpend(t, sk, create, map[string]any{"rival": true})
	err = tracker.Spend(ctx, rival)
	require.ErrorIs(err, txs.ErrDoubleSpend)

	_, err = tracker.Get(ctx, txs.OutputRef{TxID: ids.GenerateTestID()})
	require.ErrorIs(err, txs.ErrTransactionDoesNotExist)
}

func TestSpendIsAllOrNothing(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	tracker := newTestTracker(t)
	sk := newKey(t)

	create := newCreate(t, sk, 2, 3)
	require.NoError(tracker.Add(ctx, create))

	// Claim only the second output for someone else.
	other := txs.NewTransfer(
		[]*txs.Input{create.Spendable()[1]},
		[]*txs.Output{txs.NewOutput(3, sk.PublicKey())},
		create.ID,
		nil,
	)
	require.NoError(other.Sign(sk))
	require.NoError(tracker.Spend(ctx, other))

	spend := newSpend(t, sk, create, nil)
	require.ErrorIs(tracker.Spend(ctx, spend), txs.ErrDoubleSpend)

	spent, err := tracker.IsSpent(ctx, txs.OutputRef{TxID: create.ID, Index: 0})
	require.NoError(err)
	require.False(spent)

	missing := txs.NewTransfer(
		[]*txs.Input{create.Spendable()[0], {
			Fulfills:     &txs.OutputRef{TxID: ids.GenerateTestID()},
			OwnersBefore: []keys.PublicKey{sk.PublicKey()},
		}},
		[]*txs.Output{txs.NewOutput(2, sk.PublicKey())},
		create.ID,
		nil,
	)
	require.NoError(missing.Sign(sk))
	require.ErrorIs(tracker.Spend(ctx, missing), txs.ErrTransactionDoesNotExist)

	spent, err = tracker.IsSpent(ctx, txs.OutputRef{TxID: create.ID, Index: 0})
	require.NoError(err)
	require.False(spent)
}

func TestConcurrentSpend(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	tracker := newTestTracker(t)
	sk := newKey(t)

	create := newCreate(t, sk, 5)
	require.NoError(tracker.Add(ctx, create))

	const racers = 16
	var (
		wg        sync.WaitGroup
		lock      sync.Mutex
		succeeded int
		errs      []error
	)
	for i := range racers {
		spend := newSpend(t, sk, create, map[string]any{"racer": i})
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tracker.Spend(ctx, spend)

			lock.Lock()
			defer lock.Unlock()
			if err == nil {
				succeeded++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	require.Equal(1, succeeded)
	require.Len(errs, racers-1)
	for _, err := range errs {
		require.ErrorIs(err, txs.ErrDoubleSpend)
	}
}

func TestRollback(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	tracker := newTestTracker(t)
	sk := newKey(t)

	create := newCreate(t, sk, 4)
	require.NoError(tracker.Add(ctx, create))

	spend := newSpend(t, sk, create, nil)
	require.NoError(tracker.Spend(ctx, spend))
	require.NoError(tracker.Add(ctx, spend))

	require.NoError(tracker.Rollback(ctx, []*txs.Tx{spend}))

	spent, err := tracker.IsSpent(ctx, txs.OutputRef{TxID: create.ID})
	require.NoError(err)
	require.False(spent)

	outputs, err := tracker.OutputsOf(ctx, spend.ID)
	require.NoError(err)
	require.Empty(outputs)

	require.NoError(tracker.Rollback(ctx, []*txs.Tx{create}))
	all, err := tracker.All(ctx)
	require.NoError(err)
	require.Empty(all)
}

func TestReleaseOnlyOwnClaims(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	tracker := newTestTracker(t)
	sk := newKey(t)

	create := newCreate(t, sk, 4)
	require.NoError(tracker.Add(ctx, create))

	spend := newSpend(t, sk, create, nil)
	rival := newSpend(t, sk, create, map[string]any{"rival": true})
	require.NoError(tracker.Spend(ctx, spend))
	require.NoError(tracker.Release(ctx, rival))

	spent, err := tracker.IsSpent(ctx, txs.OutputRef{TxID: create.ID})
	require.NoError(err)
	require.True(spent)
}

func TestPrune(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	tracker := newTestTracker(t)
	sk := newKey(t)

	kept := newCreate(t, sk, 2)
	dropped := newCreate(t, sk, 3)
	require.NoError(tracker.Add(ctx, kept))
	require.NoError(tracker.Add(ctx, dropped))

	// A claim by a transaction that never made it into a block.
	orphan := newSpend(t, sk, kept, nil)
	require.NoError(tracker.Spend(ctx, orphan))

	changed, err := tracker.Prune(ctx, set.Of(kept.ID))
	require.NoError(err)
	require.Equal(2, changed)

	spent, err := tracker.IsSpent(ctx, txs.OutputRef{TxID: kept.ID})
	require.NoError(err)
	require.False(spent)

	outputs, err := tracker.OutputsOf(ctx, dropped.ID)
	require.NoError(err)
	require.Empty(outputs)
}

func TestAddUndoesPartialWrites(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	sk := newKey(t)

	create := newCreate(t, sk, 1, 2)
	errWrite := errors.New("write failed")

	gateway := backendmock.NewGateway(ctrl)
	gomock.InOrder(
		gateway.EXPECT().Insert(gomock.Any(), backend.UTXO, gomock.Any()).Return(nil),
		gateway.EXPECT().Insert(gomock.Any(), backend.UTXO, gomock.Any()).Return(errWrite),
		gateway.EXPECT().Delete(gomock.Any(), backend.UTXO, txs.OutputRef{TxID: create.ID}.String()).Return(nil),
	)

	tracker := New(gateway, log.NewNoOpLogger())
	require.ErrorIs(tracker.Add(ctx, create), errWrite)
}
