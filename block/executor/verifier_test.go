// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/federation"
	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/txs"
)

var errRejected = errors.New("rejected")

type txVerifierFunc func(*txs.Tx) error

func (f txVerifierFunc) Verify(_ context.Context, tx *txs.Tx) (*txs.Tx, error) {
	if err := f(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func acceptAll(*txs.Tx) error {
	return nil
}

func newKey(t *testing.T) *keys.PrivateKey {
	sk, err := keys.NewPrivateKey()
	require.NoError(t, err)
	return sk
}

func newCreate(t *testing.T, sk *keys.PrivateKey) *txs.Tx {
	tx := txs.NewCreate([]keys.PublicKey{sk.PublicKey()}, []*txs.Output{txs.NewOutput(1, sk.PublicKey())}, txs.Asset{}, nil)
	require.NoError(t, tx.Sign(sk))
	return tx
}

func newTransfer(t *testing.T, sk *keys.PrivateKey, from *txs.Tx, to keys.PublicKey) *txs.Tx {
	tx := txs.NewTransfer(from.Spendable(), []*txs.Output{txs.NewOutput(1, to)}, from.ID, nil)
	require.NoError(t, tx.Sign(sk))
	return tx
}

func TestVerify(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	sk := newKey(t)
	fed, err := federation.New(sk, nil)
	require.NoError(err)

	bad := newCreate(t, sk)
	good := newCreate(t, sk)
	blk, err := block.New(sk, []*txs.Tx{good, bad}, fed.Voters(), 1)
	require.NoError(err)

	v := NewVerifier(fed, txVerifierFunc(func(tx *txs.Tx) error {
		if tx.ID == bad.ID {
			return errRejected
		}
		return nil
	}), log.NewNoOpLogger())

	result, err := v.Verify(ctx, blk)
	require.NoError(err)
	require.False(result.Valid())
	require.Equal(map[ids.ID]error{bad.ID: errRejected}, result.Invalid)

	v = NewVerifier(fed, txVerifierFunc(acceptAll), log.NewNoOpLogger())
	result, err = v.Verify(ctx, blk)
	require.NoError(err)
	require.True(result.Valid())
}

func TestVerifyRejectsBlock(t *testing.T) {
	sk := newKey(t)
	outsider := newKey(t)
	fed, err := federation.New(sk, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		build func(t *testing.T) *block.Block
		err   error
	}{
		{
			name: "tampered",
			build: func(t *testing.T) *block.Block {
				blk, err := block.New(sk, []*txs.Tx{newCreate(t, sk)}, fed.Voters(), 1)
				require.NoError(t, err)
				blk.Block.Timestamp = 2
				return blk
			},
			err: block.ErrInvalidHash,
		},
		{
			name: "not a federation node",
			build: func(t *testing.T) *block.Block {
				blk, err := block.New(outsider, []*txs.Tx{newCreate(t, outsider)}, fed.Voters(), 1)
				require.NoError(t, err)
				return blk
			},
			err: block.ErrOperation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(fed, txVerifierFunc(acceptAll), log.NewNoOpLogger())
			_, err := v.Verify(context.Background(), tt.build(t))
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestVerifySpendTwiceInBlock(t *testing.T) {
	require := require.New(t)
	sk := newKey(t)
	peer := newKey(t)
	fed, err := federation.New(sk, []keys.PublicKey{peer.PublicKey()})
	require.NoError(err)

	create := newCreate(t, sk)
	first := newTransfer(t, sk, create, peer.PublicKey())
	second := newTransfer(t, sk, create, sk.PublicKey())
	blk, err := block.New(sk, []*txs.Tx{first, second}, fed.Voters(), 1)
	require.NoError(err)

	v := NewVerifier(fed, txVerifierFunc(acceptAll), log.NewNoOpLogger())
	result, err := v.Verify(context.Background(), blk)
	require.NoError(err)
	require.Len(result.Invalid, 1)
	require.ErrorIs(result.Invalid[second.ID], txs.ErrDoubleSpend)
}
