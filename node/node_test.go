// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend/kvdb"
	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/federation"
	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/state"
	"github.com/luxfi/ledger/txs"
)

func newKey(t *testing.T) *keys.PrivateKey {
	sk, err := keys.NewPrivateKey()
	require.NoError(t, err)
	return sk
}

func newTestNode(t *testing.T, keyring ...keys.PublicKey) *Node {
	ctx := context.Background()
	fed, err := federation.New(newKey(t), keyring)
	require.NoError(t, err)
	g, err := kvdb.Open(kvdb.Config{Engine: kvdb.MemoryEngine}, log.NewNoOpLogger())
	require.NoError(t, err)
	n, err := New(ctx, fed, g, DefaultConfig(), log.NewNoOpLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, n.Close())
		require.NoError(t, g.Close())
	})
	return n
}

func newCreate(t *testing.T, owner *keys.PrivateKey, amount uint64) *txs.Tx {
	tx := txs.NewCreate(
		[]keys.PublicKey{owner.PublicKey()},
		[]*txs.Output{txs.NewOutput(amount, owner.PublicKey())},
		txs.Asset{Divisible: amount > 1, Data: map[string]any{"kind": "token"}},
		map[string]any{"note": "minted"},
	)
	require.NoError(t, tx.Sign(owner))
	return tx
}

func newTransfer(t *testing.T, from *keys.PrivateKey, to keys.PublicKey, spent *txs.Tx) *txs.Tx {
	tx := txs.NewTransfer(
		spent.Spendable(),
		[]*txs.Output{txs.NewOutput(uint64(spent.Outputs[0].Amount), to)},
		spent.AssetID(),
		nil,
	)
	require.NoError(t, tx.Sign(from))
	return tx
}

func commit(t *testing.T, n *Node, transactions ...*txs.Tx) *block.Block {
	blk, err := n.CreateBlock(transactions)
	require.NoError(t, err)
	_, err = n.WriteBlock(context.Background(), blk)
	require.NoError(t, err)
	return blk
}

func vote(t *testing.T, n *Node, blk *block.Block, valid bool) {
	v, err := n.Vote(blk.ID, ids.Empty, valid, "")
	require.NoError(t, err)
	require.NoError(t, n.WriteVote(context.Background(), v))
}

func TestTransactionLifecycle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	n := newTestNode(t)
	alice := newKey(t)
	bob := newKey(t)

	create := newCreate(t, alice, 1)
	_, err := n.ValidateTransaction(ctx, create)
	require.NoError(err)
	require.NoError(n.WriteTransaction(ctx, create))

	status, err := n.GetStatus(ctx, create.ID)
	require.NoError(err)
	require.Equal(block.TxBacklog, status)

	e, err := n.State().GetBacklogTransaction(ctx, create.ID)
	require.NoError(err)
	require.Equal(n.Federation().PublicKey(), e.Assignee)

	blk1 := commit(t, n, create)
	status, err = n.GetStatus(ctx, create.ID)
	require.NoError(err)
	require.Equal(block.TxUndecided, status)

	vote(t, n, blk1, true)
	got, status, err := n.GetTransaction(ctx, create.ID)
	require.NoError(err)
	require.Equal(block.TxValid, status)
	require.Equal(create.ID, got.ID)

	transfer := newTransfer(t, alice, bob.PublicKey(), create)
	_, err = n.ValidateTransaction(ctx, transfer)
	require.NoError(err)
	blk2 := commit(t, n, transfer)
	vote(t, n, blk2, true)

	ref := txs.OutputRef{TxID: create.ID}
	spender, err := n.GetSpent(ctx, ref)
	require.NoError(err)
	require.Equal(transfer.ID, spender.ID)

	_, err = n.GetSpent(ctx, txs.OutputRef{TxID: transfer.ID})
	require.ErrorIs(err, ErrNotFound)

	var (
		yes = true
		no  = false
	)
	outputs, err := n.GetOutputs(ctx, alice.PublicKey(), nil)
	require.NoError(err)
	require.Equal([]txs.OutputRef{ref}, outputs)
	outputs, err = n.GetOutputs(ctx, alice.PublicKey(), &yes)
	require.NoError(err)
	require.Equal([]txs.OutputRef{ref}, outputs)
	outputs, err = n.GetOutputs(ctx, alice.PublicKey(), &no)
	require.NoError(err)
	require.Empty(outputs)
	outputs, err = n.GetOutputs(ctx, bob.PublicKey(), &no)
	require.NoError(err)
	require.Equal([]txs.OutputRef{{TxID: transfer.ID}}, outputs)

	byAsset, err := n.GetTransactionsByAssetID(ctx, create.ID)
	require.NoError(err)
	require.Len(byAsset, 2)

	// Spending an output consumed by a committed valid block.
	again := txs.NewTransfer(create.Spendable(), []*txs.Output{txs.NewOutput(1, alice.PublicKey())}, create.ID, map[string]any{"again": true})
	require.NoError(again.Sign(alice))
	_, err = n.ValidateTransaction(ctx, again)
	require.ErrorIs(err, txs.ErrDoubleSpend)

	_, _, err = n.GetTransaction(ctx, ids.GenerateTestID())
	require.ErrorIs(err, ErrNotFound)
}

func TestHealthCheck(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	n := newTestNode(t)
	alice := newKey(t)

	require.NoError(n.WriteTransaction(ctx, newCreate(t, alice, 1)))
	commit(t, n, newCreate(t, alice, 2))

	details, err := n.HealthCheck(ctx)
	require.NoError(err)
	require.Equal(map[string]any{
		"backlog": 1,
		"blocks":  1,
		"height":  uint64(1),
	}, details)
}

func TestValidateBlockWithNullSignature(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	peer := newKey(t)
	n := newTestNode(t, peer.PublicKey())
	alice := newKey(t)

	create := newCreate(t, alice, 1)
	create.Inputs[0].Fulfillment.Signatures = []*txs.Signature{nil}
	var err error
	create.ID, err = create.ComputeID()
	require.NoError(err)

	blk, err := block.New(peer, []*txs.Tx{create}, n.Federation().Voters(), n.Clock.Timestamp())
	require.NoError(err)
	result, err := n.ValidateBlock(ctx, blk)
	require.NoError(err)
	require.False(result.Valid())
	require.ErrorIs(result.Invalid[create.ID], txs.ErrSchemaValidation)
}

func TestInvalidBlock(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	n := newTestNode(t)
	alice := newKey(t)
	bob := newKey(t)

	create := newCreate(t, alice, 1)
	blk1 := commit(t, n, create)
	vote(t, n, blk1, true)

	transfer := newTransfer(t, alice, bob.PublicKey(), create)
	blk2 := commit(t, n, transfer)
	vote(t, n, blk2, false)

	_, status, err := n.GetBlock(ctx, blk2.ID)
	require.NoError(err)
	require.Equal(block.Invalid, status)

	_, _, err = n.GetTransaction(ctx, transfer.ID)
	require.ErrorIs(err, ErrNotFound)
	_, err = n.GetSpent(ctx, txs.OutputRef{TxID: create.ID})
	require.ErrorIs(err, ErrNotFound)

	// The claim of the invalid block does not make the output spent.
	no := false
	outputs, err := n.GetOutputs(ctx, alice.PublicKey(), &no)
	require.NoError(err)
	require.Len(outputs, 1)

	requeued, err := n.Invalidate(ctx, blk2)
	require.NoError(err)
	require.Equal(1, requeued)

	spent, err := n.Tracker().IsSpent(ctx, txs.OutputRef{TxID: create.ID})
	require.NoError(err)
	require.False(spent)
	created, err := n.Tracker().OutputsOf(ctx, transfer.ID)
	require.NoError(err)
	require.Empty(created)

	e, err := n.State().GetBacklogTransaction(ctx, transfer.ID)
	require.NoError(err)
	require.False(e.Assigned())

	txStatus, err := n.GetStatus(ctx, transfer.ID)
	require.NoError(err)
	require.Equal(block.TxBacklog, txStatus)

	// Invalidating again leaves the backlog entry alone.
	requeued, err = n.Invalidate(ctx, blk2)
	require.NoError(err)
	require.Zero(requeued)
}

func TestInvalidateKeepsTransactionsOfLiveBlocks(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	n := newTestNode(t)
	alice := newKey(t)

	create := newCreate(t, alice, 1)
	live := commit(t, n, create)
	vote(t, n, live, true)

	dead, err := n.CreateBlock([]*txs.Tx{create, newCreate(t, alice, 1)})
	require.NoError(err)
	_, err = n.WriteBlock(ctx, dead)
	require.NoError(err)
	vote(t, n, dead, false)

	requeued, err := n.Invalidate(ctx, dead)
	require.NoError(err)
	require.Equal(1, requeued)

	outputs, err := n.Tracker().OutputsOf(ctx, create.ID)
	require.NoError(err)
	require.Len(outputs, 1)
}

func TestWriteTransactionAssignsAnotherNode(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	peer := newKey(t)
	n := newTestNode(t, peer.PublicKey())

	tx := newCreate(t, newKey(t), 1)
	require.NoError(n.WriteTransaction(ctx, tx))

	e, err := n.State().GetBacklogTransaction(ctx, tx.ID)
	require.NoError(err)
	require.Equal(peer.PublicKey(), e.Assignee)
	require.Positive(e.Timestamp)
}

func TestNodesSharingAGateway(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	g, err := kvdb.Open(kvdb.Config{Engine: kvdb.MemoryEngine}, log.NewNoOpLogger())
	require.NoError(err)
	defer func() {
		require.NoError(g.Close())
	}()
	skA, skB := newKey(t), newKey(t)
	newNode := func(sk *keys.PrivateKey, peer keys.PublicKey) *Node {
		fed, err := federation.New(sk, []keys.PublicKey{peer})
		require.NoError(err)
		n, err := New(ctx, fed, g, DefaultConfig(), log.NewNoOpLogger())
		require.NoError(err)
		t.Cleanup(func() {
			require.NoError(n.Close())
		})
		return n
	}
	a := newNode(skA, skB.PublicKey())
	b := newNode(skB, skA.PublicKey())

	alice := newKey(t)
	createA, createB := newCreate(t, alice, 1), newCreate(t, alice, 2)
	blkA, err := a.CreateBlock([]*txs.Tx{createA})
	require.NoError(err)
	blkB, err := b.CreateBlock([]*txs.Tx{createB})
	require.NoError(err)

	heightA, err := a.WriteBlock(ctx, blkA)
	require.NoError(err)
	heightB, err := b.WriteBlock(ctx, blkB)
	require.NoError(err)
	require.Equal(uint64(1), heightA)
	require.Equal(uint64(2), heightB)

	// Writing a stored block again keeps its height.
	height, err := b.WriteBlock(ctx, blkA)
	require.NoError(err)
	require.Equal(heightA, height)

	committed, err := b.IsCommitted(ctx, createA.ID)
	require.NoError(err)
	require.True(committed)

	// Both members voting for a block decide it for every node.
	vote(t, a, blkB, true)
	vote(t, b, blkB, true)
	for _, n := range []*Node{a, b} {
		_, status, err := n.GetBlock(ctx, blkB.ID)
		require.NoError(err)
		require.Equal(block.Valid, status)
	}

	// A block created by one member can be checked by the other.
	blkC, err := a.CreateBlock([]*txs.Tx{newCreate(t, alice, 3)})
	require.NoError(err)
	result, err := b.ValidateBlock(ctx, blkC)
	require.NoError(err)
	require.True(result.Valid())
}

func TestGenesis(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	n := newTestNode(t)

	_, err := n.CreateBlock(nil)
	require.ErrorIs(err, block.ErrEmptyBlock)

	genesis, err := n.CreateGenesisBlock(ctx)
	require.NoError(err)
	require.True(genesis.IsGenesis())

	_, err = n.CreateGenesisBlock(ctx)
	require.ErrorIs(err, ErrGenesisBlockAlreadyExists)

	stored, status, err := n.GetBlock(ctx, genesis.ID)
	require.NoError(err)
	require.Equal(block.Valid, status)
	require.Equal(uint64(1), stored.Height)

	tip, err := n.LastVotedBlockID(ctx)
	require.NoError(err)
	require.Equal(genesis.ID, tip)

	voted, err := n.HasPreviousVote(ctx, genesis.ID)
	require.NoError(err)
	require.False(voted)

	result, err := n.ValidateBlock(ctx, genesis)
	require.NoError(err)
	require.True(result.Valid())
}

func TestRecover(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	n := newTestNode(t)
	alice := newKey(t)
	bob := newKey(t)

	_, err := n.CreateGenesisBlock(ctx)
	require.NoError(err)
	create := newCreate(t, alice, 1)
	blk2 := commit(t, n, create)
	vote(t, n, blk2, true)
	transfer := newTransfer(t, alice, bob.PublicKey(), create)
	blk3 := commit(t, n, transfer)
	vote(t, n, blk3, true)

	// Assets of a transaction that never made it into a block.
	orphan := newCreate(t, bob, 1)
	require.NoError(n.State().WriteAssets(ctx, []*txs.Tx{orphan}))

	require.NoError(n.Recover(ctx, 2))

	_, err = n.State().GetBlock(ctx, blk3.ID)
	require.ErrorIs(err, state.ErrNotFound)
	votes, err := n.State().GetVotesByBlockID(ctx, blk3.ID)
	require.NoError(err)
	require.Empty(votes)

	spent, err := n.Tracker().IsSpent(ctx, txs.OutputRef{TxID: create.ID})
	require.NoError(err)
	require.False(spent)
	created, err := n.Tracker().OutputsOf(ctx, transfer.ID)
	require.NoError(err)
	require.Empty(created)

	_, err = n.State().GetAsset(ctx, orphan.ID)
	require.ErrorIs(err, state.ErrNotFound)
	_, err = n.State().GetAsset(ctx, create.ID)
	require.NoError(err)

	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"latest_block_height":"1"}}`))
	}))
	defer oracle.Close()
	require.NoError(n.RecoverFrom(ctx, &HTTPHeightOracle{URI: oracle.URL}))

	_, err = n.State().GetAsset(ctx, create.ID)
	require.ErrorIs(err, state.ErrNotFound)
	_, err = n.State().GetMetadata(ctx, create.ID)
	require.ErrorIs(err, state.ErrNotFound)
	all, err := n.Tracker().All(ctx)
	require.NoError(err)
	require.Len(all, 1)

	_, err = n.State().GetGenesisBlock(ctx)
	require.NoError(err)
}

func TestHTTPHeightOracle(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   uint64
		err    error
	}{
		{
			name:   "number",
			status: http.StatusOK,
			body:   `{"result":{"latest_block_height":12}}`,
			want:   12,
		},
		{
			name:   "string",
			status: http.StatusOK,
			body:   `{"jsonrpc":"2.0","result":{"latest_block_height":"34"}}`,
			want:   34,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			err:    errUnexpectedStatus,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			oracle := &HTTPHeightOracle{URI: server.URL, Client: server.Client()}
			height, err := oracle.LatestHeight(context.Background())
			require.ErrorIs(err, tt.err)
			require.Equal(tt.want, height)
		})
	}
}
