// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/backend/kvdb"
	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/federation"
	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/node"
	"github.com/luxfi/ledger/state"
	"github.com/luxfi/ledger/txs"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/golang/glog.(*loggingT).flushDaemon"),
	)
}

func newKey(t *testing.T) *keys.PrivateKey {
	sk, err := keys.NewPrivateKey()
	require.NoError(t, err)
	return sk
}

func newTestNode(t *testing.T, keyring ...keys.PublicKey) *node.Node {
	fed, err := federation.New(newKey(t), keyring)
	require.NoError(t, err)
	g, err := kvdb.Open(kvdb.Config{Engine: kvdb.MemoryEngine}, log.NewNoOpLogger())
	require.NoError(t, err)
	n, err := node.New(context.Background(), fed, g, node.DefaultConfig(), log.NewNoOpLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, n.Close())
		require.NoError(t, g.Close())
	})
	return n
}

func testConfig() Config {
	config := DefaultConfig()
	config.BlockTimeout = time.Hour
	config.StaleCheckPeriod = tick
	config.MaxCommitBackoff = tick
	return config
}

// start runs a pipeline until the test ends.
func start(t *testing.T, n *node.Node, config Config) *Pipeline {
	p, err := New(n, config, prometheus.NewRegistry(), log.NewNoOpLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return p
}

func newCreate(t *testing.T, sk *keys.PrivateKey) *txs.Tx {
	tx := txs.NewCreate(
		[]keys.PublicKey{sk.PublicKey()},
		[]*txs.Output{txs.NewOutput(1, sk.PublicKey())},
		txs.Asset{},
		nil,
	)
	require.NoError(t, tx.Sign(sk))
	return tx
}

// assignSelf puts [tx] into the backlog assigned to the local node.
func assignSelf(t *testing.T, n *node.Node, tx *txs.Tx) {
	require.NoError(t, n.State().WriteBacklogTransaction(context.Background(), &state.BacklogEntry{
		Assignment: state.Assignment{
			Assignee:  n.Federation().PublicKey(),
			Timestamp: n.Clock.Timestamp(),
		},
		Tx: tx,
	}))
}

func chainBlocks(n *node.Node) []*state.StoredBlock {
	blocks, err := n.State().Blocks(context.Background())
	if err != nil {
		return nil
	}
	return blocks
}

func backlogSize(n *node.Node) int {
	backlog, err := n.State().BacklogTransactions(context.Background())
	if err != nil {
		return -1
	}
	return len(backlog)
}

func TestBlockSizeThreshold(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	n := newTestNode(t)
	sk := newKey(t)

	const size = 3
	config := testConfig()
	config.BlockSize = size

	transactions := make([]*txs.Tx, size)
	for i := range transactions {
		transactions[i] = newCreate(t, sk)
		require.NoError(n.WriteTransaction(ctx, transactions[i]))
	}
	start(t, n, config)

	require.Eventually(func() bool {
		return len(chainBlocks(n)) == 1 && backlogSize(n) == 0
	}, waitFor, tick)

	blk := chainBlocks(n)[0]
	require.Len(blk.Block.Block.Transactions, size)
	for _, tx := range transactions {
		require.Contains(blk.TxIDs(), tx.ID)
	}

	// The node votes on its own block, which makes it valid.
	require.Eventually(func() bool {
		status, err := n.GetStatus(ctx, transactions[0].ID)
		return err == nil && status == block.TxValid
	}, waitFor, tick)
	require.Len(chainBlocks(n), 1)
}

func TestBlockTimeout(t *testing.T) {
	require := require.New(t)
	n := newTestNode(t)
	sk := newKey(t)

	config := testConfig()
	config.BlockSize = 100
	config.BlockTimeout = 50 * time.Millisecond
	start(t, n, config)

	first := newCreate(t, sk)
	second := newCreate(t, sk)
	assignSelf(t, n, first)
	assignSelf(t, n, second)

	require.Eventually(func() bool {
		var included int
		for _, blk := range chainBlocks(n) {
			included += len(blk.Block.Block.Transactions)
		}
		return included == 2 && backlogSize(n) == 0
	}, waitFor, tick)
}

func TestInvalidTransactionIsDropped(t *testing.T) {
	require := require.New(t)
	n := newTestNode(t)
	sk := newKey(t)

	config := testConfig()
	config.BlockSize = 1
	start(t, n, config)

	// Spends an output nobody created.
	missing := newCreate(t, sk)
	invalid := txs.NewTransfer(missing.Spendable(), []*txs.Output{txs.NewOutput(1, sk.PublicKey())}, missing.ID, nil)
	require.NoError(invalid.Sign(sk))
	assignSelf(t, n, invalid)

	require.Eventually(func() bool {
		return backlogSize(n) == 0
	}, waitFor, tick)
	require.Empty(chainBlocks(n))
}

func TestCommittedTransactionIsDropped(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	n := newTestNode(t)
	sk := newKey(t)

	tx := newCreate(t, sk)
	blk, err := n.CreateBlock([]*txs.Tx{tx})
	require.NoError(err)
	_, err = n.WriteBlock(ctx, blk)
	require.NoError(err)
	assignSelf(t, n, tx)

	config := testConfig()
	config.BlockSize = 1
	start(t, n, config)

	require.Eventually(func() bool {
		return backlogSize(n) == 0
	}, waitFor, tick)
	require.Len(chainBlocks(n), 1)
}

func TestStaleTransactionIsReassigned(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	peer := newKey(t)
	n := newTestNode(t, peer.PublicKey())
	sk := newKey(t)

	// Assigned long ago to a peer that never handled it.
	tx := newCreate(t, sk)
	require.NoError(n.State().WriteBacklogTransaction(ctx, &state.BacklogEntry{
		Assignment: state.Assignment{
			Assignee:  peer.PublicKey(),
			Timestamp: 1,
		},
		Tx: tx,
	}))

	config := testConfig()
	config.BlockSize = 1
	config.ReassignDelay = time.Millisecond
	start(t, n, config)

	require.Eventually(func() bool {
		blocks, err := n.State().GetBlocksContainingTx(ctx, tx.ID)
		return err == nil && len(blocks) == 1 && backlogSize(n) == 0
	}, waitFor, tick)
}

func TestUnassignedTransactionIsAssigned(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	n := newTestNode(t)
	sk := newKey(t)

	config := testConfig()
	config.BlockSize = 1
	start(t, n, config)

	tx := newCreate(t, sk)
	require.NoError(n.State().WriteBacklogTransaction(ctx, &state.BacklogEntry{Tx: tx}))

	require.Eventually(func() bool {
		blocks, err := n.State().GetBlocksContainingTx(ctx, tx.ID)
		return err == nil && len(blocks) == 1
	}, waitFor, tick)
}

func TestInvalidBlockIsRequeued(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	peer := newKey(t)
	n := newTestNode(t, peer.PublicKey())
	sk := newKey(t)

	config := testConfig()
	config.BlockSize = 1
	config.ReassignDelay = 20 * time.Millisecond
	start(t, n, config)

	tx := newCreate(t, sk)
	assignSelf(t, n, tx)

	var first *state.StoredBlock
	require.Eventually(func() bool {
		blocks := chainBlocks(n)
		if len(blocks) != 1 {
			return false
		}
		first = blocks[0]
		return true
	}, waitFor, tick)

	// One of two voters rejecting the block makes a two thirds majority
	// impossible.
	v, err := block.NewVote(peer, first.ID, ids.Empty, false, "rejected", n.Clock.Timestamp())
	require.NoError(err)
	require.NoError(n.WriteVote(ctx, v))

	require.Eventually(func() bool {
		blocks, err := n.State().GetBlocksContainingTx(ctx, tx.ID)
		return err == nil && len(blocks) == 2
	}, waitFor, tick)

	_, status, err := n.GetBlock(ctx, first.ID)
	require.NoError(err)
	require.Equal(block.Invalid, status)
}

// stallingGateway holds back the backlog changes of every subscription made
// before [release] is closed, then ends those subscriptions with a Resync
// change.
type stallingGateway struct {
	backend.Gateway
	release chan struct{}
	stalled atomic.Int32
}

func (g *stallingGateway) Subscribe(ctx context.Context, coll backend.Collection) (<-chan backend.Change, error) {
	select {
	case <-g.release:
		return g.Gateway.Subscribe(ctx, coll)
	default:
	}
	if coll != backend.Backlog {
		return g.Gateway.Subscribe(ctx, coll)
	}

	changes := make(chan backend.Change, 1)
	g.stalled.Add(1)
	go func() {
		defer close(changes)
		select {
		case <-g.release:
			changes <- backend.Change{Op: backend.Resync}
		case <-ctx.Done():
		}
	}()
	return changes, nil
}

func TestResyncCatchesUpOnSkippedChanges(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	fed, err := federation.New(newKey(t), nil)
	require.NoError(err)
	kv, err := kvdb.Open(kvdb.Config{Engine: kvdb.MemoryEngine}, log.NewNoOpLogger())
	require.NoError(err)
	g := &stallingGateway{
		Gateway: kv,
		release: make(chan struct{}),
	}
	n, err := node.New(ctx, fed, g, node.DefaultConfig(), log.NewNoOpLogger())
	require.NoError(err)
	t.Cleanup(func() {
		require.NoError(n.Close())
		require.NoError(kv.Close())
	})

	config := testConfig()
	config.BlockSize = 1
	p := start(t, n, config)

	// Assignment and block intake both follow the backlog.
	require.Eventually(func() bool {
		return g.stalled.Load() == 2
	}, waitFor, tick)

	tx := newCreate(t, newKey(t))
	require.NoError(n.State().WriteBacklogTransaction(ctx, &state.BacklogEntry{Tx: tx}))
	require.Never(func() bool {
		return len(chainBlocks(n)) > 0
	}, 100*time.Millisecond, tick)

	close(g.release)
	require.Eventually(func() bool {
		blocks, err := n.State().GetBlocksContainingTx(ctx, tx.ID)
		return err == nil && len(blocks) == 1 && backlogSize(n) == 0
	}, waitFor, tick)
	require.Equal(2.0, testutil.ToFloat64(p.metrics.resyncs.WithLabelValues(string(backend.Backlog))))
}

func TestTakenOverTransactionIsLeftOut(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	peer := newKey(t)
	n := newTestNode(t, peer.PublicKey())

	registry := prometheus.NewRegistry()
	p, err := New(n, testConfig(), registry, log.NewNoOpLogger())
	require.NoError(err)

	kept := newCreate(t, newKey(t))
	taken := newCreate(t, newKey(t))
	assignSelf(t, n, kept)
	assignSelf(t, n, taken)
	require.True(p.inflight.add(kept.ID))
	require.True(p.inflight.add(taken.ID))

	// The peer takes [taken] over while the batch waits to be written.
	e, err := n.State().GetBacklogTransaction(ctx, taken.ID)
	require.NoError(err)
	next := state.Assignment{
		Assignee:  peer.PublicKey(),
		Timestamp: n.Clock.Timestamp(),
	}
	ok, err := n.State().AssignTransaction(ctx, taken.ID, e.Assignment, next)
	require.NoError(err)
	require.True(ok)

	p.commitBatch(ctx, []*txs.Tx{kept, taken})

	blocks := chainBlocks(n)
	require.Len(blocks, 1)
	require.Equal([]ids.ID{kept.ID}, blocks[0].TxIDs())

	_, err = n.State().GetBacklogTransaction(ctx, kept.ID)
	require.ErrorIs(err, state.ErrNotFound)
	e, err = n.State().GetBacklogTransaction(ctx, taken.ID)
	require.NoError(err)
	require.Equal(next, e.Assignment)

	require.Equal(1.0, testutil.ToFloat64(p.metrics.takenOver))
	require.Zero(p.inflight.txIDs.Len())

	families, err := registry.Gather()
	require.NoError(err)
	var blockSize *dto.MetricFamily
	for _, family := range families {
		if family.GetName() == metricsNamespace+"_block_size" {
			blockSize = family
		}
	}
	require.NotNil(blockSize)
	require.Len(blockSize.GetMetric(), 1)
	histogram := blockSize.GetMetric()[0].GetHistogram()
	require.Equal(uint64(1), histogram.GetSampleCount())
	require.Equal(1.0, histogram.GetSampleSum())
}

func TestInflight(t *testing.T) {
	require := require.New(t)
	p, err := New(nil, testConfig(), prometheus.NewRegistry(), log.NewNoOpLogger())
	require.NoError(err)

	txID := ids.GenerateTestID()
	require.True(p.inflight.add(txID))
	require.False(p.inflight.add(txID))

	p.inflight.remove(txID, ids.GenerateTestID())
	require.True(p.inflight.add(txID))
}

func TestConfigVerify(t *testing.T) {
	require := require.New(t)
	require.NoError(DefaultConfig().Verify())

	config := DefaultConfig()
	config.BlockSize = 0
	require.ErrorIs(config.Verify(), errInvalidConfig)

	config = DefaultConfig()
	config.BlockTimeout = 0
	require.ErrorIs(config.Verify(), errInvalidConfig)

	_, err := New(nil, config, prometheus.NewRegistry(), log.NewNoOpLogger())
	require.ErrorIs(err, errInvalidConfig)
}
