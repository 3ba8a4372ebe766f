// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package node binds the ledger components of one federation node together.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/election"
	"github.com/luxfi/ledger/federation"
	"github.com/luxfi/ledger/state"
	"github.com/luxfi/ledger/txs"
	"github.com/luxfi/ledger/utils/timer/mockable"
	"github.com/luxfi/ledger/utxo"

	blockexecutor "github.com/luxfi/ledger/block/executor"
	txexecutor "github.com/luxfi/ledger/txs/executor"
)

var (
	ErrGenesisBlockAlreadyExists = errors.New("genesis block already exists")
	ErrCriticalDoubleInclusion   = errors.New("transaction is in more than one valid block")
	ErrCriticalDoubleSpend       = errors.New("output is spent by more than one transaction")

	// ErrNotFound is returned for transactions, blocks and outputs the
	// ledger does not know, or knows only from invalid blocks.
	ErrNotFound = state.ErrNotFound
)

type Config struct {
	Threshold      election.Threshold `json:"threshold"`
	AssetCacheLife time.Duration      `json:"assetCacheLife"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:      election.TwoThirds,
		AssetCacheLife: txexecutor.DefaultAssetCacheLife,
	}
}

type Node struct {
	log        log.Logger
	federation *federation.Context
	state      *state.State
	tracker    *utxo.Tracker
	txs        *txexecutor.Verifier
	blocks     *blockexecutor.Verifier
	tally      *election.Tally
	walker     *election.Walker

	Clock mockable.Clock
}

func New(
	ctx context.Context,
	fed *federation.Context,
	gateway backend.Gateway,
	config Config,
	logger log.Logger,
) (*Node, error) {
	s, err := state.New(ctx, gateway, logger)
	if err != nil {
		return nil, err
	}
	tracker := utxo.New(gateway, logger)
	txVerifier, err := txexecutor.NewVerifier(ctx, &txexecutor.Backend{
		Log:     logger,
		Outputs: tracker,
		Assets:  s,
	}, config.AssetCacheLife)
	if err != nil {
		return nil, err
	}
	tally, err := election.NewTally(s, config.Threshold, logger)
	if err != nil {
		return nil, errors.Join(err, txVerifier.Close())
	}
	return &Node{
		log:        logger,
		federation: fed,
		state:      s,
		tracker:    tracker,
		txs:        txVerifier,
		blocks:     blockexecutor.NewVerifier(fed, txVerifier, logger),
		tally:      tally,
		walker:     election.NewWalker(s, s),
	}, nil
}

func (n *Node) Federation() *federation.Context {
	return n.federation
}

func (n *Node) State() *state.State {
	return n.state
}

func (n *Node) Tracker() *utxo.Tracker {
	return n.tracker
}

func (n *Node) Close() error {
	return n.txs.Close()
}

// HealthCheck reads the backlog and chain sizes from the store.
func (n *Node) HealthCheck(ctx context.Context) (any, error) {
	gateway := n.state.Gateway()
	backlog, err := gateway.Count(ctx, backend.Backlog, backend.All)
	if err != nil {
		return nil, fmt.Errorf("couldn't count the backlog: %w", err)
	}
	blocks, err := gateway.Count(ctx, backend.Chain, backend.All)
	if err != nil {
		return nil, fmt.Errorf("couldn't count the chain: %w", err)
	}
	height, err := n.state.Height(ctx)
	if err != nil {
		return nil, fmt.Errorf("couldn't read the chain height: %w", err)
	}
	return map[string]any{
		"backlog": backlog,
		"blocks":  blocks,
		"height":  height,
	}, nil
}

// ValidateTransaction checks [tx] on its own and against the ledger.
func (n *Node) ValidateTransaction(ctx context.Context, tx *txs.Tx) (*txs.Tx, error) {
	return n.txs.Verify(ctx, tx)
}

// ValidateBlock checks the integrity and origin of [blk] and every
// transaction it holds.
func (n *Node) ValidateBlock(ctx context.Context, blk *block.Block) (*blockexecutor.Result, error) {
	return n.blocks.Verify(ctx, blk)
}

// CreateBlock signs a block of [transactions] put to a vote by the whole
// federation.
func (n *Node) CreateBlock(transactions []*txs.Tx) (*block.Block, error) {
	return block.New(
		n.federation.Key(),
		transactions,
		n.federation.Voters(),
		n.Clock.Timestamp(),
	)
}

// WriteBlock appends [blk] to the chain and applies its transactions: assets
// and metadata are stored, consumed outputs are claimed and created outputs
// become spendable. Writing the same block again is harmless.
func (n *Node) WriteBlock(ctx context.Context, blk *block.Block) (uint64, error) {
	height, err := n.state.WriteBlock(ctx, blk)
	if err != nil {
		return 0, err
	}
	transactions := blk.Block.Transactions
	if err := n.state.WriteAssets(ctx, transactions); err != nil {
		return 0, err
	}
	if err := n.state.WriteMetadata(ctx, transactions); err != nil {
		return 0, err
	}
	for _, tx := range transactions {
		if err := n.tracker.Spend(ctx, tx); err != nil {
			if !errors.Is(err, txs.ErrDoubleSpend) && !errors.Is(err, txs.ErrTransactionDoesNotExist) {
				return 0, err
			}
			n.log.Warn("block holds an unspendable transaction",
				log.Stringer("blockID", blk.ID),
				log.Stringer("txID", tx.ID),
				log.Err(err),
			)
			continue
		}
		if err := n.tracker.Add(ctx, tx); err != nil {
			return 0, err
		}
	}
	n.log.Info("wrote block",
		log.Stringer("blockID", blk.ID),
		log.Uint64("height", height),
		log.Int("numTxs", len(transactions)),
	)
	return height, nil
}

// CreateGenesisBlock writes the block holding the GENESIS transaction of the
// local node. There is at most one genesis block.
func (n *Node) CreateGenesisBlock(ctx context.Context) (*block.Block, error) {
	exists, err := n.state.HasGenesisBlock(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrGenesisBlockAlreadyExists
	}
	tx := txs.NewGenesis(n.federation.PublicKey())
	if err := tx.Sign(n.federation.Key()); err != nil {
		return nil, err
	}
	blk, err := n.CreateBlock([]*txs.Tx{tx})
	if err != nil {
		return nil, err
	}
	if _, err := n.WriteBlock(ctx, blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// GetBlock returns the stored block with [blkID] and its election status.
func (n *Node) GetBlock(ctx context.Context, blkID ids.ID) (*state.StoredBlock, block.Status, error) {
	blk, err := n.state.GetBlock(ctx, blkID)
	if err != nil {
		return nil, block.Undecided, err
	}
	status, err := n.BlockStatus(ctx, blk.Block)
	return blk, status, err
}

// BlockStatus decides [blk] from the votes of its voters. The genesis block
// is valid without votes.
func (n *Node) BlockStatus(ctx context.Context, blk *block.Block) (block.Status, error) {
	if blk.IsGenesis() {
		return block.Valid, nil
	}
	return n.tally.BlockElectionStatus(ctx, blk.ID, blk.Block.Voters)
}

// Vote signs the local node's verdict on [blkID], cast while it regards
// [previous] as the tip of the chain.
func (n *Node) Vote(blkID, previous ids.ID, valid bool, invalidReason string) (*block.Vote, error) {
	return block.NewVote(
		n.federation.Key(),
		blkID,
		previous,
		valid,
		invalidReason,
		n.Clock.Timestamp(),
	)
}

func (n *Node) WriteVote(ctx context.Context, v *block.Vote) error {
	return n.state.WriteVote(ctx, v)
}

// HasPreviousVote reports whether the local node already voted on [blkID].
func (n *Node) HasPreviousVote(ctx context.Context, blkID ids.ID) (bool, error) {
	return n.tally.HasPreviousVote(ctx, blkID, n.federation.PublicKey())
}

// LastVotedBlockID returns the tip of the chain as seen by the local node's
// votes.
func (n *Node) LastVotedBlockID(ctx context.Context) (ids.ID, error) {
	return n.walker.LastVotedBlock(ctx, n.federation.PublicKey())
}

// Invalidate undoes [blk] after it was voted down. Transactions not held by
// another live block lose their effects on the outputs and go back to the
// backlog unassigned. It returns the number of requeued transactions.
func (n *Node) Invalidate(ctx context.Context, blk *block.Block) (int, error) {
	var orphans []*txs.Tx
	for _, tx := range blk.Block.Transactions {
		live, err := n.inLiveBlock(ctx, tx.ID, blk.ID)
		if err != nil {
			return 0, err
		}
		if !live {
			orphans = append(orphans, tx)
		}
	}
	if err := n.tracker.Rollback(ctx, orphans); err != nil {
		return 0, err
	}

	var requeued int
	for _, tx := range orphans {
		if tx.Operation == txs.Genesis {
			continue
		}
		err := n.state.WriteBacklogTransaction(ctx, &state.BacklogEntry{Tx: tx})
		if errors.Is(err, backend.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return requeued, err
		}
		requeued++
	}
	n.log.Info("invalidated block",
		log.Stringer("blockID", blk.ID),
		log.Int("numRequeued", requeued),
	)
	return requeued, nil
}

// IsCommitted reports whether a block that is not invalid holds [txID].
func (n *Node) IsCommitted(ctx context.Context, txID ids.ID) (bool, error) {
	return n.inLiveBlock(ctx, txID, ids.Empty)
}

// inLiveBlock reports whether a block other than [except] that is not
// invalid holds [txID].
func (n *Node) inLiveBlock(ctx context.Context, txID, except ids.ID) (bool, error) {
	blocks, err := n.state.GetBlocksContainingTx(ctx, txID)
	if err != nil {
		return false, err
	}
	for _, blk := range blocks {
		if blk.ID == except {
			continue
		}
		status, err := n.BlockStatus(ctx, blk.Block)
		if err != nil {
			return false, fmt.Errorf("couldn't decide block %s: %w", blk.ID, err)
		}
		if status != block.Invalid {
			return true, nil
		}
	}
	return false, nil
}
