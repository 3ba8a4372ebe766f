// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/state"
	"github.com/luxfi/ledger/txs"
)

const (
	outcomeValid     = "valid"
	outcomeInvalid   = "invalid"
	outcomeDuplicate = "duplicate"
)

// runBlocks assembles the transactions assigned to the local node into
// blocks. Stages are connected by bounded queues:
//
//	intake -> validate -> batch -> commit
func (p *Pipeline) runBlocks(ctx context.Context) error {
	var (
		entries = make(chan *state.BacklogEntry, p.config.QueueSize)
		valid   = make(chan *txs.Tx, p.config.QueueSize)
		batches = make(chan []*txs.Tx)
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(entries)
		return p.intake(ctx, entries)
	})
	g.Go(func() error {
		defer close(valid)
		return p.validate(ctx, entries, valid)
	})
	g.Go(func() error {
		defer close(batches)
		return p.batch(ctx, valid, batches)
	})
	g.Go(func() error {
		return p.commit(ctx, batches)
	})
	return g.Wait()
}

// intake emits the backlog entries assigned to the local node, starting with
// those assigned before the pipeline started.
func (p *Pipeline) intake(ctx context.Context, out chan<- *state.BacklogEntry) error {
	self := p.node.Federation().PublicKey()
	snapshot := func(ctx context.Context) error {
		assigned, err := p.node.State().AssignedTransactions(ctx, self)
		if err != nil {
			return err
		}
		for _, e := range assigned {
			if !send(ctx, out, e) {
				return nil
			}
		}
		return nil
	}
	handle := func(ctx context.Context, c backend.Change) {
		if c.After == nil {
			return
		}
		e, err := state.ParseBacklogEntry(c.After)
		if err != nil {
			p.log.Warn("dropping malformed backlog entry",
				log.String("id", c.After.ID),
				log.Err(err),
			)
			return
		}
		if e.Assignee == self {
			send(ctx, out, e)
		}
	}
	return p.follow(ctx, backend.Backlog, snapshot, handle)
}

// validate checks each entry and claims the outputs it spends. Duplicates of
// committed transactions and invalid transactions leave the backlog.
func (p *Pipeline) validate(ctx context.Context, in <-chan *state.BacklogEntry, out chan<- *txs.Tx) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-in:
			if !ok {
				return nil
			}
			tx, ok := p.validateEntry(ctx, e)
			if !ok {
				continue
			}
			if !send(ctx, out, tx) {
				p.release(ctx, tx)
				return nil
			}
		}
	}
}

func (p *Pipeline) validateEntry(ctx context.Context, e *state.BacklogEntry) (*txs.Tx, bool) {
	txID := e.Tx.ID
	if !p.inflight.add(txID) {
		return nil, false
	}

	committed, err := p.node.IsCommitted(ctx, txID)
	if err != nil {
		p.log.Error("failed to look up transaction",
			zap.Stringer("txID", txID),
			zap.Error(err),
		)
		p.inflight.remove(txID)
		return nil, false
	}
	if committed {
		p.metrics.validated.WithLabelValues(outcomeDuplicate).Inc()
		p.drop(ctx, txID, "transaction is already in a block", nil)
		return nil, false
	}

	tx, err := p.node.ValidateTransaction(ctx, e.Tx)
	if err == nil {
		err = p.node.Tracker().Spend(ctx, tx)
	}
	switch {
	case err == nil:
		p.metrics.validated.WithLabelValues(outcomeValid).Inc()
		return tx, true
	case txs.IsInvalid(err):
		p.metrics.validated.WithLabelValues(outcomeInvalid).Inc()
		p.drop(ctx, txID, "invalid transaction", err)
	default:
		p.log.Error("failed to validate transaction",
			zap.Stringer("txID", txID),
			zap.Error(err),
		)
		p.inflight.remove(txID)
	}
	return nil, false
}

// drop removes [txID] from the backlog.
func (p *Pipeline) drop(ctx context.Context, txID ids.ID, reason string, cause error) {
	defer p.inflight.remove(txID)

	p.log.Info("dropping backlog transaction",
		log.Stringer("txID", txID),
		log.String("reason", reason),
		log.Err(cause),
	)
	if err := p.node.State().DeleteBacklogTransactions(ctx, txID); err != nil {
		p.log.Error("failed to delete backlog transaction",
			zap.Stringer("txID", txID),
			zap.Error(err),
		)
	}
}

// batch groups transactions into blocks of at most BlockSize. A batch is
// closed when it is full or BlockTimeout after its first transaction.
func (p *Pipeline) batch(ctx context.Context, in <-chan *txs.Tx, out chan<- []*txs.Tx) error {
	var (
		open    []*txs.Tx
		timer   *time.Timer
		timeout <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	flush := func() bool {
		if timer != nil {
			timer.Stop()
			timer, timeout = nil, nil
		}
		batch := open
		open = nil
		if len(batch) == 0 {
			return true
		}
		if !send(ctx, out, batch) {
			p.release(ctx, batch...)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			p.release(ctx, open...)
			return nil
		case tx, ok := <-in:
			if !ok {
				p.release(ctx, open...)
				return nil
			}
			open = append(open, tx)
			if len(open) == 1 {
				timer = time.NewTimer(p.config.BlockTimeout)
				timeout = timer.C
			}
			if len(open) >= p.config.BlockSize && !flush() {
				return nil
			}
		case <-timeout:
			if !flush() {
				return nil
			}
		}
	}
}

// commit writes each batch as a signed block, retrying with backoff, then
// removes its transactions from the backlog. A received batch is written even
// if shutdown starts meanwhile; retries stop at shutdown.
func (p *Pipeline) commit(ctx context.Context, in <-chan []*txs.Tx) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-in:
			if !ok {
				return nil
			}
			p.commitBatch(ctx, batch)
		}
	}
}

func (p *Pipeline) commitBatch(ctx context.Context, batch []*txs.Tx) {
	batched := make([]ids.ID, len(batch))
	for i, tx := range batch {
		batched[i] = tx.ID
	}
	defer p.inflight.remove(batched...)

	writeCtx := context.WithoutCancel(ctx)
	var blk *block.Block
	for attempt := 1; ; attempt++ {
		kept, err := p.keepAssigned(writeCtx, batch)
		if err == nil {
			if len(kept) == 0 {
				return
			}
			if blk == nil || len(kept) != len(batch) {
				batch = kept
				blk, err = p.node.CreateBlock(batch)
				if err != nil {
					p.log.Error("failed to create block",
						zap.Int("numTxs", len(batch)),
						zap.Error(err),
					)
					p.release(ctx, batch...)
					return
				}
			}
			_, err = p.node.WriteBlock(writeCtx, blk)
		}
		if err == nil {
			break
		}
		p.metrics.commitRetries.Inc()
		p.log.Error("failed to write block",
			zap.Int("numTxs", len(batch)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		// The block may be partially written, so the claims are kept. The
		// transactions stay in the backlog and are validated again later.
		backoff := min(time.Duration(attempt*attempt)*time.Second, p.config.MaxCommitBackoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}

	txIDs := blk.TxIDs()
	if err := p.node.State().DeleteBacklogTransactions(writeCtx, txIDs...); err != nil {
		p.log.Error("failed to delete committed transactions from the backlog",
			zap.Stringer("blockID", blk.ID),
			zap.Error(err),
		)
	}
	p.metrics.blocks.Inc()
	p.metrics.blockSize.Observe(float64(len(txIDs)))
	p.log.Info("created block",
		log.Stringer("blockID", blk.ID),
		log.Int("numTxs", len(txIDs)),
	)
}

// keepAssigned renews the assignment of every transaction of [batch] so that
// none is reassigned while the block is written. The transactions another
// node took over meanwhile are left out. Their claims are kept, since the
// claims of a transaction are shared by every node that includes it.
func (p *Pipeline) keepAssigned(ctx context.Context, batch []*txs.Tx) ([]*txs.Tx, error) {
	txIDs := make([]ids.ID, len(batch))
	for i, tx := range batch {
		txIDs[i] = tx.ID
	}
	self := p.node.Federation().PublicKey()
	lost, err := p.node.State().RenewAssignments(ctx, self, p.node.Clock.Timestamp(), txIDs...)
	if err != nil || len(lost) == 0 {
		return batch, err
	}

	taken := set.Of(lost...)
	kept := make([]*txs.Tx, 0, len(batch)-len(lost))
	for _, tx := range batch {
		if !taken.Contains(tx.ID) {
			kept = append(kept, tx)
			continue
		}
		p.metrics.takenOver.Inc()
		p.log.Info("leaving transaction to its new assignee",
			log.Stringer("txID", tx.ID),
		)
	}
	return kept, nil
}

// release gives up the claims of [transactions] that never made it into a
// block.
func (p *Pipeline) release(ctx context.Context, transactions ...*txs.Tx) {
	releaseCtx := context.WithoutCancel(ctx)
	for _, tx := range transactions {
		if err := p.node.Tracker().Release(releaseCtx, tx); err != nil {
			p.log.Warn("failed to release claims",
				log.Stringer("txID", tx.ID),
				log.Err(err),
			)
		}
		p.inflight.remove(tx.ID)
	}
}
