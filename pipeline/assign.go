// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/state"
)

// runAssignment gives every unassigned backlog transaction to a federation
// member and periodically hands stale assignments to another member.
func (p *Pipeline) runAssignment(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.follow(ctx, backend.Backlog, p.assignBacklog, p.assignChange)
	})
	g.Go(func() error {
		ticker := time.NewTicker(p.config.StaleCheckPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				p.reassignStale(ctx)
			}
		}
	})
	return g.Wait()
}

func (p *Pipeline) assignBacklog(ctx context.Context) error {
	backlog, err := p.node.State().BacklogTransactions(ctx)
	if err != nil {
		return err
	}
	for _, e := range backlog {
		if !e.Assigned() {
			p.assign(ctx, e)
		}
	}
	return nil
}

func (p *Pipeline) assignChange(ctx context.Context, c backend.Change) {
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
	if !e.Assigned() {
		p.assign(ctx, e)
	}
}

func (p *Pipeline) assign(ctx context.Context, e *state.BacklogEntry) {
	now := p.node.Clock.Timestamp()
	next := state.Assignment{
		Assignee:  p.node.Federation().Assignee(e.Tx.ID, now),
		Timestamp: now,
	}
	ok, err := p.node.State().AssignTransaction(ctx, e.Tx.ID, e.Assignment, next)
	if err != nil {
		p.log.Error("failed to assign transaction",
			zap.Stringer("txID", e.Tx.ID),
			zap.Error(err),
		)
		return
	}
	if ok {
		p.metrics.assigned.Inc()
		p.log.Debug("assigned transaction",
			log.Stringer("txID", e.Tx.ID),
			log.String("assignee", next.Assignee.String()),
		)
	}
}

// reassignStale hands the transactions their assignees did not put into a
// block within the reassign delay to other members.
func (p *Pipeline) reassignStale(ctx context.Context) {
	now := p.node.Clock.Timestamp()
	stale, err := p.node.State().GetStaleTransactions(ctx, now-p.config.ReassignDelay.Nanoseconds())
	if err != nil {
		p.log.Error("failed to find stale transactions",
			zap.Error(err),
		)
		return
	}
	for _, e := range stale {
		next := state.Assignment{
			Assignee:  p.node.Federation().Assignee(e.Tx.ID, now, e.Assignee),
			Timestamp: now,
		}
		ok, err := p.node.State().AssignTransaction(ctx, e.Tx.ID, e.Assignment, next)
		if err != nil {
			p.log.Error("failed to reassign transaction",
				zap.Stringer("txID", e.Tx.ID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			p.metrics.reassigned.Inc()
			p.log.Info("reassigned stale transaction",
				log.Stringer("txID", e.Tx.ID),
				log.String("from", e.Assignee.String()),
				log.String("to", next.Assignee.String()),
			)
		}
	}
}
