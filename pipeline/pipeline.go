// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pipeline runs the streaming stages of a federation node: backlog
// assignment, block assembly, voting and election handling.
package pipeline

import (
	"context"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/node"
)

const metricsNamespace = "ledger_pipeline"

type Pipeline struct {
	log     log.Logger
	node    *node.Node
	config  Config
	metrics *metrics

	// Transactions claimed by the block stage and not yet committed or
	// released.
	inflight inflight
}

func New(n *node.Node, config Config, registerer prometheus.Registerer, logger log.Logger) (*Pipeline, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}
	m, err := newMetrics(metricsNamespace, registerer)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		log:     logger,
		node:    n,
		config:  config,
		metrics: m,
		inflight: inflight{
			txIDs: set.NewSet[ids.ID](config.BlockSize),
		},
	}, nil
}

// Run drives every stage until [ctx] is done or a stage fails. A clean
// shutdown returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.runAssignment(ctx)
	})
	g.Go(func() error {
		return p.runBlocks(ctx)
	})
	g.Go(func() error {
		return p.runVotes(ctx)
	})
	g.Go(func() error {
		return p.runElection(ctx)
	})
	return g.Wait()
}

// follow calls [snapshot] and then [handle] on every change of [coll] until
// [ctx] is done. When the gateway ends the subscription early it subscribes
// again and calls [snapshot] to catch up on the skipped changes.
func (p *Pipeline) follow(
	ctx context.Context,
	coll backend.Collection,
	snapshot func(context.Context) error,
	handle func(context.Context, backend.Change),
) error {
	for {
		changes, err := p.node.State().Gateway().Subscribe(ctx, coll)
		if err != nil {
			return stopped(ctx, err)
		}
		if err := snapshot(ctx); err != nil {
			return stopped(ctx, err)
		}
		if !drain(ctx, changes, handle) {
			return nil
		}
		p.metrics.resyncs.WithLabelValues(string(coll)).Inc()
		p.log.Warn("resubscribing to changes",
			log.String("collection", string(coll)),
		)
	}
}

// drain reports whether the subscription ended while [ctx] was still live.
func drain(ctx context.Context, changes <-chan backend.Change, handle func(context.Context, backend.Change)) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case c, ok := <-changes:
			if !ok || c.Op == backend.Resync {
				return ctx.Err() == nil
			}
			handle(ctx, c)
		}
	}
}

// stopped hides errors caused by the shutdown of [ctx].
func stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// send blocks until [v] is queued or [ctx] is done.
func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

type inflight struct {
	lock  sync.Mutex
	txIDs set.Set[ids.ID]
}

// add reports whether [txID] was not in flight yet.
func (i *inflight) add(txID ids.ID) bool {
	i.lock.Lock()
	defer i.lock.Unlock()

	if i.txIDs.Contains(txID) {
		return false
	}
	i.txIDs.Add(txID)
	return true
}

func (i *inflight) remove(txIDs ...ids.ID) {
	i.lock.Lock()
	defer i.lock.Unlock()

	for _, txID := range txIDs {
		i.txIDs.Remove(txID)
	}
}
