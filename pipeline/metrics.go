// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pipeline

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	validLabel      = "valid"
	outcomeLabel    = "outcome"
	collectionLabel = "collection"
)

type metrics struct {
	assigned      prometheus.Counter
	reassigned    prometheus.Counter
	validated     *prometheus.CounterVec
	blocks        prometheus.Counter
	blockSize     prometheus.Histogram
	commitRetries prometheus.Counter
	votes         *prometheus.CounterVec
	decided       *prometheus.CounterVec
	takenOver     prometheus.Counter
	resyncs       *prometheus.CounterVec
}

func newMetrics(namespace string, registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		assigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txs_assigned",
			Help:      "Number of backlog transactions assigned to a node",
		}),
		reassigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txs_reassigned",
			Help:      "Number of stale backlog transactions given to another node",
		}),
		validated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "txs_validated",
				Help:      "Number of assigned transactions validated, by outcome",
			},
			[]string{outcomeLabel},
		),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_created",
			Help:      "Number of blocks created by this node",
		}),
		blockSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_size",
			Help:      "Number of transactions in the blocks created by this node",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
		}),
		commitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_retries",
			Help:      "Number of failed attempts to write a block",
		}),
		votes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "votes_cast",
				Help:      "Number of votes cast by this node",
			},
			[]string{validLabel},
		),
		decided: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_decided",
				Help:      "Number of blocks whose election was decided",
			},
			[]string{outcomeLabel},
		),
		takenOver: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txs_taken_over",
			Help:      "Number of batched transactions left to another node before their block was written",
		}),
		resyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resyncs",
				Help:      "Number of change subscriptions renewed after falling behind",
			},
			[]string{collectionLabel},
		),
	}
	err := errors.Join(
		registerer.Register(m.assigned),
		registerer.Register(m.reassigned),
		registerer.Register(m.validated),
		registerer.Register(m.blocks),
		registerer.Register(m.blockSize),
		registerer.Register(m.commitRetries),
		registerer.Register(m.votes),
		registerer.Register(m.decided),
		registerer.Register(m.takenOver),
		registerer.Register(m.resyncs),
	)
	return m, err
}
