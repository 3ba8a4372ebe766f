// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pipeline

import (
	"errors"
	"fmt"
	"time"
)

var errInvalidConfig = errors.New("invalid pipeline config")

type Config struct {
	// BlockSize is the number of transactions that closes a block early.
	BlockSize int `json:"blockSize"`
	// BlockTimeout bounds how long the first transaction of an open batch
	// waits for the batch to fill.
	BlockTimeout time.Duration `json:"blockTimeout"`
	// ReassignDelay is how long an assignee has to put a backlog transaction
	// into a block before it is given to another node.
	ReassignDelay time.Duration `json:"reassignDelay"`
	// StaleCheckPeriod is the interval of the stale assignment sweep.
	StaleCheckPeriod time.Duration `json:"staleCheckPeriod"`
	// QueueSize is the capacity of the queues between stages.
	QueueSize int `json:"queueSize"`
	// MaxCommitBackoff caps the wait between attempts to write a block.
	MaxCommitBackoff time.Duration `json:"maxCommitBackoff"`
	// HandledBlocksCacheSize is the number of decided blocks the election
	// stage remembers.
	HandledBlocksCacheSize int `json:"handledBlocksCacheSize"`
}

func DefaultConfig() Config {
	return Config{
		BlockSize:              1000,
		BlockTimeout:           time.Second,
		ReassignDelay:          120 * time.Second,
		StaleCheckPeriod:       5 * time.Second,
		QueueSize:              64,
		MaxCommitBackoff:       30 * time.Second,
		HandledBlocksCacheSize: 4096,
	}
}

func (c Config) Verify() error {
	switch {
	case c.BlockSize < 1:
		return fmt.Errorf("%w: block size %d", errInvalidConfig, c.BlockSize)
	case c.BlockTimeout <= 0:
		return fmt.Errorf("%w: block timeout %s", errInvalidConfig, c.BlockTimeout)
	case c.ReassignDelay <= 0:
		return fmt.Errorf("%w: reassign delay %s", errInvalidConfig, c.ReassignDelay)
	case c.StaleCheckPeriod <= 0:
		return fmt.Errorf("%w: stale check period %s", errInvalidConfig, c.StaleCheckPeriod)
	case c.QueueSize < 0:
		return fmt.Errorf("%w: queue size %d", errInvalidConfig, c.QueueSize)
	case c.MaxCommitBackoff <= 0:
		return fmt.Errorf("%w: max commit backoff %s", errInvalidConfig, c.MaxCommitBackoff)
	case c.HandledBlocksCacheSize < 1:
		return fmt.Errorf("%w: handled blocks cache size %d", errInvalidConfig, c.HandledBlocksCacheSize)
	default:
		return nil
	}
}
