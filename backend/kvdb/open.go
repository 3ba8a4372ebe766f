// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kvdb

import (
	"errors"
	"fmt"

	"github.com/luxfi/constants"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/log"
)

const (
	MemoryEngine = "memory"
	BadgerEngine = "badger"

	DefaultMaxValueSize = 64 * constants.MiB
)

var ErrUnknownEngine = errors.New("unknown storage engine")

// Config selects and tunes the store behind a Gateway.
type Config struct {
	Engine       string `json:"engine"`
	Path         string `json:"path"`
	Name         string `json:"name"`
	Compress     bool   `json:"compress"`
	MaxValueSize int64  `json:"maxValueSize"`
}

// Open builds the gateway described by [cfg].
func Open(cfg Config, logger log.Logger) (*Gateway, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Engine {
	case MemoryEngine, "":
		store = NewDatabaseStore(prefixdb.New([]byte(cfg.Name), memdb.New()))
	case BadgerEngine:
		store, err = OpenBadger(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}

	maxValueSize := cfg.MaxValueSize
	if maxValueSize == 0 {
		maxValueSize = DefaultMaxValueSize
	}
	g, err := New(store, logger, cfg.Compress, maxValueSize)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("opened storage",
		log.String("engine", cfg.Engine),
		log.String("name", cfg.Name),
	)
	return g, nil
}
