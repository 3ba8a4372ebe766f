// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state provides the typed ledger queries the core issues against a
// backend.Gateway.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/cache"
	"github.com/luxfi/cache/lru"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/block"
)

const (
	blockCacheSize = 2048

	// Index and order fields.
	assigneeField   = "assignee"
	assignedAtField = "assignment_timestamp"
	txField         = "tx"
	assetField      = "asset"
	spendsField     = "spends"
	genesisField    = "genesis"
	heightField     = "height"
	blockField      = "block"
	voterField      = "voter"
)

var ErrNotFound = errors.New("not found")

// State is the ledger's view of its storage.
type State struct {
	log     log.Logger
	gateway backend.Gateway

	// baseHeight is the highest height stored before heights were
	// counted in the gateway.
	baseHeight uint64
	blockCache cache.Cacher[ids.ID, *block.Block]
}

// New returns the state stored in [gateway].
func New(ctx context.Context, gateway backend.Gateway, logger log.Logger) (*State, error) {
	s := &State{
		log:        logger,
		gateway:    gateway,
		blockCache: lru.NewCache[ids.ID, *block.Block](blockCacheSize),
	}
	tip, err := gateway.Find(ctx, backend.Chain, backend.Query{
		OrderBy:    heightField,
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load chain height: %w", err)
	}
	if len(tip) == 1 {
		s.baseHeight = tip[0].Order[heightField]
	}
	return s, nil
}

// Gateway returns the gateway the state is stored in.
func (s *State) Gateway() backend.Gateway {
	return s.gateway
}

// decode reads JSON keeping numbers as written.
func decode(b []byte, v any) error {
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	return d.Decode(v)
}

func notFound(err error) error {
	if errors.Is(err, backend.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
