// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/txs"
)

const genesisValue = "true"

// StoredBlock is a block with the local height it was written at.
type StoredBlock struct {
	*block.Block
	Height uint64
}

func blockDocument(blk *block.Block, height uint64) (*backend.Document, error) {
	body, err := blk.Bytes()
	if err != nil {
		return nil, err
	}
	var (
		txIDs    = make([]string, 0, len(blk.Block.Transactions))
		assetIDs []string
		spends   []string
	)
	seenAssets := make(map[ids.ID]struct{})
	for _, tx := range blk.Block.Transactions {
		txIDs = append(txIDs, tx.ID.String())
		assetID := tx.AssetID()
		if _, ok := seenAssets[assetID]; !ok {
			seenAssets[assetID] = struct{}{}
			assetIDs = append(assetIDs, assetID.String())
		}
		for _, in := range tx.Inputs {
			if in.Fulfills != nil {
				spends = append(spends, in.Fulfills.String())
			}
		}
	}
	doc := &backend.Document{
		ID:   blk.ID.String(),
		Body: body,
		Index: map[string][]string{
			txField:    txIDs,
			assetField: assetIDs,
		},
		Order: map[string]uint64{
			heightField: height,
		},
	}
	if len(spends) > 0 {
		doc.Index[spendsField] = spends
	}
	if blk.IsGenesis() {
		doc.Index[genesisField] = []string{genesisValue}
	}
	return doc, nil
}

// ParseStoredBlock decodes a chain document.
func ParseStoredBlock(doc *backend.Document) (*StoredBlock, error) {
	blk, err := block.Parse(doc.Body)
	if err != nil {
		return nil, err
	}
	return &StoredBlock{
		Block:  blk,
		Height: doc.Order[heightField],
	}, nil
}

func parseStoredBlocks(docs []*backend.Document) ([]*StoredBlock, error) {
	blocks := make([]*StoredBlock, 0, len(docs))
	for _, doc := range docs {
		blk, err := ParseStoredBlock(doc)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, blk)
	}
	return blocks, nil
}

// WriteBlock appends [blk] to the chain at the next height. Writing a block
// that is already stored is a no-op returning its height.
func (s *State) WriteBlock(ctx context.Context, blk *block.Block) (uint64, error) {
	stored, err := s.GetBlock(ctx, blk.ID)
	switch {
	case err == nil:
		s.log.Debug("block already written",
			log.Stringer("blockID", blk.ID),
		)
		return stored.Height, nil
	case !errors.Is(err, ErrNotFound):
		return 0, err
	}

	height, err := s.nextHeight(ctx)
	if err != nil {
		return 0, err
	}
	doc, err := blockDocument(blk, height)
	if err != nil {
		return 0, err
	}
	err = s.gateway.Insert(ctx, backend.Chain, doc)
	if errors.Is(err, backend.ErrDuplicateKey) {
		// Another writer stored the same block since the lookup. [height]
		// stays unused.
		stored, err := s.GetBlock(ctx, blk.ID)
		if err != nil {
			return 0, err
		}
		return stored.Height, nil
	}
	if err != nil {
		return 0, err
	}
	s.blockCache.Put(blk.ID, blk)
	return height, nil
}

// nextHeight reserves the next chain height in the gateway, so that every
// node writing to the same database agrees on it.
func (s *State) nextHeight(ctx context.Context) (uint64, error) {
	doc, err := s.gateway.UpsertAtomic(ctx, backend.Counters, heightField, func(current *backend.Document) (*backend.Document, error) {
		height := s.baseHeight
		if current != nil {
			height = current.Order[heightField]
		}
		return &backend.Document{
			Order: map[string]uint64{heightField: height + 1},
		}, nil
	})
	if err != nil {
		return 0, fmt.Errorf("couldn't reserve a height: %w", err)
	}
	return doc.Order[heightField], nil
}

// Height returns the last height reserved for a block.
func (s *State) Height(ctx context.Context) (uint64, error) {
	doc, err := s.gateway.FindOne(ctx, backend.Counters, heightField)
	if errors.Is(err, backend.ErrNotFound) {
		return s.baseHeight, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Order[heightField], nil
}

// DeleteBlocks removes [blkIDs] from the chain. Heights are not reused.
func (s *State) DeleteBlocks(ctx context.Context, blkIDs ...ids.ID) error {
	docIDs := make([]string, len(blkIDs))
	for i, blkID := range blkIDs {
		docIDs[i] = blkID.String()
		s.blockCache.Evict(blkID)
	}
	return s.gateway.Delete(ctx, backend.Chain, docIDs...)
}

func (s *State) findBlocks(ctx context.Context, q backend.Query) ([]*StoredBlock, error) {
	docs, err := s.gateway.Find(ctx, backend.Chain, q)
	if err != nil {
		return nil, err
	}
	return parseStoredBlocks(docs)
}
