// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/luxfi/ids"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/txs"
)

// WriteAssets stores the asset of every creating transaction of
// [transactions] under the transaction id. Stored assets are kept.
func (s *State) WriteAssets(ctx context.Context, transactions []*txs.Tx) error {
	for _, tx := range transactions {
		if !tx.Operation.Creates() {
			continue
		}
		body, err := json.Marshal(tx.Asset)
		if err != nil {
			return err
		}
		err = s.gateway.Insert(ctx, backend.Assets, &backend.Document{
			ID:   tx.ID.String(),
			Body: body,
		})
		if err != nil && !errors.Is(err, backend.ErrDuplicateKey) {
			return err
		}
	}
	return nil
}

func (s *State) GetAsset(ctx context.Context, assetID ids.ID) (*txs.Asset, error) {
	doc, err := s.gateway.FindOne(ctx, backend.Assets, assetID.String())
	if err != nil {
		return nil, notFound(err)
	}
	asset := &txs.Asset{}
	if err := json.Unmarshal(doc.Body, asset); err != nil {
		return nil, err
	}
	asset.ID = assetID
	return asset, nil
}

// WriteMetadata stores the non-null metadata of [transactions] under their
// transaction ids.
func (s *State) WriteMetadata(ctx context.Context, transactions []*txs.Tx) error {
	for _, tx := range transactions {
		if tx.Metadata == nil {
			continue
		}
		body, err := json.Marshal(tx.Metadata)
		if err != nil {
			return err
		}
		err = s.gateway.Insert(ctx, backend.Metadata, &backend.Document{
			ID:   tx.ID.String(),
			Body: body,
		})
		if err != nil && !errors.Is(err, backend.ErrDuplicateKey) {
			return err
		}
	}
	return nil
}

func (s *State) GetMetadata(ctx context.Context, txID ids.ID) (map[string]any, error) {
	doc, err := s.gateway.FindOne(ctx, backend.Metadata, txID.String())
	if err != nil {
		return nil, notFound(err)
	}
	var metadata map[string]any
	if err := decode(doc.Body, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

// AssetIDs returns the ids of every stored asset.
func (s *State) AssetIDs(ctx context.Context) ([]ids.ID, error) {
	return s.documentIDs(ctx, backend.Assets)
}

// MetadataIDs returns the transaction ids of every stored metadata.
func (s *State) MetadataIDs(ctx context.Context) ([]ids.ID, error) {
	return s.documentIDs(ctx, backend.Metadata)
}

func (s *State) DeleteAssets(ctx context.Context, assetIDs ...ids.ID) error {
	return s.gateway.Delete(ctx, backend.Assets, idStrings(assetIDs)...)
}

func (s *State) DeleteMetadata(ctx context.Context, txIDs ...ids.ID) error {
	return s.gateway.Delete(ctx, backend.Metadata, idStrings(txIDs)...)
}

func (s *State) documentIDs(ctx context.Context, coll backend.Collection) ([]ids.ID, error) {
	docs, err := s.gateway.Find(ctx, coll, backend.All)
	if err != nil {
		return nil, err
	}
	docIDs := make([]ids.ID, 0, len(docs))
	for _, doc := range docs {
		id, err := ids.FromString(doc.ID)
		if err != nil {
			return nil, err
		}
		docIDs = append(docIDs, id)
	}
	return docIDs, nil
}

func idStrings(in []ids.ID) []string {
	out := make([]string, len(in))
	for i, id := range in {
		out[i] = id.String()
	}
	return out
}
