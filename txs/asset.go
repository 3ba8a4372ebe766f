// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/luxfi/ids"
)

// Asset describes the resource created by a CREATE or GENESIS transaction.
// Transactions that move an existing asset carry only its ID.
type Asset struct {
	// ID is only set when the asset is referenced. A created asset's id is
	// the id of the transaction that created it.
	ID ids.ID

	Data       map[string]any
	Divisible  bool
	Refillable bool
	Updatable  bool
}

// Ref returns a reference to the asset with [assetID].
func Ref(assetID ids.ID) Asset {
	return Asset{ID: assetID}
}

// IsRef reports whether the asset is a reference rather than a definition.
func (a *Asset) IsRef() bool {
	return a.ID != ids.Empty
}

type assetRef struct {
	ID ids.ID `json:"id"`
}

type assetDef struct {
	Data       map[string]any `json:"data"`
	Divisible  bool           `json:"divisible"`
	Refillable bool           `json:"refillable"`
	Updatable  bool           `json:"updatable"`
}

func (a Asset) MarshalJSON() ([]byte, error) {
	if a.IsRef() {
		return canonicalJSON(assetRef{ID: a.ID})
	}
	return canonicalJSON(assetDef{
		Data:       a.Data,
		Divisible:  a.Divisible,
		Refillable: a.Refillable,
		Updatable:  a.Updatable,
	})
}

// UnmarshalJSON accepts either a reference or a definition. Flags must be
// JSON booleans and data must be an object or null.
func (a *Asset) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("%w: asset: %w", ErrSchemaValidation, err)
	}
	if fields == nil {
		return fmt.Errorf("%w: asset must be an object", ErrSchemaValidation)
	}

	*a = Asset{}
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &a.ID); err != nil {
			return fmt.Errorf("%w: asset id: %w", ErrSchemaValidation, err)
		}
	}

	for name, dst := range map[string]*bool{
		"divisible":  &a.Divisible,
		"refillable": &a.Refillable,
		"updatable":  &a.Updatable,
	} {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		switch string(bytes.TrimSpace(raw)) {
		case "true":
			*dst = true
		case "false":
			*dst = false
		default:
			return fmt.Errorf("%w: asset %s must be a boolean, got %s", ErrSchemaValidation, name, raw)
		}
	}

	if raw, ok := fields["data"]; ok {
		data, err := decodeObject(raw)
		if err != nil {
			return fmt.Errorf("%w: asset data: %w", ErrSchemaValidation, err)
		}
		a.Data = data
	}
	return nil
}

// decodeObject decodes a JSON object or null, preserving number text.
func decodeObject(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if string(trimmed) == "null" {
		return nil, nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("expected object or null, got %s", raw)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// GetAssetID returns the single asset id shared by [transactions].
func GetAssetID(transactions ...*Tx) (ids.ID, error) {
	if len(transactions) == 0 {
		return ids.Empty, errNoTransactions
	}
	assetID := transactions[0].AssetID()
	for _, tx := range transactions[1:] {
		if id := tx.AssetID(); id != assetID {
			return ids.Empty, fmt.Errorf("%w: %s != %s", ErrAssetIDMismatch, id, assetID)
		}
	}
	return assetID, nil
}
