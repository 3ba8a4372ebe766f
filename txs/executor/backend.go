// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"context"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ledger/txs"
	"github.com/luxfi/ledger/utxo"
)

// Outputs resolves the outputs a transaction consumes.
type Outputs interface {
	Get(ctx context.Context, ref txs.OutputRef) (*utxo.UTXO, error)
}

// Assets resolves stored asset definitions.
type Assets interface {
	GetAsset(ctx context.Context, assetID ids.ID) (*txs.Asset, error)
}

type Backend struct {
	Log     log.Logger
	Outputs Outputs
	Assets  Assets
}
