// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/state"
	"github.com/luxfi/ledger/txs"
)

const DefaultAssetCacheLife = 10 * time.Minute

// Verifier checks transactions against the ledger.
type Verifier struct {
	backend *Backend
	assets  *bigcache.BigCache
}

// NewVerifier returns a verifier that caches asset definitions for
// [assetCacheLife]. Assets are immutable, so cached entries never go stale.
func NewVerifier(ctx context.Context, backend *Backend, assetCacheLife time.Duration) (*Verifier, error) {
	config := bigcache.DefaultConfig(assetCacheLife)
	config.Verbose = false
	config.Logger = cacheLogger{log: backend.Log}
	assets, err := bigcache.New(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		backend: backend,
		assets:  assets,
	}, nil
}

// Verify returns [tx] if it is valid against the current ledger. Verifying
// the same transaction again gives the same result.
func (v *Verifier) Verify(ctx context.Context, tx *txs.Tx) (*txs.Tx, error) {
	if err := tx.SyntacticVerify(); err != nil {
		return nil, err
	}
	var err error
	if tx.Operation.Creates() {
		err = verifyIssuance(tx)
	} else {
		err = v.verifyTransfer(ctx, tx)
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (v *Verifier) Close() error {
	return v.assets.Close()
}

// verifyIssuance requires every issuer to have signed.
func verifyIssuance(tx *txs.Tx) error {
	for i, in := range tx.Inputs {
		msg, err := tx.SigningBytes(i)
		if err != nil {
			return err
		}
		condition := &txs.Condition{
			PublicKeys: in.OwnersBefore,
			Threshold:  uint32(len(in.OwnersBefore)),
		}
		if err := in.Fulfillment.Verify(condition, msg); err != nil {
			return fmt.Errorf("%w: input %d: %w", txs.ErrInvalidSignature, i, err)
		}
	}
	return nil
}

func (v *Verifier) verifyTransfer(ctx context.Context, tx *txs.Tx) error {
	consumed := make([]*txs.Output, len(tx.Inputs))
	for i, in := range tx.Inputs {
		ref := *in.Fulfills
		u, err := v.backend.Outputs.Get(ctx, ref)
		if err != nil {
			return err
		}
		if u.Spent() && u.SpentBy != tx.ID {
			return fmt.Errorf("%w: input %s is already spent by %s", txs.ErrDoubleSpend, ref, u.SpentBy)
		}

		out := u.Output()
		if !out.Condition.Owns(in.OwnersBefore) {
			return fmt.Errorf("%w: owner_before %s does not own the input %s",
				txs.ErrTransactionOwner,
				foreignOwner(in.OwnersBefore, out.Condition.PublicKeys),
				ref,
			)
		}

		msg, err := tx.SigningBytes(i)
		if err != nil {
			return err
		}
		if err := in.Fulfillment.Verify(&out.Condition, msg); err != nil {
			return fmt.Errorf("%w: input %s: %w", txs.ErrInvalidSignature, ref, err)
		}

		if u.AssetID != tx.Asset.ID {
			return fmt.Errorf("%w: input %s holds asset %s, transaction moves %s",
				txs.ErrAssetIDMismatch,
				ref,
				u.AssetID,
				tx.Asset.ID,
			)
		}
		consumed[i] = out
	}

	inputAmount, err := txs.Sum(consumed)
	if err != nil {
		return err
	}
	outputAmount, err := txs.Sum(tx.Outputs)
	if err != nil {
		return err
	}
	if inputAmount != outputAmount {
		return fmt.Errorf("%w: inputs amount %d does not match outputs amount %d", txs.ErrAmount, inputAmount, outputAmount)
	}

	asset, err := v.asset(ctx, tx.Asset.ID)
	if err != nil {
		return err
	}
	return txs.VerifyDivisibility(asset, tx.Outputs, false)
}

func (v *Verifier) asset(ctx context.Context, assetID ids.ID) (*txs.Asset, error) {
	key := assetID.String()
	if b, err := v.assets.Get(key); err == nil {
		asset := &txs.Asset{}
		if err := json.Unmarshal(b, asset); err == nil {
			asset.ID = assetID
			return asset, nil
		}
	}

	asset, err := v.backend.Assets.GetAsset(ctx, assetID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: asset %s", txs.ErrTransactionDoesNotExist, assetID)
	}
	if err != nil {
		return nil, err
	}

	definition := *asset
	definition.ID = ids.Empty
	if b, err := json.Marshal(definition); err == nil {
		if err := v.assets.Set(key, b); err != nil {
			v.backend.Log.Debug("failed to cache asset",
				log.Stringer("assetID", assetID),
				log.Err(err),
			)
		}
	}
	return asset, nil
}

// foreignOwner returns the first of [claimed] that is not an owner, or the
// first claimed owner if they are all owners but some are missing.
func foreignOwner(claimed, owners []keys.PublicKey) keys.PublicKey {
	known := set.Of(owners...)
	for _, pk := range claimed {
		if !known.Contains(pk) {
			return pk
		}
	}
	if len(claimed) == 0 {
		return ""
	}
	return claimed[0]
}

type cacheLogger struct {
	log log.Logger
}

func (l cacheLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
