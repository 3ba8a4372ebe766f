// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kvdb

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend"
)

func (g *Gateway) CreateDatabase(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.lock.Lock()
	defer g.lock.Unlock()

	if g.closed {
		return backend.ErrClosed
	}
	marker, err := g.marker()
	if err != nil {
		return err
	}
	if marker != nil {
		return fmt.Errorf("%w: %s", backend.ErrDatabaseAlreadyExists, marker.Name)
	}
	if err := g.putMarker(&storedDatabase{Name: name, Shards: 1, Replicas: 1}); err != nil {
		return err
	}
	g.log.Info("created database", log.String("name", name))
	return nil
}

func (g *Gateway) DropDatabase(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.lock.Lock()
	defer g.lock.Unlock()

	if g.closed {
		return backend.ErrClosed
	}
	marker, err := g.marker()
	if err != nil {
		return err
	}
	if marker == nil || marker.Name != name {
		return fmt.Errorf("%w: %s", backend.ErrDatabaseDoesNotExist, name)
	}

	it := g.store.NewIteratorWithPrefix(nil)
	var ops []Op
	for it.Next() {
		ops = append(ops, Op{
			Key:    append([]byte(nil), it.Key()...),
			Delete: true,
		})
	}
	err = it.Error()
	it.Release()
	if err != nil {
		return err
	}
	if err := g.store.Write(ops); err != nil {
		return err
	}
	for _, orders := range g.orders {
		clear(orders)
	}
	g.log.Info("dropped database",
		log.String("name", name),
		log.Int("keys", len(ops)),
	)
	return nil
}

func (g *Gateway) DatabaseExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	g.lock.RLock()
	defer g.lock.RUnlock()

	if g.closed {
		return false, backend.ErrClosed
	}
	marker, err := g.marker()
	if err != nil {
		return false, err
	}
	return marker != nil && marker.Name == name, nil
}

func (g *Gateway) SetShards(ctx context.Context, shards int) error {
	if shards < 1 {
		return fmt.Errorf("%w: number of shards must be at least 1, got %d", backend.ErrOperation, shards)
	}
	return g.updateMarker(ctx, func(m *storedDatabase) error {
		m.Shards = uint32(shards)
		return nil
	})
}

func (g *Gateway) SetReplicas(ctx context.Context, replicas int) error {
	if replicas < 1 {
		return fmt.Errorf("%w: number of replicas must be at least 1, got %d", backend.ErrOperation, replicas)
	}
	return g.updateMarker(ctx, func(m *storedDatabase) error {
		m.Replicas = uint32(replicas)
		return nil
	})
}

func (g *Gateway) AddReplicas(ctx context.Context, hosts ...string) error {
	return g.updateMarker(ctx, func(m *storedDatabase) error {
		for _, host := range hosts {
			if slices.Contains(m.Hosts, host) {
				return fmt.Errorf("%w: %s is already a replica", backend.ErrOperation, host)
			}
			m.Hosts = append(m.Hosts, host)
		}
		return nil
	})
}

func (g *Gateway) RemoveReplicas(ctx context.Context, hosts ...string) error {
	return g.updateMarker(ctx, func(m *storedDatabase) error {
		for _, host := range hosts {
			i := slices.Index(m.Hosts, host)
			if i < 0 {
				return fmt.Errorf("%w: %s is not a replica", backend.ErrOperation, host)
			}
			m.Hosts = slices.Delete(m.Hosts, i, i+1)
		}
		return nil
	})
}

func (g *Gateway) Topology(ctx context.Context) (backend.Topology, error) {
	if err := ctx.Err(); err != nil {
		return backend.Topology{}, err
	}

	g.lock.RLock()
	defer g.lock.RUnlock()

	if g.closed {
		return backend.Topology{}, backend.ErrClosed
	}
	marker, err := g.marker()
	if err != nil {
		return backend.Topology{}, err
	}
	if marker == nil {
		return backend.Topology{}, backend.ErrDatabaseDoesNotExist
	}
	return backend.Topology{
		Shards:   int(marker.Shards),
		Replicas: int(marker.Replicas),
		Hosts:    slices.Clone(marker.Hosts),
	}, nil
}

func (g *Gateway) updateMarker(ctx context.Context, update func(*storedDatabase) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.lock.Lock()
	defer g.lock.Unlock()

	if g.closed {
		return backend.ErrClosed
	}
	marker, err := g.marker()
	if err != nil {
		return err
	}
	if marker == nil {
		return backend.ErrDatabaseDoesNotExist
	}
	if err := update(marker); err != nil {
		return err
	}
	return g.putMarker(marker)
}

// marker returns nil without error if no database was created.
func (g *Gateway) marker() (*storedDatabase, error) {
	b, err := g.store.Get(markerKey)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m := &storedDatabase{}
	if _, err := Codec.Unmarshal(b, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (g *Gateway) putMarker(m *storedDatabase) error {
	b, err := Codec.Marshal(codecVersion, m)
	if err != nil {
		return err
	}
	return g.store.Write([]Op{{Key: markerKey, Value: b}})
}
