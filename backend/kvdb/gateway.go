// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package kvdb implements the ledger storage gateway on top of an ordered
// key/value store.
package kvdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend"
)

const sep = 0x00

var (
	_ backend.Gateway = (*Gateway)(nil)
	_ backend.Admin   = (*Gateway)(nil)

	docPrefix   = []byte{'d', sep}
	indexPrefix = []byte{'i', sep}
	markerKey   = []byte{'m'}
)

// Gateway serializes writes with a single lock, so every UpsertAtomic is
// indivisible with respect to all other writes.
type Gateway struct {
	log    log.Logger
	store  Store
	values *valueCodec
	feed   *feed

	lock   sync.RWMutex
	closed bool
	orders map[backend.Collection]map[string]*orderIndex
}

// New wraps [store] and rebuilds the in-memory order indexes from it.
func New(store Store, logger log.Logger, compress bool, maxValueSize int64) (*Gateway, error) {
	if maxValueSize <= 0 || maxValueSize == math.MaxInt64 {
		return nil, fmt.Errorf("%w: invalid max value size %d", backend.ErrOperation, maxValueSize)
	}
	values, err := newValueCodec(compress, maxValueSize)
	if err != nil {
		return nil, err
	}
	f := newFeed(backend.Collections)
	g := &Gateway{
		log:    logger,
		store:  store,
		values: values,
		feed:   f,
	}
	if err := g.rebuildOrders(); err != nil {
		f.close()
		values.close()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) rebuildOrders() error {
	g.orders = make(map[backend.Collection]map[string]*orderIndex, len(backend.Collections))
	for _, coll := range backend.Collections {
		g.orders[coll] = make(map[string]*orderIndex)
		n := 0
		err := g.scan(coll, func(doc *backend.Document) bool {
			g.addOrder(coll, doc)
			n++
			return true
		})
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", coll, err)
		}
		g.log.Debug("loaded collection",
			log.String("collection", string(coll)),
			log.Int("documents", n),
		)
	}
	return nil
}

func (g *Gateway) Insert(ctx context.Context, coll backend.Collection, doc *backend.Document) error {
	if err := g.check(ctx, coll); err != nil {
		return err
	}
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("%w: document without id", backend.ErrOperation)
	}

	g.lock.Lock()
	defer g.lock.Unlock()

	if g.closed {
		return backend.ErrClosed
	}
	current, err := g.load(coll, doc.ID)
	if err != nil {
		return err
	}
	if current != nil {
		return fmt.Errorf("%w: %s %s", backend.ErrDuplicateKey, coll, doc.ID)
	}
	return g.commit(coll, nil, doc.Clone())
}

func (g *Gateway) UpsertAtomic(
	ctx context.Context,
	coll backend.Collection,
	id string,
	update backend.UpdateFunc,
) (*backend.Document, error) {
	if err := g.check(ctx, coll); err != nil {
		return nil, err
	}

	g.lock.Lock()
	defer g.lock.Unlock()

	if g.closed {
		return nil, backend.ErrClosed
	}
	current, err := g.load(coll, id)
	if err != nil {
		return nil, err
	}
	next, err := update(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		if current == nil {
			return nil, nil
		}
		return nil, g.commit(coll, current, nil)
	}

	next = next.Clone()
	next.ID = id
	if err := g.commit(coll, current, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

func (g *Gateway) FindOne(ctx context.Context, coll backend.Collection, id string) (*backend.Document, error) {
	if err := g.check(ctx, coll); err != nil {
		return nil, err
	}

	g.lock.RLock()
	defer g.lock.RUnlock()

	if g.closed {
		return nil, backend.ErrClosed
	}
	doc, err := g.load(coll, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s %s", backend.ErrNotFound, coll, id)
	}
	return doc, nil
}

func (g *Gateway) Find(ctx context.Context, coll backend.Collection, q backend.Query) ([]*backend.Document, error) {
	if err := g.check(ctx, coll); err != nil {
		return nil, err
	}

	g.lock.RLock()
	defer g.lock.RUnlock()

	if g.closed {
		return nil, backend.ErrClosed
	}
	return g.find(coll, q)
}

func (g *Gateway) Count(ctx context.Context, coll backend.Collection, q backend.Query) (int, error) {
	q.Limit = 0
	docs, err := g.Find(ctx, coll, q)
	return len(docs), err
}

func (g *Gateway) Delete(ctx context.Context, coll backend.Collection, ids ...string) error {
	if err := g.check(ctx, coll); err != nil {
		return err
	}

	g.lock.Lock()
	defer g.lock.Unlock()

	if g.closed {
		return backend.ErrClosed
	}
	for _, id := range ids {
		current, err := g.load(coll, id)
		if err != nil {
			return err
		}
		if current == nil {
			continue
		}
		if err := g.commit(coll, current, nil); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) Subscribe(ctx context.Context, coll backend.Collection) (<-chan backend.Change, error) {
	if err := g.check(ctx, coll); err != nil {
		return nil, err
	}
	return g.feed.subscribe(ctx, coll)
}

func (g *Gateway) Close() error {
	g.lock.Lock()
	if g.closed {
		g.lock.Unlock()
		return nil
	}
	g.closed = true
	g.lock.Unlock()

	g.feed.close()
	g.values.close()
	return g.store.Close()
}

func (g *Gateway) check(ctx context.Context, coll backend.Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !slices.Contains(backend.Collections, coll) {
		return fmt.Errorf("%w: %q", backend.ErrUnknownCollection, coll)
	}
	return nil
}

// find assumes the read lock is held.
func (g *Gateway) find(coll backend.Collection, q backend.Query) ([]*backend.Document, error) {
	var (
		docs []*backend.Document
		err  error
	)
	keep := func(doc *backend.Document) bool {
		if q.Field != "" && !doc.HasIndex(q.Field, q.Value) {
			return true
		}
		if q.Match != nil && !q.Match(doc) {
			return true
		}
		docs = append(docs, doc)
		return q.Limit <= 0 || len(docs) < q.Limit
	}

	switch {
	case q.OrderBy != "":
		max := q.Max
		if max == 0 {
			max = math.MaxUint64
		}
		index, ok := g.orders[coll][q.OrderBy]
		if !ok {
			return nil, nil
		}
		for _, id := range index.scan(q.Min, max, q.Descending) {
			var doc *backend.Document
			doc, err = g.load(coll, id)
			if err != nil {
				return nil, err
			}
			if doc != nil && !keep(doc) {
				break
			}
		}
	case q.Field != "":
		var matched []string
		matched, err = g.lookup(coll, q.Field, q.Value)
		if err != nil {
			return nil, err
		}
		for _, id := range matched {
			var doc *backend.Document
			doc, err = g.load(coll, id)
			if err != nil {
				return nil, err
			}
			if doc != nil && !keep(doc) {
				break
			}
		}
	default:
		err = g.scan(coll, keep)
	}
	return docs, err
}

// lookup returns the ids of the documents of [coll] whose [field] index
// contains [value].
func (g *Gateway) lookup(coll backend.Collection, field, value string) ([]string, error) {
	prefix := indexKey(coll, field, value, "")
	it := g.store.NewIteratorWithPrefix(prefix)
	defer it.Release()

	var ids []string
	for it.Next() {
		ids = append(ids, string(it.Key()[len(prefix):]))
	}
	return ids, it.Error()
}

func (g *Gateway) scan(coll backend.Collection, f func(*backend.Document) bool) error {
	prefix := docKey(coll, "")
	it := g.store.NewIteratorWithPrefix(prefix)
	defer it.Release()

	for it.Next() {
		doc, err := g.decode(string(it.Key()[len(prefix):]), it.Value())
		if err != nil {
			return err
		}
		if !f(doc) {
			break
		}
	}
	return it.Error()
}

// load returns nil without error if the document does not exist.
func (g *Gateway) load(coll backend.Collection, id string) (*backend.Document, error) {
	value, err := g.store.Get(docKey(coll, id))
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g.decode(id, value)
}

func (g *Gateway) decode(id string, value []byte) (*backend.Document, error) {
	raw, err := g.values.decode(value)
	if err != nil {
		return nil, err
	}
	stored := &storedDocument{}
	if _, err := Codec.Unmarshal(raw, stored); err != nil {
		return nil, err
	}
	return stored.document(id), nil
}

// commit replaces [before] with [after] in one store batch and publishes the
// change. Either side may be nil. The write lock must be held.
func (g *Gateway) commit(coll backend.Collection, before, after *backend.Document) error {
	var ops []Op
	if before != nil {
		for field, values := range before.Index {
			for _, value := range values {
				if after != nil && after.HasIndex(field, value) {
					continue
				}
				ops = append(ops, Op{Key: indexKey(coll, field, value, before.ID), Delete: true})
			}
		}
	}

	change := backend.Change{Before: before}
	if after == nil {
		change.Op = backend.Delete
		ops = append(ops, Op{Key: docKey(coll, before.ID), Delete: true})
	} else {
		change.Op = backend.Insert
		if before != nil {
			change.Op = backend.Update
		}
		raw, err := Codec.Marshal(codecVersion, toStored(after))
		if err != nil {
			return err
		}
		value, err := g.values.encode(raw)
		if err != nil {
			return err
		}
		ops = append(ops, Op{Key: docKey(coll, after.ID), Value: value})
		for field, values := range after.Index {
			for _, value := range values {
				ops = append(ops, Op{Key: indexKey(coll, field, value, after.ID), Value: []byte{}})
			}
		}
		change.After = after.Clone()
	}

	if err := g.store.Write(ops); err != nil {
		return err
	}
	if before != nil {
		g.removeOrder(coll, before)
	}
	if after != nil {
		g.addOrder(coll, after)
	}
	g.feed.publish(coll, change)
	return nil
}

func (g *Gateway) addOrder(coll backend.Collection, doc *backend.Document) {
	for field, value := range doc.Order {
		index, ok := g.orders[coll][field]
		if !ok {
			index = newOrderIndex()
			g.orders[coll][field] = index
		}
		index.put(doc.ID, value)
	}
}

func (g *Gateway) removeOrder(coll backend.Collection, doc *backend.Document) {
	for field, value := range doc.Order {
		if index, ok := g.orders[coll][field]; ok {
			index.remove(doc.ID, value)
		}
	}
}

func docKey(coll backend.Collection, id string) []byte {
	return join(docPrefix, []byte(coll), []byte(id))
}

func indexKey(coll backend.Collection, field, value, id string) []byte {
	return join(indexPrefix, []byte(coll), []byte(field), []byte(value), []byte(id))
}

func join(prefix []byte, parts ...[]byte) []byte {
	key := bytes.NewBuffer(append([]byte(nil), prefix...))
	for i, part := range parts {
		if i > 0 {
			key.WriteByte(sep)
		}
		key.Write(part)
	}
	return key.Bytes()
}
