// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kvdb

import (
	"math"

	"github.com/google/btree"
)

const defaultTreeDegree = 2

type orderItem struct {
	value uint64
	id    string
}

func (a orderItem) Less(b orderItem) bool {
	if a.value != b.value {
		return a.value < b.value
	}
	return a.id < b.id
}

// orderIndex keeps the documents of one collection sorted by one numeric
// field. It lives in memory and is rebuilt from the stored documents on open.
type orderIndex struct {
	tree *btree.BTreeG[orderItem]
}

func newOrderIndex() *orderIndex {
	return &orderIndex{
		tree: btree.NewG(defaultTreeDegree, orderItem.Less),
	}
}

func (o *orderIndex) put(id string, value uint64) {
	o.tree.ReplaceOrInsert(orderItem{value: value, id: id})
}

func (o *orderIndex) remove(id string, value uint64) {
	o.tree.Delete(orderItem{value: value, id: id})
}

// scan returns the ids whose value lies in [min, max]. Document ids are never
// empty, so an item with an empty id sorts before every stored item of the
// same value.
func (o *orderIndex) scan(min, max uint64, descending bool) []string {
	var ids []string
	collect := func(item orderItem) bool {
		ids = append(ids, item.id)
		return true
	}

	lo := orderItem{value: min}
	switch {
	case descending && max == math.MaxUint64:
		o.tree.DescendGreaterThan(lo, collect)
	case descending:
		o.tree.DescendRange(orderItem{value: max + 1}, lo, collect)
	case max == math.MaxUint64:
		o.tree.AscendGreaterOrEqual(lo, collect)
	default:
		o.tree.AscendRange(lo, orderItem{value: max + 1}, collect)
	}
	return ids
}
