// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kvdb

import (
	"errors"

	"github.com/luxfi/database"
)

var (
	_ Store = (*databaseStore)(nil)

	// errNotFound is returned by every Store for a missing key.
	errNotFound = database.ErrNotFound
)

// Iterator walks key/value pairs in key order.
type Iterator interface {
	Next() bool
	Error() error
	Key() []byte
	Value() []byte
	Release()
}

// Put or delete of one key.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Store is the ordered key/value engine underneath the gateway.
type Store interface {
	// Get returns the value of [key] or database.ErrNotFound.
	Get(key []byte) ([]byte, error)
	NewIteratorWithPrefix(prefix []byte) Iterator
	// Write applies [ops] atomically.
	Write(ops []Op) error
	Close() error
}

type databaseStore struct {
	db database.Database
}

// NewDatabaseStore adapts a luxfi database, such as memdb or prefixdb.
func NewDatabaseStore(db database.Database) Store {
	return &databaseStore{db: db}
}

func (s *databaseStore) Get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return nil, errNotFound
	}
	return value, err
}

func (s *databaseStore) NewIteratorWithPrefix(prefix []byte) Iterator {
	return s.db.NewIteratorWithPrefix(prefix)
}

func (s *databaseStore) Write(ops []Op) error {
	batch := s.db.NewBatch()
	for _, op := range ops {
		var err error
		if op.Delete {
			err = batch.Delete(op.Key)
		} else {
			err = batch.Put(op.Key, op.Value)
		}
		if err != nil {
			return err
		}
	}
	return batch.Write()
}

func (s *databaseStore) Close() error {
	return s.db.Close()
}
