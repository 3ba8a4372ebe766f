// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kvdb

import (
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v3"

	"github.com/luxfi/log"
)

var _ Store = (*badgerStore)(nil)

type badgerStore struct {
	db *badgerdb.DB
}

// OpenBadger opens an on-disk store at [path]. An empty path opens an
// in-memory instance.
func OpenBadger(path string, logger log.Logger) (Store, error) {
	opts := badgerdb.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{log: logger})

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, errNotFound
	}
	return value, err
}

func (s *badgerStore) NewIteratorWithPrefix(prefix []byte) Iterator {
	txn := s.db.NewTransaction(false)
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	it.Seek(prefix)
	return &badgerIterator{
		txn:    txn,
		it:     it,
		prefix: prefix,
	}
}

func (s *badgerStore) Write(ops []Op) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		for _, op := range ops {
			var err error
			if op.Delete {
				err = txn.Delete(op.Key)
			} else {
				err = txn.Set(op.Key, op.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

type badgerIterator struct {
	txn     *badgerdb.Txn
	it      *badgerdb.Iterator
	prefix  []byte
	started bool

	key   []byte
	value []byte
	err   error
}

func (i *badgerIterator) Next() bool {
	if i.err != nil {
		return false
	}
	if i.started {
		i.it.Next()
	}
	i.started = true
	if !i.it.ValidForPrefix(i.prefix) {
		i.key, i.value = nil, nil
		return false
	}
	item := i.it.Item()
	i.key = item.KeyCopy(nil)
	i.value, i.err = item.ValueCopy(nil)
	return i.err == nil
}

func (i *badgerIterator) Error() error {
	return i.err
}

func (i *badgerIterator) Key() []byte {
	return i.key
}

func (i *badgerIterator) Value() []byte {
	return i.value
}

func (i *badgerIterator) Release() {
	i.it.Close()
	i.txn.Discard()
}

// badgerLogger forwards badger's printf style logging.
type badgerLogger struct {
	log log.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
