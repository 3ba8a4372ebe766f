// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package backend defines the storage contract the ledger core depends on.
// Implementations are injected; the core never assumes a query language.
package backend

import (
	"context"
	"errors"
)

// Collection names a set of documents.
type Collection string

const (
	Backlog  Collection = "backlog"
	Chain    Collection = "chain"
	Votes    Collection = "votes"
	Assets   Collection = "assets"
	Metadata Collection = "metadata"
	UTXO     Collection = "utxo"
	// Counters holds the sequences shared by every node of the database.
	Counters Collection = "counters"
)

// Collections lists every collection a ledger database holds.
var Collections = []Collection{Backlog, Chain, Votes, Assets, Metadata, UTXO, Counters}

var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateKey          = errors.New("duplicate key")
	ErrDatabaseAlreadyExists = errors.New("database already exists")
	ErrDatabaseDoesNotExist  = errors.New("database does not exist")
	ErrOperation             = errors.New("operation error")
	ErrClosed                = errors.New("gateway closed")
	ErrUnknownCollection     = errors.New("unknown collection")
)

// Document is a stored record. Index holds equality lookup keys and Order
// holds numeric fields that support range scans. Neither is part of Body.
type Document struct {
	ID    string
	Body  []byte
	Index map[string][]string
	Order map[string]uint64
}

// Clone returns a deep copy of [d].
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := &Document{
		ID:   d.ID,
		Body: append([]byte(nil), d.Body...),
	}
	if d.Index != nil {
		c.Index = make(map[string][]string, len(d.Index))
		for k, v := range d.Index {
			c.Index[k] = append([]string(nil), v...)
		}
	}
	if d.Order != nil {
		c.Order = make(map[string]uint64, len(d.Order))
		for k, v := range d.Order {
			c.Order[k] = v
		}
	}
	return c
}

// HasIndex reports whether [field] of [d] contains [value].
func (d *Document) HasIndex(field, value string) bool {
	for _, v := range d.Index[field] {
		if v == value {
			return true
		}
	}
	return false
}

// Query selects documents of one collection.
//
// If Field is set, only documents whose Index[Field] contains Value match.
// If OrderBy is set, only documents with that Order field in [Min, Max]
// match and results are sorted by it; a zero Max means no upper bound. Match
// filters the remaining candidates and Limit caps the result when positive.
type Query struct {
	Field string
	Value string

	OrderBy    string
	Min        uint64
	Max        uint64
	Descending bool

	Match func(*Document) bool
	Limit int
}

// All matches every document of a collection.
var All = Query{}

// ByIndex matches documents whose [field] index contains [value].
func ByIndex(field, value string) Query {
	return Query{Field: field, Value: value}
}

// Op is the kind of a change.
type Op uint8

const (
	Insert Op = iota + 1
	Update
	Delete
	// Resync is the last change of a subscription that fell too far behind.
	// It carries no documents; changes before it may have been skipped.
	Resync
)

func (o Op) String() string {
	switch o {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Resync:
		return "resync"
	default:
		return "unknown"
	}
}

// Change describes one committed write. Before is nil for inserts and After
// is nil for deletes.
type Change struct {
	Op     Op
	Before *Document
	After  *Document
}

// UpdateFunc computes the replacement of [current], which is nil if the
// document does not exist. Returning a nil document deletes it; returning an
// error aborts the update.
type UpdateFunc func(current *Document) (*Document, error)

//go:generate go run go.uber.org/mock/mockgen -package=${GOPACKAGE}mock -destination=${GOPACKAGE}mock/gateway.go -mock_names=Gateway=Gateway . Gateway

// Gateway is the persistence contract of the ledger core.
type Gateway interface {
	// Insert stores a new document. It fails with ErrDuplicateKey if a
	// document with the same ID exists.
	Insert(ctx context.Context, coll Collection, doc *Document) error

	// UpsertAtomic applies [update] to the document with [id] as one
	// indivisible step with respect to every other write of the gateway.
	UpsertAtomic(ctx context.Context, coll Collection, id string, update UpdateFunc) (*Document, error)

	// FindOne returns the document with [id] or ErrNotFound.
	FindOne(ctx context.Context, coll Collection, id string) (*Document, error)

	// Find returns every document matching [q].
	Find(ctx context.Context, coll Collection, q Query) ([]*Document, error)

	// Delete removes the documents with [ids]. Missing ids are ignored.
	Delete(ctx context.Context, coll Collection, ids ...string) error

	// Count returns the number of documents matching [q].
	Count(ctx context.Context, coll Collection, q Query) (int, error)

	// Subscribe streams every change committed to [coll] after the call
	// returns. The channel is closed once [ctx] is done. A subscriber that
	// falls too far behind receives a Resync change before its channel is
	// closed, and must read [coll] again to catch up.
	Subscribe(ctx context.Context, coll Collection) (<-chan Change, error)

	Close() error
}

// Topology is the replication layout recorded for a database.
type Topology struct {
	Shards   int      `json:"shards"`
	Replicas int      `json:"replicas"`
	Hosts    []string `json:"hosts"`
}

// Admin provisions databases and records their topology.
type Admin interface {
	CreateDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
	DatabaseExists(ctx context.Context, name string) (bool, error)

	SetShards(ctx context.Context, shards int) error
	SetReplicas(ctx context.Context, replicas int) error
	AddReplicas(ctx context.Context, hosts ...string) error
	RemoveReplicas(ctx context.Context, hosts ...string) error
	Topology(ctx context.Context) (Topology, error)
}
