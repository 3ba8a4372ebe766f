// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kvdb

import (
	"errors"
	"math"
	"sort"

	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"

	"github.com/luxfi/ledger/backend"
)

const codecVersion = 0

var Codec codec.Manager

func init() {
	Codec = codec.NewManager(math.MaxInt)
	lc := linearcodec.NewDefault()

	err := errors.Join(
		lc.RegisterType(&storedDocument{}),
		lc.RegisterType(&storedDatabase{}),
		Codec.RegisterCodec(codecVersion, lc),
	)
	if err != nil {
		panic(err)
	}
}

type indexEntry struct {
	Field  string   `serialize:"true"`
	Values []string `serialize:"true"`
}

type orderEntry struct {
	Field string `serialize:"true"`
	Value uint64 `serialize:"true"`
}

// storedDocument is the on-disk form of a backend.Document. Fields are kept
// sorted so equal documents encode to equal bytes.
type storedDocument struct {
	Body  []byte       `serialize:"true"`
	Index []indexEntry `serialize:"true"`
	Order []orderEntry `serialize:"true"`
}

func toStored(doc *backend.Document) *storedDocument {
	s := &storedDocument{Body: doc.Body}
	for field, values := range doc.Index {
		s.Index = append(s.Index, indexEntry{Field: field, Values: values})
	}
	sort.Slice(s.Index, func(i, j int) bool {
		return s.Index[i].Field < s.Index[j].Field
	})
	for field, value := range doc.Order {
		s.Order = append(s.Order, orderEntry{Field: field, Value: value})
	}
	sort.Slice(s.Order, func(i, j int) bool {
		return s.Order[i].Field < s.Order[j].Field
	})
	return s
}

func (s *storedDocument) document(id string) *backend.Document {
	doc := &backend.Document{
		ID:   id,
		Body: s.Body,
	}
	if len(s.Index) > 0 {
		doc.Index = make(map[string][]string, len(s.Index))
		for _, e := range s.Index {
			doc.Index[e.Field] = e.Values
		}
	}
	if len(s.Order) > 0 {
		doc.Order = make(map[string]uint64, len(s.Order))
		for _, e := range s.Order {
			doc.Order[e.Field] = e.Value
		}
	}
	return doc
}

// storedDatabase marks a provisioned database and records its topology.
type storedDatabase struct {
	Name     string   `serialize:"true"`
	Shards   uint32   `serialize:"true"`
	Replicas uint32   `serialize:"true"`
	Hosts    []string `serialize:"true"`
}
