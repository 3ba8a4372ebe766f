// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/luxfi/ids"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/txs"
)

var errAssignmentChanged = errors.New("assignment changed")

// Assignment records which federation node should put a backlog transaction
// into a block, and when it was told to.
type Assignment struct {
	Assignee  keys.PublicKey `json:"assignee,omitempty"`
	Timestamp int64          `json:"assignment_timestamp,omitempty"`
}

func (a Assignment) Assigned() bool {
	return a.Assignee != ""
}

// BacklogEntry is a transaction waiting to be put into a block.
type BacklogEntry struct {
	Assignment
	Tx *txs.Tx `json:"transaction"`
}

func backlogDocument(e *BacklogEntry) (*backend.Document, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	doc := &backend.Document{
		ID:   e.Tx.ID.String(),
		Body: body,
	}
	if e.Assigned() {
		doc.Index = map[string][]string{
			assigneeField: {e.Assignee.String()},
		}
		doc.Order = map[string]uint64{
			assignedAtField: uint64(e.Timestamp),
		}
	}
	return doc, nil
}

// ParseBacklogEntry decodes a backlog document.
func ParseBacklogEntry(doc *backend.Document) (*BacklogEntry, error) {
	e := &BacklogEntry{}
	if err := decode(doc.Body, e); err != nil {
		return nil, err
	}
	return e, nil
}

func parseBacklogEntries(docs []*backend.Document) ([]*BacklogEntry, error) {
	entries := make([]*BacklogEntry, 0, len(docs))
	for _, doc := range docs {
		e, err := ParseBacklogEntry(doc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// WriteBacklogTransaction adds [e] to the backlog. It fails with
// backend.ErrDuplicateKey if the transaction is already waiting.
func (s *State) WriteBacklogTransaction(ctx context.Context, e *BacklogEntry) error {
	doc, err := backlogDocument(e)
	if err != nil {
		return err
	}
	return s.gateway.Insert(ctx, backend.Backlog, doc)
}

func (s *State) GetBacklogTransaction(ctx context.Context, txID ids.ID) (*BacklogEntry, error) {
	doc, err := s.gateway.FindOne(ctx, backend.Backlog, txID.String())
	if err != nil {
		return nil, notFound(err)
	}
	return ParseBacklogEntry(doc)
}

// BacklogTransactions returns every waiting transaction.
func (s *State) BacklogTransactions(ctx context.Context) ([]*BacklogEntry, error) {
	docs, err := s.gateway.Find(ctx, backend.Backlog, backend.All)
	if err != nil {
		return nil, err
	}
	return parseBacklogEntries(docs)
}

// AssignedTransactions returns the transactions assigned to [assignee].
func (s *State) AssignedTransactions(ctx context.Context, assignee keys.PublicKey) ([]*BacklogEntry, error) {
	docs, err := s.gateway.Find(ctx, backend.Backlog, backend.ByIndex(assigneeField, assignee.String()))
	if err != nil {
		return nil, err
	}
	return parseBacklogEntries(docs)
}

// AssignTransaction replaces the assignment of [txID] with [next] if it is
// still [expected]. It reports whether the assignment was replaced.
func (s *State) AssignTransaction(ctx context.Context, txID ids.ID, expected, next Assignment) (bool, error) {
	_, err := s.gateway.UpsertAtomic(ctx, backend.Backlog, txID.String(), func(current *backend.Document) (*backend.Document, error) {
		if current == nil {
			return nil, errAssignmentChanged
		}
		e, err := ParseBacklogEntry(current)
		if err != nil {
			return nil, err
		}
		if e.Assignment != expected {
			return nil, errAssignmentChanged
		}
		e.Assignment = next
		return backlogDocument(e)
	})
	if errors.Is(err, errAssignmentChanged) {
		return false, nil
	}
	return err == nil, err
}

// RenewAssignments sets the assignment time of the backlog transactions
// [txIDs] that are still assigned to [assignee] to [now]. It returns the
// others, which left the backlog or were given to another node.
func (s *State) RenewAssignments(ctx context.Context, assignee keys.PublicKey, now int64, txIDs ...ids.ID) ([]ids.ID, error) {
	var lost []ids.ID
	for _, txID := range txIDs {
		_, err := s.gateway.UpsertAtomic(ctx, backend.Backlog, txID.String(), func(current *backend.Document) (*backend.Document, error) {
			if current == nil {
				return nil, errAssignmentChanged
			}
			e, err := ParseBacklogEntry(current)
			if err != nil {
				return nil, err
			}
			if e.Assignee != assignee {
				return nil, errAssignmentChanged
			}
			e.Timestamp = now
			return backlogDocument(e)
		})
		switch {
		case errors.Is(err, errAssignmentChanged):
			lost = append(lost, txID)
		case err != nil:
			return nil, err
		}
	}
	return lost, nil
}

// GetStaleTransactions returns assigned transactions whose assignment is
// older than [before].
func (s *State) GetStaleTransactions(ctx context.Context, before int64) ([]*BacklogEntry, error) {
	if before <= 1 {
		return nil, nil
	}
	docs, err := s.gateway.Find(ctx, backend.Backlog, backend.Query{
		OrderBy: assignedAtField,
		Min:     1,
		Max:     uint64(before - 1),
	})
	if err != nil {
		return nil, err
	}
	return parseBacklogEntries(docs)
}

func (s *State) DeleteBacklogTransactions(ctx context.Context, txIDs ...ids.ID) error {
	return s.gateway.Delete(ctx, backend.Backlog, idStrings(txIDs)...)
}
