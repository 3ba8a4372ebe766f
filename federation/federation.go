// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package federation holds the identity of the local node and the set of
// nodes it federates with. Both are fixed for the life of the process.
package federation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
	"github.com/spaolacci/murmur3"

	"github.com/luxfi/ledger/keys"
)

var ErrNoKeyPair = errors.New("no key pair")

// Context is read-only after construction.
type Context struct {
	key     *keys.PrivateKey
	voters  []keys.PublicKey
	members set.Set[keys.PublicKey]
}

// New returns the federation of the node owning [key] and the nodes holding
// [keyring]. Duplicates and the node's own key in [keyring] are ignored.
func New(key *keys.PrivateKey, keyring []keys.PublicKey) (*Context, error) {
	if key == nil {
		return nil, ErrNoKeyPair
	}
	members := set.Of(key.PublicKey())
	for _, pk := range keyring {
		if err := pk.Verify(); err != nil {
			return nil, fmt.Errorf("invalid keyring entry %q: %w", pk, err)
		}
		members.Add(pk)
	}
	voters := members.List()
	slices.Sort(voters)
	return &Context{
		key:     key,
		voters:  voters,
		members: members,
	}, nil
}

// Key returns the key pair of the local node.
func (c *Context) Key() *keys.PrivateKey {
	return c.key
}

func (c *Context) PublicKey() keys.PublicKey {
	return c.key.PublicKey()
}

// Voters returns every federation member, sorted.
func (c *Context) Voters() []keys.PublicKey {
	return slices.Clone(c.voters)
}

func (c *Context) IsMember(pk keys.PublicKey) bool {
	return c.members.Contains(pk)
}

// Others returns the members other than the local node, sorted.
func (c *Context) Others() []keys.PublicKey {
	self := c.PublicKey()
	others := make([]keys.PublicKey, 0, len(c.voters)-1)
	for _, pk := range c.voters {
		if pk != self {
			others = append(others, pk)
		}
	}
	return others
}

// Assignee picks the member that should put [txID] into a block. The pick is
// spread uniformly over the members outside [exclude], varying with [salt].
// If every member is excluded, all of them are candidates again.
func (c *Context) Assignee(txID ids.ID, salt int64, exclude ...keys.PublicKey) keys.PublicKey {
	candidates := make([]keys.PublicKey, 0, len(c.voters))
	for _, pk := range c.voters {
		if !slices.Contains(exclude, pk) {
			candidates = append(candidates, pk)
		}
	}
	if len(candidates) == 0 {
		candidates = c.voters
	}

	h := murmur3.New64()
	_, _ = h.Write(txID[:])
	_, _ = h.Write(binary.BigEndian.AppendUint64(nil, uint64(salt)))
	return candidates[h.Sum64()%uint64(len(candidates))]
}
