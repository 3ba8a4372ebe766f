// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package keys provides the Ed25519 key pairs, signatures and content hash
// used to identify and authorize ledger entities.
package keys

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"

	"github.com/luxfi/ids"
)

var (
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrInvalidSignature  = errors.New("invalid signature encoding")
)

// PublicKey is the base58 text form of an Ed25519 public key. The text form
// is what appears in conditions, blocks and votes.
type PublicKey string

// Verify returns nil if [pk] decodes to a valid Ed25519 public key.
func (pk PublicKey) Verify() error {
	_, err := pk.bytes()
	return err
}

func (pk PublicKey) bytes() (ed25519.PublicKey, error) {
	b, err := base58.Decode(string(pk))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPublicKey, string(pk), err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %q has length %d", ErrInvalidPublicKey, string(pk), len(b))
	}
	return ed25519.PublicKey(b), nil
}

func (pk PublicKey) String() string {
	return string(pk)
}

// VerifySignature reports whether [sig] is a valid signature of [msg] by
// [pk]. Malformed keys or signatures never verify.
func (pk PublicKey) VerifySignature(msg []byte, sig Signature) bool {
	pub, err := pk.bytes()
	if err != nil {
		return false
	}
	rawSig, err := sig.Bytes()
	if err != nil || len(rawSig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, rawSig)
}

// Signature is the base58 text form of an Ed25519 signature.
type Signature string

func (s Signature) Bytes() ([]byte, error) {
	b, err := base58.Decode(string(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return b, nil
}

// PrivateKey signs on behalf of a public key.
type PrivateKey struct {
	sk ed25519.PrivateKey
	pk PublicKey
}

// NewPrivateKey generates a fresh key pair using crypto/rand.
func NewPrivateKey() (*PrivateKey, error) {
	return newPrivateKey(rand.Reader)
}

func newPrivateKey(r io.Reader) (*PrivateKey, error) {
	pub, sk, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{
		sk: sk,
		pk: PublicKey(base58.Encode(pub)),
	}, nil
}

// PrivateKeyFromString parses the base58 seed produced by
// [PrivateKey.String].
func PrivateKeyFromString(s string) (*PrivateKey, error) {
	seed, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed has length %d", ErrInvalidPrivateKey, len(seed))
	}
	sk := ed25519.NewKeyFromSeed(seed)
	pub := sk.Public().(ed25519.PublicKey)
	return &PrivateKey{
		sk: sk,
		pk: PublicKey(base58.Encode(pub)),
	}, nil
}

func (k *PrivateKey) PublicKey() PublicKey {
	return k.pk
}

// Sign returns the signature of [msg].
func (k *PrivateKey) Sign(msg []byte) Signature {
	return Signature(base58.Encode(ed25519.Sign(k.sk, msg)))
}

// String returns the base58 encoded seed.
func (k *PrivateKey) String() string {
	return base58.Encode(k.sk.Seed())
}

// Hash returns the SHA3-256 digest of [b] as an id.
func Hash(b []byte) ids.ID {
	return ids.ID(sha3.Sum256(b))
}
