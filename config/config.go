// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config reads and writes the JSON configuration file of a node.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/luxfi/utils/profiler"
	"github.com/luxfi/utils/ulimit"

	"github.com/luxfi/ledger/api/server"
	"github.com/luxfi/ledger/backend/kvdb"
	"github.com/luxfi/ledger/election"
	"github.com/luxfi/ledger/federation"
	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/node"
	"github.com/luxfi/ledger/pipeline"

	txexecutor "github.com/luxfi/ledger/txs/executor"
)

const (
	FileName = ".ledger"

	// Number of x characters shown in place of the private key.
	maskedLength = 45

	filePerms = 0o600
)

var (
	ErrNoKeypair       = errors.New("no keypair configured")
	ErrKeypairMismatch = errors.New("public key does not match private key")
	errInvalidReplicas = errors.New("invalid replica count")
	errInvalidShards   = errors.New("invalid shard count")
	errInvalidProfiler = errors.New("invalid profiler frequency")
)

type Keypair struct {
	Public  keys.PublicKey `json:"public"`
	Private string         `json:"private"`
}

type Database struct {
	kvdb.Config
	Replicas int `json:"replicas"`
	Shards   int `json:"shards"`
	// MinFreeDiskPercent is the free space below which the volume of a
	// badger database is reported unhealthy.
	MinFreeDiskPercent float64 `json:"minFreeDiskPercent"`
}

type Server struct {
	Bind            string        `json:"bind"`
	AllowedOrigins  []string      `json:"allowedOrigins"`
	AllowedHosts    []string      `json:"allowedHosts"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout"`
	server.HTTPConfig
}

type Recovery struct {
	// URI answers with the last confirmed block height. Recovery is skipped
	// when it is empty.
	URI string `json:"uri"`
}

type Config struct {
	Keypair        Keypair            `json:"keypair"`
	Keyring        []keys.PublicKey   `json:"keyring"`
	Database       Database           `json:"database"`
	Server         Server             `json:"server"`
	Pipeline       pipeline.Config    `json:"pipeline"`
	Election       election.Threshold `json:"election"`
	AssetCacheLife time.Duration      `json:"assetCacheLife"`
	Recovery       Recovery           `json:"recovery"`
	// FdLimit is the number of file descriptors the node asks for.
	FdLimit  uint64          `json:"fdLimit"`
	Profiler profiler.Config `json:"profiler"`
}

func Default() Config {
	return Config{
		Keyring: []keys.PublicKey{},
		Database: Database{
			Config: kvdb.Config{
				Engine:       kvdb.BadgerEngine,
				Path:         "ledger_data",
				Name:         "ledger",
				MaxValueSize: kvdb.DefaultMaxValueSize,
			},
			Replicas:           1,
			Shards:             1,
			MinFreeDiskPercent: 5,
		},
		Server: Server{
			Bind:            "localhost:9984",
			AllowedOrigins:  []string{"*"},
			AllowedHosts:    []string{"*"},
			ShutdownTimeout: 10 * time.Second,
			HTTPConfig: server.HTTPConfig{
				ReadTimeout:       30 * time.Second,
				ReadHeaderTimeout: 30 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       120 * time.Second,
			},
		},
		Pipeline:       pipeline.DefaultConfig(),
		Election:       election.TwoThirds,
		AssetCacheLife: txexecutor.DefaultAssetCacheLife,
		FdLimit:        ulimit.DefaultFDLimit,
		Profiler: profiler.Config{
			Dir:         "ledger_profiles",
			Freq:        15 * time.Minute,
			MaxNumFiles: 5,
		},
	}
}

// DefaultPath is the config file in the home directory of the user.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(home, FileName)
}

// Parse reads [b] over the defaults.
func Parse(b []byte) (Config, error) {
	c := Default()
	if len(b) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("couldn't parse config: %w", err)
	}
	return c, c.Verify()
}

// Load parses the file at [path]. A missing file is reported with an error
// matching [os.ErrNotExist].
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Write atomically replaces the file at [path] with [c].
func Write(path string, c Config) error {
	b, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, append(b, '\n'), filePerms)
}

func (c Config) Verify() error {
	for _, pk := range c.Keyring {
		if err := pk.Verify(); err != nil {
			return fmt.Errorf("invalid keyring entry %q: %w", pk, err)
		}
	}
	if c.Keypair.Private != "" {
		sk, err := keys.PrivateKeyFromString(c.Keypair.Private)
		if err != nil {
			return err
		}
		if c.Keypair.Public != "" && c.Keypair.Public != sk.PublicKey() {
			return fmt.Errorf("%w: %s", ErrKeypairMismatch, c.Keypair.Public)
		}
	}
	switch {
	case c.Database.Replicas < 1:
		return fmt.Errorf("%w: %d", errInvalidReplicas, c.Database.Replicas)
	case c.Database.Shards < 1:
		return fmt.Errorf("%w: %d", errInvalidShards, c.Database.Shards)
	case c.Profiler.Enabled && c.Profiler.Freq <= 0:
		return fmt.Errorf("%w: %s", errInvalidProfiler, c.Profiler.Freq)
	}
	return errors.Join(
		c.Pipeline.Verify(),
		c.Election.Verify(),
	)
}

// Masked returns a copy of [c] that is safe to display.
func (c Config) Masked() Config {
	if c.Keypair.Private != "" {
		c.Keypair.Private = strings.Repeat("x", maskedLength)
	}
	return c
}

// HasKeypair reports whether a private key is configured.
func (c Config) HasKeypair() bool {
	return c.Keypair.Private != ""
}

func (c Config) PrivateKey() (*keys.PrivateKey, error) {
	if !c.HasKeypair() {
		return nil, ErrNoKeypair
	}
	return keys.PrivateKeyFromString(c.Keypair.Private)
}

// SetKeypair records [sk] as the key pair of the node.
func (c *Config) SetKeypair(sk *keys.PrivateKey) {
	c.Keypair = Keypair{
		Public:  sk.PublicKey(),
		Private: sk.String(),
	}
}

// Federation returns the federation described by the key pair and keyring.
func (c Config) Federation() (*federation.Context, error) {
	sk, err := c.PrivateKey()
	if err != nil {
		return nil, err
	}
	return federation.New(sk, c.Keyring)
}

func (c Config) Node() node.Config {
	return node.Config{
		Threshold:      c.Election,
		AssetCacheLife: c.AssetCacheLife,
	}
}
