// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/backend/kvdb"
	"github.com/luxfi/ledger/config"
	"github.com/luxfi/ledger/keys"
)

func init() {
	newLogger = log.NewNoOpLogger
}

type result struct {
	stdout string
	stderr string
	err    error
}

func execute(ctx context.Context, input string, args ...string) result {
	var stdout, stderr bytes.Buffer
	root := Root()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(input))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return result{
		stdout: stdout.String(),
		stderr: stderr.String(),
		err:    err,
	}
}

func run(t *testing.T, path string, args ...string) result {
	return execute(context.Background(), "", append([]string{"--" + ConfigKey, path}, args...)...)
}

// newConfig writes a config with a key pair and an on-disk store.
func newConfig(t *testing.T) (string, config.Config) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	sk, err := keys.NewPrivateKey()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.SetKeypair(sk)
	cfg.Database.Path = filepath.Join(dir, "db")
	require.NoError(t, config.Write(path, cfg))
	return path, cfg
}

func topology(t *testing.T, cfg config.Config) backend.Topology {
	g, err := kvdb.Open(cfg.Database.Config, log.NewNoOpLogger())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, g.Close())
	}()
	topology, err := g.Topology(context.Background())
	require.NoError(t, err)
	return topology
}

func TestConfigure(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), config.FileName)

	res := run(t, path, "configure")
	require.NoError(res.err)
	require.Contains(res.stdout, "Configuration written to "+path)
	first, err := config.Load(path)
	require.NoError(err)
	require.True(first.HasKeypair())

	// Declining keeps the existing file.
	res = execute(context.Background(), "n\n", "--"+ConfigKey, path, "configure")
	require.NoError(res.err)
	require.Contains(res.stdout, "already exists")
	kept, err := config.Load(path)
	require.NoError(err)
	require.Equal(first, kept)

	res = run(t, path, "configure", "--"+YesKey)
	require.NoError(res.err)
	replaced, err := config.Load(path)
	require.NoError(err)
	require.NotEqual(first.Keypair, replaced.Keypair)
}

func TestShowConfig(t *testing.T) {
	require := require.New(t)
	path, cfg := newConfig(t)

	res := run(t, path, "show-config")
	require.NoError(res.err)
	require.NotContains(res.stdout, cfg.Keypair.Private)

	var shown config.Config
	require.NoError(json.Unmarshal([]byte(res.stdout), &shown))
	require.Equal(strings.Repeat("x", 45), shown.Keypair.Private)
	require.Equal(cfg.Keypair.Public, shown.Keypair.Public)
}

func TestExportMyPubkey(t *testing.T) {
	require := require.New(t)
	path, cfg := newConfig(t)

	res := run(t, path, "export-my-pubkey")
	require.NoError(res.err)
	require.Equal(cfg.Keypair.Public.String()+"\n", res.stdout)

	missing := filepath.Join(t.TempDir(), config.FileName)
	res = run(t, missing, "export-my-pubkey")
	require.ErrorIs(res.err, errNoPubkey)
	require.Equal("This node's public key wasn't set anywhere so it can't be exported", res.err.Error())
}

func TestInitAndDrop(t *testing.T) {
	require := require.New(t)
	path, cfg := newConfig(t)

	res := run(t, path, "init")
	require.NoError(res.err)
	require.Empty(res.stderr)

	res = run(t, path, "init")
	require.NoError(res.err)
	require.Equal("The database already exists.\nIf you wish to re-initialize it, first drop it.\n", res.stderr)

	// Declining keeps the database.
	res = execute(context.Background(), "n\n", "--"+ConfigKey, path, "drop")
	require.NoError(res.err)
	require.Equal(1, topology(t, cfg).Shards)

	res = run(t, path, "drop", "--"+YesKey)
	require.NoError(res.err)
	require.Empty(res.stderr)

	res = run(t, path, "drop", "--"+YesKey)
	require.NoError(res.err)
	require.Equal("Cannot drop 'ledger'. The database does not exist.\n", res.stderr)
}

func TestTopology(t *testing.T) {
	require := require.New(t)
	path, cfg := newConfig(t)
	require.NoError(run(t, path, "init").err)

	require.NoError(run(t, path, "set-shards", "4").err)
	require.NoError(run(t, path, "set-replicas", "3").err)
	require.NoError(run(t, path, "add-replicas", "db1:28015", "db2:28015").err)
	require.NoError(run(t, path, "remove-replicas", "db1:28015").err)

	require.Equal(backend.Topology{
		Shards:   4,
		Replicas: 3,
		Hosts:    []string{"db2:28015"},
	}, topology(t, cfg))

	require.ErrorIs(run(t, path, "set-shards", "0").err, backend.ErrOperation)
	require.ErrorIs(run(t, path, "remove-replicas", "db1:28015").err, backend.ErrOperation)
	require.Error(run(t, path, "set-replicas", "many").err)
}

func TestRecover(t *testing.T) {
	require := require.New(t)
	path, _ := newConfig(t)
	require.NoError(run(t, path, "init").err)

	require.NoError(run(t, path, "recover", "0").err)
	require.ErrorIs(run(t, path, "recover").err, errNoRecoveryHeight)
}

func TestStart(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)

	cfg := config.Default()
	cfg.Database.Engine = kvdb.MemoryEngine
	cfg.Server.Bind = "127.0.0.1:0"
	require.NoError(config.Write(path, cfg))

	res := run(t, path, "start")
	require.ErrorIs(res.err, config.ErrNoKeypair)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	res = execute(ctx, "", "--"+ConfigKey, path, "start", "--"+TempKeypairKey)
	require.NoError(res.err)
}
