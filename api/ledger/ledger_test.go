// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ledger/backend/kvdb"
	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/federation"
	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/node"
	"github.com/luxfi/ledger/txs"
)

type environment struct {
	node   *node.Node
	server *httptest.Server
	sk     *keys.PrivateKey
}

func newEnvironment(t *testing.T) *environment {
	sk, err := keys.NewPrivateKey()
	require.NoError(t, err)
	fed, err := federation.New(sk, nil)
	require.NoError(t, err)
	g, err := kvdb.Open(kvdb.Config{Engine: kvdb.MemoryEngine}, log.NewNoOpLogger())
	require.NoError(t, err)
	n, err := node.New(context.Background(), fed, g, node.DefaultConfig(), log.NewNoOpLogger())
	require.NoError(t, err)

	rpcHandler, err := NewRPCHandler(n, log.NewNoOpLogger())
	require.NoError(t, err)
	mux := http.NewServeMux()
	mux.Handle("/ext/ledger", rpcHandler)
	mux.Handle("/", NewRESTHandler(n, log.NewNoOpLogger()))
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		require.NoError(t, n.Close())
		require.NoError(t, g.Close())
	})
	return &environment{
		node:   n,
		server: server,
		sk:     sk,
	}
}

func (e *environment) newCreate(t *testing.T) *txs.Tx {
	tx := txs.NewCreate(
		[]keys.PublicKey{e.sk.PublicKey()},
		[]*txs.Output{txs.NewOutput(1, e.sk.PublicKey())},
		txs.Asset{Data: map[string]any{"name": "bike"}},
		nil,
	)
	require.NoError(t, tx.Sign(e.sk))
	return tx
}

// commit puts [tx] into a block voted valid by the only voter.
func (e *environment) commit(t *testing.T, tx *txs.Tx) *block.Block {
	ctx := context.Background()
	blk, err := e.node.CreateBlock([]*txs.Tx{tx})
	require.NoError(t, err)
	_, err = e.node.WriteBlock(ctx, blk)
	require.NoError(t, err)
	v, err := e.node.Vote(blk.ID, ids.Empty, true, "")
	require.NoError(t, err)
	require.NoError(t, e.node.WriteVote(ctx, v))
	return blk
}

func (e *environment) get(t *testing.T, path string, reply any) int {
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(reply))
	return resp.StatusCode
}

func (e *environment) post(t *testing.T, path string, body []byte, reply any) int {
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(reply))
	return resp.StatusCode
}

func TestInfo(t *testing.T) {
	require := require.New(t)
	env := newEnvironment(t)

	var info NodeInfo
	require.Equal(http.StatusOK, env.get(t, "/", &info))
	require.Equal(Software, info.Software)
	require.Equal(Version.String(), info.Version)
	require.Equal(env.sk.PublicKey(), info.PublicKey)
	require.Empty(info.Keyring)
	require.Equal(APIPrefix+"/", info.API["v1"])
}

func TestPostTransaction(t *testing.T) {
	require := require.New(t)
	env := newEnvironment(t)
	tx := env.newCreate(t)
	b, err := tx.Bytes()
	require.NoError(err)

	var accepted txs.Tx
	require.Equal(http.StatusAccepted, env.post(t, APIPrefix+"/transactions", b, &accepted))
	require.Equal(tx.ID, accepted.ID)

	var reply TransactionReply
	require.Equal(http.StatusOK, env.get(t, APIPrefix+"/transactions/"+tx.ID.String(), &reply))
	require.Equal(block.TxBacklog, reply.Status)
	require.Equal(tx.ID, reply.Transaction.ID)

	var failure ErrorReply
	require.Equal(http.StatusBadRequest, env.post(t, APIPrefix+"/transactions", b, &failure))
	require.Contains(failure.Message, errTransactionPending.Error())

	require.Equal(http.StatusBadRequest, env.post(t, APIPrefix+"/transactions", []byte(`{"operation":`), &failure))
	require.Contains(failure.Message, "Invalid transaction schema")

	// Outputs of an unknown transaction can't be spent.
	transfer := txs.NewTransfer(tx.Spendable(), []*txs.Output{txs.NewOutput(1, env.sk.PublicKey())}, tx.ID, nil)
	require.NoError(transfer.Sign(env.sk))
	b, err = transfer.Bytes()
	require.NoError(err)
	require.Equal(http.StatusBadRequest, env.post(t, APIPrefix+"/transactions", b, &failure))
	require.Contains(failure.Message, "Invalid transaction")
}

func TestPostCommittedTransaction(t *testing.T) {
	require := require.New(t)
	env := newEnvironment(t)
	tx := env.newCreate(t)
	env.commit(t, tx)

	b, err := tx.Bytes()
	require.NoError(err)
	var failure ErrorReply
	require.Equal(http.StatusBadRequest, env.post(t, APIPrefix+"/transactions", b, &failure))
	require.Contains(failure.Message, errTransactionExists.Error())
}

func TestQueries(t *testing.T) {
	require := require.New(t)
	env := newEnvironment(t)
	tx := env.newCreate(t)
	blk := env.commit(t, tx)
	pk := env.sk.PublicKey().String()

	var status StatusReply
	require.Equal(http.StatusOK, env.get(t, APIPrefix+"/statuses?transaction_id="+tx.ID.String(), &status))
	require.Equal("valid", status.Status)
	require.Equal(http.StatusOK, env.get(t, APIPrefix+"/statuses?block_id="+blk.ID.String(), &status))
	require.Equal("valid", status.Status)

	var blkReply BlockReply
	require.Equal(http.StatusOK, env.get(t, APIPrefix+"/blocks/"+blk.ID.String(), &blkReply))
	require.Equal(blk.ID, blkReply.Block.ID)
	require.Equal(block.Valid, blkReply.Status)
	require.Equal(uint64(1), blkReply.Height)

	var transactions []*txs.Tx
	require.Equal(http.StatusOK, env.get(t, APIPrefix+"/transactions?asset_id="+tx.ID.String(), &transactions))
	require.Len(transactions, 1)

	var outputs []txs.OutputRef
	require.Equal(http.StatusOK, env.get(t, APIPrefix+"/outputs?public_key="+pk, &outputs))
	require.Equal([]txs.OutputRef{{TxID: tx.ID}}, outputs)
	require.Equal(http.StatusOK, env.get(t, APIPrefix+"/outputs?public_key="+pk+"&spent=true", &outputs))
	require.Empty(outputs)

	var votes []*block.Vote
	require.Equal(http.StatusOK, env.get(t, APIPrefix+"/votes?block_id="+blk.ID.String(), &votes))
	require.Len(votes, 1)
	require.True(votes[0].Vote.IsBlockValid)
}

func TestQueryErrors(t *testing.T) {
	env := newEnvironment(t)
	missing := ids.GenerateTestID().String()

	tests := []struct {
		name string
		path string
		code int
	}{
		{name: "unknown transaction", path: APIPrefix + "/transactions/" + missing, code: http.StatusNotFound},
		{name: "malformed transaction id", path: APIPrefix + "/transactions/nope", code: http.StatusBadRequest},
		{name: "unknown block", path: APIPrefix + "/blocks/" + missing, code: http.StatusNotFound},
		{name: "status without id", path: APIPrefix + "/statuses", code: http.StatusBadRequest},
		{name: "status with both ids", path: APIPrefix + "/statuses?transaction_id=" + missing + "&block_id=" + missing, code: http.StatusBadRequest},
		{name: "unknown status", path: APIPrefix + "/statuses?transaction_id=" + missing, code: http.StatusNotFound},
		{name: "transactions without asset", path: APIPrefix + "/transactions", code: http.StatusBadRequest},
		{name: "outputs without owner", path: APIPrefix + "/outputs", code: http.StatusBadRequest},
		{name: "outputs with bad filter", path: APIPrefix + "/outputs?public_key=" + env.sk.PublicKey().String() + "&spent=maybe", code: http.StatusBadRequest},
		{name: "votes without block", path: APIPrefix + "/votes", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var failure ErrorReply
			require.Equal(t, tt.code, env.get(t, tt.path, &failure))
			require.Equal(t, tt.code, failure.Status)
			require.NotEmpty(t, failure.Message)
		})
	}
}

func (e *environment) call(t *testing.T, method string, args any, reply any) error {
	b, err := json2.EncodeClientRequest(ServiceName+"."+method, args)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+"/ext/ledger", "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	return json2.DecodeClientResponse(resp.Body, reply)
}

func TestService(t *testing.T) {
	require := require.New(t)
	env := newEnvironment(t)
	tx := env.newCreate(t)
	blk := env.commit(t, tx)

	var txReply GetTransactionReply
	require.NoError(env.call(t, "GetTransaction", &GetArgs{ID: tx.ID}, &txReply))
	require.Equal(tx.ID, txReply.Transaction.ID)
	require.Equal(block.TxValid, txReply.Status)

	var statusReply GetStatusReply
	require.NoError(env.call(t, "GetStatus", &GetArgs{ID: tx.ID}, &statusReply))
	require.Equal(block.TxValid, statusReply.Status)

	var blkReply GetBlockStatusReply
	require.NoError(env.call(t, "GetBlockStatus", &GetArgs{ID: blk.ID}, &blkReply))
	require.Equal(block.Valid, blkReply.Status)
	require.Equal(uint64(1), blkReply.Height)

	err := env.call(t, "GetStatus", &GetArgs{ID: ids.GenerateTestID()}, &statusReply)
	require.ErrorContains(err, "not found")
}
