// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger exposes a node over HTTP.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/luxfi/constants"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/version"

	"github.com/luxfi/ledger/backend"
	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/keys"
	"github.com/luxfi/ledger/node"
	"github.com/luxfi/ledger/state"
	"github.com/luxfi/ledger/txs"
)

const (
	Software = "ledger"

	APIPrefix = "/api/v1"

	maxBodySize = 15 * constants.MiB
)

var (
	Version = &version.Semantic{
		Major: 0,
		Minor: 1,
		Patch: 0,
	}

	errMissingParameter   = errors.New("missing parameter")
	errConflictingQuery   = errors.New("exactly one of transaction_id and block_id is required")
	errTransactionExists  = errors.New("transaction already exists")
	errTransactionPending = errors.New("transaction is already in the backlog")
)

type NodeInfo struct {
	Software  string            `json:"software"`
	Version   string            `json:"version"`
	PublicKey keys.PublicKey    `json:"public_key"`
	Keyring   []keys.PublicKey  `json:"keyring"`
	API       map[string]string `json:"api"`
}

type TransactionReply struct {
	Transaction *txs.Tx        `json:"transaction"`
	Status      block.TxStatus `json:"status"`
}

type BlockReply struct {
	Block  *block.Block `json:"block"`
	Height uint64       `json:"height"`
	Status block.Status `json:"status"`
}

type StatusReply struct {
	Status string `json:"status"`
}

type ErrorReply struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type handler struct {
	log  log.Logger
	node *node.Node
}

// NewRESTHandler returns the REST endpoints of [n].
func NewRESTHandler(n *node.Node, logger log.Logger) http.Handler {
	h := &handler{
		log:  logger,
		node: n,
	}
	r := mux.NewRouter()
	r.HandleFunc("/", h.info).Methods(http.MethodGet)
	v1 := r.PathPrefix(APIPrefix).Subrouter()
	v1.HandleFunc("/transactions/{id}", h.getTransaction).Methods(http.MethodGet)
	v1.HandleFunc("/transactions", h.listTransactions).Methods(http.MethodGet)
	v1.HandleFunc("/transactions", h.postTransaction).Methods(http.MethodPost)
	v1.HandleFunc("/statuses", h.getStatus).Methods(http.MethodGet)
	v1.HandleFunc("/outputs", h.getOutputs).Methods(http.MethodGet)
	v1.HandleFunc("/blocks/{id}", h.getBlock).Methods(http.MethodGet)
	v1.HandleFunc("/votes", h.getVotes).Methods(http.MethodGet)
	return r
}

func (h *handler) info(w http.ResponseWriter, _ *http.Request) {
	fed := h.node.Federation()
	h.reply(w, http.StatusOK, &NodeInfo{
		Software:  Software,
		Version:   Version.String(),
		PublicKey: fed.PublicKey(),
		Keyring:   fed.Others(),
		API: map[string]string{
			"v1": APIPrefix + "/",
		},
	})
}

func (h *handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := ids.FromString(mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	tx, status, err := h.node.GetTransaction(r.Context(), txID)
	if err != nil {
		h.fail(w, statusCode(err), err)
		return
	}
	h.reply(w, http.StatusOK, &TransactionReply{
		Transaction: tx,
		Status:      status,
	})
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	assetID, err := queryID(r, "asset_id")
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	transactions, err := h.node.GetTransactionsByAssetID(r.Context(), assetID)
	if err != nil {
		h.fail(w, statusCode(err), err)
		return
	}
	h.reply(w, http.StatusOK, orEmpty(transactions))
}

func (h *handler) postTransaction(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	tx, err := txs.Parse(b)
	if err != nil {
		h.fail(w, http.StatusBadRequest, fmt.Errorf("Invalid transaction schema: %w", err))
		return
	}

	ctx := r.Context()
	committed, err := h.node.IsCommitted(ctx, tx.ID)
	if err != nil {
		h.fail(w, statusCode(err), err)
		return
	}
	if committed {
		h.fail(w, http.StatusBadRequest, fmt.Errorf("Invalid transaction: %w: %s", errTransactionExists, tx.ID))
		return
	}
	if _, err := h.node.ValidateTransaction(ctx, tx); err != nil {
		h.fail(w, http.StatusBadRequest, fmt.Errorf("Invalid transaction: %w", err))
		return
	}
	err = h.node.WriteTransaction(ctx, tx)
	if errors.Is(err, backend.ErrDuplicateKey) {
		h.fail(w, http.StatusBadRequest, fmt.Errorf("Invalid transaction: %w: %s", errTransactionPending, tx.ID))
		return
	}
	if err != nil {
		h.fail(w, statusCode(err), err)
		return
	}
	h.log.Debug("accepted transaction",
		log.Stringer("txID", tx.ID),
	)
	h.reply(w, http.StatusAccepted, tx)
}

func (h *handler) getStatus(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	txID, blkID := query.Get("transaction_id"), query.Get("block_id")
	if (txID == "") == (blkID == "") {
		h.fail(w, http.StatusBadRequest, errConflictingQuery)
		return
	}

	ctx := r.Context()
	if txID != "" {
		id, err := ids.FromString(txID)
		if err != nil {
			h.fail(w, http.StatusBadRequest, err)
			return
		}
		status, err := h.node.GetStatus(ctx, id)
		if err != nil {
			h.fail(w, statusCode(err), err)
			return
		}
		h.reply(w, http.StatusOK, &StatusReply{Status: status.String()})
		return
	}

	id, err := ids.FromString(blkID)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	_, status, err := h.node.GetBlock(ctx, id)
	if err != nil {
		h.fail(w, statusCode(err), err)
		return
	}
	h.reply(w, http.StatusOK, &StatusReply{Status: status.String()})
}

func (h *handler) getOutputs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	owner := keys.PublicKey(query.Get("public_key"))
	if owner == "" {
		h.fail(w, http.StatusBadRequest, fmt.Errorf("%w: public_key", errMissingParameter))
		return
	}
	if err := owner.Verify(); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	var spent *bool
	if s := query.Get("spent"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			h.fail(w, http.StatusBadRequest, fmt.Errorf("invalid spent filter %q: %w", s, err))
			return
		}
		spent = &v
	}

	outputs, err := h.node.GetOutputs(r.Context(), owner, spent)
	if err != nil {
		h.fail(w, statusCode(err), err)
		return
	}
	h.reply(w, http.StatusOK, orEmpty(outputs))
}

func (h *handler) getBlock(w http.ResponseWriter, r *http.Request) {
	blkID, err := ids.FromString(mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	blk, status, err := h.node.GetBlock(r.Context(), blkID)
	if err != nil {
		h.fail(w, statusCode(err), err)
		return
	}
	h.reply(w, http.StatusOK, &BlockReply{
		Block:  blk.Block,
		Height: blk.Height,
		Status: status,
	})
}

func (h *handler) getVotes(w http.ResponseWriter, r *http.Request) {
	blkID, err := queryID(r, "block_id")
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	votes, err := h.node.State().GetVotesByBlockID(r.Context(), blkID)
	if err != nil {
		h.fail(w, statusCode(err), err)
		return
	}
	h.reply(w, http.StatusOK, orEmpty(votes))
}

func queryID(r *http.Request, name string) (ids.ID, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return ids.Empty, fmt.Errorf("%w: %s", errMissingParameter, name)
	}
	return ids.FromString(s)
}

// orEmpty keeps empty lists from being encoded as null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func statusCode(err error) int {
	if errors.Is(err, state.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (h *handler) reply(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("couldn't write reply",
			log.Err(err),
		)
	}
}

func (h *handler) fail(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		h.log.Error("API request failed",
			log.Err(err),
		)
	}
	h.reply(w, code, &ErrorReply{
		Status:  code,
		Message: err.Error(),
	})
}
