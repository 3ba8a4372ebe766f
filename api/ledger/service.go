// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ledger/block"
	"github.com/luxfi/ledger/node"
	"github.com/luxfi/ledger/txs"
)

// ServiceName is the JSON-RPC namespace of [Service].
const ServiceName = "ledger"

// Service answers JSON-RPC queries about transactions and blocks.
type Service struct {
	log  log.Logger
	node *node.Node
}

// NewRPCHandler returns the JSON-RPC endpoint serving [Service].
func NewRPCHandler(n *node.Node, logger log.Logger) (http.Handler, error) {
	server := rpc.NewServer()
	codec := json2.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	return server, server.RegisterService(
		&Service{
			log:  logger,
			node: n,
		},
		ServiceName,
	)
}

type GetArgs struct {
	ID ids.ID `json:"id"`
}

type GetTransactionReply struct {
	Transaction *txs.Tx        `json:"transaction"`
	Status      block.TxStatus `json:"status"`
}

// GetTransaction returns a transaction and where it stands.
func (s *Service) GetTransaction(r *http.Request, args *GetArgs, reply *GetTransactionReply) error {
	s.log.Debug("API called",
		log.UserString("service", ServiceName),
		log.UserString("method", "getTransaction"),
		log.Stringer("txID", args.ID),
	)

	tx, status, err := s.node.GetTransaction(r.Context(), args.ID)
	if err != nil {
		return err
	}
	reply.Transaction = tx
	reply.Status = status
	return nil
}

type GetStatusReply struct {
	Status block.TxStatus `json:"status"`
}

// GetStatus returns where a transaction stands.
func (s *Service) GetStatus(r *http.Request, args *GetArgs, reply *GetStatusReply) error {
	s.log.Debug("API called",
		log.UserString("service", ServiceName),
		log.UserString("method", "getStatus"),
		log.Stringer("txID", args.ID),
	)

	status, err := s.node.GetStatus(r.Context(), args.ID)
	if err != nil {
		return err
	}
	reply.Status = status
	return nil
}

type GetBlockStatusReply struct {
	Status block.Status `json:"status"`
	Height uint64       `json:"height"`
}

// GetBlockStatus returns the election outcome of a block.
func (s *Service) GetBlockStatus(r *http.Request, args *GetArgs, reply *GetBlockStatusReply) error {
	s.log.Debug("API called",
		log.UserString("service", ServiceName),
		log.UserString("method", "getBlockStatus"),
		log.Stringer("blkID", args.ID),
	)

	blk, status, err := s.node.GetBlock(r.Context(), args.ID)
	if err != nil {
		return err
	}
	reply.Status = status
	reply.Height = blk.Height
	return nil
}
