// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"context"
	"encoding/binary"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/wirecodec"
)

const rawCodecName = "cnode-raw"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// rawCodec passes a []byte payload through unencoded. The remote
// executor is an opaque external service: there is no shared
// protobuf schema to generate stubs from, so requests and responses
// are this package's own wire format instead, carried over grpc's
// transport.
type rawCodec struct{}

func (rawCodec) Name() string { return rawCodecName }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("executor: rawCodec.Marshal: unsupported type %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("executor: rawCodec.Unmarshal: unsupported type %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

// GRPCRemoteExecutor calls a remote-executor process over one opaque
// unary RPC per invocation.
type GRPCRemoteExecutor struct {
	conn   *grpc.ClientConn
	method string
}

// DialRemoteExecutor opens a connection to addr. Callers own the
// returned client's lifetime and must Close it.
func DialRemoteExecutor(ctx context.Context, addr string) (*GRPCRemoteExecutor, error) {
	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("executor: dial remote executor: %w", err)
	}
	return &GRPCRemoteExecutor{conn: conn, method: "/cnode.executor.v1.RemoteExecutor/Execute"}, nil
}

// Close tears down the underlying connection.
func (g *GRPCRemoteExecutor) Close() error {
	return g.conn.Close()
}

// Execute implements RemoteExecutor.
func (g *GRPCRemoteExecutor) Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error) {
	reqBytes, err := encodeRequest(req)
	if err != nil {
		return ExecutionResult{}, err
	}

	var respBytes []byte
	if err := g.conn.Invoke(ctx, g.method, &reqBytes, &respBytes); err != nil {
		return ExecutionResult{}, fmt.Errorf("executor: remote execute: %w", err)
	}
	return decodeResponse(respBytes)
}

// encodeRequest serializes an ExecutionRequest as: 1-byte contract
// address form, 32-byte address payload (a wallet-id is written
// little-endian into the first 4 bytes and the rest left zero), then
// the invocation transaction via wirecodec's
// canonical encoding.
func encodeRequest(req ExecutionRequest) ([]byte, error) {
	txBytes, err := wirecodec.EncodeTransaction(req.Invocation)
	if err != nil {
		return nil, fmt.Errorf("executor: encode invocation: %w", err)
	}

	out := make([]byte, 0, 33+len(txBytes))
	if req.Contract.IsWalletID() {
		out = append(out, 1)
		var idBuf [32]byte
		binary.LittleEndian.PutUint32(idBuf[:4], req.Contract.WalletID)
		out = append(out, idBuf[:]...)
	} else {
		out = append(out, 0)
		out = append(out, req.Contract.Key[:]...)
	}
	out = append(out, txBytes...)
	return out, nil
}

// decodeResponse parses the wire layout encodeResponse produces: a
// 4-byte emitted-transaction count, each prefixed by its own 4-byte
// length, followed by a 4-byte length-prefixed state blob.
func decodeResponse(data []byte) (ExecutionResult, error) {
	if len(data) < 4 {
		return ExecutionResult{}, fmt.Errorf("executor: response too short")
	}
	pos := 0
	count := binary.LittleEndian.Uint32(data[pos:])
	pos += 4

	emitted := make([]*types.Transaction, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(data) {
			return ExecutionResult{}, fmt.Errorf("executor: truncated emitted-transaction length")
		}
		n := binary.LittleEndian.Uint32(data[pos:])
		pos += 4
		if pos+int(n) > len(data) {
			return ExecutionResult{}, fmt.Errorf("executor: truncated emitted transaction")
		}
		tx, _, err := wirecodec.DecodeTransaction(data[pos : pos+int(n)])
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("executor: decode emitted transaction: %w", err)
		}
		emitted = append(emitted, tx)
		pos += int(n)
	}

	if pos+4 > len(data) {
		return ExecutionResult{}, fmt.Errorf("executor: truncated state length")
	}
	stateLen := binary.LittleEndian.Uint32(data[pos:])
	pos += 4
	if pos+int(stateLen) > len(data) {
		return ExecutionResult{}, fmt.Errorf("executor: truncated state blob")
	}
	state := append([]byte(nil), data[pos:pos+int(stateLen)]...)

	return ExecutionResult{Emitted: emitted, State: state}, nil
}

// encodeResponse is the inverse of decodeResponse: it produces the
// bytes GRPCRemoteExecutor.Execute expects back from a remote
// executor. Nothing in this module calls it.
func encodeResponse(result ExecutionResult) ([]byte, error) {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(len(result.Emitted)))

	for _, tx := range result.Emitted {
		txBytes, err := wirecodec.EncodeTransaction(tx)
		if err != nil {
			return nil, fmt.Errorf("executor: encode emitted transaction: %w", err)
		}
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(txBytes)))
		out = append(out, lenBuf...)
		out = append(out, txBytes...)
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(result.State)))
	out = append(out, lenBuf...)
	out = append(out, result.State...)
	return out, nil
}
