// Package mcpstdio is the JSON-RPC-like stdio transport adapter from
// spec §4.2 ("AI-assistant tooling"): each call maps to a route in a
// restricted subset (system, logs, database/memory, model info) and
// the adapter exposes no network listener. Grounded on the teacher's
// internal/mcpgw MCP gateway (JSON-RPC 2.0 request/response framing
// over newline-delimited stdio) narrowed to the route allowlist this
// transport is permitted to reach.
package mcpstdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/ocentra/tabagentd/internal/dispatch"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/routespec"
	"github.com/ocentra/tabagentd/pkg/value"
	"github.com/rs/zerolog"
)

// allowedRoutes is the restricted subset spec §4.2 names: system
// introspection, logs (including ClearLogs), database/memory, and
// model info — generation and model load/unload routes are
// deliberately absent.
var allowedRoutes = map[string]bool{
	"Health":             true,
	"SystemInfo":         true,
	"Stats":              true,
	"GetSystemResources": true,
	"ListModels":         true,
	"QueryLogs":          true,
	"GetLogStats":        true,
	"ClearLogs":          true,
	"SearchNodes":        true,
	"GetNodeDetails":     true,
	"SemanticSearch":     true,
}

// request is a JSON-RPC 2.0 request object, narrowed to the fields
// this adapter uses.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Adapter drives newline-delimited JSON-RPC frames over an arbitrary
// io.Reader/io.Writer pair (os.Stdin/os.Stdout in production).
type Adapter struct {
	disp  *dispatch.Dispatcher
	state any
	log   zerolog.Logger
}

// New builds an mcpstdio Adapter over a populated Dispatcher.
func New(disp *dispatch.Dispatcher, state any, log zerolog.Logger) *Adapter {
	return &Adapter{disp: disp, state: state, log: log}
}

// Serve reads one JSON-RPC request per line until EOF or ctx is
// canceled, writing one JSON-RPC response per line.
func (a *Adapter) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	enc := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			a.writeResp(enc, response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "parse error"}})
			continue
		}

		a.handle(ctx, req, enc)
	}
	return scanner.Err()
}

func (a *Adapter) handle(ctx context.Context, req request, enc *json.Encoder) {
	if !allowedRoutes[req.Method] {
		a.writeResp(enc, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: "method not in the stdio allowlist"}})
		return
	}

	caller := dispatch.Caller{Authenticated: true, AuthClass: routespec.AuthInternal}
	reqID := ids.NewRequestId()

	out, derr := a.disp.DispatchDecoded(ctx, value.ValueType(req.Method), req.Params, reqID, caller, "mcpstdio", a.state)
	if derr != nil {
		code := codeInternalError
		if derr.Kind == apperr.Validation || derr.Kind == apperr.Protocol {
			code = codeInvalidParams
		}
		a.writeResp(enc, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: code, Message: derr.Message}})
		return
	}

	raw, merr := json.Marshal(out.Payload())
	if merr != nil {
		a.writeResp(enc, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInternalError, Message: "failed to marshal result"}})
		return
	}
	a.writeResp(enc, response{JSONRPC: "2.0", ID: req.ID, Result: raw})
}

func (a *Adapter) writeResp(enc *json.Encoder, resp response) {
	if err := enc.Encode(resp); err != nil {
		a.log.Error().Err(err).Msg("mcpstdio: failed to write response")
	}
}
