// Package stdio exposes identity, trust, ledger, and policy operations
// over a newline-delimited JSON request/response loop on stdin/stdout,
// for hosts that embed the governance core as a subprocess rather than
// an HTTP peer.
package stdio

import (
	"bufio"
	"encoding/json"
	"io"

	"trustcore/errkit"
	"trustcore/identity"
	"trustcore/ledger"
	"trustcore/trust"
)

// Request is one line of input: a method name and its raw JSON params.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is one line of output, echoing the request id.
type Response struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError mirrors errkit.Error's shape for wire transport.
type ResponseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Config captures the components a Loop dispatches to.
type Config struct {
	Identity *identity.Store
	Trust    *trust.Engine
	Ledger   *ledger.Engine
}

// Loop reads newline-delimited Requests from r and writes newline-delimited
// Responses to w until r is exhausted or yields an unrecoverable read error.
type Loop struct {
	identity *identity.Store
	trust    *trust.Engine
	ledger   *ledger.Engine
}

// NewLoop constructs a Loop bound to the given components.
func NewLoop(cfg Config) *Loop {
	return &Loop{identity: cfg.Identity, trust: cfg.Trust, ledger: cfg.Ledger}
}

// Run drives the request/response loop. It returns nil on a clean EOF.
func (l *Loop) Run(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(w)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(Response{Error: &ResponseError{Kind: string(errkit.InvalidInput), Message: "malformed request line"}})
			continue
		}
		resp := l.dispatch(req)
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (l *Loop) dispatch(req Request) Response {
	result, err := l.call(req.Method, req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: toResponseError(err)}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: &ResponseError{Kind: string(errkit.CorruptState), Message: err.Error()}}
	}
	return Response{ID: req.ID, Result: raw}
}

func toResponseError(err error) *ResponseError {
	if e, ok := err.(*errkit.Error); ok {
		return &ResponseError{Kind: string(e.Kind), Message: e.Message}
	}
	return &ResponseError{Kind: string(errkit.CorruptState), Message: err.Error()}
}
