// Package mcpbridge implements a Model Context Protocol (MCP) server that
// exposes lifecycled operations as MCP tools.
//
// The server speaks JSON-RPC 2.0 over stdio. Transition rejections from
// lifecycled are returned as tool results carrying the rejection code, so a
// host can tell ROLE_DENIED from GUARD_FAILURE without parsing text. Bad
// arguments are protocol errors with the offending tool in the error data.
package mcpbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "nzila-mcp-bridge"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

const instructions = "Each resource follows a state machine. Call describe_machine to learn its states, " +
	"then available_transitions before attempt_transition. A rejected transition reports its code " +
	"(ROLE_DENIED, GUARD_FAILURE, NO_SUCH_EDGE, ALREADY_TERMINAL) in structuredContent.rejection."

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"` // absent on notifications
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// methodFunc answers one request. A non-nil *rpcError is sent instead of the
// result.
type methodFunc func(ctx context.Context, params json.RawMessage) (any, *rpcError)

// Server is a stdio MCP server over a ToolRegistry.
type Server struct {
	tools   *ToolRegistry
	version string
	logger  *zap.Logger

	mu  sync.Mutex // guards enc
	enc *json.Encoder
	wg  sync.WaitGroup

	methods map[string]methodFunc
	async   map[string]bool
}

// NewServer creates a server that writes responses to w. The logger must not
// write to w.
func NewServer(w io.Writer, tools *ToolRegistry, logger *zap.Logger) *Server {
	s := &Server{tools: tools, version: "0.1.0", logger: logger, enc: json.NewEncoder(w)}
	s.methods = map[string]methodFunc{
		"initialize": s.initialize,
		"ping":       func(context.Context, json.RawMessage) (any, *rpcError) { return struct{}{}, nil },
		"tools/list": s.listTools,
		"tools/call": s.callTool,
	}
	// Tool calls reach lifecycled over the network.
	s.async = map[string]bool{"tools/call": true}
	return s
}

// SetVersion overrides the version reported in serverInfo.
func (s *Server) SetVersion(v string) {
	s.version = v
}

// Serve reads newline-delimited requests from r until EOF or ctx is done,
// then waits for in-flight tool calls.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	defer s.wg.Wait()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if line := sc.Bytes(); len(line) > 0 {
			s.handleLine(ctx, line)
		}
	}
	return sc.Err()
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.send(response{ID: json.RawMessage(`null`), Error: &rpcError{Code: codeParseError, Message: "parse error"}})
		return
	}
	if len(req.ID) == 0 {
		return
	}

	fn, ok := s.methods[req.Method]
	if !ok {
		s.send(response{ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}})
		return
	}
	run := func() {
		result, rerr := fn(ctx, req.Params)
		if rerr != nil {
			s.send(response{ID: req.ID, Error: rerr})
			return
		}
		s.send(response{ID: req.ID, Result: result})
	}
	if !s.async[req.Method] {
		run()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run()
	}()
}

func (s *Server) initialize(context.Context, json.RawMessage) (any, *rpcError) {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": serverName, "version": s.version},
		"instructions":    instructions,
	}, nil
}

func (s *Server) listTools(context.Context, json.RawMessage) (any, *rpcError) {
	return map[string]any{"tools": s.tools.Definitions()}, nil
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
	}

	res, err := s.tools.Call(ctx, p.Name, p.Arguments)
	if err != nil {
		var argErr *ArgumentError
		switch {
		case errors.As(err, &argErr):
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error(), Data: argErr}
		case errors.Is(err, ErrUnknownTool):
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error(), Data: map[string]string{"tool": p.Name}}
		default:
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
	}

	fields := []zap.Field{zap.String("tool", p.Name), zap.Bool("is_error", res.IsError)}
	if res.Rejection != nil {
		fields = append(fields, zap.String("code", res.Rejection.Code), zap.Int("status", res.Rejection.Status))
	}
	s.logger.Info("tool call", fields...)

	out := map[string]any{
		"content": []map[string]any{{"type": "text", "text": res.Text}},
		"isError": res.IsError,
	}
	if res.Rejection != nil {
		out["structuredContent"] = map[string]any{"rejection": res.Rejection}
	}
	return out, nil
}

func (s *Server) send(resp response) {
	resp.JSONRPC = "2.0"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(resp); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}
