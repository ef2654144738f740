// Package rpc serves the newline-delimited JSON-RPC 2.0 protocol over stdio.
// stdout carries responses and event notifications; logs must go elsewhere.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"loaf/internal/runtime"
	"loaf/internal/tools"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Error is a JSON-RPC error object; handlers return it to pick the code.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

func errInvalidParams(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

type request struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      json.RawMessage        `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// Event is the payload of an `event` notification.
type Event struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Handler serves one method.
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Server dispatches requests against a runtime.
type Server struct {
	rt  *runtime.Runtime
	log *zap.Logger

	mu       sync.Mutex // serializes writes to out
	out      io.Writer
	handlers map[string]Handler
}

// NewServer wires the standard method set.
func NewServer(rt *runtime.Runtime, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{rt: rt, log: log, handlers: map[string]Handler{}}
	s.handlers["initialize"] = s.handleInitialize
	s.handlers["tools/list"] = s.handleToolsList
	s.handlers["tools/call"] = s.handleToolsCall
	s.handlers["sessions/open"] = s.handleSessionsOpen
	s.handlers["sessions/list"] = s.handleSessionsList
	s.handlers["shell/sessions"] = s.handleShellSessions
	s.handlers["compaction/status"] = s.handleCompactionStatus
	s.handlers["compaction/run"] = s.handleCompactionRun
	return s
}

// Serve reads newline-delimited requests until EOF or ctx cancellation.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.mu.Lock()
	s.out = out
	s.mu.Unlock()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.dispatch(ctx, line)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, line string) {
	if strings.HasPrefix(line, "[") {
		s.write(response{JSONRPC: "2.0", Error: &Error{Code: CodeInvalidRequest, Message: "batch requests are not supported"}})
		return
	}

	var req request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.write(response{JSONRPC: "2.0", Error: &Error{Code: CodeParseError, Message: "parse error"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.write(response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: CodeInvalidRequest, Message: "invalid request"}})
		return
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		s.respondError(req.ID, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)})
		return
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &Error{Code: CodeInternalError, Message: err.Error()}
		}
		s.respondError(req.ID, rpcErr)
		return
	}
	if req.ID == nil {
		return // notification-style call: no response
	}
	s.write(response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) respondError(id json.RawMessage, rpcErr *Error) {
	s.write(response{JSONRPC: "2.0", ID: id, Error: rpcErr})
}

// Notify streams a runtime event to the client.
func (s *Server) Notify(eventType string, payload interface{}) {
	s.writeValue(notification{
		JSONRPC: "2.0",
		Method:  "event",
		Params: Event{
			Type:      eventType,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Payload:   payload,
		},
	})
}

func (s *Server) write(resp response) { s.writeValue(resp) }

func (s *Server) writeValue(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal rpc message", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return
	}
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.log.Warn("write rpc message", zap.Error(err))
	}
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok && v != ""
}

// --- handlers ---

func (s *Server) handleInitialize(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"server":  "loaf",
		"version": Version,
		"tools":   describeTools(s.rt.Registry().List()),
	}, nil
}

func (s *Server) handleToolsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"tools": describeTools(s.rt.Registry().List())}, nil
}

func describeTools(defs []tools.Definition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(defs))
	for _, d := range defs {
		entry := map[string]interface{}{
			"name":        d.Name,
			"description": d.Description,
		}
		if d.InputSchema != nil {
			entry["input_schema"] = d.InputSchema
		}
		out = append(out, entry)
	}
	return out
}

func (s *Server) handleToolsCall(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, ok := stringParam(params, "name")
	if !ok {
		return nil, errInvalidParams("name is required")
	}
	input, _ := params["input"].(map[string]interface{})
	id, _ := stringParam(params, "id")

	res := s.rt.ExecuteTool(ctx, tools.Call{ID: id, Name: name, Input: input})
	s.Notify("tool_result", map[string]interface{}{"name": name, "ok": res.OK})
	return res, nil
}

func (s *Server) handleSessionsOpen(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, ok := stringParam(params, "session_id")
	if !ok {
		return nil, errInvalidParams("session_id is required")
	}
	sess, err := s.rt.OpenSession(id)
	if err != nil {
		return nil, &Error{Code: CodeServerError, Message: err.Error()}
	}
	if err := s.rt.AttachSessionTools(sess); err != nil {
		return nil, &Error{Code: CodeServerError, Message: err.Error()}
	}
	return map[string]interface{}{
		"session_id": sess.ID,
		"rollout":    sess.RolloutPath,
		"events":     sess.EventCount(),
		"anchor":     sess.Anchor(),
	}, nil
}

func (s *Server) handleSessionsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"sessions": s.rt.ListSessions()}, nil
}

func (s *Server) handleShellSessions(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"sessions": s.rt.BackgroundSessions().List()}, nil
}

func (s *Server) handleCompactionStatus(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, ok := stringParam(params, "session_id")
	if !ok {
		return nil, errInvalidParams("session_id is required")
	}
	sess, err := s.rt.OpenSession(id)
	if err != nil {
		return nil, &Error{Code: CodeServerError, Message: err.Error()}
	}
	return map[string]interface{}{
		"session_id": sess.ID,
		"anchor":     sess.Anchor(),
		"events":     sess.EventCount(),
		"summary":    sess.Summary(),
	}, nil
}

func (s *Server) handleCompactionRun(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, ok := stringParam(params, "session_id")
	if !ok {
		return nil, errInvalidParams("session_id is required")
	}
	sess, err := s.rt.OpenSession(id)
	if err != nil {
		return nil, &Error{Code: CodeServerError, Message: err.Error()}
	}

	opts := runtime.CompactOptions{
		ModelContextWindowTokens: s.rt.Config().ModelContextWindowTokens,
	}
	if reason, ok := stringParam(params, "reason"); ok {
		opts.Reason = reason
	}
	if force, ok := params["force"].(bool); ok {
		opts.Force = force
	}
	if pinned, ok := params["pinned_token_estimate"].(float64); ok {
		opts.PinnedTokenEstimate = int(pinned)
	}

	res, err := sess.Compact(ctx, opts)
	if err != nil {
		return nil, &Error{Code: CodeServerError, Message: err.Error()}
	}
	if res.Compressed {
		s.Notify("compaction", map[string]interface{}{
			"session_id": sess.ID,
			"anchor":     res.NewAnchor,
			"reason":     opts.Reason,
		})
	}
	return map[string]interface{}{
		"compressed": res.Compressed,
		"anchor":     res.NewAnchor,
		"summary":    res.Summary,
	}, nil
}
