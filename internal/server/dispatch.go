// dispatch.go — the per-message worker pipeline: arena, parse, api-key
// peek, rate-limit check, method branch, response build. The message is
// parsed in full before the api-key and rate-limit checks run.
package server

import (
	"crypto/subtle"
	"encoding/json"

	"github.com/brennhill/mcp-runtime/internal/mcp"
	"github.com/brennhill/mcp-runtime/internal/ratelimit"
	"github.com/brennhill/mcp-runtime/internal/transport"
)

const maxPeekSize = 4096

// process runs on a worker goroutine for exactly one inbound message: it
// owns the per-task arena and is responsible for sending the response (or
// staying silent for a notification) on conn.
func (s *Server) process(conn transport.Conn, payload []byte) {
	a := s.arenas.Get()
	defer s.arenas.Put(a)

	arenaPayload := a.Alloc(len(payload))
	copy(arenaPayload, payload)

	var req mcp.JSONRPCRequest
	if err := json.Unmarshal(arenaPayload, &req); err != nil {
		s.send(conn, s.marshalResponse(nil, mcp.NewRPCError(mcp.KindParseError, "parse error: "+err.Error()), nil))
		return
	}

	if req.Method == "" {
		// No method: this is a response-shaped message. Servers do not
		// expect responses from clients; ignore it.
		return
	}

	if req.HasInvalidID() {
		s.send(conn, s.marshalResponse(nil, mcp.NewRPCError(mcp.KindInvalidRequest, "id must be a string, number, or absent"), nil))
		return
	}

	isNotification := !req.HasID()

	apiKey := peekAPIKey(arenaPayload)
	if s.cfg.APIKey != "" && !constantTimeEqual(apiKey, s.cfg.APIKey) {
		if !isNotification {
			s.send(conn, s.marshalResponse(req.ID, mcp.NewRPCError(mcp.KindAuthFailed, "invalid api key"), nil))
		}
		return
	}

	decision := s.limiter.Check(ratelimit.Keys{IP: conn.ClientIP(), APIKey: apiKey})
	if !decision.Allowed {
		if !isNotification {
			s.send(conn, s.marshalResponse(req.ID, mcp.NewRPCError(mcp.KindRateLimited, "rate limit exceeded"), nil))
		}
		return
	}

	if isNotification {
		if s.notify != nil {
			s.notify(req.Method, req.Params)
		}
		return
	}

	result, rpcErr, warnings := s.dispatchMethod(req)
	s.send(conn, s.marshalResponse(req.ID, rpcErr, result, warnings...))
}

func (s *Server) send(conn transport.Conn, payload []byte) {
	_ = conn.Send(payload) // best effort: the connection may already be gone
}

// marshalResponse builds the JSON-RPC envelope and appends any advisory
// warnings (e.g. unrecognized tool arguments) before serializing.
func (s *Server) marshalResponse(id any, rpcErr *mcp.RPCError, result json.RawMessage, warnings ...string) []byte {
	resp := mcp.JSONRPCResponse{JSONRPC: "2.0", ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr.ToJSONRPCError()
	} else {
		resp.Result = result
	}
	resp = mcp.AppendWarningsToResponse(resp, warnings)
	out, err := json.Marshal(resp)
	if err != nil {
		// Marshaling a JSONRPCResponse cannot fail in practice (no cyclic
		// references, no unsupported types); fall back defensively.
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return out
}

func peekAPIKey(payload []byte) string {
	n := len(payload)
	if n > maxPeekSize {
		n = maxPeekSize
	}
	var peek struct {
		APIKey string `json:"apiKey"`
	}
	_ = json.Unmarshal(payload[:n], &peek)
	return peek.APIKey
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
