// server.go — the dispatch core: registries, the worker pool, and the
// transport message callback that drives them.
package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/brennhill/mcp-runtime/internal/arena"
	"github.com/brennhill/mcp-runtime/internal/cache"
	"github.com/brennhill/mcp-runtime/internal/mcp"
	"github.com/brennhill/mcp-runtime/internal/ratelimit"
	"github.com/brennhill/mcp-runtime/internal/transport"
	"github.com/brennhill/mcp-runtime/internal/workerpool"
)

// ResourceHandler resolves a URI into fresh content items on a cache miss.
// The handler owns the returned slice; the core deep-copies it into the
// cache and the response.
type ResourceHandler func(uri string) ([]cache.ContentItem, error)

// ToolHandler executes a tool call. argumentsJSON is the raw `arguments`
// value from the request, or `{}` when omitted.
type ToolHandler func(name string, argumentsJSON json.RawMessage) (items []cache.ContentItem, isError bool, err error)

// NotificationHandler receives JSON-RPC notifications (requests with no id).
type NotificationHandler func(method string, params json.RawMessage)

type toolEntry struct {
	def     mcp.ToolDef
	handler ToolHandler
}

// Server is the dispatch core: it owns the registries, the cache, the
// rate limiter, and the worker pool that executes one task per inbound
// message. It is transport-agnostic — HandleMessage satisfies
// transport.MessageCallback and can be handed to any of TCPServer,
// WSServer, HTTPStreamableServer, or StdioServer.
type Server struct {
	cfg Config

	pool    *workerpool.Pool
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	arenas  *arena.Pool

	mu        sync.RWMutex
	resources []mcp.ResourceDef
	templates []mcp.ResourceTemplateDef
	tools     map[string]toolEntry

	resourceHandler ResourceHandler
	notify          NotificationHandler

	oversizeDropped  atomic.Int64
	queueFullDropped atomic.Int64
}

// New constructs a Server ready to register resources/tools and accept
// HandleMessage calls. The worker pool starts immediately.
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:     cfg,
		pool:    workerpool.New(cfg.ThreadCount, cfg.QueueSize),
		cache:   cache.New(cfg.CacheCapacity, cfg.CacheTTL),
		limiter: ratelimit.New(cfg.RateLimitRules, cfg.DynamicRateLimit),
		arenas:  arena.NewPool(arena.DefaultBlockSize),
		tools:   make(map[string]toolEntry),
	}
}

// RegisterResource adds a resource to the grow-only registry.
func (s *Server) RegisterResource(def mcp.ResourceDef) {
	s.mu.Lock()
	s.resources = append(s.resources, def)
	s.mu.Unlock()
}

// RegisterResourceTemplate adds a resource template to the grow-only
// registry.
func (s *Server) RegisterResourceTemplate(def mcp.ResourceTemplateDef) {
	s.mu.Lock()
	s.templates = append(s.templates, def)
	s.mu.Unlock()
}

// RegisterTool adds a tool and its handler to the registry. Re-registering
// a name overwrites the previous entry.
func (s *Server) RegisterTool(def mcp.ToolDef, handler ToolHandler) {
	s.mu.Lock()
	s.tools[def.Name] = toolEntry{def: def, handler: handler}
	s.mu.Unlock()
}

// SetResourceHandler installs the handler consulted on a cache miss during
// read_resource.
func (s *Server) SetResourceHandler(h ResourceHandler) { s.resourceHandler = h }

// SetNotificationHandler installs the handler invoked for inbound
// notifications (requests with no id).
func (s *Server) SetNotificationHandler(h NotificationHandler) { s.notify = h }

// Cache exposes the resource cache, e.g. so a caller can Invalidate a URI
// after a resource changes out of band.
func (s *Server) Cache() *cache.Cache { return s.cache }

// Limiter exposes the rate limiter for diagnostics and periodic Housekeep.
func (s *Server) Limiter() *ratelimit.Limiter { return s.limiter }

// PoolStats reports per-worker executed/stolen counters.
func (s *Server) PoolStats() []workerpool.WorkerStats { return s.pool.Stats() }

// OversizeDropped counts messages dropped for exceeding MaxMessageSize.
func (s *Server) OversizeDropped() int64 { return s.oversizeDropped.Load() }

// QueueFullDropped counts messages dropped because every worker deque was
// full at submission time.
func (s *Server) QueueFullDropped() int64 { return s.queueFullDropped.Load() }

// HandleMessage implements transport.MessageCallback: it size-checks the
// payload, copies it, and hands it to the worker pool. The pool owns the
// reply — HandleMessage returns (nil, false) once a task is submitted,
// (nil, true) to tell the transport no response is coming (oversize
// payload; the request id is unknown so nothing can be framed), or an
// id-less error response with true when the pool rejects the task.
func (s *Server) HandleMessage(conn transport.Conn, payload []byte) ([]byte, bool) {
	if len(payload) > s.cfg.MaxMessageSize {
		s.oversizeDropped.Add(1)
		return nil, true
	}

	payloadCopy := append([]byte(nil), payload...)
	if err := s.pool.Submit(func() { s.process(conn, payloadCopy) }); err != nil {
		s.queueFullDropped.Add(1)
		resp := s.marshalResponse(nil, mcp.NewRPCError(mcp.KindInternal, fmt.Sprintf("server overloaded: %v", err)), nil)
		return resp, true
	}
	return nil, false
}

// Shutdown drains the worker pool gracefully, then destroys it.
func (s *Server) Shutdown() { s.pool.Destroy() }
