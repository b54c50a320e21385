// config.go — server construction parameters.
package server

import (
	"time"

	"github.com/brennhill/mcp-runtime/internal/ratelimit"
)

// ProtocolVersion is the MCP wire protocol version this dispatch core
// speaks in initialize responses.
const ProtocolVersion = "2025-03-26"

const (
	defaultThreadCount    = 4
	defaultQueueSize      = 256
	defaultCacheCapacity  = 1000
	defaultCacheTTL       = 5 * time.Minute
	defaultMaxMessageSize = 1 << 20
)

// Config parameterizes a Server. The zero value is usable: every field
// below has a documented default applied by New.
type Config struct {
	ServerName    string
	ServerVersion string
	Instructions  string

	APIKey         string // empty disables the API-key check
	MaxMessageSize int

	ThreadCount int
	QueueSize   int

	CacheCapacity int
	CacheTTL      time.Duration

	RateLimitRules   []ratelimit.Rule
	DynamicRateLimit ratelimit.DynamicConfig
}

func (c Config) withDefaults() Config {
	if c.ServerName == "" {
		c.ServerName = "mcp-runtime"
	}
	if c.ServerVersion == "" {
		c.ServerVersion = "0.1.0"
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.ThreadCount <= 0 {
		c.ThreadCount = defaultThreadCount
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = defaultCacheCapacity
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	return c
}
