// timeouts.go — default per-request timeout policy for synchronous Call
// invocations. Generalizes a per-tool timeout table into a pluggable
// policy keyed by method and, for call_tool, by tool name, rather than a
// hardcoded switch over specific tool names.
package client

import (
	"encoding/json"
	"time"
)

const (
	defaultFastTimeout = 10 * time.Second
	defaultSlowTimeout = 35 * time.Second
)

// TimeoutPolicy resolves the timeout to apply to a Call when the caller
// does not pass one explicitly.
type TimeoutPolicy struct {
	Default    time.Duration
	ByMethod   map[string]time.Duration
	ByToolName map[string]time.Duration // consulted only for method == "call_tool"
}

// DefaultTimeoutPolicy returns a policy with a single blanket default and
// no per-method or per-tool overrides. Callers register overrides for
// tools known to run long (e.g. ones that round-trip to an external
// process) via ByToolName.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Default:    defaultFastTimeout,
		ByMethod:   make(map[string]time.Duration),
		ByToolName: make(map[string]time.Duration),
	}
}

// Resolve returns the timeout for method, consulting ByToolName first
// when method is "call_tool" and the request names a tool, then
// ByMethod, then Default.
func (p TimeoutPolicy) Resolve(method string, paramsJSON json.RawMessage) time.Duration {
	if method == "call_tool" && len(paramsJSON) > 0 {
		var args struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(paramsJSON, &args) == nil && args.Name != "" {
			if d, ok := p.ByToolName[args.Name]; ok {
				return d
			}
		}
	}
	if d, ok := p.ByMethod[method]; ok {
		return d
	}
	if p.Default > 0 {
		return p.Default
	}
	return defaultFastTimeout
}

// SlowDefault is a convenience timeout for tools known to take longer
// than the blanket default, for callers building a ByToolName map.
const SlowDefault = defaultSlowTimeout
