// main.go — entry point for mcp-server, a standalone MCP runtime binary.
// Wires internal/server's dispatch core to one of the four transports
// (tcp, stdio, http, websocket) and a minimal built-in tool/resource set
// for self-description and health checking.
//
// Usage: mcp-server PORT [flags]
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brennhill/mcp-runtime/internal/cache"
	"github.com/brennhill/mcp-runtime/internal/mcp"
	"github.com/brennhill/mcp-runtime/internal/ratelimit"
	"github.com/brennhill/mcp-runtime/internal/server"
	"github.com/brennhill/mcp-runtime/internal/transport"
)

var version = "0.1.0"

var startedAt = time.Now

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, errRuntimeFatal) {
			return 2
		}
		return 1
	}
	return 0
}

// errRuntimeFatal marks a failure that happened after the transport was
// already accepting connections, as distinct from a config/init failure.
var errRuntimeFatal = errors.New("runtime fatal")

type flags struct {
	host            string
	transportKind   string
	idleTimeoutMS   int
	maxMessageSize  int
	apiKey          string
	threadPool      int
	taskQueue       int
	cacheCapacity   int
	cacheTTL        time.Duration
	rateLimit       string
	logLevel        string
	logFile         string
	enableSessions  bool
	sessionTimeout  time.Duration
	allowedOrigins  []string
	enableCORS      bool
	enableLegacy    bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:     "mcp-server PORT",
		Short:   "standalone MCP JSON-RPC server",
		Version: version,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil || port < 1 || port > 65535 {
				return fmt.Errorf("PORT must be 1-65535, got %q", args[0])
			}
			return serve(port, f)
		},
	}

	cmd.Flags().StringVar(&f.host, "host", "127.0.0.1", "bind address")
	cmd.Flags().StringVar(&f.transportKind, "transport", "tcp", "transport: tcp, stdio, http, or websocket")
	cmd.Flags().IntVar(&f.idleTimeoutMS, "idle-timeout-ms", 0, "idle connection timeout in milliseconds (0 disables)")
	cmd.Flags().IntVar(&f.maxMessageSize, "max-message-size", 0, "maximum message size in bytes (0 uses the built-in default)")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "require this API key on every request (empty disables the check)")
	cmd.Flags().IntVar(&f.threadPool, "thread-pool", 0, "worker pool size (0 uses the built-in default)")
	cmd.Flags().IntVar(&f.taskQueue, "task-queue", 0, "per-worker task queue capacity (0 uses the built-in default)")
	cmd.Flags().IntVar(&f.cacheCapacity, "cache-capacity", 0, "resource cache entry capacity (0 uses the built-in default)")
	cmd.Flags().DurationVar(&f.cacheTTL, "cache-ttl", 0, "resource cache entry TTL (0 uses the built-in default)")
	cmd.Flags().StringVar(&f.rateLimit, "rate-limit", "", "per-IP fixed-window limit as requests:window-seconds, e.g. 100:60")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "write logs to this file instead of stderr")
	cmd.Flags().BoolVar(&f.enableSessions, "enable-sessions", false, "enable Streamable-HTTP session tracking (http transport only)")
	cmd.Flags().DurationVar(&f.sessionTimeout, "session-timeout", 10*time.Minute, "session idle timeout (http transport only)")
	cmd.Flags().StringSliceVar(&f.allowedOrigins, "allowed-origins", nil, "glob patterns of allowed Origin headers (http transport only)")
	cmd.Flags().BoolVar(&f.enableCORS, "enable-cors", false, "emit permissive CORS headers (http transport only)")
	cmd.Flags().BoolVar(&f.enableLegacy, "enable-legacy", false, "serve legacy /call_tool, /events, /tools endpoints (http transport only)")

	return cmd
}

func setupLogger(f *flags) (*slog.Logger, func(), error) {
	levelName, logFile := f.logLevel, f.logFile
	if v := os.Getenv("MCP_LOG_LEVEL"); v != "" {
		levelName = v
	}
	if v := os.Getenv("MCP_LOG_FILE"); v != "" {
		logFile = v
	}

	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	closer := func() {}
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = file
		closer = func() { _ = file.Close() }
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closer, nil
}

func serve(port int, f *flags) error {
	logger, closer, err := setupLogger(f)
	if err != nil {
		return err
	}
	defer closer()

	cfg := server.Config{
		ServerName:     "mcp-runtime",
		ServerVersion:  version,
		APIKey:         f.apiKey,
		MaxMessageSize: f.maxMessageSize,
		ThreadCount:    f.threadPool,
		QueueSize:      f.taskQueue,
		CacheCapacity:  f.cacheCapacity,
		CacheTTL:       f.cacheTTL,
	}
	if rule, ok := parseRateLimit(f.rateLimit); ok {
		cfg.RateLimitRules = []ratelimit.Rule{rule}
	}

	srv := server.New(cfg)
	registerBuiltins(srv)

	addr := fmt.Sprintf("%s:%d", f.host, port)
	limits := transport.Limits{
		MaxMessageSize: f.maxMessageSize,
		IdleTimeout:    time.Duration(f.idleTimeoutMS) * time.Millisecond,
	}

	// fatalCh receives at most one error: stdio has exactly one peer (the
	// parent process), so its read loop ending abnormally leaves nothing
	// left to serve. The other transports are multi-client; a single
	// connection dying there is logged but never fatal to the process.
	fatalCh := make(chan error, 1)
	st, err := startTransport(f, addr, limits, srv, logger, fatalCh)
	if err != nil {
		return err
	}
	logger.Info("mcp-server started", "transport", f.transportKind, "addr", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var fatal error
	select {
	case <-sigCh:
		logger.Info("shutting down")
	case fatal = <-fatalCh:
		logger.Error("shutting down after fatal transport error", "err", fatal)
	}

	st.Stop()
	srv.Shutdown()
	st.Destroy()
	if fatal != nil {
		return fmt.Errorf("%w: %v", errRuntimeFatal, fatal)
	}
	return nil
}

func parseRateLimit(spec string) (ratelimit.Rule, bool) {
	if spec == "" {
		return ratelimit.Rule{}, false
	}
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return ratelimit.Rule{}, false
	}
	limit, err1 := strconv.Atoi(parts[0])
	window, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || limit <= 0 || window <= 0 {
		return ratelimit.Rule{}, false
	}
	return ratelimit.Rule{
		Name:          "cli-per-ip",
		KeyType:       ratelimit.KeyIP,
		Strategy:      ratelimit.StrategyFixedWindow,
		Limit:         limit,
		WindowSeconds: window,
	}, true
}

// startTransport wires up the requested transport's onError callback so
// connection-level failures reach the logger instead of being silently
// dropped. Only stdio's callback also reports onto fatalCh, since stdio
// has a single peer and losing it ends the process; the other transports
// serve many clients and a lost connection there is not process-fatal.
func startTransport(f *flags, addr string, limits transport.Limits, srv *server.Server, logger *slog.Logger, fatalCh chan<- error) (transport.ServerTransport, error) {
	logConnError := func(c transport.Conn, err error) {
		kind := f.transportKind
		ip := ""
		if c != nil {
			kind = c.Kind().String()
			ip = c.ClientIP()
		}
		logger.Error("connection error", "transport", kind, "client", ip, "err", err)
	}

	switch f.transportKind {
	case "tcp":
		st := transport.NewTCPServer(addr, limits)
		return st, st.Start(srv.HandleMessage, logConnError)
	case "stdio":
		st := transport.NewStdioServer(os.Stdin, os.Stdout, limits)
		onError := func(c transport.Conn, err error) {
			logConnError(c, err)
			select {
			case fatalCh <- err:
			default:
			}
		}
		return st, st.Start(srv.HandleMessage, onError)
	case "websocket":
		st := transport.NewWSServer(addr, "/ws", limits, nil)
		return st, st.Start(srv.HandleMessage, logConnError)
	case "http":
		st := transport.NewHTTPStreamableServer(addr, transport.HTTPStreamableConfig{
			AllowedOrigins: f.allowedOrigins,
			EnableCORS:     f.enableCORS,
			EnableSessions: f.enableSessions,
			SessionTimeout: f.sessionTimeout,
			Limits:         limits,
			EnableLegacy:   f.enableLegacy,
		})
		return st, st.Start(srv.HandleMessage, logConnError)
	default:
		return nil, fmt.Errorf("unknown transport %q", f.transportKind)
	}
}

// registerBuiltins adds the self-describing resource and diagnostic tool
// every mcp-server instance exposes regardless of what a host application
// layers on top via the server package's public registration API.
func registerBuiltins(srv *server.Server) {
	srv.RegisterResource(mcp.ResourceDef{
		URI:         "server://status",
		Name:        "server-status",
		Description: "worker pool and cache diagnostics for this server instance",
		MimeType:    "application/json",
	})
	srv.SetResourceHandler(func(uri string) ([]cache.ContentItem, error) {
		if uri != "server://status" {
			return nil, fmt.Errorf("unknown resource: %s", uri)
		}
		status := map[string]any{
			"uptime_seconds":     time.Since(startedAt()).Seconds(),
			"oversize_dropped":   srv.OversizeDropped(),
			"queue_full_dropped": srv.QueueFullDropped(),
			"workers":            srv.PoolStats(),
		}
		data, err := json.Marshal(status)
		if err != nil {
			return nil, err
		}
		return []cache.ContentItem{{Type: cache.ContentJSON, MimeType: "application/json", Data: data}}, nil
	})

	srv.RegisterTool(
		mcp.ToolDef{
			Name:        "ping",
			Description: "echoes a message back, for connectivity checks",
			Fields: []mcp.ToolInputField{
				{Name: "message", Type: "string", Required: false},
			},
		},
		func(name string, argsJSON json.RawMessage) ([]cache.ContentItem, bool, error) {
			var args struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(argsJSON, &args)
			if args.Message == "" {
				args.Message = "pong"
			}
			return []cache.ContentItem{{Type: cache.ContentText, Data: []byte(args.Message)}}, false, nil
		},
	)
}
