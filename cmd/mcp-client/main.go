// main.go — entry point for mcp-client, a thin CLI front end over the
// internal/client request demultiplexer. Talks JSON-RPC to an mcp-server
// instance (or, with --transport stdio, to whatever has piped its
// stdin/stdout to this process) and renders results in the chosen format.
//
// Usage: mcp-client [global flags] <command> [args]
//
// Exit codes:
//
//	0 = success
//	1 = error (RPC call failed, wrong argument count, invalid flags, bad configuration)
//	2 = usage error (arguments or params that are not valid JSON, unknown transport)
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/brennhill/mcp-runtime/cmd/mcp-client/config"
	"github.com/brennhill/mcp-runtime/cmd/mcp-client/output"
	"github.com/brennhill/mcp-runtime/internal/bridge"
	"github.com/brennhill/mcp-runtime/internal/client"
	"github.com/brennhill/mcp-runtime/internal/mcp"
	"github.com/brennhill/mcp-runtime/internal/transport"
)

var version = "0.1.0"

var (
	flagHost      string
	flagPort      int
	flagTransport string
	flagFormat    string
	flagTimeout   int
	flagAPIKey    string
	flagNoAuto    bool
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return 0
}

// usageError marks an error as a CLI usage mistake (malformed JSON
// arguments, unknown transport) rather than a failed RPC, so main can
// report exit code 2.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }

func exitCodeFor(err error) int {
	if _, ok := err.(*usageError); ok {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 2
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return 1
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mcp-client",
		Short:         "CLI client for an MCP JSON-RPC runtime",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagHost, "host", "", "server host (default 127.0.0.1)")
	root.PersistentFlags().IntVar(&flagPort, "port", 0, "server port (default 7890)")
	root.PersistentFlags().StringVar(&flagTransport, "transport", "", "transport: tcp, stdio, or websocket (default tcp)")
	root.PersistentFlags().StringVar(&flagFormat, "format", "", "output format: human, json, or csv (default human)")
	root.PersistentFlags().IntVar(&flagTimeout, "timeout-ms", 0, "request timeout in milliseconds (default 10000)")
	root.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "API key sent with every request")
	root.PersistentFlags().BoolVar(&flagNoAuto, "no-auto-start", false, "do not auto-start the server if it is not reachable")

	root.AddCommand(newInitCmd())
	root.AddCommand(newToolsCmd())
	root.AddCommand(newResourcesCmd())
	root.AddCommand(newCallCmd())
	return root
}

func loadConfig() (config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.Config{}, err
	}
	flags := &config.FlagOverrides{}
	if flagHost != "" {
		flags.Host = &flagHost
	}
	if flagPort != 0 {
		flags.Port = &flagPort
	}
	if flagTransport != "" {
		flags.Transport = &flagTransport
	}
	if flagFormat != "" {
		flags.Format = &flagFormat
	}
	if flagTimeout != 0 {
		flags.Timeout = &flagTimeout
	}
	if flagAPIKey != "" {
		flags.APIKey = &flagAPIKey
	}
	if flagNoAuto {
		autoStart := false
		flags.AutoStart = &autoStart
	}
	return config.Load(cwd, flags)
}

// dial connects to the server over the configured transport, auto-starting
// an mcp-server process first when the connection is refused and
// AutoStart is enabled.
func dial(cfg config.Config) (*client.Client, error) {
	ct, err := clientTransport(cfg)
	if err != nil {
		return nil, err
	}
	c, err := client.Dial(ct)
	if err == nil {
		return c, nil
	}
	if !bridge.IsConnectionError(err) || !cfg.AutoStart || cfg.Transport != "tcp" {
		return nil, err
	}
	if startErr := autoStartServer(cfg); startErr != nil {
		return nil, fmt.Errorf("connect: %w (auto-start failed: %v)", err, startErr)
	}
	ct2, err := clientTransport(cfg)
	if err != nil {
		return nil, err
	}
	return client.Dial(ct2)
}

func clientTransport(cfg config.Config) (transport.ClientTransport, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	switch cfg.Transport {
	case "", "tcp":
		return transport.NewTCPClientTransport(addr, transport.Limits{}), nil
	case "stdio":
		return transport.NewStdioClientTransport(transport.Limits{}), nil
	case "websocket":
		return transport.NewWSClientTransport(fmt.Sprintf("ws://%s/ws", addr), transport.Limits{}), nil
	default:
		return nil, &usageError{fmt.Errorf("unknown transport %q", cfg.Transport)}
	}
}

// autoStartServer launches mcp-server as a detached background process and
// waits for it to accept TCP connections on cfg.Port.
func autoStartServer(cfg config.Config) error {
	binary, err := lookupServerBinary()
	if err != nil {
		return err
	}
	proc, err := spawnDetached(binary, fmt.Sprintf("%d", cfg.Port), "--host", cfg.Host)
	if err != nil {
		return err
	}
	go func() { _ = proc.Wait() }()
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c, err := net.DialTimeout("tcp", addr, 500*time.Millisecond); err == nil {
			_ = c.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server did not become ready on port %d within 5s", cfg.Port)
}

func timeoutFor(cfg config.Config) time.Duration {
	if cfg.Timeout <= 0 {
		return client.SlowDefault
	}
	return time.Duration(cfg.Timeout) * time.Millisecond
}

func withAPIKey(cfg config.Config, params map[string]any) map[string]any {
	if cfg.APIKey == "" {
		return params
	}
	if params == nil {
		params = map[string]any{}
	}
	params["apiKey"] = cfg.APIKey
	return params
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "perform the initialize handshake and print server capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := dial(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			raw, err := c.Call("initialize", withAPIKey(cfg, map[string]any{
				"protocolVersion": "2025-03-26",
				"capabilities":    map[string]any{},
				"clientInfo":      map[string]any{"name": "mcp-client", "version": version},
			}), timeoutFor(cfg))
			if err != nil {
				return err
			}

			var result mcp.MCPInitializeResult
			if err := json.Unmarshal(raw, &result); err != nil {
				return err
			}
			return output.GetFormatter(formatOrDefault(cfg)).Format(os.Stdout, &output.Result{
				Success: true,
				Method:  "initialize",
				Data: map[string]any{
					"server_name":      result.ServerInfo.Name,
					"server_version":   result.ServerInfo.Version,
					"protocol_version": result.ProtocolVersion,
				},
			})
		},
	}
}

func newToolsCmd() *cobra.Command {
	toolsCmd := &cobra.Command{Use: "tools", Short: "list or call tools"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := dial(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			raw, err := c.Call("list_tools", withAPIKey(cfg, nil), timeoutFor(cfg))
			if err != nil {
				return err
			}
			var result mcp.MCPToolsListResult
			if err := json.Unmarshal(raw, &result); err != nil {
				return err
			}
			names := make([]string, len(result.Tools))
			for i, t := range result.Tools {
				names[i] = t.Name
			}
			return output.GetFormatter(formatOrDefault(cfg)).Format(os.Stdout, &output.Result{
				Success: true,
				Method:  "list_tools",
				Data:    map[string]any{"tools": names, "count": len(names)},
			})
		},
	}

	callCmd := &cobra.Command{
		Use:   "call <name> [json-arguments]",
		Short: "invoke a tool by name with a JSON arguments object",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			argsJSON := json.RawMessage(`{}`)
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return &usageError{fmt.Errorf("arguments must be valid JSON, got %q", args[1])}
				}
				argsJSON = json.RawMessage(args[1])
			}

			c, err := dial(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			raw, err := c.Call("call_tool", withAPIKey(cfg, map[string]any{
				"name":      args[0],
				"arguments": argsJSON,
			}), timeoutFor(cfg))
			if err != nil {
				return err
			}
			var result mcp.MCPToolResult
			if err := json.Unmarshal(raw, &result); err != nil {
				return err
			}
			return output.GetFormatter(formatOrDefault(cfg)).Format(os.Stdout, &output.Result{
				Success:     !result.IsError,
				Method:      "call_tool",
				Target:      args[0],
				TextContent: joinContent(result.Content),
			})
		},
	}

	toolsCmd.AddCommand(listCmd, callCmd)
	return toolsCmd
}

func newResourcesCmd() *cobra.Command {
	resourcesCmd := &cobra.Command{Use: "resources", Short: "list or read resources"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list available resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := dial(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			raw, err := c.Call("list_resources", withAPIKey(cfg, nil), timeoutFor(cfg))
			if err != nil {
				return err
			}
			var result mcp.MCPResourcesListResult
			if err := json.Unmarshal(raw, &result); err != nil {
				return err
			}
			uris := make([]string, len(result.Resources))
			for i, r := range result.Resources {
				uris[i] = r.URI
			}
			return output.GetFormatter(formatOrDefault(cfg)).Format(os.Stdout, &output.Result{
				Success: true,
				Method:  "list_resources",
				Data:    map[string]any{"resources": uris, "count": len(uris)},
			})
		},
	}

	readCmd := &cobra.Command{
		Use:   "read <uri>",
		Short: "read a resource by URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := dial(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			raw, err := c.Call("read_resource", withAPIKey(cfg, map[string]any{"uri": args[0]}), timeoutFor(cfg))
			if err != nil {
				return err
			}
			var result mcp.MCPResourcesReadResult
			if err := json.Unmarshal(raw, &result); err != nil {
				return err
			}
			var parts []string
			for _, c := range result.Contents {
				parts = append(parts, c.Text)
			}
			return output.GetFormatter(formatOrDefault(cfg)).Format(os.Stdout, &output.Result{
				Success:     true,
				Method:      "read_resource",
				Target:      args[0],
				TextContent: strings.Join(parts, "\n"),
			})
		},
	}

	resourcesCmd.AddCommand(listCmd, readCmd)
	return resourcesCmd
}

// newCallCmd exposes a raw escape hatch: any method name with a JSON params
// object, for methods this CLI doesn't have a dedicated subcommand for.
func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [json-params]",
		Short: "send an arbitrary JSON-RPC request",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var params json.RawMessage = []byte(`{}`)
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return &usageError{fmt.Errorf("params must be valid JSON, got %q", args[1])}
				}
				params = json.RawMessage(args[1])
			}

			c, err := dial(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			raw, err := c.Call(args[0], params, timeoutFor(cfg))
			if err != nil {
				return err
			}
			return output.GetFormatter(formatOrDefault(cfg)).Format(os.Stdout, &output.Result{
				Success: true,
				Method:  args[0],
				Data:    map[string]any{"result": json.RawMessage(raw)},
			})
		},
	}
}

func joinContent(blocks []mcp.MCPContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n")
}

func formatOrDefault(cfg config.Config) string {
	if cfg.Format == "" {
		return "human"
	}
	return cfg.Format
}
