package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brennhill/mcp-runtime/internal/ratelimit"
	"github.com/brennhill/mcp-runtime/internal/transport"
)

func TestParseRateLimitValid(t *testing.T) {
	t.Parallel()
	rule, ok := parseRateLimit("100:60")
	require.True(t, ok)
	require.Equal(t, 100, rule.Limit)
	require.Equal(t, 60.0, rule.WindowSeconds)
	require.Equal(t, ratelimit.KeyIP, rule.KeyType)
	require.Equal(t, ratelimit.StrategyFixedWindow, rule.Strategy)
}

func TestParseRateLimitEmpty(t *testing.T) {
	t.Parallel()
	_, ok := parseRateLimit("")
	require.False(t, ok)
}

func TestParseRateLimitMalformed(t *testing.T) {
	t.Parallel()
	cases := []string{"100", "abc:60", "100:abc", "0:60", "100:0", "100:60:extra"}
	for _, spec := range cases {
		_, ok := parseRateLimit(spec)
		require.False(t, ok, "expected %q to be rejected", spec)
	}
}

func TestNewRootCmdRejectsBadPort(t *testing.T) {
	t.Parallel()
	cmd := newRootCmd()
	cmd.SetArgs([]string{"not-a-port"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.Execute()
	require.Error(t, err)
}

func TestNewRootCmdRejectsOutOfRangePort(t *testing.T) {
	t.Parallel()
	cmd := newRootCmd()
	cmd.SetArgs([]string{"99999"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.Execute()
	require.Error(t, err)
}

func TestSetupLoggerDefaultsToStderr(t *testing.T) {
	t.Parallel()
	logger, closer, err := setupLogger(&flags{logLevel: "debug"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	closer()
}

func TestSetupLoggerWritesToFile(t *testing.T) {
	t.Parallel()
	path := t.TempDir() + "/server.log"
	logger, closer, err := setupLogger(&flags{logLevel: "info", logFile: path})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("hello")
	closer()
}

func TestStartTransportUnknownKind(t *testing.T) {
	t.Parallel()
	logger, closer, err := setupLogger(&flags{logLevel: "error"})
	require.NoError(t, err)
	defer closer()
	fatalCh := make(chan error, 1)
	_, err = startTransport(&flags{transportKind: "carrier-pigeon"}, "127.0.0.1:0", transport.Limits{}, nil, logger, fatalCh)
	require.Error(t, err)
}
