// output_test.go — tests for the human, JSON, and CSV output formatters.
package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHumanFormatterSuccess(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := &HumanFormatter{}
	result := &Result{Success: true, Method: "call_tool", Target: "ping", TextContent: "pong"}

	require.NoError(t, f.Format(&buf, result))
	out := buf.String()
	require.Contains(t, out, "[OK] call_tool ping")
	require.Contains(t, out, "pong")
}

func TestHumanFormatterError(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := &HumanFormatter{}
	result := &Result{Success: false, Method: "read_resource", Target: "server://status", Error: "not found"}

	require.NoError(t, f.Format(&buf, result))
	out := buf.String()
	require.Contains(t, out, "[Error] read_resource server://status")
	require.Contains(t, out, "Error: not found")
}

func TestHumanFormatterDataFallback(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := &HumanFormatter{}
	result := &Result{Success: true, Method: "list_tools", Data: map[string]any{"count": 3}}

	require.NoError(t, f.Format(&buf, result))
	require.Contains(t, buf.String(), "count: 3")
}

func TestJSONFormatter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := &JSONFormatter{}
	result := &Result{Success: true, Method: "call_tool", Target: "ping", TextContent: "pong"}

	require.NoError(t, f.Format(&buf, result))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, true, decoded["success"])
	require.Equal(t, "call_tool", decoded["method"])
	require.Equal(t, "ping", decoded["target"])
	require.Equal(t, "pong", decoded["text"])
}

func TestJSONFormatterOmitsEmptyFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := &JSONFormatter{}
	result := &Result{Success: true, Method: "initialize"}

	require.NoError(t, f.Format(&buf, result))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	_, hasTarget := decoded["target"]
	require.False(t, hasTarget)
	_, hasError := decoded["error"]
	require.False(t, hasError)
}

func TestCSVFormatterSingleResult(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := &CSVFormatter{}
	result := &Result{Success: true, Method: "call_tool", Target: "ping", Data: map[string]any{"latency_ms": 12}}

	require.NoError(t, f.Format(&buf, result))
	out := buf.String()
	require.Contains(t, out, "success,method,target,error,latency_ms")
	require.Contains(t, out, "true,call_tool,ping,,12")
}

func TestCSVFormatterMultipleResultsMergesDataKeys(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := &CSVFormatter{}
	results := []*Result{
		{Success: true, Method: "call_tool", Target: "a", Data: map[string]any{"x": 1}},
		{Success: false, Method: "call_tool", Target: "b", Error: "boom", Data: map[string]any{"y": 2}},
	}

	require.NoError(t, f.FormatMultiple(&buf, results))
	out := buf.String()
	require.Contains(t, out, "success,method,target,error,x,y")
	require.Contains(t, out, "true,call_tool,a,,1,")
	require.Contains(t, out, "false,call_tool,b,boom,,2")
}

func TestCSVFormatterEmptyResults(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := &CSVFormatter{}
	require.NoError(t, f.FormatMultiple(&buf, nil))
	require.Empty(t, buf.String())
}

func TestGetFormatter(t *testing.T) {
	t.Parallel()

	require.IsType(t, &JSONFormatter{}, GetFormatter("json"))
	require.IsType(t, &CSVFormatter{}, GetFormatter("csv"))
	require.IsType(t, &HumanFormatter{}, GetFormatter("human"))
	require.IsType(t, &HumanFormatter{}, GetFormatter("unknown"))
}
