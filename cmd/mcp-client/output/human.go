// human.go — human-readable output formatter.
package output

import (
	"fmt"
	"strings"
)

// HumanFormatter produces human-readable output.
type HumanFormatter struct{}

// Format writes a human-readable representation of the result.
func (h *HumanFormatter) Format(w Writer, result *Result) error {
	var sb strings.Builder

	label := result.Method
	if result.Target != "" {
		label = fmt.Sprintf("%s %s", result.Method, result.Target)
	}

	if result.Success {
		sb.WriteString(fmt.Sprintf("[OK] %s\n", label))
	} else {
		sb.WriteString(fmt.Sprintf("[Error] %s\n", label))
		if result.Error != "" {
			sb.WriteString(fmt.Sprintf("   Error: %s\n", result.Error))
		}
	}

	if result.TextContent != "" {
		sb.WriteString("\n")
		sb.WriteString(result.TextContent)
		if !strings.HasSuffix(result.TextContent, "\n") {
			sb.WriteString("\n")
		}
	}

	if result.Data != nil && result.TextContent == "" {
		for k, v := range result.Data {
			sb.WriteString(fmt.Sprintf("   %s: %v\n", k, v))
		}
	}

	_, err := w.Write([]byte(sb.String()))
	return err
}
