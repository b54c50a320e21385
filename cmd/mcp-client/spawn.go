package main

import (
	"fmt"
	"os"
	"os/exec"
)

// lookupServerBinary finds the mcp-server binary in PATH.
func lookupServerBinary() (string, error) {
	binary, err := exec.LookPath("mcp-server")
	if err != nil {
		return "", fmt.Errorf("mcp-server not found in PATH: %w", err)
	}
	return binary, nil
}

// spawnDetached launches binary with args as a background process that
// outlives this one.
func spawnDetached(binary string, args ...string) (*os.Process, error) {
	cmd := exec.Command(binary, args...)
	cmd.Stdout = nil
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}
	return cmd.Process, nil
}
