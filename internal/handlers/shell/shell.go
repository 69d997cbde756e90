package shell

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Cmd is a command run as a background task.
type Cmd struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
}

// Run executes the command; cancelling ctx kills the process.
func (c Cmd) Run(ctx context.Context) error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = c.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("shell error: %v; out=%s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
