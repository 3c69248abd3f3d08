package supervisor

import (
	"context"
	"fmt"
	"os/exec"
)

// CommandSpec is one pre- or post-command in a CustomRestartRequest.
// IsSafe must be true for the command to run unless the supervisor is
// configured with allow_unsafe_commands.
type CommandSpec struct {
	Cmd    string   `json:"cmd"`
	Args   []string `json:"args,omitempty"`
	IsSafe bool     `json:"is_safe"`
}

// CustomRestartRequest is the decoded payload of a custom-restart control
// plane command.
type CustomRestartRequest struct {
	Name         string        `json:"name"`
	PreCommands  []CommandSpec `json:"pre_commands,omitempty"`
	PostCommands []CommandSpec `json:"post_commands,omitempty"`
	Args         []string      `json:"args,omitempty"`
}

// runCommand runs one pre/post command to completion and surfaces a
// non-zero exit as an error.
func runCommand(ctx context.Context, name string, args []string) error {
	//nolint:gosec // G204: running an operator-supplied, is_safe-gated command is this function's purpose
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
