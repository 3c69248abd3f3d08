// Command mcpfedsupervisor runs the process supervisor and its TCP control
// plane.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mcpfed/mcpfed/internal/cli/supervisor"
	"github.com/mcpfed/mcpfed/internal/cliutil"
)

func main() {
	cmd := supervisor.Command()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cliutil.CodeOf(err))
	}
}
