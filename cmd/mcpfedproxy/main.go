// Command mcpfedproxy runs the MCP federation proxy.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mcpfed/mcpfed/internal/cli/proxy"
	"github.com/mcpfed/mcpfed/internal/cliutil"
)

func main() {
	cmd := proxy.Command()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cliutil.CodeOf(err))
	}
}
