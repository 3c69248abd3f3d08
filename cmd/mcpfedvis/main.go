// Command mcpfedvis shows or hides capability tools by editing their
// source YAML files.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mcpfed/mcpfed/internal/cli/vis"
	"github.com/mcpfed/mcpfed/internal/cliutil"
)

func main() {
	cmd := vis.Command()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cliutil.CodeOf(err))
	}
}
