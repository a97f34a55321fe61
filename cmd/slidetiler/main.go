// Command slidetiler tiles pathology whole-slide images in batches.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rshade/slidetiler/internal/cli"
	"github.com/rshade/slidetiler/pkg/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(extractExitCode(err))
	}
}

func run() error {
	root := cli.NewRootCmd(version.GetVersion())
	return root.ExecuteContext(context.Background())
}

// extractExitCode maps the error returned by run to the process exit code.
func extractExitCode(err error) int {
	return cli.ExitCode(err)
}
