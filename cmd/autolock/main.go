package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/autolock/internal/cli"
)

// version is stamped at release time via ldflags.
var version = "0.0.0-dev"

func main() {
	os.Exit(run())
}

func run() int {
	cmd := cli.NewRootCommand()
	cmd.Version = version
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
