// Command rshare replays pages through the resource sharing engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/rshare/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "rshare:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
