/*
main.go - Application entry point

PURPOSE:
  Runs the qurban command line. All wiring lives in package cli.

COMMANDS:
  serve     HTTP API with graceful shutdown on SIGINT/SIGTERM
  seed      Play a YAML or built-in scenario against the database
  analyze   Report open discrepancies with strategy previews

CONFIGURATION:
  Defaults, then .env (--env-file), then QURBAN_* environment variables,
  then flags. See config/config.go for the variable list.

EXAMPLES:
  # Run with file database
  ./server serve --db=./data/qurban.db

  # Run with in-memory database on another port
  ./server serve --db=:memory: --port=3000

  # Seed the demo scenario, then check what is left open
  ./server seed weigh-ship-receive
  ./server analyze --strict

SEE ALSO:
  - cli/serve.go: Server startup and shutdown
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"

	"github.com/warp/qurban-ledger/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
