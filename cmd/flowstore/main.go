// Command flowstore inspects, verifies and maintains a flow checkpoint
// database.
package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"

	"github.com/roach88/flowstore/internal/cli"
)

func main() {
	// Wipe the integrity key enclave on SIGINT/SIGTERM and on normal exit.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		memguard.Purge()
		os.Exit(cli.GetExitCode(err))
	}
}
