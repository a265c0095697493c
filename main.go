// Command sealr seals files and directories into password-protected
// containers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"

	"github.com/idelchi/sealr/internal/commands"
	"github.com/idelchi/sealr/internal/pipeline"
)

// version is set at build time.
var version = "unknown - unofficial & generated by unknown"

const (
	exitError          = 1
	exitAuthentication = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.NewRootCommand(version).ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		code := exitError
		if errors.Is(err, pipeline.ErrAuthentication) {
			code = exitAuthentication
		}

		// SafeExit wipes every locked buffer before exiting.
		memguard.SafeExit(code)
	}

	memguard.Purge()
}
