package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/idelchi/gogen/pkg/cobraext"
	"github.com/idelchi/sealr/internal/config"
	"github.com/idelchi/sealr/internal/shred"
)

// NewRootCommand creates the root command with common configuration.
// It sets up environment variable binding and flag handling.
func NewRootCommand(version string) *cobra.Command {
	cfg := &config.Config{}
	v := newViper()

	root := cobraext.NewDefaultRootCommand(version)

	root.Use = "sealr [flags] command [flags]"
	root.Short = "Password-sealed file and directory containers"
	root.Long = `sealr archives a file or directory, encrypts it with a key derived from a
password and writes the result to a single container file.

The password is read from the terminal, from SEALR_PASSWORD or from the file
named by --password-file. SEALR_PASSWORD is cleared once read, but its value
may linger in process memory that cannot be wiped; prefer the prompt or
--password-file.`

	// main prints errors itself and usage is noise for runtime failures.
	root.SilenceUsage = true
	root.SilenceErrors = true

	root.PersistentFlags().BoolP("show", "s", false, "Show the configuration and exit")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log every archived entry and state transition")
	root.PersistentFlags().BoolP("quiet", "q", false, "Suppress non-error output")
	root.PersistentFlags().Bool("stats", false, "Print a summary after the operation")
	root.PersistentFlags().
		StringP("password-file", "p", "", "Read the password from the first line of this file (safer than SEALR_PASSWORD)")
	root.PersistentFlags().Int("passes", shred.DefaultPasses, "Overwrite passes used when shredding")
	root.PersistentFlags().
		IntP("parallel", "j", runtime.NumCPU(), "Number of files shredded in parallel, defaults to number of CPUs")

	root.AddCommand(
		NewEncryptCommand(v, cfg),
		NewDecryptCommand(v, cfg),
		NewInspectCommand(v, cfg),
		NewShredCommand(v, cfg),
	)

	return root
}
