package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idelchi/sealr/internal/config"
	"github.com/idelchi/sealr/internal/pipeline"
)

// NewInspectCommand creates a new cobra command for the inspect subcommand.
func NewInspectCommand(v *viper.Viper, cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "inspect container",
		Short:   "Show a container's layout and identifier without the password",
		Args:    cobra.ExactArgs(1),
		PreRunE: preRun(v, cfg),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Show {
				return show(cmd.OutOrStdout(), cfg)
			}

			info, err := pipeline.New(pipeline.WithLogger(newLogger(cfg))).Inspect(cfg.Path())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()

			fmt.Fprintf(w, "Container:  %q\n", info.Path)
			//nolint:gosec // sizes are never negative
			fmt.Fprintf(w, "Size:       %s\n", humanize.IBytes(uint64(info.Size)))
			fmt.Fprintf(w, "Salt:       %d bytes\n", info.SaltSize)
			fmt.Fprintf(w, "Nonce:      %d bytes\n", info.NonceSize)
			fmt.Fprintf(w, "Payload:    %s\n", humanize.IBytes(uint64(info.PayloadSize))) //nolint:gosec

			if info.HasIdentifier {
				fmt.Fprintf(w, "Identifier: %q (%s)\n", info.Identifier, info.Mode)
			} else {
				fmt.Fprintln(w, "Identifier: none")
			}

			return nil
		},
	}
}
