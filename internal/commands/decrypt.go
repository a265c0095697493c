package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idelchi/sealr/internal/config"
	"github.com/idelchi/sealr/internal/pipeline"
)

// NewDecryptCommand creates a new cobra command for the decrypt subcommand.
func NewDecryptCommand(v *viper.Viper, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "decrypt [flags] container",
		Aliases: []string{"dec"},
		Short:   "Open a container and extract it into a directory",
		Args:    cobra.ExactArgs(1),
		PreRunE: preRun(v, cfg),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Show {
				return show(cmd.OutOrStdout(), cfg)
			}

			return runDecrypt(cmd, cfg)
		},
	}

	cmd.Flags().StringP("output", "o", "", "Directory to extract into (default: container path without .sealr)")
	cmd.Flags().Bool("preserve-times", false, "Restore recorded modification times")
	cmd.Flags().Bool("shred", false, "Overwrite and delete the container after extracting")

	return cmd
}

func runDecrypt(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	logger := newLogger(cfg)
	container := cfg.Path()

	warnHostRisks(ctx, logger)

	output := cfg.Output
	if output == "" {
		output = config.OutputDir(container)
	}

	pw, err := password(ctx, cfg, false)
	if err != nil {
		return err
	}

	p := pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithPreserveTimes(cfg.PreserveTimes),
		pipeline.WithShredder(newShredder(cfg, logger)),
	)

	start := time.Now()

	res, err := p.Decrypt(ctx, pipeline.DecryptRequest{
		Container:      container,
		OutputDir:      output,
		Password:       pw,
		ShredContainer: cfg.Shred,
	})
	if err != nil {
		return err
	}

	if !cfg.Quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Opened %q -> %q\n", container, res.OutputDir)

		if res.Identifier != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Identifier: %q\n", res.Identifier)
		}

		if res.Shred != nil && res.ShredErr == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Shredded %q\n", container)
		}
	}

	if res.ShredErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", res.ShredErr)
	}

	if cfg.Stats {
		printStats(os.Stderr, summary{
			files:    res.Archive.Files,
			dirs:     res.Archive.Dirs,
			symlinks: res.Archive.Symlinks,
			content:  res.Archive.Bytes,
			duration: time.Since(start),
		})
	}

	return nil
}
