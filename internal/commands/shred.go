package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idelchi/sealr/internal/config"
)

// NewShredCommand creates a new cobra command for the shred subcommand.
func NewShredCommand(v *viper.Viper, cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "shred [flags] paths...",
		Short: "Overwrite and delete files or directories",
		Long: `Overwrite every regular file the given number of times, then delete it.
Directories are processed recursively; symlinks are removed without following them.

This is best effort: copy-on-write file systems, snapshots and SSD wear levelling
can keep earlier copies of the data.`,
		Args:    cobra.MinimumNArgs(1),
		PreRunE: preRun(v, cfg),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Show {
				return show(cmd.OutOrStdout(), cfg)
			}

			shredder := newShredder(cfg, newLogger(cfg))
			start := time.Now()

			var (
				errs []error
				sum  summary
			)

			for _, path := range cfg.Paths {
				report, err := shredder.Shred(cmd.Context(), path)
				if report != nil {
					sum.files += report.Files
					sum.dirs += report.Dirs
					sum.symlinks += report.Links
					sum.content += report.Bytes
				}

				if err != nil {
					fmt.Fprintf(os.Stderr, "Error shredding %q: %v\n", path, err)

					errs = append(errs, err)

					continue
				}

				if !cfg.Quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "Shredded %q\n", path)
				}
			}

			if cfg.Stats {
				sum.duration = time.Since(start)
				printStats(os.Stderr, sum)
			}

			if err := errors.Join(errs...); err != nil {
				return fmt.Errorf("%d of %d path(s) not fully shredded: %w", len(errs), len(cfg.Paths), err)
			}

			return nil
		},
	}
}
