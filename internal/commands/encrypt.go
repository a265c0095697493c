package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idelchi/sealr/internal/config"
	"github.com/idelchi/sealr/internal/filter"
	"github.com/idelchi/sealr/internal/pipeline"
)

// NewEncryptCommand creates a new cobra command for the encrypt subcommand.
func NewEncryptCommand(v *viper.Viper, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "encrypt [flags] source",
		Aliases: []string{"enc"},
		Short:   "Seal a file or directory into a container",
		Args:    cobra.ExactArgs(1),
		PreRunE: preRun(v, cfg),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Show {
				return show(cmd.OutOrStdout(), cfg)
			}

			return runEncrypt(cmd, cfg)
		},
	}

	cmd.Flags().StringP("output", "o", "", "Container path (default <source>_<timestamp>_<id>.sealr)")
	cmd.Flags().StringP("identifier", "i", "", "Advisory label stored unencrypted in the container")
	cmd.Flags().Bool("obfuscate", false, "Store the identifier obfuscated rather than in plain text")
	cmd.Flags().Int("padding", 0, "Add up to this many random bytes to hide the exact size")
	cmd.Flags().StringSliceP("exclude", "e", nil, "Exclude paths matching this pattern (repeatable)")
	cmd.Flags().String("exclude-from", "", "Read exclude patterns from a JSON(C) array file")
	cmd.Flags().Bool("preserve-times", false, "Record modification times (makes output non-reproducible)")
	cmd.Flags().Bool("shred", false, "Overwrite and delete the source after sealing")

	return cmd
}

func runEncrypt(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	logger := newLogger(cfg)
	source := cfg.Path()

	warnHostRisks(ctx, logger)

	excludes, err := filter.New(cfg.Exclude, cfg.ExcludeFrom)
	if err != nil {
		return err
	}

	output := cfg.Output
	if output == "" {
		output = config.ContainerName(source, time.Now())
	}

	pw, err := password(ctx, cfg, true)
	if err != nil {
		return err
	}

	p := pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithPadding(cfg.Padding),
		pipeline.WithExcludes(excludes),
		pipeline.WithPreserveTimes(cfg.PreserveTimes),
		pipeline.WithShredder(newShredder(cfg, logger)),
	)

	start := time.Now()

	res, err := p.Encrypt(ctx, pipeline.EncryptRequest{
		Source:     source,
		Output:     output,
		Password:   pw,
		Identifier: cfg.Identifier,
		Obfuscate:  cfg.Obfuscate,
		Shred:      cfg.Shred,
	})
	if err != nil {
		return err
	}

	if !cfg.Quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Sealed %q -> %q\n", source, res.Output)

		if res.Shred != nil && res.ShredErr == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Shredded %q\n", source)
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
			skipped:  res.Archive.Skipped,
			content:  res.Archive.Bytes,
			output:   res.Size,
			duration: time.Since(start),
		})
	}

	return nil
}
