// Package commands provides the command-line interface for sealr.
//
// It implements commands for:
//   - encryption of a file or directory into a container
//   - decryption of a container into a directory
//   - inspection of a container's public header
//   - secure deletion
//
// Flags and SEALR_* environment variables are bound through viper and
// validated before any command runs.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-yaml"
	mask "github.com/showa-93/go-mask"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idelchi/sealr/internal/config"
	"github.com/idelchi/sealr/internal/prompt"
	"github.com/idelchi/sealr/internal/secure"
	"github.com/idelchi/sealr/internal/shred"
)

// EnvPrefix prefixes every environment variable sealr reads.
const EnvPrefix = "SEALR"

func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// The password has no flag, so viper only learns about it here.
	_ = v.BindEnv("password") //nolint:errcheck // only fails without a key

	return v
}

// preRun returns a PreRunE handler that binds the command's flags, decodes
// them into cfg together with the environment and validates the result.
func preRun(v *viper.Viper, cfg *config.Config) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return fmt.Errorf("binding flags: %w", err)
		}

		if err := v.Unmarshal(cfg); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}

		cfg.Paths = args

		return cfg.Validate()
	}
}

// show prints the effective configuration with the password masked.
func show(w io.Writer, cfg *config.Config) error {
	masked, err := mask.Mask(*cfg)
	if err != nil {
		return fmt.Errorf("masking configuration: %w", err)
	}

	if cfg.Password == "" {
		masked.Password = ""
	}

	out, err := yaml.Marshal(masked)
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}

	_, err = w.Write(out)

	return err
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch {
	case cfg.Verbose:
		level = slog.LevelDebug
	case cfg.Quiet:
		level = slog.LevelWarn
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// warnHostRisks logs host conditions under which plaintext may reach disk.
func warnHostRisks(ctx context.Context, logger *slog.Logger) {
	for _, r := range secure.HostRisks() {
		logger.Log(ctx, r.Level, r.Message)
	}
}

func newShredder(cfg *config.Config, logger *slog.Logger) *shred.Shredder {
	return &shred.Shredder{Passes: cfg.Passes, Parallel: cfg.Parallel, Logger: logger}
}

// password resolves the password from SEALR_PASSWORD, the password file or
// an interactive prompt, in that order. New passwords are asked twice.
//
// A password taken from the environment is dropped from cfg and the
// environment once copied into locked memory. The original string cannot
// be wiped and stays on the heap until collected.
func password(ctx context.Context, cfg *config.Config, confirm bool) (*secure.Secret, error) {
	switch {
	case cfg.Password != "":
		pw := cfg.Password
		cfg.Password = ""

		//nolint:errcheck // only fails for invalid names
		os.Unsetenv(EnvPrefix + "_PASSWORD")

		return prompt.FromString(pw)
	case cfg.PasswordFile != "":
		return prompt.FromFile(cfg.PasswordFile)
	}

	p, err := prompt.Terminal(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("%w (set %s_PASSWORD or use --password-file)", err, EnvPrefix)
	}
	defer p.Close()

	if confirm {
		return p.Confirmed(ctx, "Password: ", "Confirm password: ")
	}

	return p.Password(ctx, "Password: ")
}

type summary struct {
	files, dirs, symlinks, skipped int
	content, output                int64
	duration                       time.Duration
}

func printStats(w io.Writer, s summary) {
	fmt.Fprintf(w, "\nStats\n")
	fmt.Fprintf(w, "  Files:     %d\n", s.files)
	fmt.Fprintf(w, "  Dirs:      %d\n", s.dirs)
	fmt.Fprintf(w, "  Symlinks:  %d\n", s.symlinks)
	fmt.Fprintf(w, "  Skipped:   %d\n", s.skipped)
	//nolint:gosec // sizes are never negative
	fmt.Fprintf(w, "  Content:   %s\n", humanize.IBytes(uint64(max(0, s.content))))

	if s.output > 0 {
		//nolint:gosec // sizes are never negative
		fmt.Fprintf(w, "  Container: %s\n", humanize.IBytes(uint64(s.output)))
	}

	fmt.Fprintf(w, "  Duration:  %s\n", s.duration.Round(time.Millisecond))
}
