// Package config holds the command-line configuration and its validation.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Extension is appended to container names chosen by default.
const Extension = ".sealr"

// Config is populated by viper from flags and SEALR_* environment
// variables.
type Config struct {
	// Show prints the configuration and exits.
	Show bool `yaml:"-"`
	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
	// Quiet suppresses everything but errors.
	Quiet bool `yaml:"quiet"`
	// Stats prints a summary after the operation.
	Stats bool `yaml:"stats"`

	// Password comes from SEALR_PASSWORD only; it has no flag.
	Password     string `label:"SEALR_PASSWORD" mask:"fixed" yaml:"password,omitempty"`
	PasswordFile string `label:"--password-file" mapstructure:"password-file" validate:"omitempty,file,exclusive=Password" yaml:"password-file,omitempty"` //nolint:lll

	// Output is the container path (encrypt) or directory (decrypt).
	Output string `yaml:"output"`

	Identifier    string   `label:"--identifier" validate:"max=255" yaml:"identifier,omitempty"`
	Obfuscate     bool     `yaml:"obfuscate"`
	Padding       int      `label:"--padding" validate:"min=0,max=1073741824" yaml:"padding"`
	Exclude       []string `yaml:"exclude,omitempty"`
	ExcludeFrom   string   `label:"--exclude-from" mapstructure:"exclude-from" validate:"omitempty,file" yaml:"exclude-from,omitempty"` //nolint:lll
	PreserveTimes bool     `mapstructure:"preserve-times" yaml:"preserve-times"`

	// Shred overwrites the source after encrypting, or the container after
	// decrypting.
	Shred    bool `yaml:"shred"`
	Passes   int  `label:"--passes" validate:"min=1,max=35" yaml:"passes"`
	Parallel int  `label:"--parallel" validate:"min=1" yaml:"parallel"`

	// Paths are the positional arguments.
	Paths []string `label:"arguments" validate:"min=1,dive,required" yaml:"paths"`
}

// Path returns the first positional argument.
func (c *Config) Path() string {
	if len(c.Paths) == 0 {
		return ""
	}

	return c.Paths[0]
}

// ContainerName returns the default container path for source:
// <base>_<YYYYmmdd_HHMMSS>_<8 hex>.sealr next to the source.
func ContainerName(source string, now time.Time) string {
	clean := filepath.Clean(source)
	base := filepath.Base(clean)

	if base == "." || base == string(filepath.Separator) {
		base = "archive"
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	name := fmt.Sprintf("%s_%s_%s%s", base, now.Format("20060102_150405"), suffix, Extension)

	return filepath.Join(filepath.Dir(clean), name)
}

// OutputDir returns the default extraction directory for a container:
// its path without the .sealr extension, or with ".out" appended when the
// container has another extension.
func OutputDir(container string) string {
	trimmed, ok := strings.CutSuffix(container, Extension)
	if ok && trimmed != "" && !strings.HasSuffix(trimmed, string(filepath.Separator)) {
		return trimmed
	}

	return container + ".out"
}
