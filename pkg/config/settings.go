package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Environment variables read by LoadSettings.
const (
	EnvExtensionsDir = "PARTCRAFT_EXTENSIONS_DIR"
	EnvJournal       = "PARTCRAFT_DB"
	EnvMaxParallel   = "PARTCRAFT_MAX_PARALLEL"
	EnvLogLevel      = "LOG_LEVEL"
)

// DefaultExtensionsDir is exported as SNAPCRAFT_EXTENSIONS_DIR when no
// override is set.
const DefaultExtensionsDir = "/usr/share/partcraft/extensions"

// Settings are tool-level options taken from the process environment.
type Settings struct {
	ExtensionsDir string `validate:"required"`

	// JournalPath is the SQLite journal location. Empty means
	// <project>/.partcraft/journal.db.
	JournalPath string

	// MaxParallel bounds concurrent part builds. Zero means serial.
	MaxParallel int `validate:"gte=0"`

	LogLevel string `validate:"omitempty,oneof=trace debug info warn error fatal"`
}

// LoadSettings reads settings through lookup, which is usually
// os.LookupEnv.
func LoadSettings(lookup func(string) (string, bool)) (*Settings, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	s := &Settings{ExtensionsDir: DefaultExtensionsDir}
	if v, ok := lookup(EnvExtensionsDir); ok && v != "" {
		s.ExtensionsDir = v
	}
	if v, ok := lookup(EnvJournal); ok {
		s.JournalPath = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		s.LogLevel = v
	}
	if v, ok := lookup(EnvMaxParallel); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMaxParallel, err)
		}
		s.MaxParallel = n
	}

	if err := validator.New().Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, fmt.Errorf("invalid setting %s: failed %q validation", fe.Field(), fe.Tag())
		}
		return nil, err
	}
	return s, nil
}

// JournalFor returns the journal path for a project.
func (s *Settings) JournalFor(projectDir string) string {
	if s.JournalPath != "" {
		return s.JournalPath
	}
	return filepath.Join(projectDir, ".partcraft", "journal.db")
}
