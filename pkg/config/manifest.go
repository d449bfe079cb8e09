package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Manifest defaults applied when a key is omitted.
const (
	DefaultBase        = "core18"
	DefaultGrade       = "stable"
	DefaultConfinement = "strict"
)

// ManifestLocations are the paths, relative to the project directory,
// searched for a manifest in order.
var ManifestLocations = []string{
	"snap/snapcraft.yaml",
	"snapcraft.yaml",
	".snapcraft.yaml",
	"build-aux/snap/snapcraft.yaml",
}

// ErrManifestNotFound is returned when no manifest exists in a project.
var ErrManifestNotFound = errors.New("no snapcraft.yaml found")

// Loader reads and validates manifests.
type Loader struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewLoader creates a loader with the built-in manifest schema.
func NewLoader() *Loader {
	return &Loader{
		schemas:   NewSchemaRegistry(),
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LocateManifest returns the first manifest found under projectDir.
func LocateManifest(projectDir string) (string, error) {
	for _, rel := range ManifestLocations {
		path := filepath.Join(projectDir, rel)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrManifestNotFound, projectDir)
}

// LoadManifest reads, decodes and validates the manifest at path.
func (l *Loader) LoadManifest(ctx context.Context, path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return l.ParseManifest(ctx, data, path)
}

// ParseManifest decodes and validates manifest content. path is used for
// error locations only.
func (l *Loader) ParseManifest(ctx context.Context, data []byte, path string) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, ValidationErrors{{File: path, Message: err.Error()}}
	}
	m.Path = path
	m.applyDefaults()

	if err := l.Validate(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Base == "" {
		m.Base = DefaultBase
	}
	if m.Grade == "" {
		m.Grade = DefaultGrade
	}
	if m.Confinement == "" {
		m.Confinement = DefaultConfinement
	}
}

// Validate checks struct constraints and then the manifest schema. All
// problems found by the failing stage are reported together.
func (l *Loader) Validate(ctx context.Context, m *Manifest) error {
	if err := l.validator.Struct(m); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("manifest validation failed: %w", err)
		}
		return m.convertFieldErrors(fieldErrs)
	}

	if err := l.schemas.ValidateAgainstSchema(ctx, ManifestSchema, m.Document()); err != nil {
		return m.convertCUEErrors(err)
	}
	return nil
}

// Document returns the manifest in its YAML key layout, as seen by schema
// checks and lint policies.
func (m *Manifest) Document() map[string]interface{} {
	parts := make(map[string]interface{}, len(m.Parts))
	for _, p := range m.Parts {
		part := map[string]interface{}{}
		if p.Plugin != "" {
			part["plugin"] = p.Plugin
		}
		if len(p.After) > 0 {
			part["after"] = p.After
		}
		if len(p.BuildEnvironment) > 0 {
			env := make([]map[string]string, len(p.BuildEnvironment))
			for i, e := range p.BuildEnvironment {
				env[i] = map[string]string{e.Name: e.Value}
			}
			part["build-environment"] = env
		}
		if p.SourceSubdir != "" {
			part["source-subdir"] = p.SourceSubdir
		}
		if p.OverrideBuild != "" {
			part["override-build"] = p.OverrideBuild
		}
		parts[p.Name] = part
	}

	doc := map[string]interface{}{
		"name":        m.Name,
		"base":        m.Base,
		"grade":       m.Grade,
		"confinement": m.Confinement,
		"parts":       parts,
	}
	if m.Version != "" {
		doc["version"] = m.Version
	}
	if m.Summary != "" {
		doc["summary"] = m.Summary
	}
	if m.Description != "" {
		doc["description"] = m.Description
	}
	if len(m.Architectures) > 0 {
		doc["architectures"] = m.Architectures
	}
	if len(m.ContentDirs) > 0 {
		doc["content-dirs"] = m.ContentDirs
	}
	return doc
}

// Part returns the declaration of the named part.
func (m *Manifest) Part(name string) (*PartConfig, bool) {
	for i := range m.Parts {
		if m.Parts[i].Name == name {
			return &m.Parts[i], true
		}
	}
	return nil, false
}

func (m *Manifest) convertFieldErrors(errs validator.ValidationErrors) ValidationErrors {
	out := make(ValidationErrors, 0, len(errs))
	for _, fe := range errs {
		ns := strings.TrimPrefix(fe.Namespace(), "Manifest.")
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
		}
		if fe.Value() != nil && fe.Value() != "" {
			msg = fmt.Sprintf("%s: %v", msg, fe.Value())
		}

		ve := ValidationError{File: m.Path, Path: ns, Message: msg}
		var idx int
		if _, err := fmt.Sscanf(ns, "Parts[%d]", &idx); err == nil && idx < len(m.Parts) {
			ve.Line = m.Parts[idx].Line
			ve.Path = "parts." + m.Parts[idx].Name + strings.TrimPrefix(ns, fmt.Sprintf("Parts[%d]", idx))
		}
		out = append(out, ve)
	}
	return out
}

// convertCUEErrors converts CUE errors to a ValidationErrors list.
func (m *Manifest) convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		path := manifestPath(e.Path())

		ve := ValidationError{
			File:    m.Path,
			Path:    strings.Join(path, "."),
			Message: fmt.Sprintf(format, args...),
		}
		if len(path) >= 2 && path[0] == "parts" {
			if p, ok := m.Part(path[1]); ok {
				ve.Line = p.Line
			}
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{File: m.Path, Message: err.Error()})
	}
	return out
}

// manifestPath drops the schema definition CUE puts at the head of error
// paths, leaving a path into the manifest document.
func manifestPath(path []string) []string {
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		return path[1:]
	}
	return path
}
