package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is a project manifest as declared in snapcraft.yaml.
type Manifest struct {
	// Name is the project name.
	Name string `yaml:"name" json:"name" validate:"required,max=40"`

	// Version is the project version string.
	Version string `yaml:"version" json:"version,omitempty" validate:"omitempty,max=32"`

	Summary     string `yaml:"summary" json:"summary,omitempty" validate:"omitempty,max=78"`
	Description string `yaml:"description" json:"description,omitempty"`

	// Base names the runtime the project builds against (e.g. "core18").
	Base string `yaml:"base" json:"base"`

	// Grade is the release grade (stable or devel).
	Grade string `yaml:"grade" json:"grade" validate:"omitempty,oneof=stable devel"`

	// Confinement is the runtime isolation mode.
	Confinement string `yaml:"confinement" json:"confinement" validate:"omitempty,oneof=strict classic devmode"`

	// Architectures lists the target architectures the project builds for.
	Architectures []string `yaml:"architectures" json:"architectures,omitempty" validate:"dive,required"`

	// ContentDirs lists directories provided by content interfaces.
	ContentDirs []string `yaml:"content-dirs" json:"content-dirs,omitempty" validate:"dive,required"`

	// Parts holds the project's parts in declaration order.
	Parts PartList `yaml:"parts" json:"parts" validate:"required,min=1,dive"`

	// Path is the file the manifest was loaded from.
	Path string `yaml:"-" json:"-"`
}

// PartConfig is the declaration of a single part.
type PartConfig struct {
	Name string `yaml:"-" json:"name" validate:"required"`

	// Plugin names the build plugin. Empty or "nil" builds nothing unless
	// OverrideBuild is set.
	Plugin string `yaml:"plugin" json:"plugin,omitempty"`

	// After lists the parts that must be built before this one.
	After []string `yaml:"after" json:"after,omitempty" validate:"dive,required"`

	// BuildEnvironment holds ordered assignments appended to the part's
	// build environment.
	BuildEnvironment []EnvironmentEntry `yaml:"build-environment" json:"build-environment,omitempty" validate:"dive"`

	SourceSubdir  string `yaml:"source-subdir" json:"source-subdir,omitempty"`
	OverrideBuild string `yaml:"override-build" json:"override-build,omitempty"`

	// Line is the manifest line declaring the part.
	Line int `yaml:"-" json:"-"`
}

// PartList is an ordered mapping of part name to declaration.
type PartList []PartConfig

// UnmarshalYAML decodes the parts mapping preserving declaration order.
func (l *PartList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: parts must be a mapping", node.Line)
	}

	seen := make(map[string]int, len(node.Content)/2)
	parts := make(PartList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if prev, ok := seen[key.Value]; ok {
			return fmt.Errorf("line %d: part %q already declared on line %d", key.Line, key.Value, prev)
		}
		seen[key.Value] = key.Line

		var part PartConfig
		// An empty part declaration ("name:") is a null node.
		if value.Kind != yaml.ScalarNode || value.Tag != "!!null" {
			if err := value.Decode(&part); err != nil {
				return fmt.Errorf("part %q: %w", key.Value, err)
			}
		}
		part.Name = key.Value
		part.Line = key.Line
		parts = append(parts, part)
	}

	*l = parts
	return nil
}

// Names returns the part names in declaration order.
func (l PartList) Names() []string {
	names := make([]string, len(l))
	for i, p := range l {
		names[i] = p.Name
	}
	return names
}

// EnvironmentEntry is one NAME: value assignment of a build-environment list.
type EnvironmentEntry struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// UnmarshalYAML decodes a single-key mapping.
func (e *EnvironmentEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: build-environment entries must be single-key mappings", node.Line)
	}
	e.Name = node.Content[0].Value
	return node.Content[1].Decode(&e.Value)
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Path is the manifest path to the error (e.g., "parts.hello.after").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	var sb strings.Builder
	if e.File != "" {
		sb.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&sb, ":%d", e.Line)
		}
		sb.WriteString(": ")
	}
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// ValidationErrors collects every problem found in a manifest.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return "invalid manifest:\n  " + strings.Join(msgs, "\n  ")
}
