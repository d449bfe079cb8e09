package engine

import (
	"fmt"
	"strings"
	"time"
)

// Confinement is the runtime isolation mode of the package being built.
type Confinement string

const (
	// ConfinementStrict runs the package fully isolated.
	ConfinementStrict Confinement = "strict"

	// ConfinementClassic runs the package against the host system.
	ConfinementClassic Confinement = "classic"

	// ConfinementDevmode runs strict confinement in complain mode.
	ConfinementDevmode Confinement = "devmode"
)

// IsValid reports whether c is a known confinement mode.
func (c Confinement) IsValid() bool {
	switch c {
	case ConfinementStrict, ConfinementClassic, ConfinementDevmode:
		return true
	default:
		return false
	}
}

// EnvEntry is one user-declared build-environment override.
// Value is kept verbatim; it may reference earlier variables.
type EnvEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Part is an independently buildable unit of a package.
type Part struct {
	// Name is the unique part name.
	Name string `json:"name"`

	// Plugin names the build plugin. Only "nil" is handled by this module;
	// other plugins are driven by an external BuildStep.
	Plugin string `json:"plugin,omitempty"`

	// After lists the parts that must be built (and staged) first.
	After []string `json:"after,omitempty"`

	// BuildEnvironment is the ordered list of user overrides.
	BuildEnvironment []EnvEntry `json:"build_environment,omitempty"`

	// SourceSubdir is the subdirectory of the source tree to build from.
	SourceSubdir string `json:"source_subdir,omitempty"`

	// OverrideBuild is a shell script replacing the plugin's build commands.
	OverrideBuild string `json:"override_build,omitempty"`

	// SrcDir, BuildDir and InstallDir are the roots the part owns.
	SrcDir     string `json:"src_dir"`
	BuildDir   string `json:"build_dir"`
	InstallDir string `json:"install_dir"`
}

// SrcWorkDir is the source directory adjusted for SourceSubdir.
func (p *Part) SrcWorkDir() string {
	return p.SrcDir + "/" + p.SourceSubdir
}

// BuildWorkDir is the build directory adjusted for SourceSubdir.
func (p *Part) BuildWorkDir() string {
	return p.BuildDir + "/" + p.SourceSubdir
}

// ProjectContext holds the project-wide settings shared read-only by every
// environment computation of a build session.
type ProjectContext struct {
	// Name, Version and Grade identify the package being built.
	Name    string `json:"name"`
	Version string `json:"version"`
	Grade   string `json:"grade"`

	// Base names the base runtime (for example "core18").
	Base string `json:"base"`

	// Confinement is the package's confinement mode.
	Confinement Confinement `json:"confinement"`

	// ArchTriplet is the canonical architecture triplet (x86_64-linux-gnu).
	ArchTriplet string `json:"arch_triplet"`

	// TargetArch is the Debian name of the target architecture (amd64).
	TargetArch string `json:"target_arch"`

	// ProjectDir is the directory holding the manifest.
	ProjectDir string `json:"project_dir"`

	// PartsDir, StageDir and PrimeDir are the global build roots.
	PartsDir string `json:"parts_dir"`
	StageDir string `json:"stage_dir"`
	PrimeDir string `json:"prime_dir"`

	// ExtensionsDir is where manifest extensions are installed.
	ExtensionsDir string `json:"extensions_dir"`

	// BaseRoot is the root of the installed base runtime. Empty disables
	// base library path injection.
	BaseRoot string `json:"base_root,omitempty"`

	// ContentDirs are directories provided by content interfaces.
	ContentDirs []string `json:"content_dirs,omitempty"`
}

// Assignment is a single NAME="value" environment assignment.
type Assignment struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// String renders the assignment in shell form.
func (a Assignment) String() string {
	return fmt.Sprintf("%s=\"%s\"", a.Name, a.Value)
}

// EnvironmentLayer is an ordered sequence of assignments. Layers are
// concatenated, never merged by name.
type EnvironmentLayer struct {
	Name        string       `json:"name"`
	Assignments []Assignment `json:"assignments"`
}

func (l *EnvironmentLayer) add(name, value string) {
	l.Assignments = append(l.Assignments, Assignment{Name: name, Value: value})
}

// ResolvedEnvironment is the ordered list of assignments to export before a
// part's build step. Order is significant: later assignments may reference
// earlier ones and are expanded by the shell in emission order.
type ResolvedEnvironment []Assignment

// Strings renders every assignment in shell form, in order.
func (e ResolvedEnvironment) Strings() []string {
	out := make([]string, len(e))
	for i, a := range e {
		out[i] = a.String()
	}
	return out
}

// Contains reports whether the rendered assignment s is present.
func (e ResolvedEnvironment) Contains(s string) bool {
	for _, a := range e {
		if a.String() == s {
			return true
		}
	}
	return false
}

// Index returns the position of the first assignment to name, or -1.
func (e ResolvedEnvironment) Index(name string) int {
	for i, a := range e {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// Count returns the number of assignments to name.
func (e ResolvedEnvironment) Count(name string) int {
	n := 0
	for _, a := range e {
		if a.Name == name {
			n++
		}
	}
	return n
}

// Lookup returns the value of the first assignment to name.
func (e ResolvedEnvironment) Lookup(name string) (string, bool) {
	if i := e.Index(name); i >= 0 {
		return e[i].Value, true
	}
	return "", false
}

// String renders the environment one assignment per line.
func (e ResolvedEnvironment) String() string {
	return strings.Join(e.Strings(), "\n")
}

// PartResult records one part's build within a session.
type PartResult struct {
	Part        string        `json:"part"`
	Position    int           `json:"position"`
	Status      PartStatus    `json:"status"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Session is one run of the build scheduler over a dependency graph.
type Session struct {
	ID          string        `json:"id"`
	Project     string        `json:"project"`
	Status      SessionStatus `json:"status"`
	Order       []string      `json:"order"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Results     []PartResult  `json:"results"`
	Error       string        `json:"error,omitempty"`
}

// Result returns the recorded result for part.
func (s *Session) Result(part string) (PartResult, bool) {
	for _, r := range s.Results {
		if r.Part == part {
			return r, true
		}
	}
	return PartResult{}, false
}
