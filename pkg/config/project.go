package config

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/partcraft/partcraft/pkg/engine"
)

// archTriplets maps Debian architecture names to GNU triplets.
var archTriplets = map[string]string{
	"amd64":   "x86_64-linux-gnu",
	"arm64":   "aarch64-linux-gnu",
	"armhf":   "arm-linux-gnueabihf",
	"i386":    "i386-linux-gnu",
	"ppc64el": "powerpc64le-linux-gnu",
	"s390x":   "s390x-linux-gnu",
	"riscv64": "riscv64-linux-gnu",
}

// goArchToDebian maps GOARCH values to Debian architecture names.
var goArchToDebian = map[string]string{
	"amd64":   "amd64",
	"arm64":   "arm64",
	"arm":     "armhf",
	"386":     "i386",
	"ppc64le": "ppc64el",
	"s390x":   "s390x",
	"riscv64": "riscv64",
}

// ProjectOptions controls how a manifest is turned into a build project.
type ProjectOptions struct {
	// ProjectDir is the project root. Empty means the directory containing
	// the manifest, or the parent of snap/ and build-aux/snap/.
	ProjectDir string

	// TargetArch is the Debian architecture to build for. Empty means the
	// host architecture.
	TargetArch string

	// ExtensionsDir is exported as SNAPCRAFT_EXTENSIONS_DIR.
	ExtensionsDir string

	// BaseRoot overrides the installed base location. Empty means
	// /snap/<base>/current.
	BaseRoot string
}

// Project is a manifest resolved into engine inputs.
type Project struct {
	Manifest *Manifest
	Context  *engine.ProjectContext
	Graph    *engine.DependencyGraph
}

// Part returns the engine part with the given name.
func (p *Project) Part(name string) (*engine.Part, bool) {
	return p.Graph.Part(name)
}

// HostArch returns the Debian name of the host architecture.
func HostArch() string {
	if arch, ok := goArchToDebian[runtime.GOARCH]; ok {
		return arch
	}
	return runtime.GOARCH
}

// ArchTriplet returns the GNU triplet for a Debian architecture.
func ArchTriplet(arch string) (string, error) {
	triplet, ok := archTriplets[arch]
	if !ok {
		return "", fmt.Errorf("unsupported architecture: %s", arch)
	}
	return triplet, nil
}

// NewProject derives the project context and dependency graph from m.
// Parts are added to the graph in declaration order. The graph is not
// finalized, so dependency errors surface on first use.
func NewProject(m *Manifest, opts ProjectOptions) (*Project, error) {
	projectDir := opts.ProjectDir
	if projectDir == "" {
		projectDir = projectDirFor(m.Path)
	}
	projectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	arch := opts.TargetArch
	if arch == "" {
		arch = HostArch()
	}
	triplet, err := ArchTriplet(arch)
	if err != nil {
		return nil, err
	}

	baseRoot := opts.BaseRoot
	if baseRoot == "" && m.Base != "" {
		baseRoot = filepath.Join("/snap", m.Base, "current")
	}

	pc := &engine.ProjectContext{
		Name:          m.Name,
		Version:       m.Version,
		Grade:         m.Grade,
		Base:          m.Base,
		Confinement:   engine.Confinement(m.Confinement),
		ArchTriplet:   triplet,
		TargetArch:    arch,
		ProjectDir:    projectDir,
		PartsDir:      filepath.Join(projectDir, "parts"),
		StageDir:      filepath.Join(projectDir, "stage"),
		PrimeDir:      filepath.Join(projectDir, "prime"),
		ExtensionsDir: opts.ExtensionsDir,
		BaseRoot:      baseRoot,
		ContentDirs:   m.ContentDirs,
	}
	if !pc.Confinement.IsValid() {
		return nil, fmt.Errorf("invalid confinement: %s", m.Confinement)
	}

	graph := engine.NewDependencyGraph()
	for _, pcfg := range m.Parts {
		root := filepath.Join(pc.PartsDir, pcfg.Name)
		part := &engine.Part{
			Name:          pcfg.Name,
			Plugin:        pcfg.Plugin,
			After:         pcfg.After,
			SourceSubdir:  pcfg.SourceSubdir,
			OverrideBuild: pcfg.OverrideBuild,
			SrcDir:        filepath.Join(root, "src"),
			BuildDir:      filepath.Join(root, "build"),
			InstallDir:    filepath.Join(root, "install"),
		}
		for _, e := range pcfg.BuildEnvironment {
			part.BuildEnvironment = append(part.BuildEnvironment, engine.EnvEntry{Name: e.Name, Value: e.Value})
		}
		if err := graph.AddPart(part); err != nil {
			return nil, err
		}
	}

	return &Project{Manifest: m, Context: pc, Graph: graph}, nil
}

// projectDirFor returns the project root for a manifest path.
func projectDirFor(manifestPath string) string {
	dir := filepath.Dir(manifestPath)
	switch {
	case filepath.Base(dir) == "snap" && filepath.Base(filepath.Dir(dir)) == "build-aux":
		return filepath.Dir(filepath.Dir(dir))
	case filepath.Base(dir) == "snap":
		return filepath.Dir(dir)
	}
	return dir
}
