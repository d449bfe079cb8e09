package engine

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/partcraft/partcraft/pkg/probe"
)

// PathProber discovers search directories below a root. *probe.Probe
// implements it.
type PathProber interface {
	LibraryDirs(root string) ([]string, error)
	IncludeDirs(root string) ([]string, error)
	PkgConfigDirs(root string) ([]string, error)
	PerlDir(root string) (string, bool, error)
	LinkerConfigPaths(root string) ([]string, error)
}

// StageTracker reports whether a part's install output has been merged into
// the stage directory. A staged dependency is reached through the stage
// search paths and contributes no install-directory paths of its own.
type StageTracker interface {
	IsStaged(part string) bool
}

// NoStageTracker reports no part as staged.
type NoStageTracker struct{}

// IsStaged implements StageTracker.
func (NoStageTracker) IsStaged(string) bool { return false }

// MarkerStageTracker reports a part as staged when its stage state marker
// <partsDir>/<part>/state/stage exists.
type MarkerStageTracker struct {
	PartsDir string
}

// IsStaged implements StageTracker.
func (t MarkerStageTracker) IsStaged(part string) bool {
	_, err := os.Stat(filepath.Join(t.PartsDir, part, "state", "stage"))
	return err == nil
}

// Layer names, in emission order.
const (
	LayerProject     = "project"
	LayerSearchPaths = "search-paths"
	LayerPart        = "part"
	LayerOverrides   = "overrides"
)

// EnvironmentBuilder produces the ordered environment assignments exported
// before a part's build step. It reads only the immutable ProjectContext,
// the finalized DependencyGraph and the filesystem, so calls are safe to run
// concurrently and idempotent while the filesystem is unchanged.
type EnvironmentBuilder struct {
	project  *ProjectContext
	graph    *DependencyGraph
	prober   PathProber
	detector *ParallelismDetector
	tracker  StageTracker
}

// BuilderOption configures an EnvironmentBuilder.
type BuilderOption func(*EnvironmentBuilder)

// WithProber replaces the filesystem prober.
func WithProber(p PathProber) BuilderOption {
	return func(b *EnvironmentBuilder) {
		b.prober = p
	}
}

// WithParallelismDetector sets the detector for SNAPCRAFT_PARALLEL_BUILD_COUNT.
func WithParallelismDetector(d *ParallelismDetector) BuilderOption {
	return func(b *EnvironmentBuilder) {
		b.detector = d
	}
}

// WithParallelism fixes SNAPCRAFT_PARALLEL_BUILD_COUNT to n.
func WithParallelism(n int) BuilderOption {
	return func(b *EnvironmentBuilder) {
		count := max(n, MinParallelism)
		b.detector = NewParallelismDetector(
			WithAffinityQuery(func() (int, error) { return count, nil }),
		)
	}
}

// WithStageTracker sets the tracker deciding which dependencies are staged.
func WithStageTracker(t StageTracker) BuilderOption {
	return func(b *EnvironmentBuilder) {
		b.tracker = t
	}
}

// NewEnvironmentBuilder creates a builder for the parts of graph. By default
// it probes with the project's architecture triplet, detects parallelism
// from the host and consults stage markers below the parts directory.
func NewEnvironmentBuilder(project *ProjectContext, graph *DependencyGraph, opts ...BuilderOption) *EnvironmentBuilder {
	b := &EnvironmentBuilder{
		project:  project,
		graph:    graph,
		prober:   probe.New(project.ArchTriplet),
		detector: NewParallelismDetector(),
		tracker:  MarkerStageTracker{PartsDir: project.PartsDir},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Project returns the builder's project context.
func (b *EnvironmentBuilder) Project() *ProjectContext {
	return b.project
}

// BuildEnvironmentFor returns the environment for the named part. When
// isRootPart is false the environment is computed for use in another
// part's context and the part's own build-environment overrides are left
// out. On error no partial environment is returned.
func (b *EnvironmentBuilder) BuildEnvironmentFor(name string, isRootPart bool) (ResolvedEnvironment, error) {
	layers, err := b.Layers(name, isRootPart)
	if err != nil {
		return nil, err
	}
	var env ResolvedEnvironment
	for _, l := range layers {
		env = append(env, l.Assignments...)
	}
	return env, nil
}

// Layers returns the named part's environment split into its layers, in
// emission order.
func (b *EnvironmentBuilder) Layers(name string, isRootPart bool) ([]EnvironmentLayer, error) {
	part, ok := b.graph.Part(name)
	if !ok {
		return nil, NewPermanentError("unknown part", nil).WithCode(ErrCodeValidation).WithPart(name)
	}

	roots, err := b.searchRoots(part)
	if err != nil {
		return nil, err
	}

	search, err := b.searchPathLayer(part, roots)
	if err != nil {
		return nil, err
	}

	layers := []EnvironmentLayer{b.projectLayer(), search, b.partLayer(part)}
	if isRootPart {
		layers = append(layers, overrideLayer(part))
	}
	return layers, nil
}

// SearchRoots returns the directories whose contents feed the named part's
// search paths, in priority order: its install directory, its un-staged
// direct dependencies' install directories and the stage.
func (b *EnvironmentBuilder) SearchRoots(name string) ([]string, error) {
	part, ok := b.graph.Part(name)
	if !ok {
		return nil, NewPermanentError("unknown part", nil).WithCode(ErrCodeValidation).WithPart(name)
	}
	return b.searchRoots(part)
}

// searchRoots returns the install roots whose search paths go ahead of the
// stage: the part's own install directory, then each direct dependency
// that is not staged yet, in declared order.
func (b *EnvironmentBuilder) searchRoots(part *Part) ([]string, error) {
	deps, err := b.graph.DependenciesOf(part.Name, false)
	if err != nil {
		return nil, err
	}

	roots := []string{part.InstallDir}
	for _, dep := range deps {
		if dep.InstallDir == "" {
			return nil, NewMissingDependencyEnvironmentError(part.Name, dep.Name)
		}
		if b.tracker.IsStaged(dep.Name) {
			continue
		}
		roots = append(roots, dep.InstallDir)
	}
	return append(roots, b.project.StageDir), nil
}

func (b *EnvironmentBuilder) projectLayer() EnvironmentLayer {
	p := b.project
	contentDirs := slices.Clone(p.ContentDirs)
	slices.Sort(contentDirs)

	l := EnvironmentLayer{Name: LayerProject}
	l.add("SNAPCRAFT_ARCH_TRIPLET", p.ArchTriplet)
	l.add("SNAPCRAFT_TARGET_ARCH", p.TargetArch)
	l.add("SNAPCRAFT_PROJECT_NAME", p.Name)
	l.add("SNAPCRAFT_PROJECT_VERSION", p.Version)
	l.add("SNAPCRAFT_PROJECT_GRADE", p.Grade)
	l.add("SNAPCRAFT_PROJECT_DIR", p.ProjectDir)
	l.add("SNAPCRAFT_EXTENSIONS_DIR", p.ExtensionsDir)
	l.add("SNAPCRAFT_STAGE", p.StageDir)
	l.add("SNAPCRAFT_PRIME", p.PrimeDir)
	l.add("SNAPCRAFT_CONTENT_DIRS", strings.Join(contentDirs, ":"))
	return l
}

// searchPathLayer assembles one assignment per toolchain variable. Within
// each assignment the fragments of roots keep their order, so un-staged
// install directories take priority over the stage.
func (b *EnvironmentBuilder) searchPathLayer(part *Part, roots []string) (EnvironmentLayer, error) {
	var bins, includes, libs, pkgConfig fragments
	for _, root := range roots {
		bins.add(probe.BinDirs(root)...)

		dirs, err := b.prober.IncludeDirs(root)
		if err != nil {
			return EnvironmentLayer{}, NewProbeError(part.Name, root, err)
		}
		includes.add(dirs...)

		if dirs, err = b.prober.LibraryDirs(root); err != nil {
			return EnvironmentLayer{}, NewProbeError(part.Name, root, err)
		}
		libs.add(dirs...)

		if dirs, err = b.prober.PkgConfigDirs(root); err != nil {
			return EnvironmentLayer{}, NewProbeError(part.Name, root, err)
		}
		pkgConfig.add(dirs...)
	}

	var ldPaths fragments
	ldPaths.add(libs...)
	for _, root := range []string{b.project.StageDir, b.project.PrimeDir} {
		paths, err := b.prober.LinkerConfigPaths(root)
		if err != nil {
			return EnvironmentLayer{}, NewProbeError(part.Name, root, err)
		}
		ldPaths.add(paths...)
	}
	if b.project.Confinement != ConfinementClassic && b.project.BaseRoot != "" {
		dirs, err := b.prober.LibraryDirs(b.project.BaseRoot)
		if err != nil {
			return EnvironmentLayer{}, NewProbeError(part.Name, b.project.BaseRoot, err)
		}
		ldPaths.add(dirs...)
	}

	perlDir, hasPerl, err := b.prober.PerlDir(b.project.StageDir)
	if err != nil {
		return EnvironmentLayer{}, NewProbeError(part.Name, b.project.StageDir, err)
	}

	l := EnvironmentLayer{Name: LayerSearchPaths}
	l.add("PATH", strings.Join(bins, ":")+"${PATH:+:$PATH}")
	if len(includes) > 0 {
		flags := flagList("-isystem", includes)
		l.add("CFLAGS", "$CFLAGS "+flags)
		l.add("CXXFLAGS", "$CXXFLAGS "+flags)
		l.add("CPPFLAGS", "$CPPFLAGS "+flags)
	}
	if len(libs) > 0 {
		l.add("LDFLAGS", "$LDFLAGS "+flagList("-L", libs))
	}
	if len(ldPaths) > 0 {
		l.add("LD_LIBRARY_PATH", appendPathList("LD_LIBRARY_PATH", ldPaths))
	}
	if len(pkgConfig) > 0 {
		l.add("PKG_CONFIG_PATH", appendPathList("PKG_CONFIG_PATH", pkgConfig))
	}
	if hasPerl {
		l.add("PERL5LIB", appendPathList("PERL5LIB", fragments{perlDir}))
	}
	return l, nil
}

func (b *EnvironmentBuilder) partLayer(part *Part) EnvironmentLayer {
	l := EnvironmentLayer{Name: LayerPart}
	l.add("SNAPCRAFT_PART_SRC", part.SrcDir)
	l.add("SNAPCRAFT_PART_SRC_WORK", part.SrcWorkDir())
	l.add("SNAPCRAFT_PART_BUILD", part.BuildDir)
	l.add("SNAPCRAFT_PART_BUILD_WORK", part.BuildWorkDir())
	l.add("SNAPCRAFT_PART_INSTALL", part.InstallDir)
	l.add("SNAPCRAFT_PARALLEL_BUILD_COUNT", strconv.Itoa(b.detector.Detect()))
	return l
}

// overrideLayer emits the part's build-environment entries verbatim, in
// declared order. Expansion is left to the shell.
func overrideLayer(part *Part) EnvironmentLayer {
	l := EnvironmentLayer{Name: LayerOverrides}
	for _, e := range part.BuildEnvironment {
		l.add(e.Name, e.Value)
	}
	return l
}

// RuntimeEnvironment returns the environment the packaged prime tree runs
// with: its executable directories and, when any exist, its library
// directories followed by the linker configuration paths found below it.
func (b *EnvironmentBuilder) RuntimeEnvironment() (ResolvedEnvironment, error) {
	prime := b.project.PrimeDir

	var libs fragments
	dirs, err := b.prober.LibraryDirs(prime)
	if err != nil {
		return nil, NewProbeError("", prime, err)
	}
	libs.add(dirs...)

	paths, err := b.prober.LinkerConfigPaths(prime)
	if err != nil {
		return nil, NewProbeError("", prime, err)
	}
	libs.add(paths...)

	env := ResolvedEnvironment{{
		Name:  "PATH",
		Value: strings.Join(probe.BinDirs(prime), ":") + "${PATH:+:$PATH}",
	}}
	if len(libs) > 0 {
		env = append(env, Assignment{Name: "LD_LIBRARY_PATH", Value: appendPathList("LD_LIBRARY_PATH", libs)})
	}
	return env, nil
}

// fragments is an ordered list of path fragments without duplicates.
type fragments []string

func (f *fragments) add(paths ...string) {
	for _, p := range paths {
		if !slices.Contains(*f, p) {
			*f = append(*f, p)
		}
	}
}

func flagList(flag string, dirs []string) string {
	out := make([]string, len(dirs))
	for i, d := range dirs {
		out[i] = flag + d
	}
	return strings.Join(out, " ")
}

// appendPathList renders paths appended to the inherited value of name,
// with a separating colon only when the inherited value is non-empty.
func appendPathList(name string, paths []string) string {
	return "${" + name + ":+$" + name + ":}" + strings.Join(paths, ":")
}
