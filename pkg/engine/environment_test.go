package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const testTriplet = "x86_64-linux-gnu"

type testProject struct {
	dir     string
	project *ProjectContext
	graph   *DependencyGraph
}

func newTestProject(t *testing.T) *testProject {
	t.Helper()
	dir := t.TempDir()
	return &testProject{
		dir: dir,
		project: &ProjectContext{
			Name:          "test",
			Version:       "1",
			Grade:         "stable",
			Base:          "core18",
			Confinement:   ConfinementStrict,
			ArchTriplet:   testTriplet,
			TargetArch:    "amd64",
			ProjectDir:    dir,
			PartsDir:      filepath.Join(dir, "parts"),
			StageDir:      filepath.Join(dir, "stage"),
			PrimeDir:      filepath.Join(dir, "prime"),
			ExtensionsDir: "/usr/share/partcraft/extensions",
		},
		graph: NewDependencyGraph(),
	}
}

func (tp *testProject) addPart(t *testing.T, name string, after []string, overrides ...EnvEntry) *Part {
	t.Helper()
	root := filepath.Join(tp.project.PartsDir, name)
	p := &Part{
		Name:             name,
		Plugin:           "nil",
		After:            after,
		BuildEnvironment: overrides,
		SrcDir:           filepath.Join(root, "src"),
		BuildDir:         filepath.Join(root, "build"),
		InstallDir:       filepath.Join(root, "install"),
	}
	if err := tp.graph.AddPart(p); err != nil {
		t.Fatalf("AddPart(%s) failed: %v", name, err)
	}
	return p
}

func (tp *testProject) mkdirs(t *testing.T, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		if err := os.MkdirAll(filepath.Join(tp.dir, rel), 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", rel, err)
		}
	}
}

func (tp *testProject) builder(opts ...BuilderOption) *EnvironmentBuilder {
	opts = append([]BuilderOption{WithParallelism(2)}, opts...)
	return NewEnvironmentBuilder(tp.project, tp.graph, opts...)
}

func mustBuild(t *testing.T, b *EnvironmentBuilder, name string, isRootPart bool) ResolvedEnvironment {
	t.Helper()
	env, err := b.BuildEnvironmentFor(name, isRootPart)
	if err != nil {
		t.Fatalf("BuildEnvironmentFor(%s) failed: %v", name, err)
	}
	return env
}

type stagedParts map[string]bool

func (s stagedParts) IsStaged(part string) bool { return s[part] }

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(DefaultShell); err != nil {
		t.Skipf("%s not available: %v", DefaultShell, err)
	}
}

func TestBuildEnvironmentFor_DedupWithMultipleDependencies(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "main", []string{"part1", "part2", "part3"})
	tp.addPart(t, "part1", nil)
	tp.addPart(t, "part2", nil)
	tp.addPart(t, "part3", nil)

	env := mustBuild(t, tp.builder(), "main", true)

	if got := env.Count("SNAPCRAFT_PART_INSTALL"); got != 1 {
		t.Fatalf("Expected exactly one SNAPCRAFT_PART_INSTALL, got %d:\n%s", got, env)
	}
	want := filepath.Join(tp.project.PartsDir, "main", "install")
	if v, _ := env.Lookup("SNAPCRAFT_PART_INSTALL"); v != want {
		t.Errorf("Expected SNAPCRAFT_PART_INSTALL %s, got %s", want, v)
	}
	if !env.Contains(`SNAPCRAFT_CONTENT_DIRS=""`) {
		t.Errorf("Expected empty SNAPCRAFT_CONTENT_DIRS, got:\n%s", env)
	}
	for _, a := range env {
		if n := env.Count(a.Name); n != 1 {
			t.Errorf("Expected %s to be emitted once, got %d", a.Name, n)
		}
	}
}

func TestBuildEnvironmentFor_ProjectAndPartVariables(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "main", nil)
	tp.mkdirs(t, "stage/usr/share/perl5")

	env := mustBuild(t, tp.builder(), "main", true)
	stage := tp.project.StageDir
	partRoot := filepath.Join(tp.project.PartsDir, "main")

	for _, want := range []string{
		`SNAPCRAFT_ARCH_TRIPLET="` + testTriplet + `"`,
		`SNAPCRAFT_TARGET_ARCH="amd64"`,
		`SNAPCRAFT_PROJECT_NAME="test"`,
		`SNAPCRAFT_PROJECT_VERSION="1"`,
		`SNAPCRAFT_PROJECT_GRADE="stable"`,
		`SNAPCRAFT_PROJECT_DIR="` + tp.dir + `"`,
		`SNAPCRAFT_EXTENSIONS_DIR="/usr/share/partcraft/extensions"`,
		`SNAPCRAFT_STAGE="` + stage + `"`,
		`SNAPCRAFT_PRIME="` + tp.project.PrimeDir + `"`,
		`SNAPCRAFT_PART_SRC="` + partRoot + `/src"`,
		`SNAPCRAFT_PART_SRC_WORK="` + partRoot + `/src/"`,
		`SNAPCRAFT_PART_BUILD="` + partRoot + `/build"`,
		`SNAPCRAFT_PART_BUILD_WORK="` + partRoot + `/build/"`,
		`SNAPCRAFT_PART_INSTALL="` + partRoot + `/install"`,
		`SNAPCRAFT_PARALLEL_BUILD_COUNT="2"`,
		`PATH="` + partRoot + `/install/usr/sbin:` + partRoot + `/install/usr/bin:` +
			partRoot + `/install/sbin:` + partRoot + `/install/bin:` +
			stage + `/usr/sbin:` + stage + `/usr/bin:` + stage + `/sbin:` + stage + `/bin${PATH:+:$PATH}"`,
		`PERL5LIB="${PERL5LIB:+$PERL5LIB:}` + stage + `/usr/share/perl5/"`,
	} {
		if !env.Contains(want) {
			t.Errorf("Expected environment to contain %s, got:\n%s", want, env)
		}
	}
}

func TestBuildEnvironmentFor_SourceSubdir(t *testing.T) {
	tp := newTestProject(t)
	p := tp.addPart(t, "main", nil)
	p.SourceSubdir = "sub"

	env := mustBuild(t, tp.builder(), "main", true)
	if v, _ := env.Lookup("SNAPCRAFT_PART_SRC_WORK"); v != p.SrcDir+"/sub" {
		t.Errorf("Expected SNAPCRAFT_PART_SRC_WORK %s/sub, got %s", p.SrcDir, v)
	}
	if v, _ := env.Lookup("SNAPCRAFT_PART_BUILD_WORK"); v != p.BuildDir+"/sub" {
		t.Errorf("Expected SNAPCRAFT_PART_BUILD_WORK %s/sub, got %s", p.BuildDir, v)
	}
}

func TestBuildEnvironmentFor_ContentDirsSorted(t *testing.T) {
	tp := newTestProject(t)
	tp.project.ContentDirs = []string{"/tmp/test2", "/tmp/test1"}
	tp.addPart(t, "part1", nil)

	env := mustBuild(t, tp.builder(), "part1", true)
	if !env.Contains(`SNAPCRAFT_CONTENT_DIRS="/tmp/test1:/tmp/test2"`) {
		t.Errorf("Expected sorted content dirs, got:\n%s", env)
	}
	if tp.project.ContentDirs[0] != "/tmp/test2" {
		t.Error("Expected project content dirs to be left untouched")
	}
}

func TestBuildEnvironmentFor_BaseLibrariesByConfinement(t *testing.T) {
	tests := []struct {
		confinement Confinement
		wantBase    bool
	}{
		{ConfinementStrict, true},
		{ConfinementDevmode, true},
		{ConfinementClassic, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.confinement), func(t *testing.T) {
			tp := newTestProject(t)
			tp.project.Confinement = tt.confinement
			tp.project.BaseRoot = filepath.Join(tp.dir, "base")
			tp.mkdirs(t, "base/lib", "base/usr/lib", "base/lib/"+testTriplet, "base/usr/lib/"+testTriplet)
			tp.addPart(t, "part1", nil)

			env := mustBuild(t, tp.builder(), "part1", true)
			ld, _ := env.Lookup("LD_LIBRARY_PATH")
			hasBase := strings.Contains(ld, tp.project.BaseRoot)
			if hasBase != tt.wantBase {
				t.Errorf("Expected base library paths present=%v, got LD_LIBRARY_PATH=%q", tt.wantBase, ld)
			}
			if tt.wantBase {
				want := "${LD_LIBRARY_PATH:+$LD_LIBRARY_PATH:}" + strings.Join([]string{
					filepath.Join(tp.project.BaseRoot, "lib"),
					filepath.Join(tp.project.BaseRoot, "usr/lib"),
					filepath.Join(tp.project.BaseRoot, "lib", testTriplet),
					filepath.Join(tp.project.BaseRoot, "usr/lib", testTriplet),
				}, ":")
				if ld != want {
					t.Errorf("Expected LD_LIBRARY_PATH %q, got %q", want, ld)
				}
			}
		})
	}
}

func TestBuildEnvironmentFor_LinkerConfigPaths(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "part1", nil)

	write := func(rel, content string) {
		path := filepath.Join(tp.dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("stage/usr/lib/my_arch/mesa/ld.so.conf", "/mesa")
	write("stage/usr/lib/my_arch/mesa-egl/ld.so.conf", "# Standalone comment\n/mesa-egl")
	write("prime/lib/ld.so.conf", "/primed")

	env := mustBuild(t, tp.builder(), "part1", true)
	ld, ok := env.Lookup("LD_LIBRARY_PATH")
	if !ok {
		t.Fatalf("Expected LD_LIBRARY_PATH in environment, got:\n%s", env)
	}

	stage := tp.project.StageDir
	want := "${LD_LIBRARY_PATH:+$LD_LIBRARY_PATH:}" + strings.Join([]string{
		filepath.Join(stage, "usr/lib"),
		filepath.Join(stage, "mesa"),
		filepath.Join(stage, "mesa-egl"),
		filepath.Join(tp.project.PrimeDir, "primed"),
	}, ":")
	if ld != want {
		t.Errorf("Expected LD_LIBRARY_PATH\n  %q\ngot\n  %q", want, ld)
	}
}

func TestBuildEnvironmentFor_OrderingWithStagedDependency(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "part1", nil)
	tp.addPart(t, "part2", []string{"part1"})

	tp.mkdirs(t,
		"stage/lib",
		"stage/lib/"+testTriplet,
		"stage/usr/lib",
		"stage/usr/lib/"+testTriplet,
		"stage/include",
		"stage/usr/include",
		"stage/include/"+testTriplet,
		"stage/usr/include/"+testTriplet,
		"parts/part1/install/include",
		"parts/part1/install/lib",
		"parts/part2/install/include",
		"parts/part2/install/lib",
	)

	b := tp.builder(WithStageTracker(stagedParts{"part1": true}))
	env := mustBuild(t, b, "part2", true)

	stage := tp.project.StageDir
	part2 := filepath.Join(tp.project.PartsDir, "part2", "install")

	wantFlags := strings.Join([]string{
		"-isystem" + part2 + "/include",
		"-isystem" + stage + "/include",
		"-isystem" + stage + "/usr/include",
		"-isystem" + stage + "/include/" + testTriplet,
		"-isystem" + stage + "/usr/include/" + testTriplet,
	}, " ")
	wantLDFlags := strings.Join([]string{
		"-L" + part2 + "/lib",
		"-L" + stage + "/lib",
		"-L" + stage + "/usr/lib",
		"-L" + stage + "/lib/" + testTriplet,
		"-L" + stage + "/usr/lib/" + testTriplet,
	}, " ")
	wantLD := strings.Join([]string{
		part2 + "/lib",
		stage + "/lib",
		stage + "/usr/lib",
		stage + "/lib/" + testTriplet,
		stage + "/usr/lib/" + testTriplet,
	}, ":")

	for name, want := range map[string]string{
		"CFLAGS":          "$CFLAGS " + wantFlags,
		"CXXFLAGS":        "$CXXFLAGS " + wantFlags,
		"CPPFLAGS":        "$CPPFLAGS " + wantFlags,
		"LDFLAGS":         "$LDFLAGS " + wantLDFlags,
		"LD_LIBRARY_PATH": "${LD_LIBRARY_PATH:+$LD_LIBRARY_PATH:}" + wantLD,
	} {
		if got, _ := env.Lookup(name); got != want {
			t.Errorf("%s:\n  expected %q\n  got      %q", name, want, got)
		}
	}

	requireShell(t)
	shell := &ShellEvaluator{Environ: []string{
		"PATH=/bin:/usr/bin",
		"CFLAGS=-I/user-provided",
		"CXXFLAGS=-I/user-provided",
		"CPPFLAGS=-I/user-provided",
		"LDFLAGS=-L/user-provided",
		"LD_LIBRARY_PATH=/user-provided",
	}}
	resolved, err := shell.Resolve(context.Background(), env, "CFLAGS", "CXXFLAGS", "CPPFLAGS", "LDFLAGS", "LD_LIBRARY_PATH")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	for _, name := range []string{"CFLAGS", "CXXFLAGS", "CPPFLAGS"} {
		if got := resolved[name]; got != "-I/user-provided "+wantFlags {
			t.Errorf("Resolved %s: got %q", name, got)
		}
	}
	if got := resolved["LDFLAGS"]; got != "-L/user-provided "+wantLDFlags {
		t.Errorf("Resolved LDFLAGS: got %q", got)
	}
	if got := resolved["LD_LIBRARY_PATH"]; got != "/user-provided:"+wantLD {
		t.Errorf("Resolved LD_LIBRARY_PATH: got %q", got)
	}
}

func TestBuildEnvironmentFor_UnstagedDependencyPrecedesStage(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "part1", nil)
	tp.addPart(t, "base", nil)
	tp.addPart(t, "part2", []string{"part1", "base"})
	tp.mkdirs(t,
		"stage/include",
		"parts/part1/install/include",
		"parts/base/install/include",
		"parts/part2/install/include",
	)

	env := mustBuild(t, tp.builder(WithStageTracker(NoStageTracker{})), "part2", true)

	want := "$CFLAGS " + strings.Join([]string{
		"-isystem" + filepath.Join(tp.project.PartsDir, "part2/install/include"),
		"-isystem" + filepath.Join(tp.project.PartsDir, "part1/install/include"),
		"-isystem" + filepath.Join(tp.project.PartsDir, "base/install/include"),
		"-isystem" + filepath.Join(tp.project.StageDir, "include"),
	}, " ")
	if got, _ := env.Lookup("CFLAGS"); got != want {
		t.Errorf("Expected CFLAGS\n  %q\ngot\n  %q", want, got)
	}
}

func TestBuildEnvironmentFor_OnlyDirectDependencies(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "bottom", nil)
	tp.addPart(t, "middle", []string{"bottom"})
	tp.addPart(t, "top", []string{"middle"})
	tp.mkdirs(t, "parts/bottom/install/lib", "parts/middle/install/lib")

	env := mustBuild(t, tp.builder(WithStageTracker(NoStageTracker{})), "top", true)
	ld, _ := env.Lookup("LD_LIBRARY_PATH")
	if !strings.Contains(ld, filepath.Join(tp.project.PartsDir, "middle")) {
		t.Errorf("Expected direct dependency paths, got %q", ld)
	}
	if strings.Contains(ld, filepath.Join(tp.project.PartsDir, "bottom")) {
		t.Errorf("Expected no transitive dependency paths, got %q", ld)
	}
}

func TestBuildEnvironmentFor_OverridesDoNotLeak(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "part1", nil, EnvEntry{Name: "FOO", Value: "BAR"})
	tp.addPart(t, "part2", []string{"part1"}, EnvEntry{Name: "BAZ", Value: "QUX"})
	tp.addPart(t, "sibling", nil)

	b := tp.builder()
	if env := mustBuild(t, b, "part1", true); !env.Contains(`FOO="BAR"`) {
		t.Errorf("Expected part1 to contain its override, got:\n%s", env)
	}

	env := mustBuild(t, b, "part2", true)
	if env.Contains(`FOO="BAR"`) {
		t.Errorf("Expected part1's override not to leak into part2, got:\n%s", env)
	}
	if !env.Contains(`BAZ="QUX"`) {
		t.Errorf("Expected part2 to contain its override, got:\n%s", env)
	}

	sibling := mustBuild(t, b, "sibling", true)
	if sibling.Index("FOO") >= 0 || sibling.Index("BAZ") >= 0 {
		t.Errorf("Expected no overrides in sibling, got:\n%s", sibling)
	}
}

func TestBuildEnvironmentFor_DependencyContextOmitsOverrides(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "part1", nil, EnvEntry{Name: "FOO", Value: "BAR"})

	b := tp.builder()
	env := mustBuild(t, b, "part1", false)
	if env.Index("FOO") >= 0 {
		t.Errorf("Expected no overrides for a dependency context, got:\n%s", env)
	}

	layers, err := b.Layers("part1", false)
	if err != nil {
		t.Fatalf("Layers failed: %v", err)
	}
	var names []string
	for _, l := range layers {
		names = append(names, l.Name)
	}
	if !reflect.DeepEqual(names, []string{LayerProject, LayerSearchPaths, LayerPart}) {
		t.Errorf("Unexpected layers %v", names)
	}
}

func TestBuildEnvironmentFor_OverridesFollowEarlierLayers(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "part1", nil,
		EnvEntry{Name: "PROJECT_NAME", Value: "$SNAPCRAFT_PROJECT_NAME"},
		EnvEntry{Name: "PART_INSTALL", Value: "$SNAPCRAFT_PART_INSTALL"},
		EnvEntry{Name: "SNAPCRAFT_PROJECT_NAME", Value: "renamed-$SNAPCRAFT_PROJECT_NAME"},
		EnvEntry{Name: "GREETING", Value: "hello $PROJECT_NAME"},
	)

	env := mustBuild(t, tp.builder(), "part1", true)

	if env.Index("PROJECT_NAME") <= env.Index("SNAPCRAFT_PROJECT_NAME") {
		t.Error("Expected PROJECT_NAME override after SNAPCRAFT_PROJECT_NAME")
	}
	if env.Index("PART_INSTALL") <= env.Index("SNAPCRAFT_PART_INSTALL") {
		t.Error("Expected PART_INSTALL override after SNAPCRAFT_PART_INSTALL")
	}
	if !env.Contains(`PROJECT_NAME="$SNAPCRAFT_PROJECT_NAME"`) {
		t.Errorf("Expected override to be emitted verbatim, got:\n%s", env)
	}
	if env.Count("SNAPCRAFT_PROJECT_NAME") != 2 {
		t.Errorf("Expected a shadowing override to be emitted as its own assignment")
	}

	requireShell(t)
	shell := &ShellEvaluator{Environ: []string{"PATH=/bin:/usr/bin"}}
	resolved, err := shell.Resolve(context.Background(), env,
		"PROJECT_NAME", "PART_INSTALL", "SNAPCRAFT_PROJECT_NAME", "GREETING")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := map[string]string{
		"PROJECT_NAME":           "test",
		"PART_INSTALL":           filepath.Join(tp.project.PartsDir, "part1", "install"),
		"SNAPCRAFT_PROJECT_NAME": "renamed-test",
		"GREETING":               "hello test",
	}
	if !reflect.DeepEqual(resolved, want) {
		t.Errorf("Expected %v, got %v", want, resolved)
	}
}

func TestBuildEnvironmentFor_Idempotent(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "part1", nil)
	tp.addPart(t, "part2", []string{"part1"}, EnvEntry{Name: "A", Value: "b"})
	tp.mkdirs(t, "stage/lib", "stage/include", "parts/part1/install/lib")

	b := tp.builder()
	first := mustBuild(t, b, "part2", true)
	second := mustBuild(t, b, "part2", true)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical environments:\n%s\n---\n%s", first, second)
	}
}

func TestBuildEnvironmentFor_ParallelBuildCount(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "part1", nil)

	tests := []struct {
		name     string
		detector *ParallelismDetector
		want     string
	}{
		{
			name:     "affinity",
			detector: NewParallelismDetector(WithAffinityQuery(func() (int, error) { return 42, nil })),
			want:     `SNAPCRAFT_PARALLEL_BUILD_COUNT="42"`,
		},
		{
			name: "cpu count",
			detector: NewParallelismDetector(
				WithAffinityQuery(func() (int, error) { return 0, ErrAffinityUnsupported }),
				WithCPUCountQuery(func() (int, error) { return 42, nil }),
			),
			want: `SNAPCRAFT_PARALLEL_BUILD_COUNT="42"`,
		},
		{
			name: "minimum",
			detector: NewParallelismDetector(
				WithAffinityQuery(func() (int, error) { return 0, ErrAffinityUnsupported }),
				WithCPUCountQuery(func() (int, error) { return 0, errors.New("not implemented") }),
			),
			want: `SNAPCRAFT_PARALLEL_BUILD_COUNT="1"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := mustBuild(t, tp.builder(WithParallelismDetector(tt.detector)), "part1", true)
			if !env.Contains(tt.want) {
				t.Errorf("Expected %s, got:\n%s", tt.want, env)
			}
		})
	}
}

type failingProber struct {
	PathProber
	failRoot string
}

func (f failingProber) LibraryDirs(root string) ([]string, error) {
	if root == f.failRoot {
		return nil, os.ErrPermission
	}
	return f.PathProber.LibraryDirs(root)
}

func TestBuildEnvironmentFor_PathProberError(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "part1", nil)

	b := tp.builder(WithProber(failingProber{
		PathProber: NewEnvironmentBuilder(tp.project, tp.graph).prober,
		failRoot:   tp.project.StageDir,
	}))

	env, err := b.BuildEnvironmentFor("part1", true)
	if env != nil {
		t.Errorf("Expected no partial environment, got:\n%s", env)
	}
	if !errors.Is(err, ErrEnvironmentProbe) {
		t.Fatalf("Expected ErrEnvironmentProbe, got: %v", err)
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Errorf("Expected the cause to be wrapped, got: %v", err)
	}
	var engErr *EngineError
	if errors.As(err, &engErr) && (engErr.Part != "part1" || engErr.Path != tp.project.StageDir) {
		t.Errorf("Expected part and path context, got part=%s path=%s", engErr.Part, engErr.Path)
	}
}

func TestBuildEnvironmentFor_MissingDependencyEnvironment(t *testing.T) {
	tp := newTestProject(t)
	dep := tp.addPart(t, "part1", nil)
	dep.InstallDir = ""
	tp.addPart(t, "part2", []string{"part1"})

	_, err := tp.builder().BuildEnvironmentFor("part2", true)
	if !errors.Is(err, ErrMissingDependencyEnvironment) {
		t.Fatalf("Expected ErrMissingDependencyEnvironment, got: %v", err)
	}
	var engErr *EngineError
	if errors.As(err, &engErr) && engErr.Dependency != "part1" {
		t.Errorf("Expected dependency part1, got %s", engErr.Dependency)
	}
}

func TestBuildEnvironmentFor_GraphErrors(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "a", []string{"b"})
	tp.addPart(t, "b", []string{"a"})

	if _, err := tp.builder().BuildEnvironmentFor("a", true); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("Expected ErrCyclicDependency, got: %v", err)
	}
	if _, err := tp.builder().BuildEnvironmentFor("nope", true); err == nil {
		t.Error("Expected error for unknown part")
	}
}

func TestMarkerStageTracker(t *testing.T) {
	tp := newTestProject(t)
	tracker := MarkerStageTracker{PartsDir: tp.project.PartsDir}
	if tracker.IsStaged("part1") {
		t.Fatal("Expected part1 not staged")
	}
	tp.mkdirs(t, "parts/part1/state")
	if err := os.WriteFile(filepath.Join(tp.project.PartsDir, "part1", "state", "stage"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !tracker.IsStaged("part1") {
		t.Error("Expected part1 staged")
	}
}

func TestSearchRoots(t *testing.T) {
	tp := newTestProject(t)
	tp.addPart(t, "part1", nil)
	tp.addPart(t, "base", nil)
	tp.addPart(t, "part2", []string{"part1", "base"})

	roots, err := tp.builder(WithStageTracker(stagedParts{"base": true})).SearchRoots("part2")
	if err != nil {
		t.Fatalf("SearchRoots failed: %v", err)
	}
	want := []string{
		filepath.Join(tp.project.PartsDir, "part2", "install"),
		filepath.Join(tp.project.PartsDir, "part1", "install"),
		tp.project.StageDir,
	}
	if !reflect.DeepEqual(roots, want) {
		t.Errorf("Expected roots %v, got %v", want, roots)
	}

	if _, err := tp.builder().SearchRoots("nope"); err == nil {
		t.Error("Expected error for unknown part")
	}
}

func TestRuntimeEnvironment(t *testing.T) {
	tp := newTestProject(t)
	b := tp.builder()
	prime := tp.project.PrimeDir

	env, err := b.RuntimeEnvironment()
	if err != nil {
		t.Fatalf("RuntimeEnvironment failed: %v", err)
	}
	wantPath := `PATH="` + prime + `/usr/sbin:` + prime + `/usr/bin:` + prime + `/sbin:` + prime + `/bin${PATH:+:$PATH}"`
	if !env.Contains(wantPath) {
		t.Errorf("Expected %s, got:\n%s", wantPath, env)
	}
	if env.Index("LD_LIBRARY_PATH") >= 0 {
		t.Errorf("Expected no LD_LIBRARY_PATH without library dirs, got:\n%s", env)
	}

	tp.mkdirs(t, "prime/lib", "prime/usr/lib")
	env, err = b.RuntimeEnvironment()
	if err != nil {
		t.Fatalf("RuntimeEnvironment failed: %v", err)
	}
	wantLD := `LD_LIBRARY_PATH="${LD_LIBRARY_PATH:+$LD_LIBRARY_PATH:}` + prime + `/lib:` + prime + `/usr/lib"`
	if !env.Contains(wantLD) {
		t.Errorf("Expected %s, got:\n%s", wantLD, env)
	}
}
