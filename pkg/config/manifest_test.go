package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const helloManifest = `name: hello
version: "2.10"
summary: GNU Hello
parts:
  hello:
    plugin: nil
    after: [libfoo, tools]
    build-environment:
      - TEST_VAR: test
      - TEST_VAR_RENAMED: renamed-$TEST_VAR
      - JOBS: 4
    source-subdir: src
    override-build: |
      make install DESTDIR=$SNAPCRAFT_PART_INSTALL
  libfoo:
    plugin: autotools
  tools:
`

func parse(t *testing.T, content string) (*Manifest, error) {
	t.Helper()
	return NewLoader().ParseManifest(context.Background(), []byte(content), "snapcraft.yaml")
}

func validationErrors(t *testing.T, err error) ValidationErrors {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}
	return verrs
}

func TestParseManifest(t *testing.T) {
	m, err := parse(t, helloManifest)
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}

	if m.Name != "hello" {
		t.Errorf("expected name hello, got %s", m.Name)
	}
	if m.Version != "2.10" {
		t.Errorf("expected version 2.10, got %s", m.Version)
	}
	if got, want := m.Parts.Names(), []string{"hello", "libfoo", "tools"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected parts %v in declaration order, got %v", want, got)
	}

	hello, ok := m.Part("hello")
	if !ok {
		t.Fatal("expected part hello")
	}
	if want := []string{"libfoo", "tools"}; !reflect.DeepEqual(hello.After, want) {
		t.Errorf("expected after %v, got %v", want, hello.After)
	}
	if hello.SourceSubdir != "src" {
		t.Errorf("expected source-subdir src, got %s", hello.SourceSubdir)
	}
	if hello.Line != 5 {
		t.Errorf("expected hello on line 5, got %d", hello.Line)
	}
	wantEnv := []EnvironmentEntry{
		{Name: "TEST_VAR", Value: "test"},
		{Name: "TEST_VAR_RENAMED", Value: "renamed-$TEST_VAR"},
		{Name: "JOBS", Value: "4"},
	}
	if !reflect.DeepEqual(hello.BuildEnvironment, wantEnv) {
		t.Errorf("expected build environment %v, got %v", wantEnv, hello.BuildEnvironment)
	}
	if !strings.Contains(hello.OverrideBuild, "make install") {
		t.Errorf("expected override-build script, got %q", hello.OverrideBuild)
	}

	tools, ok := m.Part("tools")
	if !ok {
		t.Fatal("expected part tools")
	}
	if tools.Plugin != "" {
		t.Errorf("expected no plugin for tools, got %s", tools.Plugin)
	}
}

func TestParseManifest_Defaults(t *testing.T) {
	m, err := parse(t, "name: app\nparts:\n  app:\n    plugin: nil\n")
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}

	if m.Base != DefaultBase {
		t.Errorf("expected base %s, got %s", DefaultBase, m.Base)
	}
	if m.Grade != DefaultGrade {
		t.Errorf("expected grade %s, got %s", DefaultGrade, m.Grade)
	}
	if m.Confinement != DefaultConfinement {
		t.Errorf("expected confinement %s, got %s", DefaultConfinement, m.Confinement)
	}
}

func TestParseManifest_DecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "duplicate part",
			content: "name: app\nparts:\n  a: {}\n  a: {}\n",
			wantMsg: `part "a" already declared on line 3`,
		},
		{
			name:    "multi-key environment entry",
			content: "name: app\nparts:\n  a:\n    build-environment:\n      - A: 1\n        B: 2\n",
			wantMsg: "single-key mappings",
		},
		{
			name:    "unknown top-level key",
			content: "name: app\nflavour: vanilla\nparts:\n  a: {}\n",
			wantMsg: "flavour",
		},
		{
			name:    "parts not a mapping",
			content: "name: app\nparts: [a, b]\n",
			wantMsg: "parts must be a mapping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.content)
			verrs := validationErrors(t, err)
			if !strings.Contains(verrs.Error(), tt.wantMsg) {
				t.Errorf("expected error containing %q, got %v", tt.wantMsg, verrs)
			}
		})
	}
}

func TestParseManifest_StructValidation(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantPath string
	}{
		{
			name:     "missing name",
			content:  "parts:\n  a: {}\n",
			wantPath: "Name",
		},
		{
			name:     "invalid confinement",
			content:  "name: app\nconfinement: loose\nparts:\n  a: {}\n",
			wantPath: "Confinement",
		},
		{
			name:     "invalid grade",
			content:  "name: app\ngrade: beta\nparts:\n  a: {}\n",
			wantPath: "Grade",
		},
		{
			name:     "no parts",
			content:  "name: app\n",
			wantPath: "Parts",
		},
		{
			name:     "empty after entry",
			content:  "name: app\nparts:\n  a:\n    after: [\"\"]\n",
			wantPath: "parts.a.After[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.content)
			verrs := validationErrors(t, err)
			if len(verrs) != 1 {
				t.Fatalf("expected 1 error, got %d: %v", len(verrs), verrs)
			}
			if verrs[0].Path != tt.wantPath {
				t.Errorf("expected path %s, got %s", tt.wantPath, verrs[0].Path)
			}
			if verrs[0].File != "snapcraft.yaml" {
				t.Errorf("expected file snapcraft.yaml, got %s", verrs[0].File)
			}
		})
	}
}

func TestParseManifest_SchemaValidation(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantPath string
		wantLine int
	}{
		{
			name:     "uppercase project name",
			content:  "name: Hello\nparts:\n  a: {}\n",
			wantPath: "name",
		},
		{
			name:     "double hyphen in project name",
			content:  "name: my--app\nparts:\n  a: {}\n",
			wantPath: "name",
		},
		{
			name:     "invalid part name",
			content:  "name: app\nparts:\n  a: {}\n  Bad_Part: {}\n",
			wantPath: "parts.Bad_Part",
			wantLine: 4,
		},
		{
			name:     "invalid environment name",
			content:  "name: app\nparts:\n  a:\n    build-environment:\n      - 1BAD: x\n",
			wantPath: "parts.a.build-environment",
			wantLine: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.content)
			verrs := validationErrors(t, err)

			var found *ValidationError
			for i := range verrs {
				if strings.HasPrefix(verrs[i].Path, "#") {
					t.Errorf("expected manifest paths, got schema path %s", verrs[i].Path)
				}
				if found == nil && strings.HasPrefix(verrs[i].Path, tt.wantPath) {
					found = &verrs[i]
				}
			}
			if found == nil {
				t.Fatalf("expected an error at %s, got %v", tt.wantPath, verrs)
			}
			if found.Line != tt.wantLine {
				t.Errorf("expected line %d, got %d", tt.wantLine, found.Line)
			}
		})
	}
}

func TestParseManifest_SchemaErrorLocation(t *testing.T) {
	_, err := parse(t, "name: app\nparts:\n  a: {}\n  Bad_Part: {}\n")
	verrs := validationErrors(t, err)

	if !strings.Contains(verrs.Error(), "snapcraft.yaml:4: parts.Bad_Part: ") {
		t.Errorf("expected the error to name file, line and part, got %v", verrs)
	}
}

func TestManifestPath(t *testing.T) {
	tests := []struct {
		path []string
		want []string
	}{
		{path: []string{"#Manifest", "parts", "a"}, want: []string{"parts", "a"}},
		{path: []string{"name"}, want: []string{"name"}},
		{path: nil, want: nil},
	}

	for _, tt := range tests {
		if got := manifestPath(tt.path); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("manifestPath(%v): expected %v, got %v", tt.path, tt.want, got)
		}
	}
}

func TestLocateManifest(t *testing.T) {
	dir := t.TempDir()

	if _, err := LocateManifest(dir); !errors.Is(err, ErrManifestNotFound) {
		t.Errorf("expected ErrManifestNotFound, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "snapcraft.yaml"), []byte(helloManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	path, err := LocateManifest(dir)
	if err != nil {
		t.Fatalf("LocateManifest failed: %v", err)
	}
	if want := filepath.Join(dir, "snapcraft.yaml"); path != want {
		t.Errorf("expected %s, got %s", want, path)
	}

	// snap/snapcraft.yaml takes precedence.
	if err := os.MkdirAll(filepath.Join(dir, "snap"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "snap", "snapcraft.yaml"), []byte(helloManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	path, err = LocateManifest(dir)
	if err != nil {
		t.Fatalf("LocateManifest failed: %v", err)
	}
	if want := filepath.Join(dir, "snap", "snapcraft.yaml"); path != want {
		t.Errorf("expected %s, got %s", want, path)
	}

	m, err := NewLoader().LoadManifest(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if m.Path != path {
		t.Errorf("expected manifest path %s, got %s", path, m.Path)
	}
}
