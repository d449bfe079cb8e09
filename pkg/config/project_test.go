package config

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/partcraft/partcraft/pkg/engine"
)

func TestNewProject(t *testing.T) {
	m, err := parse(t, helloManifest)
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}

	dir := t.TempDir()
	project, err := NewProject(m, ProjectOptions{
		ProjectDir:    dir,
		TargetArch:    "arm64",
		ExtensionsDir: "/ext",
	})
	if err != nil {
		t.Fatalf("NewProject failed: %v", err)
	}

	pc := project.Context
	checks := []struct {
		field string
		got   interface{}
		want  interface{}
	}{
		{"Name", pc.Name, "hello"},
		{"Version", pc.Version, "2.10"},
		{"Confinement", pc.Confinement, engine.ConfinementStrict},
		{"ArchTriplet", pc.ArchTriplet, "aarch64-linux-gnu"},
		{"TargetArch", pc.TargetArch, "arm64"},
		{"PartsDir", pc.PartsDir, filepath.Join(dir, "parts")},
		{"StageDir", pc.StageDir, filepath.Join(dir, "stage")},
		{"PrimeDir", pc.PrimeDir, filepath.Join(dir, "prime")},
		{"ExtensionsDir", pc.ExtensionsDir, "/ext"},
		{"BaseRoot", pc.BaseRoot, "/snap/core18/current"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %v, got %v", c.field, c.want, c.got)
		}
	}

	hello, ok := project.Part("hello")
	if !ok {
		t.Fatal("expected part hello")
	}
	if want := filepath.Join(dir, "parts", "hello", "install"); hello.InstallDir != want {
		t.Errorf("expected install dir %s, got %s", want, hello.InstallDir)
	}
	if want := filepath.Join(dir, "parts", "hello", "src", "src"); hello.SrcWorkDir() != want {
		t.Errorf("expected source work dir %s, got %s", want, hello.SrcWorkDir())
	}
	wantEnv := []engine.EnvEntry{
		{Name: "TEST_VAR", Value: "test"},
		{Name: "TEST_VAR_RENAMED", Value: "renamed-$TEST_VAR"},
		{Name: "JOBS", Value: "4"},
	}
	if !reflect.DeepEqual(hello.BuildEnvironment, wantEnv) {
		t.Errorf("expected build environment %v, got %v", wantEnv, hello.BuildEnvironment)
	}

	order, err := project.Graph.OrderNames()
	if err != nil {
		t.Fatalf("OrderNames failed: %v", err)
	}
	if want := []string{"libfoo", "tools", "hello"}; !reflect.DeepEqual(order, want) {
		t.Errorf("expected order %v, got %v", want, order)
	}
}

func TestNewProject_DependencyErrorsSurfaceFromGraph(t *testing.T) {
	m, err := parse(t, "name: app\nparts:\n  a:\n    after: [missing]\n")
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}

	project, err := NewProject(m, ProjectOptions{ProjectDir: t.TempDir(), TargetArch: "amd64"})
	if err != nil {
		t.Fatalf("NewProject failed: %v", err)
	}

	if _, err := project.Graph.OrderNames(); !errors.Is(err, engine.ErrUnknownDependency) {
		t.Errorf("expected unknown dependency error, got %v", err)
	}
}

func TestArchTriplet(t *testing.T) {
	tests := []struct {
		arch    string
		want    string
		wantErr bool
	}{
		{arch: "amd64", want: "x86_64-linux-gnu"},
		{arch: "arm64", want: "aarch64-linux-gnu"},
		{arch: "armhf", want: "arm-linux-gnueabihf"},
		{arch: "i386", want: "i386-linux-gnu"},
		{arch: "ppc64el", want: "powerpc64le-linux-gnu"},
		{arch: "s390x", want: "s390x-linux-gnu"},
		{arch: "riscv64", want: "riscv64-linux-gnu"},
		{arch: "sparc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.arch, func(t *testing.T) {
			got, err := ArchTriplet(tt.arch)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %s", tt.arch)
				}
				return
			}
			if err != nil {
				t.Fatalf("ArchTriplet failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestProjectDirFor(t *testing.T) {
	tests := []struct {
		manifest string
		want     string
	}{
		{manifest: "/work/app/snapcraft.yaml", want: "/work/app"},
		{manifest: "/work/app/snap/snapcraft.yaml", want: "/work/app"},
		{manifest: "/work/app/build-aux/snap/snapcraft.yaml", want: "/work/app"},
	}

	for _, tt := range tests {
		t.Run(tt.manifest, func(t *testing.T) {
			if got := projectDirFor(tt.manifest); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
