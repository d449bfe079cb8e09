package probe

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const testTriplet = "x86_64-linux-gnu"

func mkdirs(t *testing.T, root string, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		if err := os.MkdirAll(filepath.Join(root, rel), 0o755); err != nil {
			t.Fatalf("Failed to create %s: %v", rel, err)
		}
	}
}

func TestLibraryAndIncludeDirs_CanonicalOrder(t *testing.T) {
	root := t.TempDir()
	// Created in reverse so enumeration order differs from canonical order.
	mkdirs(t, root,
		"usr/include/"+testTriplet,
		"include/"+testTriplet,
		"usr/include",
		"include",
		"usr/lib/"+testTriplet,
		"lib/"+testTriplet,
		"usr/lib",
		"lib",
	)

	var got []Dir
	for dir, err := range New(testTriplet).LibraryAndIncludeDirs(root) {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		got = append(got, dir)
	}

	want := []Dir{
		{KindLibrary, filepath.Join(root, "lib")},
		{KindLibrary, filepath.Join(root, "usr/lib")},
		{KindLibrary, filepath.Join(root, "lib", testTriplet)},
		{KindLibrary, filepath.Join(root, "usr/lib", testTriplet)},
		{KindInclude, filepath.Join(root, "include")},
		{KindInclude, filepath.Join(root, "usr/include")},
		{KindInclude, filepath.Join(root, "include", testTriplet)},
		{KindInclude, filepath.Join(root, "usr/include", testTriplet)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestLibraryAndIncludeDirs_SkipsMissing(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "usr/lib", "include")

	p := New(testTriplet)

	libs, err := p.LibraryDirs(root)
	if err != nil {
		t.Fatalf("LibraryDirs failed: %v", err)
	}
	if want := []string{filepath.Join(root, "usr/lib")}; !reflect.DeepEqual(libs, want) {
		t.Errorf("Expected libraries %v, got %v", want, libs)
	}

	includes, err := p.IncludeDirs(root)
	if err != nil {
		t.Fatalf("IncludeDirs failed: %v", err)
	}
	if want := []string{filepath.Join(root, "include")}; !reflect.DeepEqual(includes, want) {
		t.Errorf("Expected includes %v, got %v", want, includes)
	}
}

func TestLibraryAndIncludeDirs_MissingRoot(t *testing.T) {
	libs, err := New(testTriplet).LibraryDirs(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Expected no error for a missing root, got %v", err)
	}
	if len(libs) != 0 {
		t.Errorf("Expected no libraries, got %v", libs)
	}
}

func TestLibraryAndIncludeDirs_FileIsNotADirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "lib"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	libs, err := New(testTriplet).LibraryDirs(root)
	if err != nil {
		t.Fatalf("LibraryDirs failed: %v", err)
	}
	if len(libs) != 0 {
		t.Errorf("Expected no libraries, got %v", libs)
	}
}

func TestLibraryAndIncludeDirs_Restartable(t *testing.T) {
	root := t.TempDir()
	seq := New(testTriplet).LibraryAndIncludeDirs(root)

	count := func() int {
		n := 0
		for _, err := range seq {
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			n++
		}
		return n
	}

	if n := count(); n != 0 {
		t.Errorf("Expected 0 directories, got %d", n)
	}
	mkdirs(t, root, "lib", "include")
	if n := count(); n != 2 {
		t.Errorf("Expected 2 directories after creating them, got %d", n)
	}
}

func TestLibraryAndIncludeDirs_EarlyStop(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "lib", "usr/lib", "include")

	var first Dir
	for dir := range New(testTriplet).LibraryAndIncludeDirs(root) {
		first = dir
		break
	}
	if want := filepath.Join(root, "lib"); first.Path != want {
		t.Errorf("Expected first directory %s, got %s", want, first.Path)
	}
}

func TestLibraryAndIncludeDirs_NoTriplet(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "lib", "include")

	libs, err := New("").LibraryDirs(root)
	if err != nil {
		t.Fatalf("LibraryDirs failed: %v", err)
	}
	if want := []string{filepath.Join(root, "lib")}; !reflect.DeepEqual(libs, want) {
		t.Errorf("Expected %v, got %v", want, libs)
	}
}

func TestPkgConfigDirs(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "usr/share/pkgconfig", "usr/lib/"+testTriplet+"/pkgconfig", "lib/pkgconfig")

	dirs, err := New(testTriplet).PkgConfigDirs(root)
	if err != nil {
		t.Fatalf("PkgConfigDirs failed: %v", err)
	}
	want := []string{
		filepath.Join(root, "lib/pkgconfig"),
		filepath.Join(root, "usr/lib", testTriplet, "pkgconfig"),
		filepath.Join(root, "usr/share/pkgconfig"),
	}
	if !reflect.DeepEqual(dirs, want) {
		t.Errorf("Expected %v, got %v", want, dirs)
	}
}

func TestPerlDir(t *testing.T) {
	root := t.TempDir()
	p := New(testTriplet)

	if _, ok, err := p.PerlDir(root); err != nil || ok {
		t.Fatalf("Expected no perl directory, got ok=%v err=%v", ok, err)
	}

	mkdirs(t, root, "usr/share/perl5")
	dir, ok, err := p.PerlDir(root)
	if err != nil || !ok {
		t.Fatalf("Expected a perl directory, got ok=%v err=%v", ok, err)
	}
	if want := filepath.Join(root, "usr/share/perl5") + "/"; dir != want {
		t.Errorf("Expected %s, got %s", want, dir)
	}
}

func TestBinDirs(t *testing.T) {
	want := []string{
		"/stage/usr/sbin",
		"/stage/usr/bin",
		"/stage/sbin",
		"/stage/bin",
	}
	if got := BinDirs("/stage"); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
