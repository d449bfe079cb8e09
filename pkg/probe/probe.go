package probe

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"syscall"
)

// DirKind distinguishes the directories reported by LibraryAndIncludeDirs.
type DirKind string

const (
	// KindLibrary marks a library search directory (-L, LD_LIBRARY_PATH).
	KindLibrary DirKind = "lib"

	// KindInclude marks a header search directory (-isystem).
	KindInclude DirKind = "include"
)

// Dir is a directory found below a probed root.
type Dir struct {
	Kind DirKind
	Path string
}

type candidate struct {
	kind DirKind
	rel  string
}

// Probe discovers build search directories below a root.
// A Probe holds no filesystem state and is safe for concurrent use.
type Probe struct {
	archTriplet string
}

// New creates a probe for the given architecture triplet
// (for example "x86_64-linux-gnu"). An empty triplet disables the
// architecture-specific candidates.
func New(archTriplet string) *Probe {
	return &Probe{archTriplet: archTriplet}
}

// ArchTriplet returns the triplet used for architecture-specific candidates.
func (p *Probe) ArchTriplet() string {
	return p.archTriplet
}

// candidates returns the canonical library candidates followed by the
// canonical include candidates.
func (p *Probe) candidates() []candidate {
	out := []candidate{
		{KindLibrary, "lib"},
		{KindLibrary, filepath.Join("usr", "lib")},
	}
	if p.archTriplet != "" {
		out = append(out,
			candidate{KindLibrary, filepath.Join("lib", p.archTriplet)},
			candidate{KindLibrary, filepath.Join("usr", "lib", p.archTriplet)},
		)
	}
	out = append(out,
		candidate{KindInclude, "include"},
		candidate{KindInclude, filepath.Join("usr", "include")},
	)
	if p.archTriplet != "" {
		out = append(out,
			candidate{KindInclude, filepath.Join("include", p.archTriplet)},
			candidate{KindInclude, filepath.Join("usr", "include", p.archTriplet)},
		)
	}
	return out
}

// LibraryAndIncludeDirs returns a lazy sequence of the library and include
// directories that exist below root, libraries first, each group in
// canonical order. Existence is checked while the sequence is consumed, so
// ranging over the same sequence again re-probes the filesystem.
//
// A non-nil error is yielded at most once and ends the sequence.
func (p *Probe) LibraryAndIncludeDirs(root string) iter.Seq2[Dir, error] {
	return func(yield func(Dir, error) bool) {
		for _, c := range p.candidates() {
			path := filepath.Join(root, c.rel)
			ok, err := isDir(path)
			if err != nil {
				yield(Dir{Kind: c.kind, Path: path}, err)
				return
			}
			if !ok {
				continue
			}
			if !yield(Dir{Kind: c.kind, Path: path}, nil) {
				return
			}
		}
	}
}

// LibraryDirs returns the existing library directories below root.
func (p *Probe) LibraryDirs(root string) ([]string, error) {
	return p.collect(root, KindLibrary)
}

// IncludeDirs returns the existing include directories below root.
func (p *Probe) IncludeDirs(root string) ([]string, error) {
	return p.collect(root, KindInclude)
}

func (p *Probe) collect(root string, kind DirKind) ([]string, error) {
	var dirs []string
	for dir, err := range p.LibraryAndIncludeDirs(root) {
		if err != nil {
			return nil, err
		}
		if dir.Kind == kind {
			dirs = append(dirs, dir.Path)
		}
	}
	return dirs, nil
}

// PkgConfigDirs returns the existing pkg-config directories below root.
func (p *Probe) PkgConfigDirs(root string) ([]string, error) {
	rels := []string{filepath.Join("lib", "pkgconfig")}
	if p.archTriplet != "" {
		rels = append(rels, filepath.Join("lib", p.archTriplet, "pkgconfig"))
	}
	rels = append(rels, filepath.Join("usr", "lib", "pkgconfig"))
	if p.archTriplet != "" {
		rels = append(rels, filepath.Join("usr", "lib", p.archTriplet, "pkgconfig"))
	}
	rels = append(rels,
		filepath.Join("usr", "share", "pkgconfig"),
		filepath.Join("usr", "local", "lib", "pkgconfig"),
	)
	return existingDirs(root, rels)
}

// PerlDir returns root's Perl module directory (usr/share/perl5/, with the
// trailing slash PERL5LIB conventionally carries) if it exists.
func (p *Probe) PerlDir(root string) (string, bool, error) {
	path := filepath.Join(root, "usr", "share", "perl5")
	ok, err := isDir(path)
	if err != nil || !ok {
		return "", false, err
	}
	return path + string(filepath.Separator), true, nil
}

// BinDirs returns the executable directories of root in PATH priority
// order. They are not filtered by existence.
func BinDirs(root string) []string {
	return []string{
		filepath.Join(root, "usr", "sbin"),
		filepath.Join(root, "usr", "bin"),
		filepath.Join(root, "sbin"),
		filepath.Join(root, "bin"),
	}
}

func existingDirs(root string, rels []string) ([]string, error) {
	var dirs []string
	for _, rel := range rels {
		path := filepath.Join(root, rel)
		ok, err := isDir(path)
		if err != nil {
			return nil, err
		}
		if ok {
			dirs = append(dirs, path)
		}
	}
	return dirs, nil
}

// isDir reports whether path is an existing directory. Missing paths,
// including paths whose parent is a regular file, are not errors.
func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}
