package probe

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
)

// linkerConfigName is the fragment name ldconfig reads.
const linkerConfigName = "ld.so.conf"

var (
	// ldconfig accepts colon, whitespace and comma as separators.
	ldPathDelimiters = regexp.MustCompile(`[:\s,]`)
	ldComment        = regexp.MustCompile(`#.*$`)
)

// linkerSearchRoots are the subpaths of a root searched for fragments.
var linkerSearchRoots = []string{
	"lib",
	filepath.Join("usr", "lib"),
}

// LinkerConfigPaths finds every ld.so.conf fragment below root's library
// subpaths and returns the library paths they list, each re-rooted under
// root. Fragments are visited in discovery order and their paths kept in
// file order; the result is not sorted because linker search order matters.
func (p *Probe) LinkerConfigPaths(root string) ([]string, error) {
	var paths []string
	for _, rel := range linkerSearchRoots {
		base := filepath.Join(root, rel)
		ok, err := isDir(base)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		matches, err := doublestar.Glob(os.DirFS(base), "**/"+linkerConfigName, doublestar.WithFailOnIOErrors())
		if err != nil {
			return nil, fmt.Errorf("failed to search %s for %s: %w", base, linkerConfigName, err)
		}

		for _, match := range matches {
			conf := filepath.Join(base, filepath.FromSlash(match))
			if ok, err := isRegular(conf); err != nil {
				return nil, err
			} else if !ok {
				continue
			}
			entries, err := readLinkerConfig(conf)
			if err != nil {
				return nil, err
			}
			for _, entry := range entries {
				paths = append(paths, filepath.Join(root, entry))
			}
		}
	}
	return paths, nil
}

// readLinkerConfig parses one ld.so.conf fragment. Blank lines and
// comments are ignored.
func readLinkerConfig(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := ldComment.ReplaceAllString(scanner.Text(), "")
		for _, field := range ldPathDelimiters.Split(line, -1) {
			if field != "" {
				entries = append(entries, field)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return entries, nil
}

// isRegular reports whether path is a regular file, following symlinks.
// Dangling links are not errors.
func isRegular(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}
