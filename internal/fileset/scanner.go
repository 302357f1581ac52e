// Package fileset walks file-set directory trees and derives the
// referenced-file-ID component paths stored in IMAGE records.
package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// strictComponent is the PS3.10 file-ID component syntax: up to eight
// characters from the restricted uppercase set.
var strictComponent = regexp.MustCompile(`^[A-Z0-9_]{1,8}$`)

// Scanner enumerates candidate object files below a root. The
// filesystem is abstracted so tests can run against an in-memory tree.
type Scanner struct {
	FS billy.Filesystem
}

// Scan calls fn for every regular file under root (or for root itself
// when it is a file), skipping the directory index and its compaction
// artifacts. fn errors abort the walk.
func (s *Scanner) Scan(root string, fn func(path string) error) error {
	info, err := s.FS.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fn(root)
	}
	return util.Walk(s.FS, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() || !fi.Mode().IsRegular() {
			return nil
		}
		if skipName(filepath.Base(path)) {
			return nil
		}
		return fn(path)
	})
}

func skipName(name string) bool {
	switch name {
	case "DICOMDIR", "DICOMDIR.tmp", "DICOMDIR.bak":
		return true
	}
	return false
}

// Components derives the referenced-file-ID path components of path
// relative to the file-set root. With strict set, every component must
// satisfy the PS3.10 eight-character uppercase syntax; otherwise
// components are passed through as found on disk.
func Components(root, path string, strict bool) ([]string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return nil, fmt.Errorf("file %s lies outside the file-set root %s", path, root)
	}
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		if p == "" || p == "." {
			return nil, fmt.Errorf("file %s has an empty path component", path)
		}
		if strict {
			up := strings.ToUpper(p)
			if !strictComponent.MatchString(up) {
				return nil, fmt.Errorf("path component %q of %s violates the strict file-ID syntax", p, path)
			}
			parts[i] = up
		}
	}
	return parts, nil
}
