// Package storage confines file operations to configured directories.
//
// Every path is relative to a sandbox root. Paths that would resolve outside
// the root are rejected with ErrPathEscape. Errors from the filesystem are
// wrapped, so fs.ErrNotExist and friends remain detectable with errors.Is.
package storage

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrPathEscape is returned for paths that leave the sandbox.
var ErrPathEscape = errors.New("path escapes sandbox")

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

// Sandbox performs file operations inside a single base directory.
type Sandbox struct {
	root string
}

// NewSandbox creates a sandbox rooted at dir, creating the directory if needed.
func NewSandbox(dir string) (*Sandbox, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	return &Sandbox{root: root}, nil
}

// BaseDir returns the absolute sandbox root.
func (s *Sandbox) BaseDir() string {
	return s.root
}

// ResolvePath returns the absolute path for a sandbox-relative path.
func (s *Sandbox) ResolvePath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s (absolute paths not allowed)", ErrPathEscape, rel)
	}
	abs := filepath.Join(s.root, filepath.Clean(rel))
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	return abs, nil
}

// at resolves rel and runs op on the absolute path, labelling failures
// with what.
func (s *Sandbox) at(rel, what string, op func(abs string) error) error {
	abs, err := s.ResolvePath(rel)
	if err != nil {
		return err
	}
	if err := op(abs); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// Exists reports whether a path exists.
func (s *Sandbox) Exists(rel string) (bool, error) {
	_, err := s.Stat(rel)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// MkdirAll creates a directory and its parents.
func (s *Sandbox) MkdirAll(rel string) error {
	return s.at(rel, "creating directory", func(abs string) error {
		return os.MkdirAll(abs, dirPerm)
	})
}

// WriteFile writes data, creating parent directories.
func (s *Sandbox) WriteFile(rel string, data []byte) error {
	return s.at(rel, "writing file", func(abs string) error {
		if err := os.MkdirAll(filepath.Dir(abs), dirPerm); err != nil {
			return err
		}
		return os.WriteFile(abs, data, filePerm)
	})
}

// ReadFile reads a whole file.
func (s *Sandbox) ReadFile(rel string) ([]byte, error) {
	var data []byte
	err := s.at(rel, "reading file", func(abs string) (err error) {
		data, err = os.ReadFile(abs)
		return err
	})
	return data, err
}

// Open opens a file for reading.
func (s *Sandbox) Open(rel string) (*os.File, error) {
	var f *os.File
	err := s.at(rel, "opening file", func(abs string) (err error) {
		f, err = os.Open(abs)
		return err
	})
	return f, err
}

// Stat returns file info for a path.
func (s *Sandbox) Stat(rel string) (os.FileInfo, error) {
	var info os.FileInfo
	err := s.at(rel, "getting file info", func(abs string) (err error) {
		info, err = os.Stat(abs)
		return err
	})
	return info, err
}

// Size returns a file's size in bytes.
func (s *Sandbox) Size(rel string) (int64, error) {
	info, err := s.Stat(rel)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// List returns the entries of a directory.
func (s *Sandbox) List(rel string) ([]os.DirEntry, error) {
	var entries []os.DirEntry
	err := s.at(rel, "reading directory", func(abs string) (err error) {
		entries, err = os.ReadDir(abs)
		return err
	})
	return entries, err
}

// Chmod changes a file's mode.
func (s *Sandbox) Chmod(rel string, mode os.FileMode) error {
	return s.at(rel, "changing mode", func(abs string) error {
		return os.Chmod(abs, mode)
	})
}

// Remove removes a file or empty directory.
func (s *Sandbox) Remove(rel string) error {
	return s.at(rel, "removing path", os.Remove)
}

// RemoveAll removes a path and its contents. The root itself cannot be removed.
func (s *Sandbox) RemoveAll(rel string) error {
	return s.at(rel, "removing path", func(abs string) error {
		if abs == s.root {
			return errors.New("cannot remove sandbox base directory")
		}
		return os.RemoveAll(abs)
	})
}

// Clear empties dir but keeps it, returning how many entries were removed.
// A missing dir is already clear.
func (s *Sandbox) Clear(dir string) (int, error) {
	entries, err := s.List(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	for i, entry := range entries {
		if err := s.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

// RemoveStale deletes regular files directly inside dir last modified before
// cutoff, skipping any for which keep returns true. keep may be nil. It
// returns the removed names.
func (s *Sandbox) RemoveStale(dir string, cutoff time.Time, keep func(name string) bool) ([]string, error) {
	entries, err := s.List(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || (keep != nil && keep(name)) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := s.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// AtomicWrite writes data to a temporary file and renames it into place.
func (s *Sandbox) AtomicWrite(rel string, data []byte) error {
	return s.AtomicWriteReader(rel, bytes.NewReader(data))
}

// AtomicWriteReader copies r to a temporary file beside rel and renames it
// into place, so readers never observe a partial file.
func (s *Sandbox) AtomicWriteReader(rel string, r io.Reader) error {
	return s.at(rel, "atomic write", func(abs string) error {
		dir := filepath.Dir(abs)
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return err
		}
		tmp, err := os.OpenFile(filepath.Join(dir, "."+filepath.Base(abs)+"."+randomHex(8)+".tmp"),
			os.O_CREATE|os.O_WRONLY|os.O_EXCL, filePerm)
		if err != nil {
			return err
		}
		_, err = io.Copy(tmp, r)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err == nil {
			err = os.Rename(tmp.Name(), abs)
		}
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
		return err
	})
}

// SubSandbox returns a sandbox rooted at a subdirectory of this one.
func (s *Sandbox) SubSandbox(rel string) (*Sandbox, error) {
	abs, err := s.ResolvePath(rel)
	if err != nil {
		return nil, err
	}
	return NewSandbox(abs)
}

func randomHex(n int) string {
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprint(time.Now().UnixNano())
	}
	return hex.EncodeToString(b)[:n]
}
