package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/amosWeiskopf/tracksmith/pkg/utils"
)

// DefaultDirPermissions is used when creating the output directory
const DefaultDirPermissions = 0755

// maxSuffix bounds the collision search so a broken filesystem cannot spin forever
const maxSuffix = 100000

// FilesystemError wraps a failed directory or file operation
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// Dir is a flat output directory that media files are written into
type Dir struct {
	path string
}

// Open creates path if needed and returns a Dir for it. An existing
// directory is not an error.
func Open(path string) (*Dir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &FilesystemError{Op: "resolve", Path: path, Err: err}
	}
	if err := os.MkdirAll(abs, DefaultDirPermissions); err != nil {
		return nil, &FilesystemError{Op: "mkdir", Path: abs, Err: err}
	}
	return &Dir{path: abs}, nil
}

// Path returns the absolute directory path
func (d *Dir) Path() string {
	return d.path
}

// Create exclusively creates name inside the directory. When name is taken
// it tries base_1.ext, base_2.ext, ... until a create succeeds, so two
// concurrent callers can never end up with the same file.
func (d *Dir) Create(name string) (*os.File, string, error) {
	base, ext := utils.SplitExtension(name)
	candidate := name
	for n := 1; n <= maxSuffix; n++ {
		full := filepath.Join(d.path, candidate)
		f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", &FilesystemError{Op: "create", Path: full, Err: err}
		}
		candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	return nil, "", &FilesystemError{Op: "create", Path: filepath.Join(d.path, name), Err: fs.ErrExist}
}

// Exists reports whether name is present in the directory
func (d *Dir) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(d.path, name))
	return err == nil
}

// Remove deletes name from the directory
func (d *Dir) Remove(name string) error {
	full := filepath.Join(d.path, name)
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &FilesystemError{Op: "remove", Path: full, Err: err}
	}
	return nil
}
