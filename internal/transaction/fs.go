package transaction

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// FS is the set of filesystem calls a commit makes. Tests substitute it
// to inject faults.
type FS interface {
	Lstat(name string) (os.FileInfo, error)
	Rename(oldpath, newpath string) error
	Mkdir(name string, perm os.FileMode) error
	Remove(name string) error
	// Copy copies src to a new file dst, preserving mode and modification
	// time, and syncs it to disk. dst must not exist.
	Copy(src, dst string) error
}

// OSFS is the real filesystem
type OSFS struct{}

func (OSFS) Lstat(name string) (os.FileInfo, error)    { return os.Lstat(name) }
func (OSFS) Rename(oldpath, newpath string) error      { return os.Rename(oldpath, newpath) }
func (OSFS) Mkdir(name string, perm os.FileMode) error { return os.Mkdir(name, perm) }
func (OSFS) Remove(name string) error                  { return os.Remove(name) }

func (OSFS) Copy(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// exists reports whether name is present, without following symlinks
func exists(fsys FS, name string) (bool, error) {
	_, err := fsys.Lstat(name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// move renames src to dst, falling back to copy and remove when the two
// live on different devices. dst is never overwritten.
func move(fsys FS, src, dst string) error {
	taken, err := exists(fsys, dst)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("destination %s already exists: %w", dst, os.ErrExist)
	}

	err = fsys.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	if err := fsys.Copy(src, dst); err != nil {
		return fmt.Errorf("cross-device copy: %w", err)
	}
	if err := fsys.Remove(src); err != nil {
		// Both copies exist; drop the new one.
		if rmErr := fsys.Remove(dst); rmErr != nil {
			return &StrayCopyError{Path: dst, Err: fmt.Errorf("remove source after copy: %w (cleanup: %v)", err, rmErr)}
		}
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// StrayCopyError reports a cross-device move that failed after its copy
// was written and could not remove that copy again. Path holds a second
// copy of the source.
type StrayCopyError struct {
	Path string
	Err  error
}

func (e *StrayCopyError) Error() string {
	return fmt.Sprintf("copy left at %s: %v", e.Path, e.Err)
}

func (e *StrayCopyError) Unwrap() error {
	return e.Err
}

// strayPath returns the leftover copy named by err, if any
func strayPath(err error) (string, bool) {
	var stray *StrayCopyError
	if errors.As(err, &stray) {
		return stray.Path, true
	}
	return "", false
}

// mkdirAll creates dir and any missing parents, returning the directories
// it created, outermost first.
func mkdirAll(fsys FS, dir string) ([]string, error) {
	var missing []string
	for d := filepath.Clean(dir); ; d = filepath.Dir(d) {
		info, err := fsys.Lstat(d)
		if err == nil {
			if !info.IsDir() {
				return nil, fmt.Errorf("%s is not a directory", d)
			}
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		missing = append(missing, d)
		if parent := filepath.Dir(d); parent == d {
			break
		}
	}

	var created []string
	for i := len(missing) - 1; i >= 0; i-- {
		err := fsys.Mkdir(missing[i], 0755)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return created, err
		}
		created = append(created, missing[i])
	}
	return created, nil
}
