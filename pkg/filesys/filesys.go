// Package filesys provides the small set of filesystem utilities blockvault's
// storage layer needs: creating the image root and its subdirectories, and
// managing the cross-process lock.db presence file that guards against two
// engines opening the same root concurrently.
package filesys

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrIsNotDir is returned when a path expected to be a directory is a file.
	ErrIsNotDir = errors.New("path isn't a directory")

	// ErrLocked is returned by AcquireLock when lock.db already exists.
	ErrLocked = errors.New("lock file already present")
)

// CreateDir creates a directory at the specified path with the given permissions.
//
// If the directory already exists:
//   - If 'force' is true, it proceeds without error.
//   - If 'force' is false, it returns an error.
//
// It also returns an error if the existing path is a file (not a directory).
func CreateDir(dirPath string, permission os.FileMode, force bool) error {
	stat, err := os.Stat(dirPath)
	if stat != nil && !stat.IsDir() {
		return ErrIsNotDir
	}

	if !force {
		if err == nil {
			return fmt.Errorf("directory %s already exists: %w", dirPath, os.ErrExist)
		}
		if !os.IsNotExist(err) {
			return err
		}
	}

	if err := os.MkdirAll(dirPath, permission); err != nil {
		return err
	}

	return os.Chmod(dirPath, permission)
}

// Exists checks if a file or directory at the given `path` exists.
// It returns true if the file/directory exists, false if it does not,
// and an error if there's any other issue checking its status.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// WriteFile writes the provided `contents` to the file at `filePath` with the given `permission`.
// If the file does not exist, it will be created. If it exists, it will be truncated.
func WriteFile(filePath string, permission os.FileMode, contents []byte) error {
	return os.WriteFile(filePath, contents, permission)
}

// ReadFile reads the entire content of the file at `filePath` into a byte slice.
func ReadFile(filePath string) ([]byte, error) {
	return os.ReadFile(filePath)
}

// DeleteFile deletes the file at the specified `filePath`. It is not an error
// if the file is already gone, matching the idempotent "clean shutdown"
// semantics an image's lock-file release needs.
func DeleteFile(filePath string) error {
	err := os.Remove(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// AcquireLock creates the zero-length lock file at path, failing with
// ErrLocked if it is already present. This backs Image's cross-process
// guard: lock.db existing at construction aborts startup (spec.md §3/§4.3).
func AcquireLock(path string) error {
	exists, err := Exists(path)
	if err != nil {
		return fmt.Errorf("checking lock file %s: %w", path, err)
	}
	if exists {
		return ErrLocked
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrLocked
		}
		return fmt.Errorf("creating lock file %s: %w", path, err)
	}
	return f.Close()
}

// ReleaseLock removes the lock file, ignoring an already-missing file so a
// second Close (or a Close after a failed Open) doesn't itself fail.
func ReleaseLock(path string) error {
	return DeleteFile(path)
}
