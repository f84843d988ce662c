package filestore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var errKeyFileLength = errors.New("key file has an unexpected length")

// readFile returns nil, nil when path does not exist.
func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

// writeFile writes b to a temp file in the same directory and renames it over
// path.
func writeFile(path string, b []byte, mode os.FileMode) error {
	tmp, err := writeTemp(path, b, mode)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()
	return os.Rename(tmp, path)
}

// createFile is writeFile that fails with fs.ErrExist instead of replacing an
// existing path.
func createFile(path string, b []byte, mode os.FileMode) error {
	tmp, err := writeTemp(path, b, mode)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()
	return os.Link(tmp, path)
}

// writeTemp writes and syncs b next to path and returns the temp file name.
func writeTemp(path string, b []byte, mode os.FileMode) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	fail := func(err error) (string, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}

	if _, err := f.Write(b); err != nil {
		return fail(err)
	}
	if err := f.Chmod(mode); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// loadOrCreate returns the n bytes stored at path, first filling it with
// random bytes if it does not exist. When two processes race to create it,
// both end up with the winner's bytes. A file of any other length is an
// error and is left untouched.
func loadOrCreate(path string, n int) ([]byte, error) {
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		return checkLen(path, b, n)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	b = make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	err = createFile(path, b, 0o600)
	if errors.Is(err, fs.ErrExist) {
		if b, err = os.ReadFile(path); err != nil {
			return nil, err
		}
		return checkLen(path, b, n)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func checkLen(path string, b []byte, n int) ([]byte, error) {
	if len(b) != n {
		return nil, fmt.Errorf("%w: %s holds %d bytes, want %d", errKeyFileLength, filepath.Base(path), len(b), n)
	}
	return b, nil
}
