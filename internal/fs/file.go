package fs

import (
	"io"
	"os"
	"path/filepath"
)

// Stat returns a FileInfo structure describing the named file.
// If there is an error, it will be of type *PathError.
func Stat(name string) (os.FileInfo, error) {
	return os.Stat(fixpath(name))
}

// Open opens a file for reading.
func Open(name string) (*os.File, error) {
	return os.Open(fixpath(name))
}

// OpenFile is the generalized open call; most users will use Open
// or Create instead. If there is an error, it will be of type *PathError.
func OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(fixpath(name), flag, perm)
}

// MkdirAll creates a directory named path, along with any necessary parents,
// and returns nil, or else returns an error.
func MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(fixpath(path), perm)
}

// Remove removes the named file or directory.
// If there is an error, it will be of type *PathError.
func Remove(name string) error {
	return os.Remove(fixpath(name))
}

// RemoveIfExists removes a file, returning no error if it does not exist.
func RemoveIfExists(filename string) error {
	err := os.Remove(filename)
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// Rename renames (moves) oldpath to newpath.
// If there is an error, it will be of type *LinkError.
func Rename(oldpath, newpath string) error {
	return os.Rename(fixpath(oldpath), fixpath(newpath))
}

// TempFile creates a temporary file in the same directory as name, so that a
// later Rename onto name stays within one filesystem.
func TempFile(name string) (*os.File, error) {
	dir, base := filepath.Split(fixpath(name))
	if dir == "" {
		dir = "."
	}
	return os.CreateTemp(dir, base+".tmp-*")
}

// ReadFile reads the whole named file.
func ReadFile(name string) ([]byte, error) {
	return os.ReadFile(fixpath(name))
}

// WriteFile writes data to the named file, creating it if necessary.
func WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(fixpath(name), data, perm)
}

// CopyFile copies the contents of src to dst. dst is created with the
// given mode and replaced if it already exists.
func CopyFile(src, dst string, perm os.FileMode) error {
	in, err := Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, in)
	cerr := out.Close()
	if err == nil {
		err = cerr
	}
	return err
}
