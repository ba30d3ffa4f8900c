package provisioner

import (
	"io"
	"os"
)

// FileSystem is the subset of filesystem access the provisioner performs.
// Every touch of the disk goes through it.
type FileSystem interface {
	Stat(name string) (os.FileInfo, error)
	ReadDir(name string) ([]os.DirEntry, error)
	MkdirAll(path string, perm os.FileMode) error
	Create(name string) (io.WriteCloser, error)
	Open(name string) (io.ReadCloser, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	Chmod(name string, mode os.FileMode) error
	Rename(oldpath, newpath string) error
	Remove(name string) error
	RemoveAll(path string) error
}

// OSFileSystem is the FileSystem backed by package os
type OSFileSystem struct{}

func (OSFileSystem) Stat(name string) (os.FileInfo, error)       { return os.Stat(name) }
func (OSFileSystem) ReadDir(name string) ([]os.DirEntry, error)  { return os.ReadDir(name) }
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (OSFileSystem) Create(name string) (io.WriteCloser, error)  { return os.Create(name) }
func (OSFileSystem) Open(name string) (io.ReadCloser, error)     { return os.Open(name) }
func (OSFileSystem) Chmod(name string, mode os.FileMode) error   { return os.Chmod(name, mode) }
func (OSFileSystem) Rename(oldpath, newpath string) error        { return os.Rename(oldpath, newpath) }
func (OSFileSystem) Remove(name string) error                    { return os.Remove(name) }
func (OSFileSystem) RemoveAll(path string) error                 { return os.RemoveAll(path) }

func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}
