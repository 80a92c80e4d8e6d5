package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is the source of an upload. Parts read disjoint ranges through
// ReadAt concurrently, so implementations must allow parallel ReadAt calls
// (os.File and bytes.Reader both do).
type File interface {
	io.ReaderAt
	Name() string
	Size() int64
}

// LocalFile is a File backed by a file on disk.
type LocalFile struct {
	f    *os.File
	name string
	size int64
}

// OpenLocalFile opens path for upload. The upload name is the base name.
func OpenLocalFile(path string) (*LocalFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &LocalFile{f: f, name: filepath.Base(path), size: info.Size()}, nil
}

func (l *LocalFile) Name() string { return l.name }
func (l *LocalFile) Size() int64  { return l.size }

func (l *LocalFile) ReadAt(p []byte, off int64) (int, error) {
	return l.f.ReadAt(p, off)
}

// Path returns the path the file was opened from.
func (l *LocalFile) Path() string { return l.f.Name() }

func (l *LocalFile) Close() error {
	return l.f.Close()
}
