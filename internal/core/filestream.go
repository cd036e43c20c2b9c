package core

import (
	"fmt"
	"os"
)

// FileStream is the simplest CacheBucketSource: a plain *os.File opened for
// random reads. It never buffers — every CopyTo is a pread at the given
// offset — so all caching/paging behavior lives in CacheBucket above it.
type FileStream struct {
	path string
	f    *os.File
	size uint64
	eof  bool
}

// NewFileStream constructs an unopened FileStream for path.
func NewFileStream(path string) *FileStream {
	return &FileStream{path: path}
}

// Open opens the underlying file and stats its size.
func (fs *FileStream) Open() error {
	if fs.f != nil {
		return fmt.Errorf("core: file stream %q already open", fs.path)
	}
	f, err := os.Open(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("core: file %q does not exist: %w", fs.path, err)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("core: permission denied opening %q: %w", fs.path, err)
		}
		return fmt.Errorf("core: opening %q: %w", fs.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("core: stat %q: %w", fs.path, err)
	}
	fs.f = f
	fs.size = uint64(info.Size())
	fs.eof = false
	return nil
}

// Close closes the underlying file. Safe to call on an unopened stream.
func (fs *FileStream) Close() error {
	if fs.f == nil {
		return nil
	}
	err := fs.f.Close()
	fs.f = nil
	return err
}

// IsOpen reports whether the stream has an open file handle.
func (fs *FileStream) IsOpen() bool { return fs.f != nil }

// IsGood reports whether the stream is open and has not observed EOF.
func (fs *FileStream) IsGood() bool { return fs.f != nil && !fs.eof }

// IsEOF reports whether the last read hit end of file.
func (fs *FileStream) IsEOF() bool { return fs.eof }

// Size implements CacheBucketSource.
func (fs *FileStream) Size() (uint64, error) {
	if fs.f == nil {
		return 0, fmt.Errorf("core: file stream %q not open", fs.path)
	}
	return fs.size, nil
}

// CopyTo implements CacheBucketSource: a bounds-checked pread into dst.
func (fs *FileStream) CopyTo(dst []byte, offset, length uint64) error {
	if fs.f == nil {
		return fmt.Errorf("core: file stream %q not open", fs.path)
	}
	if uint64(len(dst)) < length {
		return fmt.Errorf("core: destination buffer too small (%d < %d)", len(dst), length)
	}
	if offset+length > fs.size {
		fs.eof = true
		return fmt.Errorf("core: read [%d,%d) past end of %q (size=%d)", offset, offset+length, fs.path, fs.size)
	}
	n, err := fs.f.ReadAt(dst[:length], int64(offset))
	if err != nil {
		return fmt.Errorf("core: reading %q at %d: %w", fs.path, offset, err)
	}
	if uint64(n) != length {
		return fmt.Errorf("core: short read from %q: got %d want %d", fs.path, n, length)
	}
	return nil
}
