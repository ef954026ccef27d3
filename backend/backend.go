// Package backend provides the raw image accessors ext4.Mount reads
// through: a plain file or block device, an in-memory buffer, and a
// metadata-decrypting wrapper around either.
package backend

import (
	"io"
	"os"
)

// File is the positioned-read abstraction the core filesystem reader
// consumes. It never seeks; every read carries its own absolute offset, so
// multiple readers may share a File concurrently.
type File interface {
	io.ReaderAt
	io.Closer
	// Size returns the accessor's total byte size.
	Size() (int64, error)
}

type osFile struct {
	f    *os.File
	size int64
}

// Open opens path as a raw image accessor. Regular files are sized with
// Stat; block and character devices fall back to the platform-specific
// device-size probe in file_linux.go.
func Open(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	size, err := sizeOf(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &osFile{f: f, size: size}, nil
}

func (o *osFile) ReadAt(p []byte, off int64) (int, error) { return o.f.ReadAt(p, off) }
func (o *osFile) Close() error                            { return o.f.Close() }
func (o *osFile) Size() (int64, error)                    { return o.size, nil }

func sizeOf(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice != 0 {
		return deviceSize(f)
	}
	return fi.Size(), nil
}
