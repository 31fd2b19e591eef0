// Package mmapfile memory-maps a file read-write so the engine can treat
// the data file's field region as a plain byte slice.
package mmapfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a memory-mapped, resizable backing file.
type File struct {
	f    *os.File
	data []byte
}

// Open maps an existing file of the given size. The file must already be
// at least size bytes long.
func Open(path string, size int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return mapFile(f, size)
}

// Create creates a new file at path sized to size bytes and maps it.
// Fails if the file already exists.
func Create(path string, size int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return mapFile(f, size)
}

func mapFile(f *os.File, size int) (*File, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapfile: mmap: %w", err)
	}
	return &File{f: f, data: data}, nil
}

// Bytes returns the mapped region.
func (m *File) Bytes() []byte { return m.data }

// Sync flushes the mapped region's pending writes to disk.
func (m *File) Sync() error {
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Close unmaps and closes the backing file.
func (m *File) Close() error {
	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("mmapfile: munmap: %w", err)
	}
	return m.f.Close()
}

// Grow remaps the file at a larger size, extending the underlying file
// first. Existing mapped bytes are preserved.
func (m *File) Grow(newSize int) error {
	if err := m.f.Truncate(int64(newSize)); err != nil {
		return err
	}
	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("mmapfile: munmap during grow: %w", err)
	}
	data, err := unix.Mmap(int(m.f.Fd()), 0, newSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmapfile: remap during grow: %w", err)
	}
	m.data = data
	return nil
}
