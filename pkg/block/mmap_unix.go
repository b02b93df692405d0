//go:build !windows

// pkg/block/mmap_unix.go
package block

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// mmapFile is a memory-mapped file.
type mmapFile struct {
	file   *os.File
	data   []byte
	size   int64
	locked bool
}

// openMmapFile opens or creates a memory-mapped file, extending it to
// initialSize if it is smaller. A zero-length file cannot be mapped, so
// initialSize must be positive for new files.
func openMmapFile(path string, initialSize int64, lock bool) (*mmapFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	if lock {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, ErrFileLocked
			}
			return nil, err
		}
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := stat.Size()
	if initialSize > size {
		if err := f.Truncate(initialSize); err != nil {
			f.Close()
			return nil, err
		}
		size = initialSize
	}
	if size == 0 {
		f.Close()
		return nil, errors.New("cannot mmap empty file")
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &mmapFile{file: f, data: data, size: size, locked: lock}, nil
}

// slice returns the mapped bytes at offset, or nil if out of range.
func (m *mmapFile) slice(offset, length int64) []byte {
	if offset < 0 || length < 0 || offset+length > int64(len(m.data)) {
		return nil
	}
	return m.data[offset : offset+length]
}

// sync flushes the mapping to disk.
func (m *mmapFile) sync() error {
	return unix.Msync(m.data, unix.MS_SYNC)
}

// grow extends the file and remaps it.
func (m *mmapFile) grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}
	if err := syscall.Munmap(m.data); err != nil {
		return err
	}
	if err := m.file.Truncate(newSize); err != nil {
		return err
	}
	data, err := syscall.Mmap(int(m.file.Fd()), 0, int(newSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return err
	}
	m.data = data
	m.size = newSize
	return nil
}

// close unmaps and closes the file.
func (m *mmapFile) close() error {
	var firstErr error

	if m.data != nil {
		if err := syscall.Munmap(m.data); err != nil && firstErr == nil {
			firstErr = err
		}
		m.data = nil
	}
	if m.file != nil {
		if m.locked {
			if err := unix.Flock(int(m.file.Fd()), unix.LOCK_UN); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := m.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.file = nil
	}
	return firstErr
}
