//go:build windows

// pkg/block/mmap_windows.go
package block

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mmapFile is a memory-mapped file.
type mmapFile struct {
	file      *os.File
	mapHandle windows.Handle
	data      []byte
	size      int64
	locked    bool
}

// openMmapFile opens or creates a memory-mapped file, extending it to
// initialSize if it is smaller.
func openMmapFile(path string, initialSize int64, lock bool) (*mmapFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	if lock {
		ol := new(windows.Overlapped)
		err := windows.LockFileEx(windows.Handle(f.Fd()),
			windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
			0, 1, 0, ol)
		if err != nil {
			f.Close()
			if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
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

	m := &mmapFile{file: f, size: size, locked: lock}
	if err := m.mapView(size); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

func (m *mmapFile) mapView(size int64) error {
	mapHandle, err := windows.CreateFileMapping(
		windows.Handle(m.file.Fd()), nil, windows.PAGE_READWRITE,
		uint32(size>>32), uint32(size&0xFFFFFFFF), nil)
	if err != nil {
		return err
	}
	base, err := windows.MapViewOfFile(mapHandle,
		windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(mapHandle)
		return err
	}
	m.mapHandle = mapHandle
	m.data = unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	return nil
}

func (m *mmapFile) unmapView() error {
	if m.data == nil {
		return nil
	}
	base := uintptr(unsafe.Pointer(&m.data[0]))
	m.data = nil
	if err := windows.UnmapViewOfFile(base); err != nil {
		return err
	}
	return windows.CloseHandle(m.mapHandle)
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
	if m.data == nil {
		return nil
	}
	base := uintptr(unsafe.Pointer(&m.data[0]))
	if err := windows.FlushViewOfFile(base, uintptr(len(m.data))); err != nil {
		return err
	}
	return windows.FlushFileBuffers(windows.Handle(m.file.Fd()))
}

// grow extends the file and remaps it.
func (m *mmapFile) grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}
	if err := m.unmapView(); err != nil {
		return err
	}
	if err := m.file.Truncate(newSize); err != nil {
		return err
	}
	if err := m.mapView(newSize); err != nil {
		return err
	}
	m.size = newSize
	return nil
}

// close unmaps and closes the file.
func (m *mmapFile) close() error {
	var firstErr error

	if err := m.unmapView(); err != nil {
		firstErr = err
	}
	if m.file != nil {
		if m.locked {
			ol := new(windows.Overlapped)
			if err := windows.UnlockFileEx(windows.Handle(m.file.Fd()), 0, 1, 0, ol); err != nil && firstErr == nil {
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
