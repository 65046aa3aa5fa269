package block

import (
	"fmt"
	"io"
	"os"
)

// Device wraps the raw block device (or a regular file standing in for
// one) with bounds-checked positional I/O.
type Device struct {
	f    *os.File
	size uint64
}

// OpenDevice opens the device at path. For a regular file, size > 0
// grows the file to that size so the allocator has a fixed byte range
// to manage; for an actual block device (size == 0) the kernel-reported
// size is used.
func OpenDevice(path string, size uint64) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open device %s: %w", path, err)
	}

	if size == 0 {
		end, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("probe device size: %w", err)
		}
		size = uint64(end)
	} else {
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("stat device: %w", err)
		}
		if info.Mode().IsRegular() && uint64(info.Size()) < size {
			if err := f.Truncate(int64(size)); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("grow device file: %w", err)
			}
		}
	}

	if size == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("device %s has zero size", path)
	}

	return &Device{f: f, size: size}, nil
}

// Size returns the device size in bytes.
func (d *Device) Size() uint64 {
	return d.size
}

// ReadAt fills buf from the device starting at offset.
func (d *Device) ReadAt(buf []byte, offset uint64) error {
	if offset+uint64(len(buf)) > d.size {
		return fmt.Errorf("device read [%d, %d) out of bounds", offset, offset+uint64(len(buf)))
	}
	if _, err := d.f.ReadAt(buf, int64(offset)); err != nil {
		return fmt.Errorf("device read: %w", err)
	}
	return nil
}

// WriteAt writes buf to the device starting at offset.
func (d *Device) WriteAt(buf []byte, offset uint64) error {
	if offset+uint64(len(buf)) > d.size {
		return fmt.Errorf("device write [%d, %d) out of bounds", offset, offset+uint64(len(buf)))
	}
	if _, err := d.f.WriteAt(buf, int64(offset)); err != nil {
		return fmt.Errorf("device write: %w", err)
	}
	return nil
}

// Sync flushes written data to stable storage.
func (d *Device) Sync() error {
	return d.f.Sync()
}

// Close closes the device handle.
func (d *Device) Close() error {
	return d.f.Close()
}
