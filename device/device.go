// Package device implements the BlockDevice collaborator contract:
// synchronous 512-byte sector read/write, with I/O errors as the only
// failure mode. fs/extfs is built
// against this interface, not against any concrete backing store, so the
// same backend code runs over an in-memory device in tests and an
// os.File-backed device in cmd/corekerneld. fs/fatfs does not use it: it
// opens a disk image path through go-diskfs.
package device

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/detailyang/go-fallocate"

	"github.com/rvos/corekernel/internal/errno"
)

const SectorSize = 512

// BlockDevice is the narrow interface the VFS backing stores depend on.
// Implementations must be safe for concurrent use.
type BlockDevice interface {
	// ReadSector reads exactly SectorSize bytes from sector into buf.
	ReadSector(sector uint64, buf []byte) error
	// WriteSector writes exactly SectorSize bytes from buf to sector.
	WriteSector(sector uint64, buf []byte) error
	// SectorCount reports the device's total capacity in sectors.
	SectorCount() uint64
}

// MemDevice is an in-memory BlockDevice, used by tests and by tmpfs-backed
// configurations that still want to exercise the fs/fatfs or fs/extfs
// wrappers without a real disk image.
type MemDevice struct {
	mu   sync.Mutex
	data []byte
}

// NewMemDevice allocates a zeroed in-memory device of the given sector
// count.
func NewMemDevice(sectors uint64) *MemDevice {
	return &MemDevice{data: make([]byte, sectors*SectorSize)}
}

func (d *MemDevice) ReadSector(sector uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := sector * SectorSize
	if off+SectorSize > uint64(len(d.data)) || len(buf) < SectorSize {
		return errno.EIO
	}
	copy(buf, d.data[off:off+SectorSize])
	return nil
}

func (d *MemDevice) WriteSector(sector uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := sector * SectorSize
	if off+SectorSize > uint64(len(d.data)) || len(buf) < SectorSize {
		return errno.EIO
	}
	copy(d.data[off:off+SectorSize], buf)
	return nil
}

func (d *MemDevice) SectorCount() uint64 {
	return uint64(len(d.data)) / SectorSize
}

// FileDevice is an os.File-backed BlockDevice, used by cmd/corekerneld
// against a real disk image.
type FileDevice struct {
	mu   sync.Mutex
	f    *os.File
	size uint64
}

// CreateSizedFile creates (or truncates) path and reserves sectorCount
// sectors of real disk space up front via fallocate(2), so a freshly
// formatted FAT or ext4 image never hits ENOSPC mid-mount from sparse-file
// holes the backing filesystem driver didn't expect.
func CreateSizedFile(path string, sectorCount uint64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("device: create %s: %w", path, err)
	}
	defer f.Close()

	size := int64(sectorCount) * SectorSize
	if err := fallocate.Fallocate(f, 0, size); err != nil {
		return fmt.Errorf("device: fallocate %s to %d bytes: %w", path, size, err)
	}
	return nil
}

// OpenFileDevice opens path as a block device backing store.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("device: stat %s: %w", path, err)
	}
	return &FileDevice{f: f, size: uint64(fi.Size())}, nil
}

func (d *FileDevice) ReadSector(sector uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.ReadAt(buf[:SectorSize], int64(sector*SectorSize))
	if err != nil && err != io.EOF {
		return errno.EIO
	}
	return nil
}

func (d *FileDevice) WriteSector(sector uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.WriteAt(buf[:SectorSize], int64(sector*SectorSize)); err != nil {
		return errno.EIO
	}
	return nil
}

func (d *FileDevice) SectorCount() uint64 {
	return d.size / SectorSize
}

func (d *FileDevice) Close() error {
	return d.f.Close()
}
