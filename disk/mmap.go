package disk

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/util"
)

var _ Disk = (*MmapDisk)(nil)

// MmapDisk is a disk image file mapped shared into memory.
type MmapDisk struct {
	path string
	data []byte
}

func bounds(op string, off uint64, n int, size uint64) error {
	if util.SumOverflows(off, uint64(n)) || off+uint64(n) > size {
		return fmt.Errorf("out-of-bounds %s at %d+%d (size %d): %w",
			op, off, n, size, common.EIO)
	}
	return nil
}

// OpenMmap maps the whole image at path read-write. The file descriptor is
// closed once the mapping exists.
func OpenMmap(path string) (*MmapDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", path, err, common.EIO)
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, fmt.Errorf("stat %s: %v: %w", path, err, common.EIO)
	}
	if stat.Size <= 0 {
		return nil, fmt.Errorf("%s: empty disk image: %w", path, common.EINVAL)
	}
	data, err := unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %v: %w", path, err, common.EIO)
	}
	util.DPrintf(1, "OpenMmap: %s %d bytes\n", path, len(data))
	return &MmapDisk{path: path, data: data}, nil
}

func (d *MmapDisk) Path() string {
	return d.path
}

func (d *MmapDisk) ReadAt(p []byte, off uint64) error {
	if err := bounds("read", off, len(p), d.Size()); err != nil {
		return err
	}
	copy(p, d.data[off:])
	return nil
}

func (d *MmapDisk) WriteAt(p []byte, off uint64) error {
	if err := bounds("write", off, len(p), d.Size()); err != nil {
		return err
	}
	copy(d.data[off:], p)
	return nil
}

func (d *MmapDisk) Size() uint64 {
	return uint64(len(d.data))
}

func (d *MmapDisk) Barrier() error {
	if err := unix.Msync(d.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync %s: %v: %w", d.path, err, common.EIO)
	}
	return nil
}

func (d *MmapDisk) Close() error {
	if d.data == nil {
		return nil
	}
	err := unix.Munmap(d.data)
	d.data = nil
	if err != nil {
		return fmt.Errorf("munmap %s: %v: %w", d.path, err, common.EIO)
	}
	return nil
}

// CreateImage makes sure the image at path exists and is at least size bytes
// long, extending it with zeroes if needed.
func CreateImage(path string, size uint64) error {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return fmt.Errorf("create %s: %v: %w", path, err, common.EIO)
	}
	defer unix.Close(fd)
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return fmt.Errorf("stat %s: %v: %w", path, err, common.EIO)
	}
	if uint64(stat.Size) < size {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			return fmt.Errorf("truncate %s: %v: %w", path, err, common.EIO)
		}
	}
	return nil
}

/////////////////////////

var _ Disk = (*MemDisk)(nil)

// MemDisk is a disk image held in memory.
type MemDisk struct {
	l    *sync.RWMutex
	data []byte
}

func NewMemDisk(size uint64) *MemDisk {
	return &MemDisk{l: new(sync.RWMutex), data: make([]byte, size)}
}

func (d *MemDisk) ReadAt(p []byte, off uint64) error {
	d.l.RLock()
	defer d.l.RUnlock()
	if err := bounds("read", off, len(p), d.Size()); err != nil {
		return err
	}
	copy(p, d.data[off:])
	return nil
}

func (d *MemDisk) WriteAt(p []byte, off uint64) error {
	d.l.Lock()
	defer d.l.Unlock()
	if err := bounds("write", off, len(p), d.Size()); err != nil {
		return err
	}
	copy(d.data[off:], p)
	return nil
}

func (d *MemDisk) Size() uint64 {
	// this never changes so we assume it's safe to run lock-free
	return uint64(len(d.data))
}

func (d *MemDisk) Barrier() error { return nil }

func (d *MemDisk) Close() error { return nil }
