package disk

import (
	"fmt"
	"sync"

	gdisk "github.com/tchajed/goose/machine/disk"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/util"
)

var _ Disk = (*BlockDisk)(nil)

// BlockDisk serves byte-addressed I/O from a goose block device. Partial
// block writes are read-modify-write, serialized by l.
type BlockDisk struct {
	l *sync.Mutex
	d gdisk.Disk
}

func FromBlockDevice(d gdisk.Disk) *BlockDisk {
	return &BlockDisk{l: new(sync.Mutex), d: d}
}

// The goose device panics when pread, pwrite or fsync fail; catch turns that
// into an EIO for op.
func catch(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s: %v: %w", op, r, common.EIO)
	}
}

// OpenBlockFile opens the image at path with pread/pwrite instead of a
// mapping. The image is extended to a whole number of device blocks.
func OpenBlockFile(path string, size uint64) (*BlockDisk, error) {
	nblk := util.RoundUp(size, gdisk.BlockSize)
	d, err := gdisk.NewFileDisk(path, nblk)
	if err != nil {
		return nil, err
	}
	util.DPrintf(1, "OpenBlockFile: %s %d blocks\n", path, nblk)
	return FromBlockDevice(d), nil
}

func (d *BlockDisk) ReadAt(p []byte, off uint64) (err error) {
	if err := bounds("read", off, len(p), d.Size()); err != nil {
		return err
	}
	d.l.Lock()
	defer d.l.Unlock()
	defer catch("read", &err)
	for n := uint64(0); n < uint64(len(p)); {
		a := (off + n) / gdisk.BlockSize
		boff := (off + n) % gdisk.BlockSize
		blk := d.d.Read(a)
		n += uint64(copy(p[n:], blk[boff:]))
	}
	return nil
}

func (d *BlockDisk) WriteAt(p []byte, off uint64) (err error) {
	if err := bounds("write", off, len(p), d.Size()); err != nil {
		return err
	}
	d.l.Lock()
	defer d.l.Unlock()
	defer catch("write", &err)
	for n := uint64(0); n < uint64(len(p)); {
		a := (off + n) / gdisk.BlockSize
		boff := (off + n) % gdisk.BlockSize
		var blk gdisk.Block
		if boff == 0 && uint64(len(p))-n >= gdisk.BlockSize {
			blk = p[n : n+gdisk.BlockSize]
		} else {
			blk = d.d.Read(a)
		}
		n += uint64(copy(blk[boff:], p[n:]))
		d.d.Write(a, blk)
	}
	return nil
}

func (d *BlockDisk) Size() uint64 {
	return d.d.Size() * gdisk.BlockSize
}

func (d *BlockDisk) Barrier() (err error) {
	defer catch("barrier", &err)
	d.d.Barrier()
	return nil
}

func (d *BlockDisk) Close() (err error) {
	defer catch("close", &err)
	d.d.Close()
	return nil
}
