// Package raid maps the logical blocks of a filesystem onto its disk set.
//
// Every disk shares one offset layout, so translation only picks which disk
// backs a block; the in-disk offset never changes. Under RAID0 logical blocks
// are spread round-robin over the disks. Under RAID1 every disk holds a full
// copy: reads come from the lowest-numbered present disk and every write is
// replicated, in ordinal order, to the others.
package raid

import (
	"fmt"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/disk"
	"github.com/batra98/p6/util"
)

// Raid is the mapping state of one mounted filesystem. It is immutable
// after MkRaid; the disks synchronize their own I/O.
type Raid struct {
	mode    common.RaidMode
	disks   []disk.Disk // indexed by ordinal; nil if absent
	nblocks uint64      // blocks per disk
	canon   int         // lowest present ordinal
}

// MkRaid initializes the disk set. disks is indexed by each disk's ordinal;
// a nil entry is a missing disk, which only RAID1 can tolerate.
func MkRaid(disks []disk.Disk, mode common.RaidMode) (*Raid, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("raid mode %d: %w", mode, common.EINVAL)
	}
	if len(disks) == 0 {
		return nil, fmt.Errorf("empty disk set: %w", common.EINVAL)
	}
	r := &Raid{
		mode:  mode,
		disks: make([]disk.Disk, len(disks)),
		canon: -1,
	}
	copy(r.disks, disks)
	for i, d := range r.disks {
		if d == nil {
			if mode == common.RAID0 {
				return nil, fmt.Errorf("raid0 disk %d missing: %w", i, common.EINVAL)
			}
			continue
		}
		n := d.Size() / common.BlockSize
		if r.canon < 0 || n < r.nblocks {
			r.nblocks = n
		}
		if r.canon < 0 {
			r.canon = i
		}
	}
	if r.canon < 0 {
		return nil, fmt.Errorf("no disk present: %w", common.EINVAL)
	}
	util.DPrintf(1, "MkRaid: %s %d disks, %d blocks each, canonical %d\n",
		mode, len(disks), r.nblocks, r.canon)
	return r, nil
}

func (r *Raid) Mode() common.RaidMode {
	return r.mode
}

func (r *Raid) NDisks() int {
	return len(r.disks)
}

// Disk returns the disk with ordinal i, or nil if it is absent.
func (r *Raid) Disk(i int) disk.Disk {
	return r.disks[i]
}

// NBlocks is the number of logical blocks each disk can back.
func (r *Raid) NBlocks() uint64 {
	return r.nblocks
}

// Degraded reports whether a RAID1 set is running with missing disks.
func (r *Raid) Degraded() bool {
	for _, d := range r.disks {
		if d == nil {
			return true
		}
	}
	return false
}

// ResolveDisk returns the ordinal of the disk that backs logical block bno.
func (r *Raid) ResolveDisk(bno common.Bnum) (int, error) {
	if bno >= r.nblocks {
		return -1, fmt.Errorf("block %d of %d: %w", bno, r.nblocks, common.ERANGE)
	}
	if r.mode == common.RAID1 {
		return r.canon, nil
	}
	return int(bno % uint64(len(r.disks))), nil
}

// Replicate copies p, stored at off on disk origin, to the same offset on
// every other present disk. It is a no-op under RAID0. Disks are written one
// after the other; a failure leaves the earlier ones updated.
func (r *Raid) Replicate(p []byte, off uint64, origin int) error {
	if r.mode != common.RAID1 {
		return nil
	}
	for i, d := range r.disks {
		if i == origin || d == nil {
			continue
		}
		util.DPrintf(10, "Replicate: %d bytes at %d to disk %d\n", len(p), off, i)
		if err := d.WriteAt(p, off); err != nil {
			return fmt.Errorf("replicate to disk %d: %w", i, err)
		}
	}
	return nil
}

// span calls f for each piece of [off, off+n) that lies in a single logical
// block, with the disk backing it. Under RAID1 the whole range is one piece.
func (r *Raid) span(off uint64, n uint64, f func(d int, start uint64, end uint64) error) error {
	if n == 0 {
		return nil
	}
	if util.SumOverflows(off, n) {
		return fmt.Errorf("range %d+%d: %w", off, n, common.ERANGE)
	}
	last := (off + n - 1) / common.BlockSize
	if _, err := r.ResolveDisk(last); err != nil {
		return err
	}
	if r.mode == common.RAID1 {
		return f(r.canon, 0, n)
	}
	for pos := uint64(0); pos < n; {
		bno := (off + pos) / common.BlockSize
		end := util.Min(n, (bno+1)*common.BlockSize-off)
		d, err := r.ResolveDisk(bno)
		if err != nil {
			return err
		}
		if err := f(d, pos, end); err != nil {
			return err
		}
		pos = end
	}
	return nil
}

// ReadAt fills p from the logical range starting at off.
func (r *Raid) ReadAt(p []byte, off uint64) error {
	return r.span(off, uint64(len(p)), func(d int, start uint64, end uint64) error {
		if r.disks[d] == nil {
			return fmt.Errorf("disk %d absent: %w", d, common.EIO)
		}
		return r.disks[d].ReadAt(p[start:end], off+start)
	})
}

// WriteAt stores p at the logical range starting at off and replicates it.
func (r *Raid) WriteAt(p []byte, off uint64) error {
	return r.span(off, uint64(len(p)), func(d int, start uint64, end uint64) error {
		if r.disks[d] == nil {
			return fmt.Errorf("disk %d absent: %w", d, common.EIO)
		}
		if err := r.disks[d].WriteAt(p[start:end], off+start); err != nil {
			return err
		}
		return r.Replicate(p[start:end], off+start, d)
	})
}

// WriteDisk writes p at off on disk i only, bypassing translation. It is for
// per-disk records such as the superblock.
func (r *Raid) WriteDisk(i int, p []byte, off uint64) error {
	if r.disks[i] == nil {
		return fmt.Errorf("disk %d absent: %w", i, common.EIO)
	}
	return r.disks[i].WriteAt(p, off)
}

// Barrier flushes every present disk.
func (r *Raid) Barrier() error {
	for i, d := range r.disks {
		if d == nil {
			continue
		}
		if err := d.Barrier(); err != nil {
			return fmt.Errorf("barrier disk %d: %w", i, err)
		}
	}
	return nil
}
