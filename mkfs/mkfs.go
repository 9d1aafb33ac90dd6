// Package mkfs writes a new, empty filesystem onto a set of disks.
package mkfs

import (
	"fmt"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/disk"
	"github.com/batra98/p6/raid"
	"github.com/batra98/p6/super"
	"github.com/batra98/p6/util"
	"github.com/batra98/p6/wfs"
)

const (
	MinDisks uint64 = 2
	// data block counts are rounded up to a whole number of bitmap words
	BlockRound uint64 = 32

	DefaultRootMode uint32 = 0755
)

type Params struct {
	Mode     common.RaidMode
	NInodes  uint64
	NBlocks  uint64
	RootMode uint32
}

// Blocks is the data block count Format actually lays out for p.
func (p Params) Blocks() uint64 {
	return util.AlignUp(p.NBlocks, BlockRound)
}

// RequiredSize is the number of bytes each disk needs for p.
func (p Params) RequiredSize() uint64 {
	return super.RequiredSize(p.NInodes, p.Blocks())
}

func (p Params) validate(ndisks uint64) error {
	if !p.Mode.Valid() {
		return fmt.Errorf("raid mode %d: %w", p.Mode, common.EINVAL)
	}
	if ndisks < MinDisks {
		return fmt.Errorf("%d disks, need at least %d: %w", ndisks, MinDisks, common.EINVAL)
	}
	if p.NInodes == 0 || p.NBlocks == 0 {
		return fmt.Errorf("inodes %d blocks %d: %w", p.NInodes, p.NBlocks, common.EINVAL)
	}
	return nil
}

// Format lays out a filesystem for p on disks, in ordinal order: every disk
// gets its own superblock carrying one fresh instance id, then the bitmaps
// are cleared and the root directory created through the RAID layer. The
// returned FS is ready for use.
func Format(disks []disk.Disk, p Params) (*wfs.FS, error) {
	ndisks := uint64(len(disks))
	if err := p.validate(ndisks); err != nil {
		return nil, err
	}
	sb, err := super.MkSuper(p.Mode, ndisks, p.NInodes, p.Blocks())
	if err != nil {
		return nil, err
	}
	for i, d := range disks {
		if d == nil {
			return nil, fmt.Errorf("disk %d missing: %w", i, common.EINVAL)
		}
		if d.Size() < sb.Size() {
			return nil, fmt.Errorf("disk %d holds %d bytes, need %d: %w",
				i, d.Size(), sb.Size(), common.EINVAL)
		}
	}
	r, err := raid.MkRaid(disks, p.Mode)
	if err != nil {
		return nil, err
	}
	for i := range disks {
		dsb := sb.ForDisk(uint64(i))
		if err := r.WriteDisk(i, dsb.Encode(), 0); err != nil {
			return nil, fmt.Errorf("write superblock of disk %d: %w", i, err)
		}
	}
	mode := p.RootMode
	if mode == 0 {
		mode = DefaultRootMode
	}
	fs, err := wfs.Format(sb, r, mode)
	if err != nil {
		return nil, err
	}
	if err := r.Barrier(); err != nil {
		return nil, err
	}
	util.DPrintf(1, "mkfs: %s on %d disks, %d inodes, %d blocks\n",
		p.Mode, ndisks, p.NInodes, sb.NDataBlocks)
	return fs, nil
}
