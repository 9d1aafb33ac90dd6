// Package super describes the on-disk layout of one disk of the set.
//
// Every disk starts with a superblock, followed by the inode bitmap, the data
// bitmap, the inode table and the data region, each starting on a block
// boundary:
//
//	[ super | inode bitmap | data bitmap | inode table | data blocks ]
//
// The layout is identical on every disk; only DiskIndex differs.
package super

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tchajed/marshal"

	"github.com/batra98/p6/addr"
	"github.com/batra98/p6/common"
	"github.com/batra98/p6/disk"
	"github.com/batra98/p6/util"
)

const (
	MAGIC   uint64 = 0x7766735f72616964 // "wfs_raid"
	SUPERSZ uint64 = 10*8 + 16
)

type Superblock struct {
	Magic       uint64
	NInodes     uint64
	NDataBlocks uint64
	IBitmapPtr  uint64
	DBitmapPtr  uint64
	IBlocksPtr  uint64
	DBlocksPtr  uint64
	Mode        common.RaidMode
	DiskIndex   uint64
	NDisks      uint64
	UUID        uuid.UUID
}

// layout places the regions after the superblock from NInodes and
// NDataBlocks.
func (sb *Superblock) layout() {
	sb.IBitmapPtr = common.BlockSize
	sb.DBitmapPtr = sb.IBitmapPtr + util.AlignUp(sb.IBitmapLen(), common.BlockSize)
	sb.IBlocksPtr = sb.DBitmapPtr + util.AlignUp(sb.DBitmapLen(), common.BlockSize)
	sb.DBlocksPtr = sb.IBlocksPtr + util.AlignUp(sb.NInodes*common.INODESZ, common.BlockSize)
}

// RequiredSize is the number of bytes every disk needs for ninodes inodes
// and nblocks data blocks.
func RequiredSize(ninodes uint64, nblocks uint64) uint64 {
	sb := &Superblock{NInodes: ninodes, NDataBlocks: nblocks}
	sb.layout()
	return sb.Size()
}

// MkSuper lays out a new filesystem instance and returns the superblock of
// its disk 0.
func MkSuper(mode common.RaidMode, ndisks uint64, ninodes uint64, nblocks uint64) (*Superblock, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("raid mode %d: %w", mode, common.EINVAL)
	}
	if ndisks == 0 || ninodes == 0 || nblocks == 0 {
		return nil, fmt.Errorf("disks %d inodes %d blocks %d: %w",
			ndisks, ninodes, nblocks, common.EINVAL)
	}
	sb := &Superblock{
		Magic:       MAGIC,
		NInodes:     ninodes,
		NDataBlocks: nblocks,
		Mode:        mode,
		DiskIndex:   0,
		NDisks:      ndisks,
		UUID:        uuid.New(),
	}
	sb.layout()
	return sb, nil
}

// ForDisk returns a copy of sb describing disk i of the same instance.
func (sb *Superblock) ForDisk(i uint64) *Superblock {
	c := *sb
	c.DiskIndex = i
	return &c
}

func (sb *Superblock) Size() uint64 {
	return sb.DBlocksPtr + sb.NDataBlocks*common.BlockSize
}

// IBitmapLen is the size of the inode bitmap in bytes.
func (sb *Superblock) IBitmapLen() uint64 {
	return util.RoundUp(sb.NInodes, 8)
}

func (sb *Superblock) DBitmapLen() uint64 {
	return util.RoundUp(sb.NDataBlocks, 8)
}

func (sb *Superblock) Inum2Addr(inum common.Inum) addr.Addr {
	return addr.MkAddr(sb.IBlocksPtr+uint64(inum)*common.INODESZ, common.INODESZ)
}

func (sb *Superblock) Data2Addr(bno common.Bnum) addr.Addr {
	return addr.MkBlockAddr(sb.DBlocksPtr, bno)
}

func (sb *Superblock) Encode() []byte {
	enc := marshal.NewEnc(common.BlockSize)
	enc.PutInt(sb.Magic)
	enc.PutInt(sb.NInodes)
	enc.PutInt(sb.NDataBlocks)
	enc.PutInt(sb.IBitmapPtr)
	enc.PutInt(sb.DBitmapPtr)
	enc.PutInt(sb.IBlocksPtr)
	enc.PutInt(sb.DBlocksPtr)
	enc.PutInt(uint64(sb.Mode))
	enc.PutInt(sb.DiskIndex)
	enc.PutInt(sb.NDisks)
	b := enc.Finish()
	copy(b[SUPERSZ-16:SUPERSZ], sb.UUID[:])
	return b
}

func Decode(b []byte) (*Superblock, error) {
	if uint64(len(b)) < SUPERSZ {
		return nil, fmt.Errorf("short superblock (%d bytes): %w", len(b), common.EINVAL)
	}
	dec := marshal.NewDec(b)
	sb := &Superblock{}
	sb.Magic = dec.GetInt()
	if sb.Magic != MAGIC {
		return nil, fmt.Errorf("bad superblock magic %#x: %w", sb.Magic, common.EINVAL)
	}
	sb.NInodes = dec.GetInt()
	sb.NDataBlocks = dec.GetInt()
	sb.IBitmapPtr = dec.GetInt()
	sb.DBitmapPtr = dec.GetInt()
	sb.IBlocksPtr = dec.GetInt()
	sb.DBlocksPtr = dec.GetInt()
	sb.Mode = common.RaidMode(dec.GetInt())
	sb.DiskIndex = dec.GetInt()
	sb.NDisks = dec.GetInt()
	copy(sb.UUID[:], b[SUPERSZ-16:SUPERSZ])
	return sb, nil
}

// Load reads and validates the superblock of d.
func Load(d disk.Disk) (*Superblock, error) {
	b := make([]byte, common.BlockSize)
	if err := d.ReadAt(b, 0); err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	sb, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if err := sb.Validate(d.Size()); err != nil {
		return nil, err
	}
	util.DPrintf(1, "super.Load: %v\n", sb)
	return sb, nil
}

// Store writes sb to the superblock slot of d.
func (sb *Superblock) Store(d disk.Disk) error {
	return d.WriteAt(sb.Encode(), 0)
}

// Validate checks that sb is self-consistent and fits a disk of size bytes.
func (sb *Superblock) Validate(size uint64) error {
	if sb.Magic != MAGIC {
		return fmt.Errorf("bad superblock magic %#x: %w", sb.Magic, common.EINVAL)
	}
	if !sb.Mode.Valid() {
		return fmt.Errorf("superblock raid mode %d: %w", sb.Mode, common.EINVAL)
	}
	if sb.NDisks == 0 || sb.DiskIndex >= sb.NDisks {
		return fmt.Errorf("superblock disk %d of %d: %w", sb.DiskIndex, sb.NDisks, common.EINVAL)
	}
	if sb.NInodes == 0 || sb.NDataBlocks == 0 {
		return fmt.Errorf("superblock inodes %d blocks %d: %w",
			sb.NInodes, sb.NDataBlocks, common.EINVAL)
	}
	want := &Superblock{NInodes: sb.NInodes, NDataBlocks: sb.NDataBlocks}
	want.layout()
	if sb.IBitmapPtr != want.IBitmapPtr || sb.DBitmapPtr != want.DBitmapPtr ||
		sb.IBlocksPtr != want.IBlocksPtr || sb.DBlocksPtr != want.DBlocksPtr {
		return fmt.Errorf("superblock region offsets do not match its counts: %w", common.EINVAL)
	}
	if sb.Size() > size {
		return fmt.Errorf("disk holds %d bytes, filesystem needs %d: %w",
			size, sb.Size(), common.EINVAL)
	}
	return nil
}

// SameFS checks that o describes another disk of the instance sb belongs to.
func (sb *Superblock) SameFS(o *Superblock) error {
	if sb.UUID != o.UUID {
		return fmt.Errorf("disk %d belongs to filesystem %v, not %v: %w",
			o.DiskIndex, o.UUID, sb.UUID, common.EINVAL)
	}
	a := *sb
	b := *o
	a.DiskIndex = 0
	b.DiskIndex = 0
	if a != b {
		return fmt.Errorf("superblocks of disks %d and %d disagree: %w",
			sb.DiskIndex, o.DiskIndex, common.EINVAL)
	}
	return nil
}

func (sb *Superblock) String() string {
	return fmt.Sprintf("{%v %s disk %d/%d inodes %d@%d blocks %d@%d}",
		sb.UUID, sb.Mode, sb.DiskIndex, sb.NDisks,
		sb.NInodes, sb.IBlocksPtr, sb.NDataBlocks, sb.DBlocksPtr)
}
