package wfs

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/util"
)

// Check walks the tree from the root and reports every inconsistency it
// finds between the tree, the bitmaps and link counts. Under RAID1 it also
// compares the metadata and data regions of every present disk. The
// filesystem should be quiescent.
func (fs *FS) Check() error {
	var errs []error
	report := func(format string, a ...interface{}) {
		errs = append(errs, fmt.Errorf(format, a...))
	}

	refs := map[common.Inum]uint32{common.ROOTINUM: 0}
	subdirs := map[common.Inum]uint32{}
	owner := map[common.Bnum]common.Inum{}
	inodes := map[common.Inum]*Inode{}
	queue := []common.Inum{common.ROOTINUM}
	for len(queue) > 0 {
		inum := queue[0]
		queue = queue[1:]
		ip, err := fs.ReadInode(inum)
		if err != nil {
			return err
		}
		inodes[inum] = ip
		for _, bno := range ip.Blocks {
			if bno == common.NULLBNUM {
				continue
			}
			if bno >= fs.Super.NDataBlocks {
				report("inode %d: block pointer %d out of range", inum, bno)
				continue
			}
			if o, ok := owner[bno]; ok {
				report("block %d used by inodes %d and %d", bno, o, inum)
			}
			owner[bno] = inum
		}
		if !ip.IsDir() {
			continue
		}
		des, err := fs.ReadDir(inum)
		if err != nil {
			return err
		}
		for _, de := range des {
			if uint64(de.Num) >= fs.Super.NInodes || de.Num == common.ROOTINUM {
				report("directory %d: entry %q refers to inode %d", inum, de.Name, de.Num)
				continue
			}
			refs[de.Num]++
			if prev, ok := inodes[de.Num]; ok {
				if prev.IsDir() {
					report("directory %d has more than one name", de.Num)
				}
				continue
			}
			cip, err := fs.ReadInode(de.Num)
			if err != nil {
				return err
			}
			if cip.IsDir() {
				subdirs[inum]++
			}
			inodes[de.Num] = cip
			queue = append(queue, de.Num)
		}
	}

	for inum, ip := range inodes {
		want := refs[inum]
		if ip.IsDir() {
			want = 2 + subdirs[inum]
		}
		if ip.Nlinks != want {
			report("inode %d: %d links, expected %d", inum, ip.Nlinks, want)
		}
	}
	for n := uint64(0); n < fs.Super.NInodes; n++ {
		used, err := fs.imap.IsUsed(n)
		if err != nil {
			return err
		}
		_, reachable := inodes[common.Inum(n)]
		if used != reachable {
			report("inode %d: allocated %v, reachable %v", n, used, reachable)
		}
	}
	for n := uint64(0); n < fs.Super.NDataBlocks; n++ {
		used, err := fs.bmap.IsUsed(n)
		if err != nil {
			return err
		}
		_, referenced := owner[n]
		if used != referenced {
			report("block %d: allocated %v, referenced %v", n, used, referenced)
		}
	}

	if fs.raid.Mode() == common.RAID1 {
		if err := fs.checkMirrors(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		util.DPrintf(1, "Check: %d problems\n", len(errs))
	}
	return errors.Join(errs...)
}

// checkMirrors compares everything past the superblock across disks.
func (fs *FS) checkMirrors() error {
	var ref int = -1
	start := fs.Super.IBitmapPtr
	end := fs.Super.Size()
	for i := 0; i < fs.raid.NDisks(); i++ {
		d := fs.raid.Disk(i)
		if d == nil {
			continue
		}
		if ref < 0 {
			ref = i
			continue
		}
		a := make([]byte, common.BlockSize)
		b := make([]byte, common.BlockSize)
		for off := start; off < end; off += common.BlockSize {
			n := util.Min(common.BlockSize, end-off)
			if err := fs.raid.Disk(ref).ReadAt(a[:n], off); err != nil {
				return err
			}
			if err := d.ReadAt(b[:n], off); err != nil {
				return err
			}
			if !bytes.Equal(a[:n], b[:n]) {
				return fmt.Errorf("disks %d and %d differ in block %d", ref, i, off/common.BlockSize)
			}
		}
	}
	return nil
}
