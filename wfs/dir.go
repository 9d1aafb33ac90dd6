package wfs

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/batra98/p6/addr"
	"github.com/batra98/p6/buf"
	"github.com/batra98/p6/common"
	"github.com/batra98/p6/twophase"
	"github.com/batra98/p6/util"
)

// Dentry is one directory entry: a name of at most MaxNameLen bytes and the
// inode it refers to. An empty name marks a free slot.
//
// On disk an entry is the NUL-padded name followed by the 8-byte inode
// number. "." and ".." are never stored.
type Dentry struct {
	Name string
	Num  common.Inum
}

func (de Dentry) free() bool {
	return de.Name == ""
}

func (de Dentry) marker() bool {
	return de.Name == "." || de.Name == ".."
}

func dentryAt(b *buf.Buf, slot uint64) Dentry {
	off := slot * common.DENTRYSZ
	name := b.Data[off : off+common.MaxNameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return Dentry{Name: string(name), Num: common.Inum(b.NumGet(off + common.MaxNameLen))}
}

func putDentry(b *buf.Buf, slot uint64, de Dentry) {
	off := slot * common.DENTRYSZ
	name := b.Data[off : off+common.MaxNameLen]
	for i := range name {
		name[i] = 0
	}
	copy(name, de.Name)
	b.NumPut(off+common.MaxNameLen, uint64(de.Num))
}

// writeSlot writes back only the entry at slot of directory block blk.
func (fs *FS) writeSlot(bno common.Bnum, blk *buf.Buf, slot uint64) error {
	off := slot * common.DENTRYSZ
	a := addr.MkAddr(blk.Addr.Off+off, common.DENTRYSZ)
	sb := buf.MkBuf(a, blk.Data[off:off+common.DENTRYSZ])
	sb.SetDirty()
	if err := sb.WriteBack(fs.raid); err != nil {
		return fmt.Errorf("write dentry %d of block %d: %w", slot, bno, err)
	}
	return nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.IndexByte(name, '/') >= 0 ||
		strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("name %q: %w", name, common.EINVAL)
	}
	if uint64(len(name)) > common.MaxNameLen {
		return fmt.Errorf("name %q longer than %d: %w", name, common.MaxNameLen, common.EINVAL)
	}
	return nil
}

func (fs *FS) readDirInode(dir common.Inum) (*Inode, error) {
	ip, err := fs.readInode(dir)
	if err != nil {
		return nil, err
	}
	if !ip.IsDir() {
		return nil, fmt.Errorf("inode %d: %w", dir, common.ENOTDIR)
	}
	return ip, nil
}

// dirIter calls f on every slot of every allocated block of ip, in block
// pointer order, until f returns true.
func (fs *FS) dirIter(ip *Inode, f func(i uint64, bno common.Bnum, blk *buf.Buf, slot uint64, de Dentry) bool) error {
	for i, bno := range ip.Blocks {
		if bno == common.NULLBNUM {
			continue
		}
		blk, err := fs.readBlock(bno)
		if err != nil {
			return err
		}
		for slot := uint64(0); slot < common.DENTRYBLK; slot++ {
			if f(uint64(i), bno, blk, slot, dentryAt(blk, slot)) {
				return nil
			}
		}
	}
	return nil
}

func (fs *FS) lookup(dir common.Inum, name string) (common.Inum, error) {
	ip, err := fs.readDirInode(dir)
	if err != nil {
		return 0, err
	}
	found := false
	var inum common.Inum
	err = fs.dirIter(ip, func(_ uint64, _ common.Bnum, _ *buf.Buf, _ uint64, de Dentry) bool {
		if !de.free() && de.Name == name {
			inum = de.Num
			found = true
		}
		return found
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%q in directory %d: %w", name, dir, common.ENOENT)
	}
	return inum, nil
}

func (fs *FS) insert(dir common.Inum, name string, inum common.Inum) error {
	if err := validName(name); err != nil {
		return err
	}
	ip, err := fs.readDirInode(dir)
	if err != nil {
		return err
	}
	var fblk *buf.Buf
	var fbno common.Bnum
	var fslot uint64
	dup := false
	err = fs.dirIter(ip, func(_ uint64, bno common.Bnum, blk *buf.Buf, slot uint64, de Dentry) bool {
		if de.free() {
			if fblk == nil {
				fblk, fbno, fslot = blk, bno, slot
			}
			return false
		}
		dup = de.Name == name
		return dup
	})
	if err != nil {
		return err
	}
	if dup {
		return fmt.Errorf("%q in directory %d: %w", name, dir, common.EEXIST)
	}

	if fblk == nil {
		i := 0
		for i < len(ip.Blocks) && ip.Blocks[i] != common.NULLBNUM {
			i++
		}
		if i == len(ip.Blocks) {
			return fmt.Errorf("directory %d has no room: %w", dir, common.ENOSPC)
		}
		bno, err := fs.allocBlock()
		if err != nil {
			return err
		}
		ip.Blocks[i] = bno
		ip.Size += common.BlockSize
		fbno, fslot = bno, 0
		fblk = buf.MkBuf(fs.Super.Data2Addr(bno), make([]byte, common.BlockSize))
		util.DPrintf(5, "insert: directory %d grows block %d\n", dir, bno)
	}
	putDentry(fblk, fslot, Dentry{Name: name, Num: inum})
	if err := fs.writeSlot(fbno, fblk, fslot); err != nil {
		return err
	}
	now := fs.timestamp()
	ip.Mtime = now
	ip.Ctime = now
	return fs.writeInode(ip, dir)
}

// replace points the existing entry name of dir at inum.
func (fs *FS) replace(dir common.Inum, name string, inum common.Inum) error {
	ip, err := fs.readDirInode(dir)
	if err != nil {
		return err
	}
	var werr error
	found := false
	err = fs.dirIter(ip, func(_ uint64, bno common.Bnum, blk *buf.Buf, slot uint64, de Dentry) bool {
		if de.free() || de.Name != name {
			return false
		}
		found = true
		putDentry(blk, slot, Dentry{Name: name, Num: inum})
		werr = fs.writeSlot(bno, blk, slot)
		return true
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%q in directory %d: %w", name, dir, common.ENOENT)
	}
	if werr != nil {
		return werr
	}
	ip.Mtime = fs.timestamp()
	ip.Ctime = ip.Mtime
	return fs.writeInode(ip, dir)
}

// unlinkEntry clears the entry name of dir and frees its block if that
// leaves the block without live entries. It returns the inode the entry
// referred to; link counts are the caller's business.
func (fs *FS) unlinkEntry(dir common.Inum, name string) (common.Inum, error) {
	ip, err := fs.readDirInode(dir)
	if err != nil {
		return 0, err
	}
	var werr error
	found := false
	var inum common.Inum
	var idx uint64
	var bno common.Bnum
	var blk *buf.Buf
	err = fs.dirIter(ip, func(i uint64, b common.Bnum, bb *buf.Buf, slot uint64, de Dentry) bool {
		if de.free() || de.Name != name {
			return false
		}
		found = true
		inum, idx, bno, blk = de.Num, i, b, bb
		putDentry(blk, slot, Dentry{})
		werr = fs.writeSlot(b, blk, slot)
		return true
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%q in directory %d: %w", name, dir, common.ENOENT)
	}
	if werr != nil {
		return 0, werr
	}

	live := false
	for slot := uint64(0); slot < common.DENTRYBLK; slot++ {
		if !dentryAt(blk, slot).free() {
			live = true
			break
		}
	}
	if !live {
		util.DPrintf(5, "unlinkEntry: directory %d drops block %d\n", dir, bno)
		if err := fs.freeBlock(bno); err != nil {
			return 0, err
		}
		ip.Blocks[idx] = common.NULLBNUM
		ip.Size -= common.BlockSize
	}
	now := fs.timestamp()
	ip.Mtime = now
	ip.Ctime = now
	if err := fs.writeInode(ip, dir); err != nil {
		return 0, err
	}
	return inum, nil
}

func (fs *FS) isEmpty(dir common.Inum) (bool, error) {
	ip, err := fs.readDirInode(dir)
	if err != nil {
		return false, err
	}
	empty := true
	err = fs.dirIter(ip, func(_ uint64, _ common.Bnum, _ *buf.Buf, _ uint64, de Dentry) bool {
		if !de.free() && !de.marker() {
			empty = false
		}
		return !empty
	})
	return empty, err
}

func (fs *FS) readDir(dir common.Inum) ([]Dentry, error) {
	ip, err := fs.readDirInode(dir)
	if err != nil {
		return nil, err
	}
	var des []Dentry
	err = fs.dirIter(ip, func(_ uint64, _ common.Bnum, _ *buf.Buf, _ uint64, de Dentry) bool {
		if !de.free() && !de.marker() {
			des = append(des, de)
		}
		return false
	})
	return des, err
}

// dropLink removes one name of ip, whose entry in parent is already gone.
// A directory loses its own "." link too, and parent its "..". When no
// links remain the data blocks and the inode are freed.
func (fs *FS) dropLink(ip *Inode, parent common.Inum) error {
	if ip.IsDir() {
		pip, err := fs.readInode(parent)
		if err != nil {
			return err
		}
		pip.Nlinks--
		if err := fs.writeInode(pip, parent); err != nil {
			return err
		}
		ip.Nlinks = 0
	} else if ip.Nlinks > 0 {
		ip.Nlinks--
	}
	ip.Ctime = fs.timestamp()
	if ip.Nlinks > 0 {
		return fs.writeInode(ip, ip.Num)
	}
	if err := fs.freeBlocks(ip, 0); err != nil {
		return err
	}
	ip.Size = 0
	if err := fs.writeInode(ip, ip.Num); err != nil {
		return err
	}
	return fs.FreeInode(ip.Num)
}

// remove deletes entry name from dir and drops the link it held. A
// directory must be empty. want, if non-zero, is the file type the target
// must have.
func (fs *FS) remove(dir common.Inum, name string, target common.Inum, want uint32) error {
	ip, err := fs.readInode(target)
	if err != nil {
		return err
	}
	if ip.Num == common.ROOTINUM {
		return fmt.Errorf("remove root: %w", common.EINVAL)
	}
	switch {
	case want == common.S_IFDIR && !ip.IsDir():
		return fmt.Errorf("%q: %w", name, common.ENOTDIR)
	case want == common.S_IFREG && ip.IsDir():
		return fmt.Errorf("%q: %w", name, common.EISDIR)
	}
	if ip.IsDir() {
		empty, err := fs.isEmpty(target)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("%q: %w", name, common.ENOTEMPTY)
		}
	}
	if _, err := fs.unlinkEntry(dir, name); err != nil {
		return err
	}
	util.DPrintf(3, "remove: %q (%d) from %d\n", name, target, dir)
	return fs.dropLink(ip, dir)
}

// Lookup returns the inode that name refers to in directory dir.
func (fs *FS) Lookup(dir common.Inum, name string) (common.Inum, error) {
	tp := fs.begin()
	defer tp.ReleaseAll()
	tp.Acquire(dir)
	return fs.lookup(dir, name)
}

// Insert adds the entry name -> inum to directory dir. It does not touch
// inum's link count.
func (fs *FS) Insert(dir common.Inum, name string, inum common.Inum) error {
	if err := validName(name); err != nil {
		return err
	}
	tp := fs.begin()
	defer tp.ReleaseAll()
	tp.Acquire(dir)
	return fs.insert(dir, name, inum)
}

// lockEntry locks dir and the inode its entry name refers to, in inode
// order, and returns that inode. Nothing is held on error.
func (fs *FS) lockEntry(tp *twophase.TwoPhase, dir common.Inum, name string) (common.Inum, error) {
	for {
		tp.Acquire(dir)
		target, err := fs.lookup(dir, name)
		if err != nil {
			tp.ReleaseAll()
			return 0, err
		}
		if tp.Acquire(target) {
			return target, nil
		}
		// locks were re-taken; the entry may have changed meanwhile
		again, err := fs.lookup(dir, name)
		if err == nil && again == target {
			return target, nil
		}
		tp.ReleaseAll()
	}
}

func (fs *FS) removeWant(dir common.Inum, name string, want uint32) error {
	if name == "." || name == ".." {
		return fmt.Errorf("remove %q: %w", name, common.EINVAL)
	}
	tp := fs.begin()
	defer tp.ReleaseAll()
	target, err := fs.lockEntry(tp, dir, name)
	if err != nil {
		return err
	}
	return fs.remove(dir, name, target, want)
}

// Remove deletes entry name from directory dir and drops the link it held,
// freeing the target once no links remain. Directories must be empty.
func (fs *FS) Remove(dir common.Inum, name string) error {
	return fs.removeWant(dir, name, 0)
}

// IsEmpty reports whether directory dir holds no entries besides "." and
// "..".
func (fs *FS) IsEmpty(dir common.Inum) (bool, error) {
	tp := fs.begin()
	defer tp.ReleaseAll()
	tp.Acquire(dir)
	return fs.isEmpty(dir)
}

// ReadDir lists the live entries of directory dir in storage order.
func (fs *FS) ReadDir(dir common.Inum) ([]Dentry, error) {
	tp := fs.begin()
	defer tp.ReleaseAll()
	tp.Acquire(dir)
	return fs.readDir(dir)
}
