package wfs

import (
	"errors"
	"fmt"
	"time"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/twophase"
	"github.com/batra98/p6/util"
)

func (fs *FS) create(dir common.Inum, name string, mode uint32, typ uint32) (common.Inum, error) {
	if err := validName(name); err != nil {
		return 0, err
	}
	tp := fs.begin()
	defer tp.ReleaseAll()
	tp.Acquire(dir)

	pip, err := fs.readDirInode(dir)
	if err != nil {
		return 0, err
	}
	if pip.Nlinks == 0 {
		return 0, fmt.Errorf("directory %d was removed: %w", dir, common.ENOENT)
	}
	if _, err := fs.lookup(dir, name); err == nil {
		return 0, fmt.Errorf("%q in directory %d: %w", name, dir, common.EEXIST)
	} else if !errors.Is(err, common.ENOENT) {
		return 0, err
	}

	inum, err := fs.AllocInode(mode, typ)
	if err != nil {
		return 0, err
	}
	if err := fs.insert(dir, name, inum); err != nil {
		// nothing refers to the new inode yet
		if ferr := fs.FreeInode(inum); ferr != nil {
			util.DPrintf(1, "create: leak inode %d: %v\n", inum, ferr)
		}
		return 0, err
	}
	if common.IsDir(typ) {
		// the new directory's ".." links to dir
		pip, err := fs.readInode(dir)
		if err != nil {
			return 0, err
		}
		pip.Nlinks++
		if err := fs.writeInode(pip, dir); err != nil {
			return 0, err
		}
	}
	util.DPrintf(3, "create: %q (%d) in %d\n", name, inum, dir)
	return inum, nil
}

// Create makes a regular file name in directory dir with permission bits
// mode.
func (fs *FS) Create(dir common.Inum, name string, mode uint32) (common.Inum, error) {
	return fs.create(dir, name, mode, common.S_IFREG)
}

// Mknod is Create for an explicit file type; only regular files and
// directories exist.
func (fs *FS) Mknod(dir common.Inum, name string, mode uint32) (common.Inum, error) {
	typ := mode & common.S_IFMT
	switch typ {
	case 0, common.S_IFREG:
		return fs.create(dir, name, mode, common.S_IFREG)
	case common.S_IFDIR:
		return fs.create(dir, name, mode, common.S_IFDIR)
	}
	return 0, fmt.Errorf("file type %o: %w", typ, common.EINVAL)
}

// Mkdir makes an empty directory name in directory dir.
func (fs *FS) Mkdir(dir common.Inum, name string, mode uint32) (common.Inum, error) {
	return fs.create(dir, name, mode, common.S_IFDIR)
}

// Unlink removes a non-directory entry.
func (fs *FS) Unlink(dir common.Inum, name string) error {
	return fs.removeWant(dir, name, common.S_IFREG)
}

// Rmdir removes an empty directory entry.
func (fs *FS) Rmdir(dir common.Inum, name string) error {
	return fs.removeWant(dir, name, common.S_IFDIR)
}

// inSubtree reports whether inode b is top or lies below directory top.
// Each directory is locked only while it is read; the caller holds
// renameMu, so no directory can move in the meantime.
func (fs *FS) inSubtree(top common.Inum, b common.Inum) (bool, error) {
	seen := map[common.Inum]bool{top: true}
	stack := []common.Inum{top}
	for len(stack) > 0 {
		d := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if d == b {
			return true, nil
		}
		des, err := fs.ReadDir(d)
		if err != nil {
			return false, err
		}
		for _, de := range des {
			if seen[de.Num] {
				continue
			}
			ip, err := fs.ReadInode(de.Num)
			if err != nil {
				return false, err
			}
			if ip.IsDir() {
				seen[de.Num] = true
				stack = append(stack, de.Num)
			}
		}
	}
	return false, nil
}

func (fs *FS) lookupOpt(dir common.Inum, name string) (common.Inum, bool, error) {
	inum, err := fs.lookup(dir, name)
	if errors.Is(err, common.ENOENT) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return inum, true, nil
}

// Rename moves entry oname of directory odir to nname in directory ndir,
// replacing an existing nname: a file may replace a file and a directory an
// empty directory. A directory cannot move below itself.
func (fs *FS) Rename(odir common.Inum, oname string, ndir common.Inum, nname string) error {
	if err := validName(oname); err != nil {
		return err
	}
	if err := validName(nname); err != nil {
		return err
	}
	if odir == ndir && oname == nname {
		_, err := fs.Lookup(odir, oname)
		return err
	}
	fs.renameMu.Lock()
	defer fs.renameMu.Unlock()

	for {
		src, err := fs.Lookup(odir, oname)
		if err != nil {
			return err
		}
		sip, err := fs.ReadInode(src)
		if err != nil {
			return err
		}
		if sip.IsDir() {
			below, err := fs.inSubtree(src, ndir)
			if err != nil {
				return err
			}
			if below {
				return fmt.Errorf("move directory %d below itself: %w", src, common.EINVAL)
			}
		}
		lock := []common.Inum{odir, ndir, src}
		if dst, err := fs.Lookup(ndir, nname); err == nil {
			lock = append(lock, dst)
		}

		tp := fs.begin()
		tp.Acquire(lock...)
		done, err := fs.rename(tp, odir, oname, ndir, nname, src)
		tp.ReleaseAll()
		if done {
			return err
		}
		util.DPrintf(5, "Rename: %q changed under us, retry\n", oname)
	}
}

// rename does the move with every involved inode locked. done is false if
// the entries changed since they were looked up without locks; dst may then
// be a newcomer that is not locked, so nothing is touched.
func (fs *FS) rename(tp *twophase.TwoPhase, odir common.Inum, oname string, ndir common.Inum, nname string, src common.Inum) (bool, error) {
	cur, err := fs.lookup(odir, oname)
	if err != nil {
		return true, err
	}
	if cur != src {
		return false, nil
	}
	dst, exists, err := fs.lookupOpt(ndir, nname)
	if err != nil {
		return true, err
	}
	if exists {
		held := false
		for _, h := range tp.Held() {
			held = held || h == dst
		}
		if !held {
			return false, nil
		}
	}
	if exists && dst == src {
		return true, nil
	}
	nip, err := fs.readDirInode(ndir)
	if err != nil {
		return true, err
	}
	if nip.Nlinks == 0 {
		return true, fmt.Errorf("directory %d was removed: %w", ndir, common.ENOENT)
	}
	sip, err := fs.readInode(src)
	if err != nil {
		return true, err
	}
	if !exists {
		return true, fs.move(odir, oname, ndir, nname, sip, nil)
	}
	dip, err := fs.readInode(dst)
	if err != nil {
		return true, err
	}
	switch {
	case sip.IsDir() && !dip.IsDir():
		return true, fmt.Errorf("%q: %w", nname, common.ENOTDIR)
	case !sip.IsDir() && dip.IsDir():
		return true, fmt.Errorf("%q: %w", nname, common.EISDIR)
	case dip.IsDir():
		empty, err := fs.isEmpty(dst)
		if err != nil {
			return true, err
		}
		if !empty {
			return true, fmt.Errorf("%q: %w", nname, common.ENOTEMPTY)
		}
	}
	return true, fs.move(odir, oname, ndir, nname, sip, dip)
}

func (fs *FS) move(odir common.Inum, oname string, ndir common.Inum, nname string, sip *Inode, dip *Inode) error {
	if dip != nil {
		if err := fs.replace(ndir, nname, sip.Num); err != nil {
			return err
		}
		if err := fs.dropLink(dip, ndir); err != nil {
			return err
		}
	} else {
		if err := fs.insert(ndir, nname, sip.Num); err != nil {
			return err
		}
	}
	if _, err := fs.unlinkEntry(odir, oname); err != nil {
		return err
	}
	if sip.IsDir() && odir != ndir {
		// ".." of the moved directory now links to ndir
		for _, d := range []struct {
			inum  common.Inum
			delta int
		}{{odir, -1}, {ndir, +1}} {
			ip, err := fs.readInode(d.inum)
			if err != nil {
				return err
			}
			ip.Nlinks = uint32(int(ip.Nlinks) + d.delta)
			if err := fs.writeInode(ip, d.inum); err != nil {
				return err
			}
		}
	}
	sip, err := fs.readInode(sip.Num)
	if err != nil {
		return err
	}
	sip.Ctime = fs.timestamp()
	util.DPrintf(3, "rename: %d %q -> %d %q\n", odir, oname, ndir, nname)
	return fs.writeInode(sip, sip.Num)
}

// AttrMask selects the fields of Attr that SetAttr applies.
type AttrMask uint32

const (
	SetMode AttrMask = 1 << iota
	SetUid
	SetGid
	SetSize
	SetAtime
	SetMtime
)

type Attr struct {
	Valid AttrMask
	Mode  uint32 // permission bits; the file type never changes
	Uid   uint32
	Gid   uint32
	Size  uint64
	Atime time.Time
	Mtime time.Time
}

// SetAttr changes the attributes of inode inum selected by a.Valid and
// returns the updated inode.
func (fs *FS) SetAttr(inum common.Inum, a Attr) (*Inode, error) {
	tp := fs.begin()
	defer tp.ReleaseAll()
	tp.Acquire(inum)
	if a.Valid&SetSize != 0 {
		if err := fs.truncate(inum, a.Size); err != nil {
			return nil, err
		}
	}
	ip, err := fs.readInode(inum)
	if err != nil {
		return nil, err
	}
	if a.Valid&SetMode != 0 {
		ip.Mode = ip.Mode&common.S_IFMT | a.Mode&^common.S_IFMT
	}
	if a.Valid&SetUid != 0 {
		ip.Uid = a.Uid
	}
	if a.Valid&SetGid != 0 {
		ip.Gid = a.Gid
	}
	if a.Valid&SetAtime != 0 {
		ip.Atime = uint64(a.Atime.Unix())
	}
	if a.Valid&SetMtime != 0 {
		ip.Mtime = uint64(a.Mtime.Unix())
	}
	ip.Ctime = fs.timestamp()
	if err := fs.writeInode(ip, inum); err != nil {
		return nil, err
	}
	return ip, nil
}
