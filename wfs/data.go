package wfs

import (
	"fmt"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/util"
)

func (fs *FS) readFileInode(inum common.Inum) (*Inode, error) {
	ip, err := fs.readInode(inum)
	if err != nil {
		return nil, err
	}
	if ip.IsDir() {
		return nil, fmt.Errorf("inode %d: %w", inum, common.EISDIR)
	}
	return ip, nil
}

// Read fills p from the file inum starting at byte off and returns the
// number of bytes read, short at end of file. Holes read as zeroes.
func (fs *FS) Read(inum common.Inum, off uint64, p []byte) (int, error) {
	tp := fs.begin()
	defer tp.ReleaseAll()
	tp.Acquire(inum)

	ip, err := fs.readFileInode(inum)
	if err != nil {
		return 0, err
	}
	if off >= ip.Size {
		return 0, nil
	}
	n := util.Min(uint64(len(p)), ip.Size-off)
	for pos := uint64(0); pos < n; {
		i := (off + pos) / common.BlockSize
		boff := (off + pos) % common.BlockSize
		cnt := util.Min(n-pos, common.BlockSize-boff)
		chunk := p[pos : pos+cnt]
		bno := ip.Blocks[i]
		if bno == common.NULLBNUM {
			for j := range chunk {
				chunk[j] = 0
			}
		} else {
			if err := fs.checkBnum(bno); err != nil {
				return int(pos), err
			}
			a := fs.Super.Data2Addr(bno)
			if err := fs.raid.ReadAt(chunk, a.Off+boff); err != nil {
				return int(pos), fmt.Errorf("read inode %d block %d: %w", inum, bno, err)
			}
		}
		pos += cnt
	}
	return int(n), nil
}

// Write stores p in the file inum at byte off, allocating blocks as needed,
// and returns the number of bytes written. A write that does not fit in the
// file's block pointers is cut short; one that cannot write anything fails
// with EFBIG.
func (fs *FS) Write(inum common.Inum, off uint64, p []byte) (int, error) {
	tp := fs.begin()
	defer tp.ReleaseAll()
	tp.Acquire(inum)

	ip, err := fs.readFileInode(inum)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= common.MAXFILESZ {
		return 0, fmt.Errorf("write at %d: %w", off, common.EFBIG)
	}
	n := util.Min(uint64(len(p)), common.MAXFILESZ-off)

	var werr error
	pos := uint64(0)
	for pos < n {
		i := (off + pos) / common.BlockSize
		boff := (off + pos) % common.BlockSize
		cnt := util.Min(n-pos, common.BlockSize-boff)
		if ip.Blocks[i] == common.NULLBNUM {
			bno, err := fs.allocBlock()
			if err != nil {
				werr = err
				break
			}
			ip.Blocks[i] = bno
		}
		a := fs.Super.Data2Addr(ip.Blocks[i])
		if err := fs.raid.WriteAt(p[pos:pos+cnt], a.Off+boff); err != nil {
			werr = fmt.Errorf("write inode %d block %d: %w", inum, ip.Blocks[i], err)
			break
		}
		pos += cnt
	}

	if off+pos > ip.Size {
		ip.Size = off + pos
	}
	now := fs.timestamp()
	ip.Mtime = now
	ip.Ctime = now
	if err := fs.writeInode(ip, inum); err != nil {
		return 0, err
	}
	util.DPrintf(5, "Write: inode %d %d bytes at %d\n", inum, pos, off)
	if pos == 0 {
		return 0, werr
	}
	return int(pos), werr
}

// truncate sets the size of file inum, freeing whole blocks past the new
// end and zeroing the rest of the last block.
func (fs *FS) truncate(inum common.Inum, size uint64) error {
	ip, err := fs.readFileInode(inum)
	if err != nil {
		return err
	}
	if size > common.MAXFILESZ {
		return fmt.Errorf("truncate to %d: %w", size, common.EFBIG)
	}
	if size < ip.Size {
		if err := fs.freeBlocks(ip, util.RoundUp(size, common.BlockSize)); err != nil {
			return err
		}
		boff := size % common.BlockSize
		if boff != 0 && ip.Blocks[size/common.BlockSize] != common.NULLBNUM {
			a := fs.Super.Data2Addr(ip.Blocks[size/common.BlockSize])
			zero := make([]byte, common.BlockSize-boff)
			if err := fs.raid.WriteAt(zero, a.Off+boff); err != nil {
				return fmt.Errorf("truncate inode %d: %w", inum, err)
			}
		}
	}
	ip.Size = size
	now := fs.timestamp()
	ip.Mtime = now
	ip.Ctime = now
	return fs.writeInode(ip, inum)
}

// Truncate sets the size of file inum. Growing leaves a hole.
func (fs *FS) Truncate(inum common.Inum, size uint64) error {
	tp := fs.begin()
	defer tp.ReleaseAll()
	tp.Acquire(inum)
	return fs.truncate(inum, size)
}
