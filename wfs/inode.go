package wfs

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/batra98/p6/buf"
	"github.com/batra98/p6/common"
	"github.com/batra98/p6/util"
)

// Inode is the decoded form of an on-disk inode record.
type Inode struct {
	Num    common.Inum
	Mode   uint32 // S_IF* type bits and permissions
	Uid    uint32
	Gid    uint32
	Nlinks uint32
	Size   uint64
	Atime  uint64 // unix seconds
	Mtime  uint64
	Ctime  uint64
	Blocks [common.NDIRECT]common.Bnum
}

func (ip *Inode) IsDir() bool {
	return common.IsDir(ip.Mode)
}

func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt(uint64(ip.Num))
	enc.PutInt(uint64(ip.Mode))
	enc.PutInt(uint64(ip.Uid))
	enc.PutInt(uint64(ip.Gid))
	enc.PutInt(uint64(ip.Nlinks))
	enc.PutInt(ip.Size)
	enc.PutInt(ip.Atime)
	enc.PutInt(ip.Mtime)
	enc.PutInt(ip.Ctime)
	for _, b := range ip.Blocks {
		enc.PutInt(b)
	}
	return enc.Finish()
}

func decodeInode(data []byte) *Inode {
	dec := marshal.NewDec(data)
	ip := &Inode{}
	ip.Num = common.Inum(dec.GetInt())
	ip.Mode = uint32(dec.GetInt())
	ip.Uid = uint32(dec.GetInt())
	ip.Gid = uint32(dec.GetInt())
	ip.Nlinks = uint32(dec.GetInt())
	ip.Size = dec.GetInt()
	ip.Atime = dec.GetInt()
	ip.Mtime = dec.GetInt()
	ip.Ctime = dec.GetInt()
	for i := range ip.Blocks {
		ip.Blocks[i] = dec.GetInt()
	}
	return ip
}

func (fs *FS) checkInum(inum common.Inum) error {
	if uint64(inum) >= fs.Super.NInodes {
		return fmt.Errorf("inode %d of %d: %w", inum, fs.Super.NInodes, common.EINVAL)
	}
	return nil
}

func (fs *FS) readInode(inum common.Inum) (*Inode, error) {
	if err := fs.checkInum(inum); err != nil {
		return nil, err
	}
	b, err := buf.Load(fs.raid, fs.Super.Inum2Addr(inum))
	if err != nil {
		return nil, fmt.Errorf("read inode %d: %w", inum, err)
	}
	return decodeInode(b.Data), nil
}

func (fs *FS) writeInode(ip *Inode, inum common.Inum) error {
	if err := fs.checkInum(inum); err != nil {
		return err
	}
	b := buf.MkBuf(fs.Super.Inum2Addr(inum), ip.Encode())
	b.SetDirty()
	if err := b.WriteBack(fs.raid); err != nil {
		return fmt.Errorf("write inode %d: %w", inum, err)
	}
	util.DPrintf(10, "writeInode: %d %+v\n", inum, ip)
	return nil
}

// ReadInode returns a copy of inode inum.
func (fs *FS) ReadInode(inum common.Inum) (*Inode, error) {
	tp := fs.begin()
	defer tp.ReleaseAll()
	tp.Acquire(inum)
	return fs.readInode(inum)
}

// WriteInode stores ip as inode inum on every disk that must hold it.
func (fs *FS) WriteInode(ip *Inode, inum common.Inum) error {
	tp := fs.begin()
	defer tp.ReleaseAll()
	tp.Acquire(inum)
	return fs.writeInode(ip, inum)
}

// Stat is ReadInode under the name the adapter uses.
func (fs *FS) Stat(inum common.Inum) (*Inode, error) {
	return fs.ReadInode(inum)
}

// AllocateFreeInode takes the lowest free inode number.
func (fs *FS) AllocateFreeInode() (common.Inum, error) {
	n, err := fs.imap.AllocNum()
	if err != nil {
		return 0, fmt.Errorf("allocate inode: %w", err)
	}
	return common.Inum(n), nil
}

// AllocInode allocates an inode and writes a fresh record for it: type typ
// (S_IFDIR or S_IFREG) with permission bits from mode, all timestamps now,
// no data blocks. Directories start with two links, everything else one.
func (fs *FS) AllocInode(mode uint32, typ uint32) (common.Inum, error) {
	inum, err := fs.AllocateFreeInode()
	if err != nil {
		return 0, err
	}
	if err := fs.initInode(inum, mode, typ); err != nil {
		if ferr := fs.imap.FreeNum(uint64(inum)); ferr != nil {
			util.DPrintf(1, "AllocInode: leak inode %d: %v\n", inum, ferr)
		}
		return 0, err
	}
	return inum, nil
}

// initInode writes a fresh record for the already allocated inode inum.
func (fs *FS) initInode(inum common.Inum, mode uint32, typ uint32) error {
	now := fs.timestamp()
	ip := &Inode{
		Num:    inum,
		Mode:   typ&common.S_IFMT | mode&^common.S_IFMT,
		Uid:    fs.uid,
		Gid:    fs.gid,
		Nlinks: 1,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
	}
	if common.IsDir(typ) {
		ip.Nlinks = 2
	}
	for i := range ip.Blocks {
		ip.Blocks[i] = common.NULLBNUM
	}
	if err := fs.writeInode(ip, inum); err != nil {
		return err
	}
	util.DPrintf(3, "initInode: %d mode %o\n", inum, ip.Mode)
	return nil
}

// FreeInode returns inum to the inode bitmap. The caller has checked that
// nothing links to it any more.
func (fs *FS) FreeInode(inum common.Inum) error {
	if inum == common.ROOTINUM {
		return fmt.Errorf("free root inode: %w", common.EINVAL)
	}
	if err := fs.checkInum(inum); err != nil {
		return err
	}
	util.DPrintf(3, "FreeInode: %d\n", inum)
	return fs.imap.FreeNum(uint64(inum))
}

// allocBlock takes a data block and zeroes it.
func (fs *FS) allocBlock() (common.Bnum, error) {
	n, err := fs.bmap.AllocNum()
	if err != nil {
		return common.NULLBNUM, fmt.Errorf("allocate data block: %w", err)
	}
	b := buf.MkBuf(fs.Super.Data2Addr(n), make([]byte, common.BlockSize))
	b.Zero()
	if err := b.WriteBack(fs.raid); err != nil {
		return common.NULLBNUM, fmt.Errorf("zero data block %d: %w", n, err)
	}
	return n, nil
}

func (fs *FS) freeBlock(bno common.Bnum) error {
	return fs.bmap.FreeNum(bno)
}

func (fs *FS) checkBnum(bno common.Bnum) error {
	if bno >= fs.Super.NDataBlocks {
		return fmt.Errorf("corrupt block pointer %d: %w", bno, common.EIO)
	}
	return nil
}

func (fs *FS) readBlock(bno common.Bnum) (*buf.Buf, error) {
	if err := fs.checkBnum(bno); err != nil {
		return nil, err
	}
	b, err := buf.Load(fs.raid, fs.Super.Data2Addr(bno))
	if err != nil {
		return nil, fmt.Errorf("read data block %d: %w", bno, err)
	}
	return b, nil
}

// freeBlocks releases every data block of ip from index first on.
func (fs *FS) freeBlocks(ip *Inode, first uint64) error {
	for i := first; i < common.NDIRECT; i++ {
		if ip.Blocks[i] == common.NULLBNUM {
			continue
		}
		if err := fs.freeBlock(ip.Blocks[i]); err != nil {
			return err
		}
		ip.Blocks[i] = common.NULLBNUM
	}
	return nil
}
