// Package wfs is the storage engine of the filesystem: inodes, directories
// and file data on top of the RAID layer.
//
// An FS is the explicit context of one mounted instance. Every exported
// method is safe for concurrent use: it takes the locks of the inodes it
// touches (in increasing inode order, see twophase) for its whole duration,
// and each bitmap is guarded by its allocator. Unexported methods assume the
// caller holds the locks of the inodes they touch.
package wfs

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/batra98/p6/alloc"
	"github.com/batra98/p6/common"
	"github.com/batra98/p6/lockmap"
	"github.com/batra98/p6/raid"
	"github.com/batra98/p6/super"
	"github.com/batra98/p6/twophase"
)

type FS struct {
	Super *super.Superblock
	raid  *raid.Raid
	imap  *alloc.Alloc
	bmap  *alloc.Alloc
	locks *lockmap.LockMap

	// renames that may move a directory must not interleave, or two of
	// them could build a cycle
	renameMu *sync.Mutex

	uid uint32
	gid uint32
	now func() time.Time
}

// MkFS opens the filesystem described by sb over an initialized disk set.
// New inodes are owned by the effective uid and gid of the process.
func MkFS(sb *super.Superblock, r *raid.Raid) *FS {
	return &FS{
		Super:    sb,
		raid:     r,
		imap:     alloc.MkAlloc(r, sb.IBitmapPtr, sb.NInodes),
		bmap:     alloc.MkAlloc(r, sb.DBitmapPtr, sb.NDataBlocks),
		locks:    lockmap.MkLockMap(),
		renameMu: new(sync.Mutex),
		uid:      uint32(unix.Geteuid()),
		gid:      uint32(unix.Getegid()),
		now:      time.Now,
	}
}

// SetOwner changes the owner given to inodes created from now on.
func (fs *FS) SetOwner(uid uint32, gid uint32) {
	fs.uid = uid
	fs.gid = gid
}

func (fs *FS) Raid() *raid.Raid {
	return fs.raid
}

func (fs *FS) begin() *twophase.TwoPhase {
	return twophase.Begin(fs.locks)
}

func (fs *FS) timestamp() uint64 {
	return uint64(fs.now().Unix())
}

type StatFS struct {
	BlockSize   uint64
	NInodes     uint64
	NBlocks     uint64
	FreeInodes  uint64
	FreeBlocks  uint64
	MaxNameLen  uint64
	MaxFileSize uint64
}

func (fs *FS) StatFS() (StatFS, error) {
	st := StatFS{
		BlockSize:   common.BlockSize,
		NInodes:     fs.Super.NInodes,
		NBlocks:     fs.Super.NDataBlocks,
		MaxNameLen:  common.MaxNameLen,
		MaxFileSize: common.MAXFILESZ,
	}
	var err error
	if st.FreeInodes, err = fs.imap.NumFree(); err != nil {
		return st, err
	}
	if st.FreeBlocks, err = fs.bmap.NumFree(); err != nil {
		return st, err
	}
	return st, nil
}

// Sync flushes every disk of the set.
func (fs *FS) Sync() error {
	return fs.raid.Barrier()
}
