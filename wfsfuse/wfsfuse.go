// Package wfsfuse serves a wfs filesystem to the kernel through
// bazil.org/fuse. Nodes hold only an inode number; every call goes straight
// to the storage engine, which does its own locking.
package wfsfuse

import (
	"os"
	"sync"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"golang.org/x/net/context"
	"golang.org/x/sys/unix"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/util"
	"github.com/batra98/p6/wfs"
)

var _ fs.FS = (*FS)(nil)
var _ fs.FSStatfser = (*FS)(nil)

type FS struct {
	fsys *wfs.FS
	mu   *sync.Mutex
}

// New serves fsys. If serial is set, requests are handled one at a time.
func New(fsys *wfs.FS, serial bool) *FS {
	f := &FS{fsys: fsys}
	if serial {
		f.mu = new(sync.Mutex)
	}
	return f
}

func (f *FS) Root() (fs.Node, error) {
	return &Dir{node{fsys: f.fsys, inum: common.ROOTINUM, mu: f.mu}}, nil
}

func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	if f.mu != nil {
		f.mu.Lock()
		defer f.mu.Unlock()
	}
	st, err := f.fsys.StatFS()
	if err != nil {
		return errno(err)
	}
	resp.Blocks = st.NBlocks
	resp.Bfree = st.FreeBlocks
	resp.Bavail = st.FreeBlocks
	resp.Files = st.NInodes
	resp.Ffree = st.FreeInodes
	resp.Bsize = uint32(st.BlockSize)
	resp.Frsize = uint32(st.BlockSize)
	resp.Namelen = uint32(st.MaxNameLen)
	return nil
}

// errno turns an engine error into the errno the kernel sees.
func errno(err error) error {
	if err == nil {
		return nil
	}
	k := common.KindOf(err)
	if k == common.EIO {
		util.DPrintf(1, "wfsfuse: %v\n", err)
	} else {
		util.DPrintf(5, "wfsfuse: %v\n", err)
	}
	return fuse.Errno(k.Errno())
}

// ino is the inode number reported to the kernel; readdir treats 0 as a
// deleted entry.
func ino(inum common.Inum) uint64 {
	return uint64(inum) + 1
}

func fileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0777)
	if common.IsDir(m) {
		mode |= os.ModeDir
	}
	return mode
}

// unixMode is the inverse of fileMode, keeping file types wfs cannot store
// so that the engine can reject them.
func unixMode(m os.FileMode) uint32 {
	typ := uint32(unix.S_IFREG)
	switch {
	case m&os.ModeDir != 0:
		typ = unix.S_IFDIR
	case m&os.ModeSymlink != 0:
		typ = unix.S_IFLNK
	case m&os.ModeNamedPipe != 0:
		typ = unix.S_IFIFO
	case m&os.ModeSocket != 0:
		typ = unix.S_IFSOCK
	case m&os.ModeCharDevice != 0:
		typ = unix.S_IFCHR
	case m&os.ModeDevice != 0:
		typ = unix.S_IFBLK
	}
	return typ | uint32(m.Perm())
}

func fillAttr(ip *wfs.Inode, a *fuse.Attr) {
	a.Inode = ino(ip.Num)
	a.Mode = fileMode(ip.Mode)
	a.Nlink = ip.Nlinks
	a.Uid = ip.Uid
	a.Gid = ip.Gid
	a.Size = ip.Size
	a.BlockSize = uint32(common.BlockSize)
	for _, b := range ip.Blocks {
		if b != common.NULLBNUM {
			a.Blocks += common.BlockSize / 512
		}
	}
	a.Atime = time.Unix(int64(ip.Atime), 0)
	a.Mtime = time.Unix(int64(ip.Mtime), 0)
	a.Ctime = time.Unix(int64(ip.Ctime), 0)
}

type node struct {
	fsys *wfs.FS
	inum common.Inum
	mu   *sync.Mutex
}

// enter takes the serializing lock, if any, and returns its release.
func (n *node) enter() func() {
	if n.mu == nil {
		return func() {}
	}
	n.mu.Lock()
	return n.mu.Unlock
}

func (n *node) at(inum common.Inum) node {
	return node{fsys: n.fsys, inum: inum, mu: n.mu}
}

func (n *node) Attr(ctx context.Context, a *fuse.Attr) error {
	defer n.enter()()
	ip, err := n.fsys.Stat(n.inum)
	if err != nil {
		return errno(err)
	}
	fillAttr(ip, a)
	return nil
}

func (n *node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	defer n.enter()()
	var a wfs.Attr
	if req.Valid.Mode() {
		a.Valid |= wfs.SetMode
		a.Mode = uint32(req.Mode.Perm())
	}
	if req.Valid.Uid() {
		a.Valid |= wfs.SetUid
		a.Uid = req.Uid
	}
	if req.Valid.Gid() {
		a.Valid |= wfs.SetGid
		a.Gid = req.Gid
	}
	if req.Valid.Size() {
		a.Valid |= wfs.SetSize
		a.Size = req.Size
	}
	if req.Valid.Atime() {
		a.Valid |= wfs.SetAtime
		a.Atime = req.Atime
	}
	if req.Valid.Mtime() {
		a.Valid |= wfs.SetMtime
		a.Mtime = req.Mtime
	}
	ip, err := n.fsys.SetAttr(n.inum, a)
	if err != nil {
		return errno(err)
	}
	fillAttr(ip, &resp.Attr)
	return nil
}

func (n *node) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	defer n.enter()()
	return errno(n.fsys.Sync())
}

// child wraps inode inum in the node type matching its file type.
func (n *node) child(inum common.Inum) (fs.Node, error) {
	ip, err := n.fsys.Stat(inum)
	if err != nil {
		return nil, errno(err)
	}
	c := n.at(inum)
	if ip.IsDir() {
		return &Dir{c}, nil
	}
	return &File{c}, nil
}

type Dir struct {
	node
}

var _ fs.NodeStringLookuper = (*Dir)(nil)
var _ fs.HandleReadDirAller = (*Dir)(nil)
var _ fs.NodeMkdirer = (*Dir)(nil)
var _ fs.NodeCreater = (*Dir)(nil)
var _ fs.NodeMknoder = (*Dir)(nil)
var _ fs.NodeRemover = (*Dir)(nil)
var _ fs.NodeRenamer = (*Dir)(nil)
var _ fs.NodeSetattrer = (*Dir)(nil)

func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	defer d.enter()()
	inum, err := d.fsys.Lookup(d.inum, name)
	if err != nil {
		return nil, errno(err)
	}
	return d.child(inum)
}

func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	defer d.enter()()
	des, err := d.fsys.ReadDir(d.inum)
	if err != nil {
		return nil, errno(err)
	}
	res := make([]fuse.Dirent, 0, len(des))
	for _, de := range des {
		ent := fuse.Dirent{Inode: ino(de.Num), Name: de.Name, Type: fuse.DT_File}
		if ip, err := d.fsys.Stat(de.Num); err == nil && ip.IsDir() {
			ent.Type = fuse.DT_Dir
		}
		res = append(res, ent)
	}
	return res, nil
}

func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	defer d.enter()()
	inum, err := d.fsys.Mkdir(d.inum, req.Name, uint32(req.Mode.Perm()))
	if err != nil {
		return nil, errno(err)
	}
	return &Dir{d.at(inum)}, nil
}

func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	defer d.enter()()
	inum, err := d.fsys.Create(d.inum, req.Name, uint32(req.Mode.Perm()))
	if err != nil {
		return nil, nil, errno(err)
	}
	f := &File{d.at(inum)}
	return f, f, nil
}

func (d *Dir) Mknod(ctx context.Context, req *fuse.MknodRequest) (fs.Node, error) {
	defer d.enter()()
	inum, err := d.fsys.Mknod(d.inum, req.Name, unixMode(req.Mode))
	if err != nil {
		return nil, errno(err)
	}
	return d.child(inum)
}

func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	defer d.enter()()
	if req.Dir {
		return errno(d.fsys.Rmdir(d.inum, req.Name))
	}
	return errno(d.fsys.Unlink(d.inum, req.Name))
}

func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	defer d.enter()()
	nd, ok := newDir.(*Dir)
	if !ok {
		return fuse.Errno(common.ENOTDIR.Errno())
	}
	return errno(d.fsys.Rename(d.inum, req.OldName, nd.inum, req.NewName))
}

// File is both the node and the open handle of a regular file.
type File struct {
	node
}

var _ fs.HandleReader = (*File)(nil)
var _ fs.HandleWriter = (*File)(nil)
var _ fs.NodeFsyncer = (*File)(nil)
var _ fs.NodeSetattrer = (*File)(nil)

func (f *File) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	defer f.enter()()
	if req.Offset < 0 {
		return fuse.Errno(common.EINVAL.Errno())
	}
	p := make([]byte, req.Size)
	n, err := f.fsys.Read(f.inum, uint64(req.Offset), p)
	if err != nil {
		return errno(err)
	}
	resp.Data = p[:n]
	return nil
}

func (f *File) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	defer f.enter()()
	if req.Offset < 0 {
		return fuse.Errno(common.EINVAL.Errno())
	}
	n, err := f.fsys.Write(f.inum, uint64(req.Offset), req.Data)
	resp.Size = n
	if n > 0 {
		// short write; the caller retries the rest and gets the error then
		return nil
	}
	return errno(err)
}
