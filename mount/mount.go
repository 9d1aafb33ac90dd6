// Package mount assembles a filesystem instance from the disk images named
// on the command line.
package mount

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/disk"
	"github.com/batra98/p6/raid"
	"github.com/batra98/p6/super"
	"github.com/batra98/p6/util"
	"github.com/batra98/p6/wfs"
)

const MinDisks = 2

// How disk images are accessed.
const (
	IOMmap  = "mmap"  // shared memory mapping
	IOBlock = "block" // pread/pwrite through a block device
)

type Config struct {
	// AllowDegraded mounts a RAID1 set with disks missing.
	AllowDegraded bool
	IO            string
	// owner of new inodes; negative means the process's effective ids
	Uid int
	Gid int
}

func DefaultConfig() Config {
	return Config{IO: IOMmap, Uid: -1, Gid: -1}
}

type Mount struct {
	FS    *wfs.FS
	Raid  *raid.Raid
	disks []disk.Disk
}

func openDisk(path string, io string) (disk.Disk, error) {
	switch io {
	case IOMmap, "":
		return disk.OpenMmap(path)
	case IOBlock:
		var st unix.Stat_t
		if err := unix.Stat(path, &st); err != nil {
			return nil, fmt.Errorf("stat %s: %v: %w", path, err, common.EIO)
		}
		return disk.OpenBlockFile(path, uint64(st.Size))
	}
	return nil, fmt.Errorf("i/o method %q: %w", io, common.EINVAL)
}

func closeAll(disks []disk.Disk) {
	for _, d := range disks {
		if d != nil {
			d.Close()
		}
	}
}

// Open maps every image in paths and mounts the filesystem they hold. On
// error everything opened is closed again.
func Open(paths []string, cfg Config) (*Mount, error) {
	if len(paths) < MinDisks && !cfg.AllowDegraded {
		return nil, fmt.Errorf("%d disks given, need at least %d: %w",
			len(paths), MinDisks, common.EINVAL)
	}
	var disks []disk.Disk
	for _, p := range paths {
		d, err := openDisk(p, cfg.IO)
		if err != nil {
			closeAll(disks)
			return nil, err
		}
		disks = append(disks, d)
	}
	m, err := Attach(disks, cfg)
	if err != nil {
		closeAll(disks)
		return nil, err
	}
	return m, nil
}

// Attach mounts the filesystem held by disks, given in any order. Each disk
// is placed at the ordinal its superblock records; all superblocks must
// describe the same instance. A RAID1 set with disks missing is mounted only
// if cfg.AllowDegraded is set.
func Attach(disks []disk.Disk, cfg Config) (*Mount, error) {
	if len(disks) == 0 {
		return nil, fmt.Errorf("no disks: %w", common.EINVAL)
	}
	var ref *super.Superblock
	var ordered []disk.Disk
	for i, d := range disks {
		sb, err := super.Load(d)
		if err != nil {
			return nil, fmt.Errorf("disk %d: %w", i, err)
		}
		if ref == nil {
			ref = sb
			ordered = make([]disk.Disk, sb.NDisks)
		} else if err := ref.SameFS(sb); err != nil {
			return nil, err
		}
		if ordered[sb.DiskIndex] != nil {
			return nil, fmt.Errorf("two disks claim ordinal %d: %w", sb.DiskIndex, common.EINVAL)
		}
		ordered[sb.DiskIndex] = d
	}
	if uint64(len(disks)) != ref.NDisks {
		if ref.Mode != common.RAID1 || !cfg.AllowDegraded {
			return nil, fmt.Errorf("%s filesystem has %d disks, %d given: %w",
				ref.Mode, ref.NDisks, len(disks), common.EINVAL)
		}
		util.DPrintf(0, "mount: degraded, %d of %d disks\n", len(disks), ref.NDisks)
	}

	r, err := raid.MkRaid(ordered, ref.Mode)
	if err != nil {
		return nil, err
	}
	fs := wfs.MkFS(ref, r)
	if cfg.Uid >= 0 || cfg.Gid >= 0 {
		uid, gid := uint32(unix.Geteuid()), uint32(unix.Getegid())
		if cfg.Uid >= 0 {
			uid = uint32(cfg.Uid)
		}
		if cfg.Gid >= 0 {
			gid = uint32(cfg.Gid)
		}
		fs.SetOwner(uid, gid)
	}
	util.DPrintf(1, "mount: %v\n", ref)
	return &Mount{FS: fs, Raid: r, disks: ordered}, nil
}

// Check runs the consistency checker of the mounted filesystem.
func (m *Mount) Check() error {
	return m.FS.Check()
}

// Close flushes and releases every disk.
func (m *Mount) Close() error {
	err := m.Raid.Barrier()
	errs := []error{err}
	for i, d := range m.disks {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close disk %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
