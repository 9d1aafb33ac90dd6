package common

import (
	"golang.org/x/sys/unix"
)

const (
	BlockSize uint64 = 512

	INODESZ uint64 = 128 // on-disk size
	NDIRECT uint64 = 7

	DENTRYSZ   uint64 = 32
	DENTRYBLK  uint64 = BlockSize / DENTRYSZ
	MaxNameLen uint64 = 24

	MAXFILESZ uint64 = NDIRECT * BlockSize
)

type Inum uint64
type Bnum = uint64

const (
	ROOTINUM Inum = 0
	NULLBNUM Bnum = ^uint64(0)
)

// Unix file type bits, as stored in an inode's mode.
const (
	S_IFMT  uint32 = unix.S_IFMT
	S_IFDIR uint32 = unix.S_IFDIR
	S_IFREG uint32 = unix.S_IFREG
)

func IsDir(mode uint32) bool {
	return mode&S_IFMT == S_IFDIR
}

func IsReg(mode uint32) bool {
	return mode&S_IFMT == S_IFREG
}

type RaidMode uint64

const (
	RAID0 RaidMode = 0 // striped
	RAID1 RaidMode = 1 // mirrored
)

func (m RaidMode) Valid() bool {
	return m == RAID0 || m == RAID1
}

func (m RaidMode) String() string {
	switch m {
	case RAID0:
		return "raid0"
	case RAID1:
		return "raid1"
	}
	return "raid?"
}
