package addr

import (
	"github.com/batra98/p6/common"
)

// Addr identifies a disk object.
//
// Off is the byte offset of the object within a disk and Sz its size in
// bytes. All disks of one filesystem share the same layout, so an Addr names
// the same object on every disk; only the RAID layer decides which disk
// backs it.
type Addr struct {
	Off uint64
	Sz  uint64
}

// Blkno is the logical block containing the first byte of the object.
func (a Addr) Blkno() common.Bnum {
	return a.Off / common.BlockSize
}

func MkAddr(off uint64, sz uint64) Addr {
	return Addr{Off: off, Sz: sz}
}

// MkBitAddr addresses the byte holding bit n of the bitmap that starts at
// byte offset start. It also returns the bit's position within that byte.
func MkBitAddr(start uint64, n uint64) (Addr, uint64) {
	return MkAddr(start+n/8, 1), n % 8
}

// MkBlockAddr addresses block bno of the region that starts at byte offset
// start.
func MkBlockAddr(start uint64, bno common.Bnum) Addr {
	return MkAddr(start+bno*common.BlockSize, common.BlockSize)
}
