package alloc

import (
	"fmt"
	"sync"

	"github.com/batra98/p6/addr"
	"github.com/batra98/p6/buf"
	"github.com/batra98/p6/common"
	"github.com/batra98/p6/util"
)

// Disk is where the bitmap lives (raid.Raid).
type Disk interface {
	buf.Reader
	buf.Writer
}

// Alloc uses an on-disk bit map to allocate and free numbers. Bit 0
// corresponds to number 0, bit 1 to 1, and so on; a set bit is allocated.
type Alloc struct {
	lock  *sync.Mutex // protects the bitmap
	d     Disk
	start uint64 // byte offset of the bitmap
	len   uint64 // number of bits
}

func MkAlloc(d Disk, start uint64, len uint64) *Alloc {
	a := &Alloc{
		lock:  new(sync.Mutex),
		d:     d,
		start: start,
		len:   len,
	}
	return a
}

func (a *Alloc) Len() uint64 {
	return a.len
}

// Load a snapshot of the whole bitmap. Assumes caller holds lock.
func (a *Alloc) load() (*buf.Buf, error) {
	b, err := buf.Load(a.d, addr.MkAddr(a.start, util.RoundUp(a.len, 8)))
	if err != nil {
		return nil, fmt.Errorf("read bitmap at %d: %w", a.start, err)
	}
	return b, nil
}

// Set bit n on disk to v. Assumes caller holds lock.
func (a *Alloc) putBit(n uint64, v bool) error {
	ad, bit := addr.MkBitAddr(a.start, n)
	b, err := buf.Load(a.d, ad)
	if err != nil {
		return fmt.Errorf("read bitmap byte %d: %w", ad.Off, err)
	}
	b.BitPut(bit, v)
	if err := b.WriteBack(a.d); err != nil {
		return fmt.Errorf("write bitmap byte %d: %w", ad.Off, err)
	}
	return nil
}

func (a *Alloc) check(n uint64) error {
	if n >= a.len {
		return fmt.Errorf("bit %d of %d: %w", n, a.len, common.EINVAL)
	}
	return nil
}

// AllocNum returns the lowest free number and marks it allocated.
func (a *Alloc) AllocNum() (uint64, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	b, err := a.load()
	if err != nil {
		return 0, err
	}
	for n := uint64(0); n < a.len; n++ {
		if !b.BitGet(n) {
			if err := a.putBit(n, true); err != nil {
				return 0, err
			}
			util.DPrintf(5, "AllocNum: %d (bitmap %d)\n", n, a.start)
			return n, nil
		}
	}
	return 0, fmt.Errorf("bitmap at %d full: %w", a.start, common.ENOSPC)
}

func (a *Alloc) FreeNum(n uint64) error {
	if err := a.check(n); err != nil {
		return err
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	util.DPrintf(5, "FreeNum: %d (bitmap %d)\n", n, a.start)
	return a.putBit(n, false)
}

func (a *Alloc) MarkUsed(n uint64) error {
	if err := a.check(n); err != nil {
		return err
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.putBit(n, true)
}

func (a *Alloc) IsUsed(n uint64) (bool, error) {
	if err := a.check(n); err != nil {
		return false, err
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	ad, bit := addr.MkBitAddr(a.start, n)
	b, err := buf.Load(a.d, ad)
	if err != nil {
		return false, err
	}
	return b.BitGet(bit), nil
}

func popCnt(b byte) uint64 {
	var count uint64
	var x = b
	for i := uint64(0); i < 8; i++ {
		count += uint64(x & 1)
		x = x >> 1
	}
	return count
}

func (a *Alloc) NumFree() (uint64, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	b, err := a.load()
	if err != nil {
		return 0, err
	}
	used := uint64(0)
	for i, v := range b.Data {
		if uint64(i+1)*8 > a.len {
			// padding bits past len do not count
			v &= byte(1<<(a.len%8)) - 1
		}
		used += popCnt(v)
	}
	return a.len - used, nil
}
