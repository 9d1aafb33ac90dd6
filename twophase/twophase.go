// Package twophase acquires a set of inode locks for one filesystem
// operation and releases them all when it ends.
//
// Locks are always taken in increasing inode-number order, so two
// operations that lock overlapping sets (a rename between two directories
// and a create in one of them) cannot deadlock.
package twophase

import (
	"sort"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/lockmap"
	"github.com/batra98/p6/util"
)

type TwoPhase struct {
	locks    *lockmap.LockMap
	acquired []common.Inum // sorted
}

func Begin(l *lockmap.LockMap) *TwoPhase {
	return &TwoPhase{
		locks:    l,
		acquired: make([]common.Inum, 0, 4),
	}
}

func (tp *TwoPhase) holds(inum common.Inum) bool {
	for _, a := range tp.acquired {
		if a == inum {
			return true
		}
	}
	return false
}

func (tp *TwoPhase) max() (common.Inum, bool) {
	if len(tp.acquired) == 0 {
		return 0, false
	}
	return tp.acquired[len(tp.acquired)-1], true
}

// Acquire adds inums to the held set. If every new inum is above the
// highest one held, the new locks are simply taken. Otherwise all locks are
// dropped and the whole set re-taken in order; Acquire then returns false
// and the caller must re-check anything it read under the old locks.
func (tp *TwoPhase) Acquire(inums ...common.Inum) bool {
	var fresh []common.Inum
	for _, inum := range inums {
		if !tp.holds(inum) {
			fresh = append(fresh, inum)
		}
	}
	if len(fresh) == 0 {
		return true
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })
	kept := true
	if hi, ok := tp.max(); ok && fresh[0] < hi {
		util.DPrintf(5, "twophase: reorder %v + %v\n", tp.acquired, fresh)
		fresh = append(fresh, tp.acquired...)
		sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })
		tp.ReleaseAll()
		kept = false
	}
	var last common.Inum
	for i, inum := range fresh {
		if i > 0 && inum == last {
			continue
		}
		tp.locks.Acquire(inum)
		tp.acquired = append(tp.acquired, inum)
		last = inum
	}
	return kept
}

// Release drops the most recently ordered lock.
func (tp *TwoPhase) Release() {
	last_index := len(tp.acquired) - 1
	tp.locks.Release(tp.acquired[last_index])
	tp.acquired = tp.acquired[:last_index]
}

func (tp *TwoPhase) ReleaseAll() {
	for len(tp.acquired) != 0 {
		tp.Release()
	}
}

func (tp *TwoPhase) Held() []common.Inum {
	return tp.acquired
}
