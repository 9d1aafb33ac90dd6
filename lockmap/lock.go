// lockmap is a sharded lock map, one lock per inode number.
//
// The API is as if LockMap consisted of a lock for every possible inode
// number; LockMap.Acquire(inum) acquires the lock for inum and
// LockMap.Release(inum) releases it.
//
// The implementation doesn't actually maintain all of these locks; it
// keeps a fixed collection of shards so that shard i tracks the lock state
// of every inum with inum % NSHARD = i, creating it on first use and
// dropping it once nobody holds or waits for it.
package lockmap

import (
	"sync"

	"github.com/batra98/p6/common"
)

type lockState struct {
	held    bool
	cond    *sync.Cond
	waiters uint64
}

type lockShard struct {
	mu    *sync.Mutex
	state map[common.Inum]*lockState
}

func mkLockShard() *lockShard {
	return &lockShard{
		mu:    new(sync.Mutex),
		state: make(map[common.Inum]*lockState),
	}
}

func (shard *lockShard) acquire(inum common.Inum) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	for {
		state, ok := shard.state[inum]
		if !ok {
			state = &lockState{cond: sync.NewCond(shard.mu)}
			shard.state[inum] = state
		}
		if !state.held {
			state.held = true
			return
		}
		state.waiters += 1
		state.cond.Wait()
		state.waiters -= 1
	}
}

func (shard *lockShard) release(inum common.Inum) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[inum]
	if !ok || !state.held {
		panic("release")
	}
	state.held = false
	if state.waiters > 0 {
		state.cond.Signal()
	} else {
		delete(shard.state, inum)
	}
}

const NSHARD uint64 = 43

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	shards := make([]*lockShard, NSHARD)
	for i := range shards {
		shards[i] = mkLockShard()
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) Acquire(inum common.Inum) {
	lmap.shards[uint64(inum)%NSHARD].acquire(inum)
}

func (lmap *LockMap) Release(inum common.Inum) {
	lmap.shards[uint64(inum)%NSHARD].release(inum)
}
