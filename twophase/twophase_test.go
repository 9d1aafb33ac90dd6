package twophase

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/lockmap"
)

func TestAcquireInOrder(t *testing.T) {
	assert := assert.New(t)
	tp := Begin(lockmap.MkLockMap())
	assert.True(tp.Acquire(5, 2, 5))
	assert.Equal([]common.Inum{2, 5}, tp.Held(), "sorted and de-duplicated")
	assert.True(tp.Acquire(9), "above the held set: kept")
	assert.True(tp.Acquire(2), "already held")
	assert.False(tp.Acquire(3), "below the held set: re-taken")
	assert.Equal([]common.Inum{2, 3, 5, 9}, tp.Held())
	tp.ReleaseAll()
	assert.Empty(tp.Held())
}

func TestNoDeadlock(t *testing.T) {
	locks := lockmap.MkLockMap()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				tp := Begin(locks)
				if i%2 == 0 {
					tp.Acquire(1)
					tp.Acquire(7)
				} else {
					tp.Acquire(7)
					tp.Acquire(1)
				}
				tp.ReleaseAll()
			}
		}(i)
	}
	wg.Wait()
}
