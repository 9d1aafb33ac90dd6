package alloc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/disk"
)

func TestPopCnt(t *testing.T) {
	assert.Equal(t, uint64(0), popCnt(0))
	assert.Equal(t, uint64(1), popCnt(1))
	assert.Equal(t, uint64(1), popCnt(2))
	assert.Equal(t, uint64(2), popCnt(3))
	assert.Equal(t, uint64(8), popCnt(255))
}

func mkAlloc(max uint64) (*Alloc, *disk.MemDisk) {
	d := disk.NewMemDisk(1024)
	return MkAlloc(d, 100, max), d
}

func TestAlloc(t *testing.T) {
	assert := assert.New(t)
	max := uint64(20)
	a, _ := mkAlloc(max)

	n, err := a.NumFree()
	assert.NoError(err)
	assert.Equal(max, n, "everything should be initially free")

	n, err = a.AllocNum()
	assert.NoError(err)
	assert.Equal(uint64(0), n, "first fit")

	assert.NoError(a.MarkUsed(1))
	n2, err := a.AllocNum()
	assert.NoError(err)
	assert.Equal(uint64(2), n2, "should not allocate something marked used")

	free, _ := a.NumFree()
	assert.Equal(max-3, free, "should have used 3 items")

	assert.NoError(a.FreeNum(n))
	assert.NoError(a.FreeNum(n2))
	free, _ = a.NumFree()
	assert.Equal(max-1, free, "should have freed")

	used, err := a.IsUsed(1)
	assert.NoError(err)
	assert.True(used)
	used, _ = a.IsUsed(0)
	assert.False(used)
}

func TestAllocReuse(t *testing.T) {
	a, _ := mkAlloc(8)
	for i := uint64(0); i < 7; i++ {
		require.NoError(t, a.MarkUsed(i))
	}
	n, err := a.AllocNum()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)
	require.NoError(t, a.FreeNum(n))
	n2, err := a.AllocNum()
	require.NoError(t, err)
	assert.Equal(t, n, n2, "the only free number comes back")
}

func TestAllocExhausted(t *testing.T) {
	max := uint64(11)
	a, _ := mkAlloc(max)
	for i := uint64(0); i < max; i++ {
		n, err := a.AllocNum()
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	_, err := a.AllocNum()
	assert.True(t, errors.Is(err, common.ENOSPC))
	free, _ := a.NumFree()
	assert.Equal(t, uint64(0), free, "padding bits are not counted")
}

func TestAllocOnDisk(t *testing.T) {
	a, d := mkAlloc(16)
	require.NoError(t, a.MarkUsed(9))
	p := make([]byte, 2)
	require.NoError(t, d.ReadAt(p, 100))
	assert.Equal(t, []byte{0x00, 0x02}, p, "bit 9 is bit 1 of the second byte")

	// a second allocator over the same bitmap sees the state
	b := MkAlloc(d, 100, 16)
	used, err := b.IsUsed(9)
	require.NoError(t, err)
	assert.True(t, used)
}

func TestAllocRange(t *testing.T) {
	a, _ := mkAlloc(8)
	assert.True(t, errors.Is(a.FreeNum(8), common.EINVAL))
	assert.True(t, errors.Is(a.MarkUsed(100), common.EINVAL))
	_, err := a.IsUsed(8)
	assert.True(t, errors.Is(err, common.EINVAL))
}
