package super

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/disk"
)

func TestLayout(t *testing.T) {
	assert := assert.New(t)
	sb, err := MkSuper(common.RAID1, 2, 16, 64)
	require.NoError(t, err)
	assert.Equal(common.BlockSize, sb.IBitmapPtr)
	assert.Equal(2*common.BlockSize, sb.DBitmapPtr)
	assert.Equal(3*common.BlockSize, sb.IBlocksPtr)
	// 16 inodes * 128 bytes = 4 blocks
	assert.Equal(7*common.BlockSize, sb.DBlocksPtr)
	assert.Equal(uint64(7+64)*common.BlockSize, sb.Size())
	assert.Equal(sb.Size(), RequiredSize(16, 64))
	assert.Equal(uint64(2), sb.IBitmapLen())
	assert.Equal(uint64(8), sb.DBitmapLen())

	for _, a := range []uint64{sb.IBitmapPtr, sb.DBitmapPtr, sb.IBlocksPtr, sb.DBlocksPtr} {
		assert.Equal(uint64(0), a%common.BlockSize, "regions are block aligned")
	}
	assert.Equal(sb.IBlocksPtr+3*common.INODESZ, sb.Inum2Addr(3).Off)
	assert.Equal(sb.DBlocksPtr+5*common.BlockSize, sb.Data2Addr(5).Off)
}

func TestMkSuperInvalid(t *testing.T) {
	_, err := MkSuper(common.RaidMode(7), 2, 16, 64)
	assert.True(t, errors.Is(err, common.EINVAL))
	_, err = MkSuper(common.RAID0, 2, 0, 64)
	assert.True(t, errors.Is(err, common.EINVAL))
	_, err = MkSuper(common.RAID0, 0, 16, 64)
	assert.True(t, errors.Is(err, common.EINVAL))
}

func TestStoreLoad(t *testing.T) {
	assert := assert.New(t)
	sb, err := MkSuper(common.RAID0, 3, 32, 100)
	require.NoError(t, err)
	d := disk.NewMemDisk(sb.Size())

	sb1 := sb.ForDisk(1)
	require.NoError(t, sb1.Store(d))
	got, err := Load(d)
	require.NoError(t, err)
	assert.Equal(sb1, got)
	assert.Equal(uint64(0), sb.DiskIndex, "ForDisk copies")
	assert.NoError(sb.SameFS(got))
}

func TestLoadRejects(t *testing.T) {
	sb, _ := MkSuper(common.RAID1, 2, 16, 64)

	d := disk.NewMemDisk(sb.Size())
	_, err := Load(d)
	assert.True(t, errors.Is(err, common.EINVAL), "zeroed disk has no magic")

	small := disk.NewMemDisk(sb.Size() - common.BlockSize)
	require.NoError(t, sb.Store(small))
	_, err = Load(small)
	assert.True(t, errors.Is(err, common.EINVAL), "undersized disk")

	bad := sb.ForDisk(2)
	assert.Error(t, bad.Validate(sb.Size()), "ordinal beyond disk count")

	skewed := *sb
	skewed.DBlocksPtr += common.BlockSize
	assert.Error(t, skewed.Validate(1<<20))
}

func TestSameFS(t *testing.T) {
	a, _ := MkSuper(common.RAID1, 2, 16, 64)
	b, _ := MkSuper(common.RAID1, 2, 16, 64)
	assert.Error(t, a.SameFS(b), "different instances")

	c := a.ForDisk(1)
	c.NDataBlocks = 65
	assert.Error(t, a.SameFS(c), "different layout")
	assert.NoError(t, a.SameFS(a.ForDisk(1)))
}
