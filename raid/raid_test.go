package raid

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/disk"
)

const nblk uint64 = 16

func mkDisks(n int) []disk.Disk {
	ds := make([]disk.Disk, n)
	for i := range ds {
		ds[i] = disk.NewMemDisk(nblk * common.BlockSize)
	}
	return ds
}

func block(b byte) []byte {
	p := make([]byte, common.BlockSize)
	for i := range p {
		p[i] = b
	}
	return p
}

func readRaw(t *testing.T, d disk.Disk, off uint64, n uint64) []byte {
	p := make([]byte, n)
	require.NoError(t, d.ReadAt(p, off))
	return p
}

// failDisk fails every write.
type failDisk struct {
	disk.Disk
}

func (d failDisk) WriteAt(p []byte, off uint64) error {
	return fmt.Errorf("injected: %w", common.EIO)
}

func TestMkRaid(t *testing.T) {
	assert := assert.New(t)
	_, err := MkRaid(nil, common.RAID0)
	assert.True(errors.Is(err, common.EINVAL))
	_, err = MkRaid(mkDisks(2), common.RaidMode(3))
	assert.True(errors.Is(err, common.EINVAL))
	_, err = MkRaid([]disk.Disk{nil, disk.NewMemDisk(512)}, common.RAID0)
	assert.True(errors.Is(err, common.EINVAL), "raid0 cannot lose a disk")
	_, err = MkRaid([]disk.Disk{nil, nil}, common.RAID1)
	assert.True(errors.Is(err, common.EINVAL))

	ds := mkDisks(2)
	ds[1] = disk.NewMemDisk(8 * common.BlockSize)
	r, err := MkRaid(ds, common.RAID1)
	require.NoError(t, err)
	assert.Equal(uint64(8), r.NBlocks(), "capacity of the smallest disk")
	assert.Equal(2, r.NDisks())
	assert.False(r.Degraded())
}

func TestResolveStriped(t *testing.T) {
	assert := assert.New(t)
	r, err := MkRaid(mkDisks(3), common.RAID0)
	require.NoError(t, err)
	counts := make([]int, 3)
	for bno := uint64(0); bno < 15; bno++ {
		d, err := r.ResolveDisk(bno)
		assert.NoError(err)
		assert.Equal(int(bno%3), d)
		counts[d]++
	}
	assert.Equal([]int{5, 5, 5}, counts, "blocks spread evenly")

	_, err = r.ResolveDisk(nblk)
	assert.True(errors.Is(err, common.ERANGE))
}

func TestResolveMirrored(t *testing.T) {
	r, err := MkRaid(mkDisks(3), common.RAID1)
	require.NoError(t, err)
	for bno := uint64(0); bno < nblk; bno++ {
		d, err := r.ResolveDisk(bno)
		assert.NoError(t, err)
		assert.Equal(t, 0, d)
	}
	_, err = r.ResolveDisk(nblk + 5)
	assert.True(t, errors.Is(err, common.ERANGE))
}

func TestStripedWrite(t *testing.T) {
	assert := assert.New(t)
	ds := mkDisks(2)
	r, err := MkRaid(ds, common.RAID0)
	require.NoError(t, err)

	// two blocks in one write land on different disks at the same offsets
	p := append(block(1), block(2)...)
	require.NoError(t, r.WriteAt(p, 4*common.BlockSize))
	assert.Equal(block(1), readRaw(t, ds[0], 4*common.BlockSize, common.BlockSize))
	assert.Equal(block(0), readRaw(t, ds[1], 4*common.BlockSize, common.BlockSize))
	assert.Equal(block(2), readRaw(t, ds[1], 5*common.BlockSize, common.BlockSize))
	assert.Equal(block(0), readRaw(t, ds[0], 5*common.BlockSize, common.BlockSize))

	got := make([]byte, len(p))
	require.NoError(t, r.ReadAt(got, 4*common.BlockSize))
	assert.Equal(p, got)

	// unaligned range crossing a block boundary
	q := []byte("0123456789")
	off := 6*common.BlockSize - 4
	require.NoError(t, r.WriteAt(q, off))
	assert.Equal(q[:4], readRaw(t, ds[1], off, 4))
	assert.Equal(q[4:], readRaw(t, ds[0], off+4, 6))
	got = make([]byte, len(q))
	require.NoError(t, r.ReadAt(got, off))
	assert.Equal(q, got)
}

func TestMirroredWrite(t *testing.T) {
	ds := mkDisks(3)
	r, err := MkRaid(ds, common.RAID1)
	require.NoError(t, err)
	p := []byte("mirror me")
	require.NoError(t, r.WriteAt(p, 1000))
	for i, d := range ds {
		assert.Equal(t, p, readRaw(t, d, 1000, uint64(len(p))), "disk %d", i)
	}
}

func TestReplicate(t *testing.T) {
	ds := mkDisks(2)
	r, _ := MkRaid(ds, common.RAID1)
	require.NoError(t, ds[0].WriteAt([]byte("x"), 7))
	require.NoError(t, r.Replicate([]byte("y"), 7, 0))
	assert.Equal(t, []byte("x"), readRaw(t, ds[0], 7, 1), "origin is skipped")
	assert.Equal(t, []byte("y"), readRaw(t, ds[1], 7, 1))

	ds = mkDisks(2)
	r, _ = MkRaid(ds, common.RAID0)
	require.NoError(t, r.Replicate([]byte("y"), 7, 0))
	assert.Equal(t, []byte{0}, readRaw(t, ds[1], 7, 1), "no-op when striped")
}

func TestOutOfRange(t *testing.T) {
	r, _ := MkRaid(mkDisks(2), common.RAID0)
	err := r.WriteAt([]byte("ab"), nblk*common.BlockSize-1)
	assert.True(t, errors.Is(err, common.ERANGE))
	err = r.ReadAt(make([]byte, 1), nblk*common.BlockSize)
	assert.True(t, errors.Is(err, common.ERANGE))
}

func TestDegraded(t *testing.T) {
	assert := assert.New(t)
	ds := mkDisks(3)
	ds[0] = nil
	r, err := MkRaid(ds, common.RAID1)
	require.NoError(t, err)
	assert.True(r.Degraded())

	d, err := r.ResolveDisk(0)
	assert.NoError(err)
	assert.Equal(1, d, "reads come from the lowest present disk")

	require.NoError(t, r.WriteAt([]byte("abc"), 42))
	assert.Equal([]byte("abc"), readRaw(t, ds[1], 42, 3))
	assert.Equal([]byte("abc"), readRaw(t, ds[2], 42, 3))
	assert.Error(r.WriteDisk(0, []byte("abc"), 0))
}

func TestFailedReplicaReportsIO(t *testing.T) {
	ds := mkDisks(3)
	ds[2] = failDisk{ds[2]}
	r, _ := MkRaid(ds, common.RAID1)
	err := r.WriteAt([]byte("abc"), 42)
	assert.True(t, errors.Is(err, common.EIO))
	assert.Equal(t, []byte("abc"), readRaw(t, ds[1], 42, 3), "no rollback")
}

func TestBarrier(t *testing.T) {
	r, _ := MkRaid(mkDisks(2), common.RAID1)
	assert.NoError(t, r.Barrier())
}
