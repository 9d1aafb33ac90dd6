package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/batra98/p6/common"
)

func TestBitAddr(t *testing.T) {
	assert := assert.New(t)
	a, bit := MkBitAddr(512, 0)
	assert.Equal(MkAddr(512, 1), a)
	assert.Equal(uint64(0), bit)

	a, bit = MkBitAddr(512, 13)
	assert.Equal(uint64(513), a.Off)
	assert.Equal(uint64(5), bit)
	assert.Equal(common.Bnum(1), a.Blkno())
}

func TestBlockAddr(t *testing.T) {
	assert := assert.New(t)
	a := MkBlockAddr(0, 3)
	assert.Equal(MkAddr(1536, 512), a)
	a = MkBlockAddr(2048, 3)
	assert.Equal(uint64(2048+1536), a.Off)
	assert.Equal(common.Bnum(7), a.Blkno())
}
