package wfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPath(t *testing.T) {
	assert := assert.New(t)
	assert.Equal([]string{}, SplitPath("/"))
	assert.Equal([]string{}, SplitPath(""))
	assert.Equal([]string{"a", "b"}, SplitPath("/a/b"))
	assert.Equal([]string{"a", "b"}, SplitPath("//a///b/"))
	assert.Equal([]string{"a"}, SplitPath("a"))

	p := "/x/y"
	SplitPath(p)
	assert.Equal("/x/y", p, "input is not modified")
}

func TestDentryEncoding(t *testing.T) {
	assert := assert.New(t)
	b := mkBlockBuf()
	putDentry(b, 3, Dentry{Name: "hello", Num: 42})
	assert.Equal(Dentry{Name: "hello", Num: 42}, dentryAt(b, 3))
	assert.True(dentryAt(b, 2).free())

	long := "abcdefghijklmnopqrstuvwx" // exactly MaxNameLen
	putDentry(b, 3, Dentry{Name: long, Num: 7})
	assert.Equal(long, dentryAt(b, 3).Name)
	putDentry(b, 3, Dentry{Name: "ab", Num: 7})
	assert.Equal("ab", dentryAt(b, 3).Name, "old name bytes are cleared")
	assert.Equal(Dentry{}, dentryAt(b, 4))
}

func TestValidName(t *testing.T) {
	assert := assert.New(t)
	assert.NoError(validName("a"))
	assert.NoError(validName("abcdefghijklmnopqrstuvwx"))
	assert.Error(validName("abcdefghijklmnopqrstuvwxy"))
	assert.Error(validName(""))
	assert.Error(validName("."))
	assert.Error(validName(".."))
	assert.Error(validName("a/b"))
}

func TestInodeEncoding(t *testing.T) {
	ip := &Inode{Num: 3, Mode: 0100644, Uid: 1000, Gid: 100, Nlinks: 1, Size: 10,
		Atime: 1, Mtime: 2, Ctime: 3}
	for i := range ip.Blocks {
		ip.Blocks[i] = uint64(i * 2)
	}
	data := ip.Encode()
	assert.Len(t, data, 128)
	assert.Equal(t, ip, decodeInode(data))
}
