// buf holds fixed-size disk objects (a record, a bitmap byte, a block) while
// an operation edits them. An object is copied out of the disk set, edited in
// the Buf, and copied back; nothing keeps a view into a disk.
package buf

import (
	"github.com/tchajed/marshal"

	"github.com/batra98/p6/addr"
	"github.com/batra98/p6/util"
)

// Reader is the read side of the disk set (raid.Raid).
type Reader interface {
	ReadAt(p []byte, off uint64) error
}

// Writer is the write side of the disk set (raid.Raid).
type Writer interface {
	WriteAt(p []byte, off uint64) error
}

// A Buf is a copy of a disk object (inode, a bitmap byte, or disk block)
type Buf struct {
	Addr  addr.Addr
	Data  []byte
	dirty bool // has this object been written to?
}

func MkBuf(addr addr.Addr, data []byte) *Buf {
	if uint64(len(data)) != addr.Sz {
		panic("MkBuf")
	}
	b := &Buf{
		Addr:  addr,
		Data:  data,
		dirty: false,
	}
	return b
}

// Load the bytes of the object at addr into a new buf
func Load(r Reader, addr addr.Addr) (*Buf, error) {
	data := make([]byte, addr.Sz)
	if err := r.ReadAt(data, addr.Off); err != nil {
		return nil, err
	}
	return MkBuf(addr, data), nil
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

func (buf *Buf) SetDirty() {
	buf.dirty = true
}

// WriteBack copies a dirty buf back to its object.
func (buf *Buf) WriteBack(w Writer) error {
	if !buf.IsDirty() {
		return nil
	}
	util.DPrintf(10, "WriteBack: %v\n", buf.Addr)
	if err := w.WriteAt(buf.Data, buf.Addr.Off); err != nil {
		return err
	}
	buf.dirty = false
	return nil
}

// Install 1 bit into dst, at offset bit. return new dst.
func installOneBit(set bool, dst byte, bit uint64) byte {
	var new byte = dst
	if set {
		new = new | (1 << bit)
	} else {
		new = new & ^(1 << bit)
	}
	return new
}

// BitGet reports bit n of the buf, counting from the LSB of Data[0].
func (buf *Buf) BitGet(n uint64) bool {
	return buf.Data[n/8]&(1<<(n%8)) != 0
}

func (buf *Buf) BitPut(n uint64, set bool) {
	buf.Data[n/8] = installOneBit(set, buf.Data[n/8], n%8)
	buf.SetDirty()
}

func (buf *Buf) NumGet(off uint64) uint64 {
	dec := marshal.NewDec(buf.Data[off : off+8])
	return dec.GetInt()
}

func (buf *Buf) NumPut(off uint64, v uint64) {
	enc := marshal.NewEnc(8)
	enc.PutInt(v)
	copy(buf.Data[off:off+8], enc.Finish())
	buf.SetDirty()
}

// Zero clears the whole object.
func (buf *Buf) Zero() {
	for i := range buf.Data {
		buf.Data[i] = 0
	}
	buf.SetDirty()
}
