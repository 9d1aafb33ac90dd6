package disk

// Disk is one disk image of a filesystem, addressed by byte offset.
//
// Implementations copy between p and the image; a caller never holds a
// reference into the image itself.
type Disk interface {
	// ReadAt fills p with the bytes at off.
	//
	// Expects off+len(p) <= Size().
	ReadAt(p []byte, off uint64) error

	// WriteAt stores p at off.
	//
	// Expects off+len(p) <= Size().
	WriteAt(p []byte, off uint64) error

	// Size reports how big the disk is, in bytes
	Size() uint64

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be durably on
	// disk
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}
