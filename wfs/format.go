package wfs

import (
	"fmt"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/raid"
	"github.com/batra98/p6/super"
	"github.com/batra98/p6/util"
)

// Format initializes the metadata of a new filesystem on r: both bitmaps
// cleared and inode 0 set up as the empty root directory. Superblocks are the
// formatter's job; r must already span the layout of sb.
func Format(sb *super.Superblock, r *raid.Raid, rootMode uint32) (*FS, error) {
	zero := make([]byte, sb.IBlocksPtr-sb.IBitmapPtr)
	if err := r.WriteAt(zero, sb.IBitmapPtr); err != nil {
		return nil, fmt.Errorf("clear bitmaps: %w", err)
	}
	fs := MkFS(sb, r)
	if err := fs.imap.MarkUsed(uint64(common.ROOTINUM)); err != nil {
		return nil, fmt.Errorf("mark root inode: %w", err)
	}
	if err := fs.initInode(common.ROOTINUM, rootMode, common.S_IFDIR); err != nil {
		return nil, err
	}
	util.DPrintf(1, "Format: %v\n", sb)
	return fs, nil
}
