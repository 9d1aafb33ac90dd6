package wfs

import (
	"fmt"
	"strings"

	"github.com/batra98/p6/common"
)

// SplitPath returns the non-empty components of path; repeated and trailing
// separators produce no components.
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	comps := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			comps = append(comps, p)
		}
	}
	return comps
}

func (fs *FS) walk(comps []string) (common.Inum, error) {
	cur := common.ROOTINUM
	for i, c := range comps {
		next, err := fs.Lookup(cur, c)
		if err != nil {
			return 0, fmt.Errorf("resolve /%s: %w", strings.Join(comps[:i+1], "/"), err)
		}
		cur = next
	}
	return cur, nil
}

// ResolvePath walks path from the root directory and returns the inode it
// names. Each directory is locked only while its component is looked up.
func (fs *FS) ResolvePath(path string) (common.Inum, error) {
	return fs.walk(SplitPath(path))
}

// ResolveParent returns the directory holding the last component of path,
// and that component. The root itself has no parent.
func (fs *FS) ResolveParent(path string) (common.Inum, string, error) {
	comps := SplitPath(path)
	if len(comps) == 0 {
		return 0, "", fmt.Errorf("parent of %q: %w", path, common.EINVAL)
	}
	dir, err := fs.walk(comps[:len(comps)-1])
	if err != nil {
		return 0, "", err
	}
	return dir, comps[len(comps)-1], nil
}
