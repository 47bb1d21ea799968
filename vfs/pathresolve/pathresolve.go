// Package pathresolve implements the dentry/path resolver: Path{root,
// start, raw} walking a string component-by-component against the live
// dentry tree.
package pathresolve

import (
	"context"
	"strings"

	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/vfs"
)

// Path walks raw component-by-component starting from root or start, in
// four steps:
//
//  1. If raw starts with "/", current = root; else current = start.
//  2. Split on "/", skipping empty components.
//  3. For each component c: "." is a no-op; ".." moves to current's
//     parent (ENOENT if root has no parent); otherwise look the child up
//     via the dentry cache, falling back to BaseLookup on a cache miss. A
//     negative result that isn't the final component fails ENOENT.
//  4. Return the final dentry, which may be negative if the caller wants
//     lookup semantics (e.g. for a subsequent create).
type Path struct {
	Root  vfs.Dentry
	Start vfs.Dentry
	Raw   string
}

// Walk resolves p and returns the final dentry.
func (p Path) Walk(ctx context.Context) (vfs.Dentry, error) {
	cur := p.Start
	raw := p.Raw
	if strings.HasPrefix(raw, "/") {
		cur = p.Root
	}

	parts := splitNonEmpty(raw)
	for i, c := range parts {
		final := i == len(parts)-1

		switch c {
		case ".":
			continue
		case "..":
			parent := cur.Meta().Parent
			if parent == nil {
				return nil, errno.ENOENT
			}
			cur = parent
			continue
		}

		child, ok := vfs.GetChild(cur, c)
		if !ok {
			var err error
			child, err = cur.BaseLookup(ctx, c)
			if err != nil {
				return nil, err
			}
			vfs.CacheChild(cur, c, child)
		}

		if child.Meta().Inode() == nil && !final {
			return nil, errno.ENOENT
		}
		cur = child
	}

	return cur, nil
}

func splitNonEmpty(raw string) []string {
	rawParts := strings.Split(raw, "/")
	out := make([]string, 0, len(rawParts))
	for _, p := range rawParts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AbsolutePath returns the canonical absolute path of d by walking its
// live parent chain, delegating to vfs.Path rather than re-parsing a
// string.
func AbsolutePath(d vfs.Dentry) string {
	return vfs.Path(d)
}
