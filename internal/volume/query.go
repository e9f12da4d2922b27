package volume

import (
	"context"

	"github.com/ltfscore/ltfscore/internal/dentry"
	"github.com/ltfscore/ltfscore/internal/drive"
	"github.com/ltfscore/ltfscore/internal/ltfserr"
)

// DentryInfo is a mutex-free snapshot of a Dentry, safe to copy and hand to
// a read-only consumer such as internal/introspect (spec.md §4.6, "stat").
type DentryInfo struct {
	ID            dentry.ID
	Name          string
	IsDirectory   bool
	IsSymlink     bool
	SymlinkTarget string
	ReadOnly      bool
	IsImmutable   bool
	IsAppendOnly  bool
	UID           uint64
	Size          uint64
	ModifyTime    dentry.Timestamp
	CreateTime    dentry.Timestamp
	ChangeTime    dentry.Timestamp
	AccessTime    dentry.Timestamp
	NumExtents    int
	NumXattrs     int
	NumChildren   int
}

func infoFrom(id dentry.ID, d *dentry.Dentry) DentryInfo {
	return DentryInfo{
		ID:            id,
		Name:          d.Name,
		IsDirectory:   d.IsDirectory,
		IsSymlink:     d.IsSymlink,
		SymlinkTarget: d.SymlinkTarget,
		ReadOnly:      d.ReadOnly,
		IsImmutable:   d.IsImmutable,
		IsAppendOnly:  d.IsAppendOnly,
		UID:           d.UID,
		Size:          d.Size,
		ModifyTime:    d.ModifyTime,
		CreateTime:    d.CreateTime,
		ChangeTime:    d.ChangeTime,
		AccessTime:    d.AccessTime,
		NumExtents:    len(d.Extents),
		NumXattrs:     len(d.Xattrs),
		NumChildren:   len(d.Children),
	}
}

// Stat snapshots one dentry by id.
func (v *Volume) Stat(id dentry.ID) (DentryInfo, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d, ok := v.Tree.Get(id)
	if !ok {
		return DentryInfo{}, false
	}
	return infoFrom(id, d), true
}

// ListChildren snapshots every immediate child of a directory dentry.
func (v *Volume) ListChildren(id dentry.ID) ([]DentryInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d, ok := v.Tree.Get(id)
	if !ok {
		return nil, ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	if !d.IsDirectory {
		return nil, ltfserr.New(ltfserr.InvalidPath, "not a directory")
	}
	out := make([]DentryInfo, 0, len(d.Children))
	for _, cid := range d.Children {
		c, ok := v.Tree.Get(cid)
		if !ok {
			continue
		}
		out = append(out, infoFrom(cid, c))
	}
	return out, nil
}

// ListXattrs copies a dentry's extended attribute list.
func (v *Volume) ListXattrs(id dentry.ID) ([]dentry.Xattr, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d, ok := v.Tree.Get(id)
	if !ok {
		return nil, ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	out := make([]dentry.Xattr, len(d.Xattrs))
	copy(out, d.Xattrs)
	return out, nil
}

// Capacity reports the drive's remaining/maximum space per partition for
// the cartridge this Volume has mounted.
func (v *Volume) Capacity(ctx context.Context) (drive.Capacity, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.h.RemainingCapacity(ctx)
}
