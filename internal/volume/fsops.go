package volume

import (
	"context"

	"github.com/ltfscore/ltfscore/internal/criteria"
	"github.com/ltfscore/ltfscore/internal/dentry"
	"github.com/ltfscore/ltfscore/internal/drive"
	"github.com/ltfscore/ltfscore/internal/label"
	"github.com/ltfscore/ltfscore/internal/ltfserr"
)

// FS-like operations over the mounted tree (spec.md §4.9: "expose
// filesystem-shaped operations (lookup, create, unlink, read, write,
// rename, xattrs) implemented entirely against the in-memory tree, with
// Commit as the only operation that touches tape"). Each mutating call marks
// the volume Dirty so a caller knows a Commit is owed.

func (v *Volume) checkWritable() error {
	if v.ReadOnly {
		return ltfserr.New(ltfserr.WriteProtect, "volume is read-only")
	}
	return nil
}

// Mkdir creates a new directory under parent.
func (v *Volume) Mkdir(parent dentry.ID, name string) (dentry.ID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkWritable(); err != nil {
		return 0, err
	}
	id, err := v.Tree.AllocateDentry(name, true, false)
	if err != nil {
		return 0, err
	}
	if err := v.assignCreated(id); err != nil {
		return 0, err
	}
	if err := v.Tree.InsertChild(parent, id); err != nil {
		return 0, err
	}
	v.Dirty = true
	return id, nil
}

// CreateFile creates a new, empty regular file under parent.
func (v *Volume) CreateFile(parent dentry.ID, name string) (dentry.ID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkWritable(); err != nil {
		return 0, err
	}
	id, err := v.Tree.AllocateDentry(name, false, false)
	if err != nil {
		return 0, err
	}
	if err := v.assignCreated(id); err != nil {
		return 0, err
	}
	if err := v.Tree.InsertChild(parent, id); err != nil {
		return 0, err
	}
	v.Dirty = true
	return id, nil
}

// Symlink creates a symbolic link under parent pointing at target.
func (v *Volume) Symlink(parent dentry.ID, name, target string) (dentry.ID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkWritable(); err != nil {
		return 0, err
	}
	id, err := v.Tree.AllocateDentry(name, false, true)
	if err != nil {
		return 0, err
	}
	d, _ := v.Tree.Get(id)
	d.SymlinkTarget = target
	if err := v.assignCreated(id); err != nil {
		return 0, err
	}
	if err := v.Tree.InsertChild(parent, id); err != nil {
		return 0, err
	}
	v.Dirty = true
	return id, nil
}

func (v *Volume) assignCreated(id dentry.ID) error {
	d, ok := v.Tree.Get(id)
	if !ok {
		return ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	d.UID = v.Tree.AllocateUID()
	t := Now()
	now := dentry.Timestamp{Seconds: t.Unix(), Nanoseconds: int32(t.Nanosecond())}
	d.CreateTime = now
	d.ChangeTime = now
	d.ModifyTime = now
	d.AccessTime = now
	d.BackupTime = now
	return nil
}

// Remove unlinks name from parent and frees its subtree.
func (v *Volume) Remove(parent dentry.ID, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkWritable(); err != nil {
		return err
	}
	id, ok, err := v.Tree.Lookup(parent, name)
	if err != nil {
		return err
	}
	if !ok {
		return ltfserr.New(ltfserr.InvalidPath, "name not found")
	}
	d, _ := v.Tree.Get(id)
	if d.IsImmutable {
		return ltfserr.New(ltfserr.PolicyImmutable, "dentry is marked immutable")
	}
	if err := v.Tree.RemoveChild(parent, id); err != nil {
		return err
	}
	if err := v.Tree.FreeDentry(id); err != nil {
		return err
	}
	v.Dirty = true
	return nil
}

// Rename moves a dentry between directories/names.
func (v *Volume) Rename(oldParent dentry.ID, oldName string, newParent dentry.ID, newName string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkWritable(); err != nil {
		return err
	}
	if err := v.Tree.Rename(oldParent, oldName, newParent, newName); err != nil {
		return err
	}
	v.Dirty = true
	return nil
}

// WriteFileData appends data as the sole extent of an empty file (spec.md
// §4.6; this coordinator does not support partial in-place rewrites of an
// already-written file, only append-from-empty and truncate-then-rewrite,
// matching the scope of the dentry tree's ordered, non-overlapping extent
// list). The index-partition criteria decides where the bytes land:
// policy-matched files are written to the index partition instead of the
// data partition, and no copy of them goes to the data partition; all other
// files are written to the data partition.
func (v *Volume) WriteFileData(ctx context.Context, id dentry.ID, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkWritable(); err != nil {
		return err
	}
	d, ok := v.Tree.Get(id)
	if !ok {
		return ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	if d.IsDirectory || d.IsSymlink {
		return ltfserr.New(ltfserr.InvalidPath, "not a regular file")
	}
	if d.IsAppendOnly && len(d.Extents) > 0 {
		return ltfserr.New(ltfserr.PolicyImmutable, "dentry is append-only and already has content")
	}
	if d.IsImmutable {
		return ltfserr.New(ltfserr.PolicyImmutable, "dentry is marked immutable")
	}

	match, err := v.Criteria.Match(criteria.Dentry{Name: d.Name, Size: uint64(len(data))})
	if err != nil {
		return err
	}
	partition := label.DataPartition
	if match {
		partition = label.IndexPartition
	}

	if err := v.h.SeekEOD(ctx, partition); err != nil {
		return err
	}
	startPos, err := v.h.ReadPosition(ctx)
	if err != nil {
		return err
	}

	n, err := v.h.Write(ctx, data, true, false)
	if err != nil {
		return err
	}

	extent := dentry.Extent{
		StartPartition: partition,
		StartBlock:     startPos.Block,
		ByteOffset:     0,
		ByteCount:      uint64(n),
		FileOffset:     0,
	}
	if err := v.Tree.AddExtent(id, extent); err != nil {
		return err
	}
	v.Dirty = true
	return nil
}

// ReadFileData reads back the full content of a file by walking its
// extents in file order.
func (v *Volume) ReadFileData(ctx context.Context, id dentry.ID) ([]byte, error) {
	v.mu.RLock()
	d, ok := v.Tree.Get(id)
	v.mu.RUnlock()
	if !ok {
		return nil, ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	if d.IsDirectory || d.IsSymlink {
		return nil, ltfserr.New(ltfserr.InvalidPath, "not a regular file")
	}

	out := make([]byte, 0, d.Size)
	for _, e := range d.Extents {
		if err := v.h.Locate(ctx, e.StartPartition, e.StartBlock); err != nil {
			return nil, err
		}
		buf := make([]byte, e.ByteOffset+e.ByteCount)
		n, outcome, err := v.h.Read(ctx, buf)
		if err != nil {
			return nil, err
		}
		if outcome != drive.ReadData {
			return nil, ltfserr.New(ltfserr.IndexInvalid, "extent does not point at a data record")
		}
		end := uint64(n)
		start := e.ByteOffset
		if start > end {
			start = end
		}
		out = append(out, buf[start:end]...)
	}
	return out, nil
}

// Truncate resizes a file, per spec.md §4.6 (shrinking drops extents;
// growing leaves an implicit zero tail).
func (v *Volume) Truncate(id dentry.ID, newSize uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkWritable(); err != nil {
		return err
	}
	d, ok := v.Tree.Get(id)
	if !ok {
		return ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	if d.IsImmutable {
		return ltfserr.New(ltfserr.PolicyImmutable, "dentry is marked immutable")
	}
	if err := v.Tree.Truncate(id, newSize); err != nil {
		return err
	}
	v.Dirty = true
	return nil
}

// SetXattr, GetXattr, and RemoveXattr wrap the tree's attribute operations
// with the volume's read-only gate.
func (v *Volume) SetXattr(id dentry.ID, key string, value []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkWritable(); err != nil {
		return err
	}
	if err := v.Tree.SetXattr(id, key, value); err != nil {
		return err
	}
	v.Dirty = true
	return nil
}

func (v *Volume) GetXattr(id dentry.ID, key string) ([]byte, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.Tree.GetXattr(id, key)
}

func (v *Volume) RemoveXattr(id dentry.ID, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkWritable(); err != nil {
		return err
	}
	if err := v.Tree.RemoveXattr(id, key); err != nil {
		return err
	}
	v.Dirty = true
	return nil
}

// Lookup finds a child dentry by name.
func (v *Volume) Lookup(parent dentry.ID, name string) (dentry.ID, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.Tree.Lookup(parent, name)
}
