// Package dentry implements the in-memory dentry/extent tree (spec.md
// §3, §4.6). Per spec.md §9 ("Cyclic structures"), the tree is an arena of
// DentryId → *Dentry owned by the Tree; parent links are DentryIds, not
// owned references, so a subtree is freed by walking children and removing
// arena entries rather than by cycle-aware reference counting.
package dentry

import (
	"sync"

	"github.com/ltfscore/ltfscore/internal/ltfserr"
	"github.com/ltfscore/ltfscore/internal/pathname"
)

// ID addresses a Dentry within a Tree's arena. The root directory always
// has ID RootID (spec.md §3: "the volume's root dentry has UID = 1 and is
// uniquely marked").
type ID uint64

// RootID is the arena id of the volume's root directory.
const RootID ID = 1

// Timestamp is a {seconds, nanoseconds} pair retained verbatim from the
// on-tape representation (spec.md §9, "Timestamps"): clamped only when
// handed to a host filesystem layer, never when stored.
type Timestamp struct {
	Seconds     int64
	Nanoseconds int32
}

// Extent locates part of a file's content on tape (spec.md §3, Extent).
type Extent struct {
	StartPartition byte
	StartBlock     uint64
	ByteOffset     uint64
	ByteCount      uint64
	FileOffset     uint64
}

// End returns the file-relative offset one past the last byte this extent
// covers.
func (e Extent) End() uint64 {
	return e.FileOffset + e.ByteCount
}

// Xattr is one extended attribute (spec.md §3, Xattr).
type Xattr struct {
	Key   string
	Value []byte
}

const (
	xattrImmutable  = "ltfs.vendor.IBM.immutable"
	xattrAppendOnly = "ltfs.vendor.IBM.appendonly"
)

// UnknownTag is a preserved, unparsed XML fragment captured so the index
// writer can round-trip it verbatim (spec.md §4.7/§4.8, §9 "Preserved XML
// fragments").
type UnknownTag struct {
	InsertionPoint string // "file", "directory", or "root"
	Raw            []byte
}

// Dentry is one file, directory, or symlink node (spec.md §3, Dentry).
type Dentry struct {
	mu sync.Mutex // serializes extent-list mutation on this dentry (spec.md §5)

	Name             string
	PlatformSafeName string
	IsDirectory      bool
	IsSymlink        bool
	SymlinkTarget    string

	ReadOnly     bool
	IsImmutable  bool
	IsAppendOnly bool
	OpenForWrite bool

	UID    uint64
	Parent ID

	ModifyTime Timestamp
	CreateTime Timestamp
	AccessTime Timestamp
	ChangeTime Timestamp
	BackupTime Timestamp

	Size    uint64
	Extents []Extent
	Xattrs  []Xattr

	Children []ID // only meaningful if IsDirectory

	Unknown []UnknownTag

	LinkCount int
}

// HasExtentSymlinkConflict reports the violation recorded by spec.md §3:
// "a dentry has either an extent list or a symlink target, never both."
func (d *Dentry) HasExtentSymlinkConflict() bool {
	return d.IsSymlink && len(d.Extents) > 0
}

// Tree is the arena owning every Dentry in one volume's mount.
type Tree struct {
	mu      sync.RWMutex
	arena   map[ID]*Dentry
	nextID  ID
	nextUID uint64
}

// NewTree creates a tree containing only the root directory, with UID 1.
func NewTree() *Tree {
	t := &Tree{
		arena:   make(map[ID]*Dentry),
		nextID:  RootID,
		nextUID: 2,
	}
	root := &Dentry{
		Name:        "",
		IsDirectory: true,
		UID:         1,
		Parent:      RootID,
		LinkCount:   1,
	}
	t.arena[RootID] = root
	t.nextID = RootID + 1
	return t
}

// RootID returns the tree's root directory id.
func (t *Tree) RootID() ID { return RootID }

// Get returns the dentry for id under the tree's read lock. The returned
// pointer must not be retained past the caller's use of the tree without
// separately synchronizing on it.
func (t *Tree) Get(id ID) (*Dentry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.arena[id]
	return d, ok
}

// AllocateDentry creates a new, parentless-until-InsertChild dentry
// (spec.md §4.6). It does not itself allocate a UID; callers typically
// follow with AllocateUID and assign it, matching load-time vs create-time
// UID assignment rules (spec.md §4.7, "Version-gated tags").
func (t *Tree) AllocateDentry(name string, isDir, isSymlink bool) (ID, error) {
	formatted, err := pathname.Format(name, true, false)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.arena[id] = &Dentry{
		Name:        formatted,
		IsDirectory: isDir,
		IsSymlink:   isSymlink,
		LinkCount:   1,
	}
	return id, nil
}

// AllocateLoaded inserts a fully-populated Dentry (as produced by the index
// loader, which already knows Name, UID, timestamps, extents, xattrs and
// preserved unknown tags) into the arena and returns its new id. Children
// and Parent are not copied from d; the caller links children with
// InsertChild after recursively loading them.
func (t *Tree) AllocateLoaded(d Dentry) ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	cp := d
	cp.Children = nil
	t.arena[id] = &cp
	return id
}

// SetRootMetadata overwrites the root directory's own fields (everything
// except Children/Parent, which the arena already manages) with those
// loaded from an on-tape index's root directory element.
func (t *Tree) SetRootMetadata(d Dentry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, ok := t.arena[RootID]
	if !ok {
		return ltfserr.New(ltfserr.InternalError, "root dentry missing from arena")
	}
	root.Name = d.Name
	root.PlatformSafeName = d.PlatformSafeName
	root.UID = d.UID
	root.ModifyTime = d.ModifyTime
	root.CreateTime = d.CreateTime
	root.AccessTime = d.AccessTime
	root.ChangeTime = d.ChangeTime
	root.BackupTime = d.BackupTime
	root.ReadOnly = d.ReadOnly
	root.IsImmutable = d.IsImmutable
	root.IsAppendOnly = d.IsAppendOnly
	root.Xattrs = d.Xattrs
	root.Unknown = d.Unknown
	return nil
}

// AllocateUID returns the next free UID (spec.md §3: "next free UID").
func (t *Tree) AllocateUID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	uid := t.nextUID
	t.nextUID++
	return uid
}

// ObserveUID records that uid is in use (called while loading an on-tape
// index, so the allocator never reissues a UID already present on disk).
func (t *Tree) ObserveUID(uid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if uid >= t.nextUID {
		t.nextUID = uid + 1
	}
}

// PeekNextUID returns the next UID AllocateUID would hand out, without
// consuming it (spec.md §3's index-wide "next free UID", round-tripped
// through an index's <nextuid> tag rather than recomputed from the tree on
// every mount).
func (t *Tree) PeekNextUID() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextUID
}

// FreeDentry removes id and, if it is a directory, recursively frees its
// children (spec.md §4.6, "destroyed on unlink/rmdir and on volume unmount
// (recursive)").
func (t *Tree) FreeDentry(id ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.freeLocked(id)
}

func (t *Tree) freeLocked(id ID) error {
	d, ok := t.arena[id]
	if !ok {
		return ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	if d.IsDirectory {
		for _, child := range d.Children {
			if err := t.freeLocked(child); err != nil {
				return err
			}
		}
	}
	delete(t.arena, id)
	return nil
}

// Lookup finds a child of dir by exact NFC name (spec.md §4.6).
func (t *Tree) Lookup(dir ID, name string) (ID, bool, error) {
	formatted, err := pathname.Format(name, true, false)
	if err != nil {
		return 0, false, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.arena[dir]
	if !ok || !d.IsDirectory {
		return 0, false, ltfserr.New(ltfserr.InvalidPath, "not a directory")
	}
	for _, childID := range d.Children {
		child, ok := t.arena[childID]
		if ok && child.Name == formatted {
			return childID, true, nil
		}
	}
	return 0, false, nil
}

// InsertChild links child into dir's children list and sets the child's
// parent pointer.
func (t *Tree) InsertChild(dir, child ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, ok := t.arena[dir]
	if !ok || !parent.IsDirectory {
		return ltfserr.New(ltfserr.InvalidPath, "not a directory")
	}
	childDentry, ok := t.arena[child]
	if !ok {
		return ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	parent.Children = append(parent.Children, child)
	childDentry.Parent = dir
	return nil
}

// RemoveChild unlinks child from dir's children list without freeing it.
func (t *Tree) RemoveChild(dir, child ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, ok := t.arena[dir]
	if !ok || !parent.IsDirectory {
		return ltfserr.New(ltfserr.InvalidPath, "not a directory")
	}
	for i, id := range parent.Children {
		if id == child {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return nil
		}
	}
	return ltfserr.New(ltfserr.InvalidPath, "child not found")
}

// Rename moves a dentry from one parent/name to another (spec.md §4.6).
func (t *Tree) Rename(oldParent ID, oldName string, newParent ID, newName string) error {
	childID, ok, err := t.Lookup(oldParent, oldName)
	if err != nil {
		return err
	}
	if !ok {
		return ltfserr.New(ltfserr.InvalidPath, "source name not found")
	}
	if err := t.RemoveChild(oldParent, childID); err != nil {
		return err
	}
	formatted, err := pathname.Format(newName, true, false)
	if err != nil {
		return err
	}
	t.mu.Lock()
	child := t.arena[childID]
	child.Name = formatted
	t.mu.Unlock()
	return t.InsertChild(newParent, childID)
}

// AddExtent inserts extent into d's extent list, keeping it ordered by
// FileOffset (spec.md §4.6, "Extent insertion"). Insertion searches from
// the tail since append is the common case; an extent overlapping an
// existing one is rejected.
func (t *Tree) AddExtent(id ID, extent Extent) error {
	d, ok := t.Get(id)
	if !ok {
		return ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.IsSymlink {
		return ltfserr.New(ltfserr.InternalError, "cannot add an extent to a symlink dentry")
	}

	i := len(d.Extents)
	for i > 0 && d.Extents[i-1].FileOffset > extent.FileOffset {
		i--
	}
	if i > 0 && d.Extents[i-1].End() > extent.FileOffset {
		return ltfserr.New(ltfserr.InternalError, "extent overlaps the previous extent")
	}
	if i < len(d.Extents) && extent.End() > d.Extents[i].FileOffset {
		return ltfserr.New(ltfserr.InternalError, "extent overlaps the next extent")
	}

	d.Extents = append(d.Extents, Extent{})
	copy(d.Extents[i+1:], d.Extents[i:])
	d.Extents[i] = extent

	if extent.End() > d.Size {
		d.Size = extent.End()
	}
	return nil
}

// RemoveExtentRange removes the portion of d's extent list covering
// [start, end) of file-relative bytes; extents are truncated, split or
// dropped as needed to preserve non-overlap.
func (t *Tree) RemoveExtentRange(id ID, start, end uint64) error {
	d, ok := t.Get(id)
	if !ok {
		return ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := make([]Extent, 0, len(d.Extents)+1)
	for _, e := range d.Extents {
		switch {
		case e.End() <= start || e.FileOffset >= end:
			kept = append(kept, e)
		case e.FileOffset >= start && e.End() <= end:
			// fully removed
		case e.FileOffset < start:
			head := e
			head.ByteCount = start - e.FileOffset
			kept = append(kept, head)
			if e.End() > end {
				tail := e
				tail.FileOffset = end
				tail.ByteOffset += end - e.FileOffset
				tail.ByteCount = e.End() - end
				kept = append(kept, tail)
			}
		default: // e.End() > end
			trimmed := e.End() - end
			e.FileOffset = end
			e.ByteOffset += e.ByteCount - trimmed
			e.ByteCount = trimmed
			kept = append(kept, e)
		}
	}
	d.Extents = kept
	return nil
}

// Truncate sets d's nominal size (spec.md §4.6). Shrinking past the last
// extent's end drops extents via RemoveExtentRange; growing leaves an
// implicit zero tail (spec.md §9 Open Questions, §8 boundary cases).
func (t *Tree) Truncate(id ID, newSize uint64) error {
	d, ok := t.Get(id)
	if !ok {
		return ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	if newSize < d.Size {
		if err := t.RemoveExtentRange(id, newSize, d.Size); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.Size = newSize
	d.mu.Unlock()
	return nil
}

// GetXattr returns the value of the named extended attribute.
func (t *Tree) GetXattr(id ID, key string) ([]byte, bool, error) {
	d, ok := t.Get(id)
	if !ok {
		return nil, false, ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, x := range d.Xattrs {
		if x.Key == key {
			return append([]byte(nil), x.Value...), true, nil
		}
	}
	return nil, false, nil
}

// SetXattr sets (or replaces) an extended attribute, applying the
// immutable/append-only flag side effects from spec.md §3 ("Two recognized
// key prefixes drive behavior").
func (t *Tree) SetXattr(id ID, key string, value []byte) error {
	if err := pathname.ValidateXattrName(key); err != nil {
		return err
	}
	d, ok := t.Get(id)
	if !ok {
		return ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := append([]byte(nil), value...)
	for i, x := range d.Xattrs {
		if x.Key == key {
			d.Xattrs[i].Value = stored
			applyXattrFlag(d, key, value)
			return nil
		}
	}
	d.Xattrs = append(d.Xattrs, Xattr{Key: key, Value: stored})
	applyXattrFlag(d, key, value)
	return nil
}

func applyXattrFlag(d *Dentry, key string, value []byte) {
	switch key {
	case xattrImmutable:
		d.IsImmutable = string(value) == "1"
	case xattrAppendOnly:
		d.IsAppendOnly = string(value) == "1"
	}
}

// RemoveXattr deletes an extended attribute if present.
func (t *Tree) RemoveXattr(id ID, key string) error {
	d, ok := t.Get(id)
	if !ok {
		return ltfserr.New(ltfserr.InvalidPath, "dentry not found")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, x := range d.Xattrs {
		if x.Key == key {
			d.Xattrs = append(d.Xattrs[:i], d.Xattrs[i+1:]...)
			return nil
		}
	}
	return nil
}

// DumpTree renders the tree as an indented debug listing.
func (t *Tree) DumpTree() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var b []byte
	var walk func(id ID, depth int)
	walk = func(id ID, depth int) {
		d := t.arena[id]
		for i := 0; i < depth; i++ {
			b = append(b, ' ', ' ')
		}
		b = append(b, []byte(d.Name)...)
		if d.IsDirectory {
			b = append(b, '/')
		}
		b = append(b, '\n')
		for _, child := range d.Children {
			walk(child, depth+1)
		}
	}
	walk(RootID, 0)
	return string(b)
}
