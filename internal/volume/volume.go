// Package volume implements the mount/commit coordinator (spec.md §4.9):
// the sequencing that sits above the partition/label layer and the index
// codec, owning the in-memory dentry tree for the lifetime of one mount and
// serializing it back to tape on commit. Grounded on
// _examples/RoseOO-TapeBackarr/internal/backup/service.go's shape (a
// top-level coordinator struct wrapping a mutex-guarded session plus a
// storage backend), adapted to LTFS's own mount/commit/crash-recovery
// sequence as described in original_source/ltfs.c's ltfs_mount/ltfs_sync.
package volume

import (
	"context"
	"sync"
	"time"

	"github.com/ltfscore/ltfscore/internal/criteria"
	"github.com/ltfscore/ltfscore/internal/dentry"
	"github.com/ltfscore/ltfscore/internal/drive"
	"github.com/ltfscore/ltfscore/internal/index"
	"github.com/ltfscore/ltfscore/internal/label"
	"github.com/ltfscore/ltfscore/internal/ltfserr"
)

// Volume is one mounted cartridge: the dentry tree plus everything the
// commit coordinator needs to place the next generation (spec.md §4.9).
type Volume struct {
	mu sync.RWMutex

	h     drive.Handle
	Label label.XMLLabel
	Tree  *dentry.Tree

	// Criteria is the effective index-partition policy Commit writes and
	// fsops.go matches new files against; it may be opts.PolicyOverride
	// rather than the on-tape policy. OriginalCriteria is a Dup of the
	// on-tape policy as mounted, kept distinct per spec.md §4.3 ("Duplicate")
	// so the policy the volume carried on disk stays available after an
	// override is applied. Commit writes the effective policy, so a
	// committed override becomes the on-tape policy for later mounts.
	Criteria          *criteria.Criteria
	OriginalCriteria  *criteria.Criteria
	EffectiveCriteria string

	VolumeLockState index.VolumeLockState
	// AllowPolicyUpdate gates whether a future Mount's PolicyOverride is
	// honored; Commit writes it back unchanged so it persists across
	// generations until something explicitly flips it.
	AllowPolicyUpdate bool

	Generation    uint64
	SelfPartition byte
	SelfBlock     uint64
	PrevPartition byte
	PrevBlock     uint64

	ReadOnly       bool
	FilemarkAbsent bool
	Dirty          bool

	// Conflicts records symlink/extent conflicts surfaced while parsing the
	// mounted generation (spec.md §8, boundary case); the mount succeeds
	// read-only rather than failing outright.
	Conflicts []index.ConflictInfo
}

// Options parameterizes Mount (spec.md §4.9, "policy override").
type Options struct {
	// PolicyOverride, if non-empty, replaces the on-tape index criteria for
	// this mount, provided the index permits it (allowpolicyupdate) and the
	// volume is not WORM-locked.
	PolicyOverride string
	// RollbackGeneration, if non-zero, requests mounting an older
	// generation than the one the coherency attribute names (spec.md §4.9,
	// rollback mount); a rollback mount is always read-only.
	RollbackGeneration uint64
}

// FormatOptions parameterizes Format; it wraps label.FormatOptions with the
// initial index-partition criteria rule, since Format also seeds the
// generation-0 index (spec.md §4.5 end-to-end scenario 1).
type FormatOptions struct {
	Label    label.FormatOptions
	Criteria string
}

// Format lays out a blank cartridge and mounts the fresh, empty volume it
// produces (spec.md §4.5, §4.9). The generation-0 index and its coherency
// attribute are written here, composing label.Format (which knows nothing
// of dentries) with the index writer.
func Format(ctx context.Context, h drive.Handle, opts FormatOptions) (*Volume, error) {
	tree := dentry.NewTree()
	crit, err := criteria.Parse(opts.Criteria)
	if err != nil {
		return nil, err
	}

	var genZeroBlock uint64
	writeGenZero := func(ctx context.Context, h drive.Handle) error {
		pos, err := h.ReadPosition(ctx)
		if err != nil {
			return err
		}
		genZeroBlock = pos.Block
		updateTime := opts.Label.Now
		if updateTime.IsZero() {
			updateTime = Now()
		}
		meta := index.Meta{
			Version:           index.CurrentVersion,
			UpdateTime:        updateTime,
			AllowPolicyUpdate: true,
			Criteria:          opts.Criteria,
			NextUID:           tree.PeekNextUID(),
		}
		doc, err := index.BuildIndexDocument(tree, meta, false, 0)
		if err != nil {
			return err
		}
		doc.Stamp(0, genZeroBlock, 0)
		return index.WriteBlocks(ctx, h, opts.Label.BlockSize, doc.Buf)
	}

	result, err := label.Format(ctx, h, opts.Label, writeGenZero)
	if err != nil {
		return nil, err
	}

	coh := label.Coherency{
		Generation: 0,
		Partition:  label.IndexPartition,
		Block:      genZeroBlock,
		VolumeUUID: result.VolumeUUID,
	}
	if err := h.WriteAttribute(ctx, label.IndexPartition, label.MAMCoherency, coh.Pack()); err != nil {
		return nil, err
	}

	return &Volume{
		h:                 h,
		Label:             result.Label,
		Tree:              tree,
		Criteria:          crit,
		OriginalCriteria:  crit.Dup(),
		EffectiveCriteria: opts.Criteria,
		AllowPolicyUpdate: true,
		Generation:        0,
		SelfPartition:     label.IndexPartition,
		SelfBlock:         genZeroBlock,
	}, nil
}

// mountRetries bounds the TestUnitReady retry loop spec.md §4.9 calls for
// ("load, then probe unit-ready with retry on transient unit-attention").
const mountRetries = 3

// Mount performs spec.md §4.9's mount sequence: load the medium, parse both
// partition labels, locate the newest committed generation via the
// coherency MAM attribute, parse its index into a fresh dentry tree, apply
// any permitted policy override, and decide whether the volume must mount
// read-only.
func Mount(ctx context.Context, h drive.Handle, opts Options) (*Volume, error) {
	if err := h.Load(ctx, false); err != nil {
		return nil, err
	}
	var err error
	for attempt := 0; attempt < mountRetries; attempt++ {
		if err = h.TestUnitReady(ctx); err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	lbl, err := label.Mount(ctx, h)
	if err != nil {
		return nil, err
	}

	raw, err := h.ReadAttribute(ctx, label.IndexPartition, label.MAMCoherency)
	if err != nil {
		return nil, ltfserr.Wrap(ltfserr.NotPartitioned, "no coherency attribute on this medium; it may not be an LTFS volume", err)
	}
	coh, err := label.UnpackCoherency(raw)
	if err != nil {
		return nil, err
	}

	rollback := opts.RollbackGeneration != 0 && opts.RollbackGeneration != coh.Generation
	if rollback {
		found, err := locateGeneration(ctx, h, lbl.BlockSize, opts.RollbackGeneration, coh)
		if err != nil {
			return nil, err
		}
		coh = found
	}

	if err := h.Locate(ctx, coh.Partition, coh.Block); err != nil {
		return nil, err
	}

	tree := dentry.NewTree()
	result, err := index.ReadIndexFromDrive(ctx, h, lbl.BlockSize, tree)
	if err != nil {
		return nil, err
	}

	crit, err := criteria.Parse(result.Meta.Criteria)
	if err != nil {
		return nil, err
	}
	// spec.md §4.3, Duplicate: preserve the on-tape policy separately from
	// whatever override this mount applies, so a later mount without an
	// override still sees the policy as actually committed.
	original := crit.Dup()
	effective := crit
	effectiveStr := result.Meta.Criteria

	if opts.PolicyOverride != "" && opts.PolicyOverride != result.Meta.Criteria {
		if !result.Meta.AllowPolicyUpdate || result.Meta.VolumeLockState == index.VolumePermLocked {
			return nil, ltfserr.New(ltfserr.PolicyImmutable, "index does not permit a policy override (allowpolicyupdate=false or WORM volume)")
		}
		newCrit, err := criteria.Parse(opts.PolicyOverride)
		if err != nil {
			return nil, err
		}
		effective = newCrit
		effectiveStr = opts.PolicyOverride
	}

	v := &Volume{
		h:                 h,
		Label:             lbl,
		Tree:              tree,
		Criteria:          effective,
		OriginalCriteria:  original,
		EffectiveCriteria: effectiveStr,
		VolumeLockState:   result.Meta.VolumeLockState,
		AllowPolicyUpdate: result.Meta.AllowPolicyUpdate,
		Generation:        coh.Generation,
		SelfPartition:     coh.Partition,
		SelfBlock:         coh.Block,
		FilemarkAbsent:    !result.SawFilemark,
		Conflicts:         result.Conflicts,
	}

	medium, err := h.MediumStatus(ctx)
	if err != nil {
		return nil, err
	}
	keyAlias, err := h.GetKeyAlias(ctx)
	if err != nil {
		return nil, err
	}
	pos, err := h.ReadPosition(ctx)
	if err != nil {
		return nil, err
	}

	// spec.md §4.9 step 5: a rollback mount, one that surfaced a
	// symlink/extent conflict, a write-protected or unkeyed-encrypted
	// medium, early warning already latched on the index partition, or an
	// on-tape volume-lock state other than unlocked all mount read-only
	// rather than fail outright. A missing trailing filemark does not: it
	// is recorded in FilemarkAbsent and written by the next Commit.
	if rollback || len(result.Conflicts) > 0 ||
		medium.WriteProtected || (medium.Encrypted && keyAlias == "") || pos.EarlyWarning ||
		result.Meta.VolumeLockState != index.VolumeUnlocked {
		v.ReadOnly = true
	}

	return v, nil
}

// locateGeneration walks back-pointers from the current generation toward
// generation 0 looking for the requested one (spec.md §4.9, "rollback
// mount"); it does not mutate the drive's position permanently since the
// caller relocates afterward.
func locateGeneration(ctx context.Context, h drive.Handle, blockSize int, want uint64, current label.Coherency) (label.Coherency, error) {
	coh := current
	for coh.Generation > want {
		if err := h.Locate(ctx, coh.Partition, coh.Block); err != nil {
			return label.Coherency{}, err
		}
		tree := dentry.NewTree()
		result, err := index.ReadIndexFromDrive(ctx, h, blockSize, tree)
		if err != nil {
			return label.Coherency{}, err
		}
		if !result.HasPrevious {
			return label.Coherency{}, ltfserr.New(ltfserr.IndexInvalid, "rollback target generation predates the oldest index reachable by back-pointer")
		}
		coh = label.Coherency{
			Generation: coh.Generation - 1,
			Partition:  result.PrevPartition,
			Block:      result.PrevBlock,
			VolumeUUID: current.VolumeUUID,
		}
	}
	if coh.Generation != want {
		return label.Coherency{}, ltfserr.New(ltfserr.IndexInvalid, "rollback target generation is newer than the mounted one")
	}
	return coh, nil
}

// Close releases the drive reservation acquired implicitly by the caller's
// use of h; Volume itself never calls Reserve, matching spec.md §5's rule
// that only one session owns a Handle at a time.
func (v *Volume) Close(ctx context.Context) error {
	return nil
}

// Now is overridden in tests for determinism.
var Now = func() time.Time { return time.Now().UTC() }
