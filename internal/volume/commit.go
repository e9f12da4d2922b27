package volume

import (
	"context"

	"github.com/ltfscore/ltfscore/internal/index"
	"github.com/ltfscore/ltfscore/internal/label"
	"github.com/ltfscore/ltfscore/internal/ltfserr"
)

// Commit serializes the current tree and writes it as the next generation
// to both partitions (spec.md §4.9, commit sequence): index partition
// first, then data partition, each bracketed by a filemark, followed by the
// updated coherency attribute. A hard failure writing the data-partition
// copy (end of medium) aborts the commit and demotes the volume to
// read-only, since the index partition now names a generation whose data
// copy is incomplete.
func (v *Volume) Commit(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.ReadOnly {
		return ltfserr.New(ltfserr.WriteProtect, "volume is read-only")
	}

	meta := index.Meta{
		Version:           index.CurrentVersion,
		VolumeUUID:        v.Label.VolumeUUID,
		UpdateTime:        Now(),
		AllowPolicyUpdate: v.AllowPolicyUpdate,
		Criteria:          v.EffectiveCriteria,
		VolumeLockState:   v.VolumeLockState,
		NextUID:           v.Tree.PeekNextUID(),
	}

	doc, err := index.BuildIndexDocument(v.Tree, meta, true, v.SelfPartition)
	if err != nil {
		return err
	}

	if err := v.h.SeekEOD(ctx, label.IndexPartition); err != nil {
		return err
	}
	idxPos, err := v.h.ReadPosition(ctx)
	if err != nil {
		return err
	}
	idxBlock := idxPos.Block

	doc.Stamp(v.Generation+1, idxBlock, v.SelfBlock)

	if v.FilemarkAbsent {
		if err := v.h.WriteFilemarks(ctx, 1, false); err != nil {
			return err
		}
		v.FilemarkAbsent = false
	}

	if err := index.WriteBlocks(ctx, v.h, v.Label.BlockSize, doc.Buf); err != nil {
		return err
	}
	if err := v.h.WriteFilemarks(ctx, 1, false); err != nil {
		return err
	}

	if err := v.h.SeekEOD(ctx, label.DataPartition); err != nil {
		return err
	}
	if err := index.WriteBlocks(ctx, v.h, v.Label.BlockSize, doc.Buf); err != nil {
		if kind, ok := ltfserr.Of(err); ok && kind == ltfserr.NoSpace {
			v.ReadOnly = true
		}
		return err
	}
	if err := v.h.WriteFilemarks(ctx, 1, false); err != nil {
		return err
	}

	coh := label.Coherency{
		Generation: v.Generation + 1,
		Partition:  label.IndexPartition,
		Block:      idxBlock,
		VolumeUUID: v.Label.VolumeUUID,
	}
	if err := v.h.WriteAttribute(ctx, label.IndexPartition, label.MAMCoherency, coh.Pack()); err != nil {
		return err
	}

	v.PrevPartition = v.SelfPartition
	v.PrevBlock = v.SelfBlock
	v.SelfPartition = label.IndexPartition
	v.SelfBlock = idxBlock
	v.Generation++
	v.Dirty = false
	return nil
}
