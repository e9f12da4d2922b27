package index

import (
	"context"

	"github.com/ltfscore/ltfscore/internal/dentry"
	"github.com/ltfscore/ltfscore/internal/drive"
	"github.com/ltfscore/ltfscore/internal/label"
)

// Wire installs this package's XML codec into the label package, breaking
// the import cycle that would otherwise exist between label (format/mount
// sequencing) and index (the schema itself). Call once at process startup
// (cmd/mkltfs, cmd/ltfsindexd) before Format or Mount.
func Wire() {
	label.SetXMLLabelCodec(writeLabelToDrive, readLabelFromDrive)
}

func writeLabelToDrive(ctx context.Context, h drive.Handle, lbl label.XMLLabel) error {
	doc := BuildLabelDocument(lbl)
	return WriteBlocks(ctx, h, labelBlockSize(lbl), doc)
}

func readLabelFromDrive(ctx context.Context, h drive.Handle) (label.XMLLabel, error) {
	r := newTapeReader(ctx, h, defaultLabelReadBlockSize)
	return ParseLabel(r)
}

// WriteBlocks writes data to h in blockSize-sized records, exported so the
// mount/commit coordinator (internal/volume) can stream an index document
// without depending on this package's unexported tape-I/O plumbing.
func WriteBlocks(ctx context.Context, h drive.Handle, blockSize int, data []byte) error {
	return writeAllBlocks(ctx, h, blockSize, data)
}

// ReadIndexFromDrive reads one index document directly off the tape at the
// drive's current position, streaming block-sized reads (spec.md §4.7,
// "Tape-stream parser"), and parses it into tree.
func ReadIndexFromDrive(ctx context.Context, h drive.Handle, blockSize int, tree *dentry.Tree) (ParseResult, error) {
	r := newTapeReader(ctx, h, blockSize)
	return ParseIndex(r, tree)
}

// labelBlockSize uses the label's own declared block size once it is known
// (mount path always reads before it knows this, so readLabelFromDrive
// falls back to a generously large fixed buffer instead).
func labelBlockSize(lbl label.XMLLabel) int {
	if lbl.BlockSize > 0 {
		return lbl.BlockSize
	}
	return defaultLabelReadBlockSize
}

// defaultLabelReadBlockSize is large enough to hold any ltfslabel document
// in a single tape block; real LTFS block sizes are at minimum this size.
const defaultLabelReadBlockSize = 65536
