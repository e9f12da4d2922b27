// Package label implements the LTFS partition/label layer (spec.md §4.5,
// §6): laying out a fresh cartridge's two partitions, writing and
// verifying the VOL1 ANSI label and the LTFS XML label at BOT of each
// partition, and the format/mount/unformat sequences that sit directly on
// top of the drive.Handle contract.
package label

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ltfscore/ltfscore/internal/drive"
	"github.com/ltfscore/ltfscore/internal/ltfserr"
)

// MAM attribute identifiers (spec.md §6).
const (
	MAMApplicationVendor  uint16 = 0x0800
	MAMApplicationName    uint16 = 0x0801
	MAMApplicationVersion uint16 = 0x0802
	MAMTextVolumeLabel    uint16 = 0x0803
	MAMBarcode            uint16 = 0x0806
	MAMCoherency          uint16 = 0x080A
	MAMApplicationFormat  uint16 = 0x080B
	MAMVolumeUUID         uint16 = 0x0820
	MAMVolumeLockState    uint16 = 0x1623
)

const (
	applicationVendor  = "ltfscore"
	applicationName    = "ltfscore"
	applicationVersion = "1.0.0"
	applicationFormat  = "2.4.0"
)

// IndexPartition and DataPartition are the fixed partition letters (spec.md
// §3: "partition IDs are single lowercase ASCII letters; the two IDs
// differ").
const (
	IndexPartition byte = 'a'
	DataPartition  byte = 'b'
)

// VOL1 is the 80-byte ANSI volume label written at BOT of every partition
// (spec.md §6).
type VOL1 struct {
	VolumeSerial string // up to 6 characters
	Owner        string // "LTFS"
}

const vol1Length = 80

// Marshal renders the VOL1 label to its fixed 80-byte on-tape form.
func (v VOL1) Marshal() []byte {
	buf := bytes.Repeat([]byte{' '}, vol1Length)
	copy(buf[0:4], "VOL1")
	copy(buf[4:10], padRight(v.VolumeSerial, 6))
	copy(buf[37:51], padRight(v.Owner, 14))
	buf[79] = '4'
	return buf
}

// ParseVOL1 validates and decodes an 80-byte VOL1 label record.
func ParseVOL1(record []byte) (VOL1, error) {
	if len(record) != vol1Length {
		return VOL1{}, ltfserr.New(ltfserr.LabelInvalid, "VOL1 label has the wrong length")
	}
	if string(record[0:4]) != "VOL1" {
		return VOL1{}, ltfserr.New(ltfserr.LabelInvalid, "missing VOL1 magic")
	}
	owner := bytes.TrimRight(record[37:51], " ")
	if string(owner) != "LTFS" {
		return VOL1{}, ltfserr.New(ltfserr.LabelInvalid, "VOL1 owner identifier is not LTFS")
	}
	return VOL1{
		VolumeSerial: string(bytes.TrimRight(record[4:10], " ")),
		Owner:        string(owner),
	}, nil
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + string(bytes.Repeat([]byte{' '}, n-len(s)))
}

// XMLLabel is the LTFS XML label written after the VOL1 label on every
// partition (spec.md §3 Label, §6). It is identical on both partitions
// except for ThisPartition.
type XMLLabel struct {
	Version        string
	Creator        string
	FormatTime     time.Time
	VolumeUUID     string
	ThisPartition  byte
	IndexPartition byte
	DataPartition  byte
	BlockSize      int
	Compression    bool
}

// sameVolumeAs checks the cross-partition invariant from spec.md §3: "both
// partitions' labels carry the same UUID, block size, compression flag,
// partition map, and format time; each carries its own this_partition
// letter."
func (l XMLLabel) sameVolumeAs(other XMLLabel) error {
	switch {
	case l.VolumeUUID != other.VolumeUUID:
		return ltfserr.New(ltfserr.LabelMismatch, "partition labels disagree on volume UUID")
	case l.BlockSize != other.BlockSize:
		return ltfserr.New(ltfserr.LabelMismatch, "partition labels disagree on block size")
	case l.Compression != other.Compression:
		return ltfserr.New(ltfserr.LabelMismatch, "partition labels disagree on compression")
	case l.IndexPartition != other.IndexPartition || l.DataPartition != other.DataPartition:
		return ltfserr.New(ltfserr.LabelMismatch, "partition labels disagree on partition map")
	case !l.FormatTime.Equal(other.FormatTime):
		return ltfserr.New(ltfserr.LabelMismatch, "partition labels disagree on format time")
	}
	return nil
}

// FormatOptions parameterizes Format (spec.md end-to-end scenario 1).
type FormatOptions struct {
	BlockSize         int
	Barcode           string
	VolumeName        string
	IndexPartitionMiB uint64
	Compression       bool
	Now               time.Time // injected for determinism; zero means time.Now()
}

// FormatResult reports what a fresh Format produced.
type FormatResult struct {
	VolumeUUID string
	Label      XMLLabel
}

// Format lays out a blank cartridge per spec.md §4.5: reserve the drive,
// issue the partition layout, write VOL1 + filemark + XML label + filemark
// on each partition, seed a generation-0 empty index on the index
// partition, stamp identification MAM attributes, and release the drive.
// writeGenerationZeroIndex is supplied by the volume/mount coordinator so this package
// does not need to import the index writer.
func Format(ctx context.Context, h drive.Handle, opts FormatOptions, writeGenerationZeroIndex func(ctx context.Context, h drive.Handle) error) (FormatResult, error) {
	if err := h.Reserve(ctx); err != nil {
		return FormatResult{}, err
	}
	defer h.Release(ctx)
	if err := h.PreventRemoval(ctx); err != nil {
		return FormatResult{}, err
	}
	defer h.AllowRemoval(ctx)

	if err := h.Format(ctx, opts.IndexPartitionMiB, 0); err != nil {
		return FormatResult{}, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	volUUID := uuid.NewString()

	base := XMLLabel{
		Version:        applicationFormat,
		Creator:        fmt.Sprintf("%s %s", applicationName, applicationVersion),
		FormatTime:     now,
		VolumeUUID:     volUUID,
		IndexPartition: IndexPartition,
		DataPartition:  DataPartition,
		BlockSize:      opts.BlockSize,
		Compression:    opts.Compression,
	}

	for _, part := range []byte{IndexPartition, DataPartition} {
		lbl := base
		lbl.ThisPartition = part

		if err := h.Locate(ctx, part, 0); err != nil {
			return FormatResult{}, err
		}
		vol1 := VOL1{VolumeSerial: opts.Barcode, Owner: "LTFS"}
		if _, err := h.Write(ctx, vol1.Marshal(), false, false); err != nil {
			return FormatResult{}, err
		}
		if err := h.WriteFilemarks(ctx, 1, false); err != nil {
			return FormatResult{}, err
		}
		if err := writeXMLLabel(ctx, h, lbl); err != nil {
			return FormatResult{}, err
		}
		if err := h.WriteFilemarks(ctx, 1, false); err != nil {
			return FormatResult{}, err
		}

		if part == IndexPartition && writeGenerationZeroIndex != nil {
			if err := writeGenerationZeroIndex(ctx, h); err != nil {
				return FormatResult{}, err
			}
			if err := h.WriteFilemarks(ctx, 1, false); err != nil {
				return FormatResult{}, err
			}
		}
	}

	if err := h.SetCompression(ctx, opts.Compression); err != nil {
		return FormatResult{}, err
	}

	attrs := map[uint16]string{
		MAMApplicationVendor:  applicationVendor,
		MAMApplicationName:    applicationName,
		MAMApplicationVersion: applicationVersion,
		MAMTextVolumeLabel:    opts.VolumeName,
		MAMBarcode:            opts.Barcode,
		MAMApplicationFormat:  applicationFormat,
		MAMVolumeUUID:         volUUID,
	}
	for id, value := range attrs {
		if err := h.WriteAttribute(ctx, IndexPartition, id, []byte(value)); err != nil {
			return FormatResult{}, err
		}
	}

	return FormatResult{VolumeUUID: volUUID, Label: base}, nil
}

// writeXMLLabel is a placeholder serialization hook; the real XML encoding
// lives in the index package's writer, which also knows how to render
// labels. It is swapped for the index package's implementation via
// SetXMLLabelCodec at program startup (cmd/mkltfs, cmd/ltfsindexd) to avoid
// an import cycle between label and index.
var writeXMLLabel = func(ctx context.Context, h drive.Handle, lbl XMLLabel) error {
	return ltfserr.New(ltfserr.InternalError, "label codec not installed")
}

var readXMLLabel = func(ctx context.Context, h drive.Handle) (XMLLabel, error) {
	return XMLLabel{}, ltfserr.New(ltfserr.InternalError, "label codec not installed")
}

// SetXMLLabelCodec installs the index package's XML label marshal/unmarshal
// functions. Called once at process startup.
func SetXMLLabelCodec(
	write func(ctx context.Context, h drive.Handle, lbl XMLLabel) error,
	read func(ctx context.Context, h drive.Handle) (XMLLabel, error),
) {
	writeXMLLabel = write
	readXMLLabel = read
}

// Mount performs spec.md §4.5's mount sequence for the label layer only
// (locating and validating both partitions' labels); the mount/commit
// coordinator (internal/volume) calls this before loading the index.
func Mount(ctx context.Context, h drive.Handle) (XMLLabel, error) {
	if err := h.Locate(ctx, IndexPartition, 0); err != nil {
		return XMLLabel{}, err
	}
	if _, _, err := readVOL1(ctx, h); err != nil {
		return XMLLabel{}, err
	}
	if err := h.Space(ctx, 1, drive.SpaceFilemarks); err != nil {
		return XMLLabel{}, err
	}
	idxLabel, err := readXMLLabel(ctx, h)
	if err != nil {
		return XMLLabel{}, err
	}
	idxLabel.ThisPartition = IndexPartition

	if err := h.Locate(ctx, DataPartition, 0); err != nil {
		return XMLLabel{}, err
	}
	if _, _, err := readVOL1(ctx, h); err != nil {
		return XMLLabel{}, err
	}
	if err := h.Space(ctx, 1, drive.SpaceFilemarks); err != nil {
		return XMLLabel{}, err
	}
	dataLabel, err := readXMLLabel(ctx, h)
	if err != nil {
		return XMLLabel{}, err
	}
	dataLabel.ThisPartition = DataPartition

	if err := idxLabel.sameVolumeAs(dataLabel); err != nil {
		return XMLLabel{}, err
	}

	if err := h.Locate(ctx, IndexPartition, 0); err != nil {
		return XMLLabel{}, err
	}
	return idxLabel, nil
}

func readVOL1(ctx context.Context, h drive.Handle) (VOL1, int, error) {
	buf := make([]byte, vol1Length)
	n, outcome, err := h.Read(ctx, buf)
	if err != nil {
		return VOL1{}, 0, err
	}
	if outcome != drive.ReadData {
		return VOL1{}, 0, ltfserr.New(ltfserr.LabelInvalid, "expected VOL1 data record at BOT")
	}
	v, err := ParseVOL1(buf[:n])
	return v, n, err
}

// Unformat rewrites the partition map as a single whole-cartridge
// partition and clears the format-identifying MAM attributes (spec.md
// §4.5).
func Unformat(ctx context.Context, h drive.Handle) error {
	if err := h.Reserve(ctx); err != nil {
		return err
	}
	defer h.Release(ctx)

	if err := h.Unformat(ctx); err != nil {
		return err
	}
	for _, id := range []uint16{MAMApplicationVendor, MAMApplicationName, MAMApplicationVersion, MAMTextVolumeLabel, MAMBarcode, MAMApplicationFormat, MAMVolumeUUID} {
		_ = h.WriteAttribute(ctx, IndexPartition, id, nil)
	}
	return nil
}
