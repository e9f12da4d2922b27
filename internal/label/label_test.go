package label

import (
	"context"
	"testing"
	"time"

	"github.com/ltfscore/ltfscore/internal/drive"
)

func TestVOL1MarshalParseRoundTrip(t *testing.T) {
	v := VOL1{VolumeSerial: "TAPE01", Owner: "LTFS"}
	record := v.Marshal()
	if len(record) != vol1Length {
		t.Fatalf("Marshal length = %d, want %d", len(record), vol1Length)
	}
	got, err := ParseVOL1(record)
	if err != nil {
		t.Fatalf("ParseVOL1: %v", err)
	}
	if got.VolumeSerial != "TAPE01" || got.Owner != "LTFS" {
		t.Errorf("ParseVOL1 = %+v", got)
	}
}

func TestParseVOL1RejectsBadMagic(t *testing.T) {
	record := make([]byte, vol1Length)
	copy(record, "XXXX")
	if _, err := ParseVOL1(record); err == nil {
		t.Fatal("expected an error for a non-VOL1 record")
	}
}

func TestCoherencyPackUnpackRoundTrip(t *testing.T) {
	c := Coherency{
		Generation: 0,
		Partition:  IndexPartition,
		Block:      5,
		VolumeUUID: "11111111-2222-3333-4444-555555555555",
	}
	got, err := UnpackCoherency(c.Pack())
	if err != nil {
		t.Fatalf("UnpackCoherency: %v", err)
	}
	if got != c {
		t.Errorf("UnpackCoherency round trip = %+v, want %+v", got, c)
	}
}

func installFakeXMLCodec(t *testing.T) {
	t.Helper()
	var stored XMLLabel
	SetXMLLabelCodec(
		func(ctx context.Context, h drive.Handle, lbl XMLLabel) error {
			stored = lbl
			_, err := h.Write(ctx, []byte("<ltfslabel/>"), false, false)
			return err
		},
		func(ctx context.Context, h drive.Handle) (XMLLabel, error) {
			buf := make([]byte, 64)
			_, _, err := h.Read(ctx, buf)
			if err != nil {
				return XMLLabel{}, err
			}
			return stored, nil
		},
	)
}

func TestFormatThenMountRoundTrip(t *testing.T) {
	installFakeXMLCodec(t)
	ctx := context.Background()
	m := drive.NewMock()
	if err := m.Open(ctx, "mock0"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	opts := FormatOptions{
		BlockSize:         524288,
		Barcode:           "TAPE01L8",
		VolumeName:        "archive-1",
		IndexPartitionMiB: 2000,
		Compression:       true,
		Now:               time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	result, err := Format(ctx, m, opts, nil)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if result.VolumeUUID == "" {
		t.Fatal("expected Format to assign a volume UUID")
	}

	mounted, err := Mount(ctx, m)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if mounted.VolumeUUID != result.VolumeUUID {
		t.Errorf("mounted UUID = %q, want %q", mounted.VolumeUUID, result.VolumeUUID)
	}
	if mounted.BlockSize != opts.BlockSize {
		t.Errorf("mounted BlockSize = %d, want %d", mounted.BlockSize, opts.BlockSize)
	}
}

func TestUnformatClearsIdentification(t *testing.T) {
	installFakeXMLCodec(t)
	ctx := context.Background()
	m := drive.NewMock()
	m.Open(ctx, "mock0")
	opts := FormatOptions{BlockSize: 65536, Barcode: "X", IndexPartitionMiB: 100, Now: time.Now()}
	if _, err := Format(ctx, m, opts, nil); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := Unformat(ctx, m); err != nil {
		t.Fatalf("Unformat: %v", err)
	}
	if _, err := m.ReadAttribute(ctx, IndexPartition, MAMVolumeUUID); err == nil {
		t.Error("expected volume UUID MAM attribute to be cleared after Unformat")
	}
}
