package volume

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ltfscore/ltfscore/internal/drive"
	"github.com/ltfscore/ltfscore/internal/index"
	"github.com/ltfscore/ltfscore/internal/label"
)

func init() {
	index.Wire()
}

func formatMock(t *testing.T) *drive.Mock {
	t.Helper()
	m := drive.NewMock()
	if err := m.Open(context.Background(), "mock0"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return m
}

func TestFormatThenMountRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := formatMock(t)

	opts := FormatOptions{
		Label: label.FormatOptions{
			BlockSize:         65536,
			Barcode:           "TEST01",
			VolumeName:        "testvol",
			IndexPartitionMiB: 100,
			Compression:       true,
			Now:               time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Criteria: "name=*.txt/size=1M",
	}

	v, err := Format(ctx, m, opts)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if v.Generation != 0 {
		t.Fatalf("Generation = %d, want 0", v.Generation)
	}

	mounted, err := Mount(ctx, m, Options{})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if mounted.Generation != 0 {
		t.Errorf("mounted Generation = %d, want 0", mounted.Generation)
	}
	if mounted.ReadOnly {
		t.Errorf("expected a fresh mount to be writable")
	}
	if mounted.Label.VolumeUUID != v.Label.VolumeUUID {
		t.Errorf("VolumeUUID mismatch across format/mount")
	}
}

func TestWriteCommitReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := formatMock(t)

	v, err := Format(ctx, m, FormatOptions{
		Label: label.FormatOptions{
			BlockSize:         65536,
			IndexPartitionMiB: 100,
			Now:               time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}

	id, err := v.CreateFile(v.Tree.RootID(), "hello.txt")
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	payload := []byte("hello, tape")
	if err := v.WriteFileData(ctx, id, payload); err != nil {
		t.Fatalf("WriteFileData: %v", err)
	}
	if err := v.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if v.Generation != 1 {
		t.Fatalf("Generation = %d, want 1", v.Generation)
	}

	mounted, err := Mount(ctx, m, Options{})
	if err != nil {
		t.Fatalf("re-Mount: %v", err)
	}
	if mounted.Generation != 1 {
		t.Fatalf("mounted Generation = %d, want 1", mounted.Generation)
	}
	gotID, ok, err := mounted.Lookup(mounted.Tree.RootID(), "hello.txt")
	if err != nil || !ok {
		t.Fatalf("Lookup(hello.txt) = (%v, %v, %v)", gotID, ok, err)
	}
	data, err := mounted.ReadFileData(ctx, gotID)
	if err != nil {
		t.Fatalf("ReadFileData: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("ReadFileData = %q, want %q", data, payload)
	}
}

func TestMountWithoutCoherencyAttributeFails(t *testing.T) {
	ctx := context.Background()
	m := drive.NewMock()
	if err := m.Open(ctx, "blank"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Mount(ctx, m, Options{}); err == nil {
		t.Fatal("expected mount of an unformatted medium to fail")
	}
}

func TestMountPolicyOverridePreservesOriginalCriteria(t *testing.T) {
	ctx := context.Background()
	m := formatMock(t)

	v, err := Format(ctx, m, FormatOptions{
		Label:    label.FormatOptions{BlockSize: 65536, IndexPartitionMiB: 100, Now: time.Now()},
		Criteria: "name=*.txt/size=1M",
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := v.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	mounted, err := Mount(ctx, m, Options{PolicyOverride: "name=*.log/size=2M"})
	if err != nil {
		t.Fatalf("Mount with override: %v", err)
	}
	if mounted.EffectiveCriteria != "name=*.log/size=2M" {
		t.Errorf("EffectiveCriteria = %q, want the override", mounted.EffectiveCriteria)
	}
	if !mounted.OriginalCriteria.HaveCriteria {
		t.Fatal("OriginalCriteria lost the on-tape policy")
	}
}

func TestMountRejectsPolicyOverrideWhenUpdatesDisallowed(t *testing.T) {
	ctx := context.Background()
	m := formatMock(t)

	v, err := Format(ctx, m, FormatOptions{
		Label:    label.FormatOptions{BlockSize: 65536, IndexPartitionMiB: 100, Now: time.Now()},
		Criteria: "name=*.txt/size=1M",
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	v.AllowPolicyUpdate = false
	if err := v.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := Mount(ctx, m, Options{PolicyOverride: "name=*.log/size=2M"}); err == nil {
		t.Fatal("expected a policy override to fail once allowpolicyupdate is false")
	}
}

func TestMountPermlockedVolumeIsReadOnly(t *testing.T) {
	ctx := context.Background()
	m := formatMock(t)

	v, err := Format(ctx, m, FormatOptions{
		Label: label.FormatOptions{BlockSize: 65536, IndexPartitionMiB: 100, Now: time.Now()},
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	v.VolumeLockState = index.VolumePermLocked
	if err := v.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	mounted, err := Mount(ctx, m, Options{})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if !mounted.ReadOnly {
		t.Fatal("expected a permlocked volume to mount read-only")
	}
	if err := mounted.Commit(ctx); err == nil {
		t.Fatal("expected Commit on a permlocked mount to fail")
	}
}

func TestMountWriteProtectedMediumIsReadOnly(t *testing.T) {
	ctx := context.Background()
	m := formatMock(t)

	v, err := Format(ctx, m, FormatOptions{
		Label: label.FormatOptions{BlockSize: 65536, IndexPartitionMiB: 100, Now: time.Now()},
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := v.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	m.WriteProtected = true
	mounted, err := Mount(ctx, m, Options{})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if !mounted.ReadOnly {
		t.Error("expected a write-protected medium to mount read-only")
	}
}

func TestMountEncryptedWithoutKeyIsReadOnly(t *testing.T) {
	ctx := context.Background()
	m := formatMock(t)

	v, err := Format(ctx, m, FormatOptions{
		Label: label.FormatOptions{BlockSize: 65536, IndexPartitionMiB: 100, Now: time.Now()},
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := v.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	m.Encrypted = true
	mounted, err := Mount(ctx, m, Options{})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if !mounted.ReadOnly {
		t.Error("expected an encrypted medium with no key loaded to mount read-only")
	}

	m.SetKey(ctx, []byte{0x01})
	mounted2, err := Mount(ctx, m, Options{})
	if err != nil {
		t.Fatalf("Mount after SetKey: %v", err)
	}
	if mounted2.ReadOnly {
		t.Error("expected an encrypted medium with a key loaded to mount writable")
	}
}

func TestMountEarlyWarningOnIndexIsReadOnly(t *testing.T) {
	ctx := context.Background()
	m := formatMock(t)

	v, err := Format(ctx, m, FormatOptions{
		Label: label.FormatOptions{BlockSize: 65536, IndexPartitionMiB: 100, Now: time.Now()},
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := v.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	m.EarlyWarningAt[0] = 0
	mounted, err := Mount(ctx, m, Options{})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if !mounted.ReadOnly {
		t.Error("expected early warning already latched on the index partition to mount read-only")
	}
}

func TestCommitOnReadOnlyVolumeFails(t *testing.T) {
	ctx := context.Background()
	m := formatMock(t)
	v, err := Format(ctx, m, FormatOptions{
		Label: label.FormatOptions{BlockSize: 65536, IndexPartitionMiB: 100, Now: time.Now()},
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	v.ReadOnly = true
	if err := v.Commit(ctx); err == nil {
		t.Fatal("expected Commit to fail on a read-only volume")
	}
}
