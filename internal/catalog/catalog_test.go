package catalog

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	db := openTest(t)
	tables := []string{"volumes", "coherency", "scrub_runs"}
	for _, table := range tables {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
			t.Fatalf("check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}
}

func TestUpsertVolumeAndCoherencyRoundTrip(t *testing.T) {
	db := openTest(t)

	v := VolumeInfo{
		VolumeUUID:   "11111111-2222-3333-4444-555555555555",
		Barcode:      "TAPE01L8",
		MediumSerial: "HU1234567890",
		LabelVersion: 1,
		BlockSize:    524288,
	}
	if err := db.UpsertVolume(v); err != nil {
		t.Fatalf("UpsertVolume: %v", err)
	}

	c := Coherency{
		VolumeUUID: v.VolumeUUID,
		Generation: 3,
		Partition:  "a",
		StartBlock: 512,
		SetID:      "index-3",
	}
	if err := db.RecordCoherency(c); err != nil {
		t.Fatalf("RecordCoherency: %v", err)
	}

	got, err := db.LastCoherency(v.VolumeUUID)
	if err != nil {
		t.Fatalf("LastCoherency: %v", err)
	}
	if got.Generation != 3 || got.StartBlock != 512 || got.SetID != "index-3" {
		t.Errorf("LastCoherency = %+v, want generation 3 / block 512 / set index-3", got)
	}
}

func TestLastCoherencyUnknownVolume(t *testing.T) {
	db := openTest(t)
	_, err := db.LastCoherency("never-seen")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestCoherencyUpsertUpdatesGeneration(t *testing.T) {
	db := openTest(t)
	v := VolumeInfo{VolumeUUID: "u1", LabelVersion: 1, BlockSize: 65536}
	if err := db.UpsertVolume(v); err != nil {
		t.Fatalf("UpsertVolume: %v", err)
	}

	for gen := int64(0); gen < 3; gen++ {
		c := Coherency{VolumeUUID: "u1", Generation: gen, Partition: "a", StartBlock: gen * 10}
		if err := db.RecordCoherency(c); err != nil {
			t.Fatalf("RecordCoherency gen %d: %v", gen, err)
		}
	}

	got, err := db.LastCoherency("u1")
	if err != nil {
		t.Fatalf("LastCoherency: %v", err)
	}
	if got.Generation != 2 {
		t.Errorf("expected latest generation 2 to win, got %d", got.Generation)
	}
}

func TestScrubRunLifecycle(t *testing.T) {
	db := openTest(t)
	v := VolumeInfo{VolumeUUID: "u2", LabelVersion: 1, BlockSize: 65536}
	if err := db.UpsertVolume(v); err != nil {
		t.Fatalf("UpsertVolume: %v", err)
	}

	start := time.Now()
	id, err := db.RecordScrubStart("u2", start)
	if err != nil {
		t.Fatalf("RecordScrubStart: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero scrub run id")
	}

	if err := db.RecordScrubFinish(id, start.Add(time.Minute), true, "clean"); err != nil {
		t.Fatalf("RecordScrubFinish: %v", err)
	}

	var ok int
	var detail string
	if err := db.QueryRow("SELECT ok, detail FROM scrub_runs WHERE id = ?", id).Scan(&ok, &detail); err != nil {
		t.Fatalf("query scrub_runs: %v", err)
	}
	if ok != 1 || detail != "clean" {
		t.Errorf("scrub run = ok=%d detail=%q, want ok=1 detail=clean", ok, detail)
	}
}

func TestListVolumes(t *testing.T) {
	db := openTest(t)
	if err := db.UpsertVolume(VolumeInfo{VolumeUUID: "u1", Barcode: "A", LabelVersion: 1, BlockSize: 65536}); err != nil {
		t.Fatalf("UpsertVolume: %v", err)
	}
	if err := db.UpsertVolume(VolumeInfo{VolumeUUID: "u2", Barcode: "B", LabelVersion: 1, BlockSize: 65536}); err != nil {
		t.Fatalf("UpsertVolume: %v", err)
	}

	got, err := db.ListVolumes()
	if err != nil {
		t.Fatalf("ListVolumes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListVolumes returned %d entries, want 2", len(got))
	}
}

func TestRecentScrubRuns(t *testing.T) {
	db := openTest(t)
	if err := db.UpsertVolume(VolumeInfo{VolumeUUID: "u3", LabelVersion: 1, BlockSize: 65536}); err != nil {
		t.Fatalf("UpsertVolume: %v", err)
	}
	start := time.Now()
	for i := 0; i < 3; i++ {
		id, err := db.RecordScrubStart("u3", start.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("RecordScrubStart: %v", err)
		}
		if err := db.RecordScrubFinish(id, start.Add(time.Duration(i)*time.Hour+time.Minute), i%2 == 0, "run"); err != nil {
			t.Fatalf("RecordScrubFinish: %v", err)
		}
	}

	runs, err := db.RecentScrubRuns("u3", 2)
	if err != nil {
		t.Fatalf("RecentScrubRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("RecentScrubRuns returned %d rows, want 2 (limit)", len(runs))
	}
	if !runs[0].StartedAt.After(runs[1].StartedAt) {
		t.Errorf("expected newest-first ordering, got %v then %v", runs[0].StartedAt, runs[1].StartedAt)
	}
}
