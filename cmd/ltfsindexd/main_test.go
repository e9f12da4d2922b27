package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ltfscore/ltfscore/internal/catalog"
	"github.com/ltfscore/ltfscore/internal/config"
	"github.com/ltfscore/ltfscore/internal/drive"
	"github.com/ltfscore/ltfscore/internal/index"
	"github.com/ltfscore/ltfscore/internal/logging"
)

func init() {
	index.Wire()
}

func TestMountOrFormatFormatsBlankCartridge(t *testing.T) {
	ctx := context.Background()
	h := drive.NewMock()
	if err := h.Open(ctx, "mock0"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Volume.BlockSize = 65536

	vol, err := mountOrFormat(ctx, h, cfg, logging.Nop())
	if err != nil {
		t.Fatalf("mountOrFormat: %v", err)
	}
	if vol.Label.VolumeUUID == "" {
		t.Error("expected a volume UUID after formatting a blank cartridge")
	}
}

func TestMountOrFormatMountsExistingVolume(t *testing.T) {
	ctx := context.Background()
	h := drive.NewMock()
	if err := h.Open(ctx, "mock0"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Volume.BlockSize = 65536

	first, err := mountOrFormat(ctx, h, cfg, logging.Nop())
	if err != nil {
		t.Fatalf("mountOrFormat (format): %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := mountOrFormat(ctx, h, cfg, logging.Nop())
	if err != nil {
		t.Fatalf("mountOrFormat (mount): %v", err)
	}
	if second.Label.VolumeUUID != first.Label.VolumeUUID {
		t.Errorf("remount produced a different volume UUID: %s vs %s", second.Label.VolumeUUID, first.Label.VolumeUUID)
	}
}

func TestScrubFuncRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	h := drive.NewMock()
	if err := h.Open(ctx, "mock0"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Volume.BlockSize = 65536

	vol, err := mountOrFormat(ctx, h, cfg, logging.Nop())
	if err != nil {
		t.Fatalf("mountOrFormat: %v", err)
	}

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	defer cat.Close()
	if err := cat.UpsertVolume(catalog.VolumeInfo{VolumeUUID: vol.Label.VolumeUUID, LabelVersion: 1, BlockSize: vol.Label.BlockSize}); err != nil {
		t.Fatalf("UpsertVolume: %v", err)
	}
	if err := cat.RecordCoherency(catalog.Coherency{
		VolumeUUID: vol.Label.VolumeUUID,
		Generation: int64(vol.Generation),
		Partition:  "a",
		StartBlock: int64(vol.SelfBlock),
	}); err != nil {
		t.Fatalf("RecordCoherency: %v", err)
	}

	if err := scrubFunc(cat, vol)(ctx); err != nil {
		t.Fatalf("scrubFunc: %v", err)
	}

	runs, err := cat.RecentScrubRuns(vol.Label.VolumeUUID, 1)
	if err != nil {
		t.Fatalf("RecentScrubRuns: %v", err)
	}
	if len(runs) != 1 || !runs[0].OK {
		t.Errorf("runs = %+v, want one successful run", runs)
	}
}

func TestAdminBootstrapPasswordDefault(t *testing.T) {
	t.Setenv("LTFSINDEXD_ADMIN_PASSWORD", "")
	if got := adminBootstrapPassword(); got != "changeme" {
		t.Errorf("adminBootstrapPassword() = %q, want changeme", got)
	}
}
