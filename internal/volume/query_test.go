package volume

import (
	"context"
	"testing"
	"time"

	"github.com/ltfscore/ltfscore/internal/label"
)

func TestStatAndListChildren(t *testing.T) {
	ctx := context.Background()
	m := formatMock(t)
	v, err := Format(ctx, m, FormatOptions{
		Label: label.FormatOptions{BlockSize: 65536, IndexPartitionMiB: 100, Now: time.Now()},
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}

	id, err := v.CreateFile(v.Tree.RootID(), "note.txt")
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	info, ok := v.Stat(id)
	if !ok {
		t.Fatal("Stat: dentry not found")
	}
	if info.Name != "note.txt" || info.IsDirectory {
		t.Errorf("Stat = %+v, want name note.txt, not a directory", info)
	}

	children, err := v.ListChildren(v.Tree.RootID())
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 1 || children[0].Name != "note.txt" {
		t.Errorf("ListChildren = %+v, want one entry named note.txt", children)
	}
}

func TestCapacityReflectsDrive(t *testing.T) {
	ctx := context.Background()
	m := formatMock(t)
	v, err := Format(ctx, m, FormatOptions{
		Label: label.FormatOptions{BlockSize: 65536, IndexPartitionMiB: 100, Now: time.Now()},
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	cap, err := v.Capacity(ctx)
	if err != nil {
		t.Fatalf("Capacity: %v", err)
	}
	if cap.MaxP0 == 0 && cap.MaxP1 == 0 {
		t.Errorf("Capacity = %+v, want non-zero partition maxima", cap)
	}
}
