package introspect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ltfscore/ltfscore/internal/authx"
	"github.com/ltfscore/ltfscore/internal/catalog"
	"github.com/ltfscore/ltfscore/internal/drive"
	"github.com/ltfscore/ltfscore/internal/index"
	"github.com/ltfscore/ltfscore/internal/label"
	"github.com/ltfscore/ltfscore/internal/logging"
	"github.com/ltfscore/ltfscore/internal/volume"
)

func init() {
	index.Wire()
}

func testServer(t *testing.T) (*Server, *volume.Volume) {
	t.Helper()

	hash, err := authx.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	auth := authx.NewService("admin", hash, []byte("test-secret"), time.Hour)

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	s := NewServer(auth, cat, logging.Nop())

	ctx := context.Background()
	m := drive.NewMock()
	if err := m.Open(ctx, "mock0"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, err := volume.Format(ctx, m, volume.FormatOptions{
		Label: label.FormatOptions{BlockSize: 65536, IndexPartitionMiB: 100, Now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatalf("volume.Format: %v", err)
	}
	s.SetVolume(v)

	return s, v
}

func login(t *testing.T, s *Server) string {
	t.Helper()
	body := strings.NewReader(`{"username":"admin","password":"correct horse"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

func TestHealthIsPublic(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/volume", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestVolumeSummaryAfterLogin(t *testing.T) {
	s, v := testServer(t)
	token := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/volume", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var summary struct {
		VolumeUUID string `json:"volume_uuid"`
		Generation uint64 `json:"generation"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.VolumeUUID != v.Label.VolumeUUID {
		t.Errorf("VolumeUUID = %q, want %q", summary.VolumeUUID, v.Label.VolumeUUID)
	}
}

func TestStatAndChildrenRoutes(t *testing.T) {
	s, v := testServer(t)
	token := login(t, s)

	id, err := v.CreateFile(v.Tree.RootID(), "report.txt")
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/tree/%d", id), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("stat status = %d, body = %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/tree/%d/children", v.Tree.RootID()), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("children status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var children []volume.DentryInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &children); err != nil {
		t.Fatalf("decode children: %v", err)
	}
	if len(children) != 1 || children[0].Name != "report.txt" {
		t.Errorf("children = %+v, want one entry named report.txt", children)
	}
}

func TestCatalogVolumesRoute(t *testing.T) {
	s, _ := testServer(t)
	token := login(t, s)

	if err := s.cat.UpsertVolume(catalog.VolumeInfo{VolumeUUID: "u1", LabelVersion: 1, BlockSize: 65536}); err != nil {
		t.Fatalf("UpsertVolume: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog/volumes", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var vols []catalog.VolumeInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &vols); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(vols) != 1 || vols[0].VolumeUUID != "u1" {
		t.Errorf("vols = %+v, want one entry u1", vols)
	}
}
