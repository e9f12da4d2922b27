// Package introspect implements the read-only HTTP API for browsing a
// mounted volume's dentry tree and this host's volume catalog (SPEC_FULL.md
// §0, "domain-stack addition"; spec.md has no notion of a network API, but
// a tape-format engine without any way to look inside a mounted cartridge
// short of a debugger is not a complete system, so this is supplied).
// Grounded on _examples/RoseOO-TapeBackarr/internal/api/server.go's
// router-construction and middleware-wiring pattern, scoped down to a
// handful of read-only routes since this engine runs no backup jobs.
package introspect

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ltfscore/ltfscore/internal/authx"
	"github.com/ltfscore/ltfscore/internal/catalog"
	"github.com/ltfscore/ltfscore/internal/dentry"
	"github.com/ltfscore/ltfscore/internal/logging"
	"github.com/ltfscore/ltfscore/internal/volume"
)

type claimsKey struct{}

// Server is the introspection HTTP API: one mounted volume's dentry tree,
// the volume catalog, and nothing else is reachable through it.
type Server struct {
	router *chi.Mux
	auth   *authx.Service
	cat    *catalog.DB
	logger *logging.Logger

	mu  sync.RWMutex
	vol *volume.Volume
}

// NewServer builds a Server and wires its routes. cat may be nil if no
// catalog database was configured; catalog-backed routes then report 503.
func NewServer(auth *authx.Service, cat *catalog.DB, logger *logging.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		auth:   auth,
		cat:    cat,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// SetVolume publishes the currently mounted volume for introspection
// routes to read; ltfsindexd calls this once, after its startup mount.
// A nil v means no volume is presently mounted.
func (s *Server) SetVolume(v *volume.Volume) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vol = v
}

func (s *Server) currentVolume() (*volume.Volume, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vol, s.vol != nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/api/v1/auth/login", s.handleLogin)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/v1/volume", s.handleVolumeSummary)
		r.Get("/api/v1/tree/{id}", s.handleStat)
		r.Get("/api/v1/tree/{id}/children", s.handleListChildren)
		r.Get("/api/v1/tree/{id}/xattrs", s.handleXattrs)

		r.Get("/api/v1/catalog/volumes", s.handleCatalogVolumes)
		r.Get("/api/v1/catalog/volumes/{uuid}/scrubs", s.handleCatalogScrubs)
	})
}

// Middleware

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		var tokenStr string
		if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			tokenStr = parts[1]
		}
		if tokenStr == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization")
			return
		}

		claims, err := s.auth.ValidateToken(tokenStr)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Helpers

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) getDentryID(r *http.Request) (dentry.ID, error) {
	raw, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, err
	}
	return dentry.ID(raw), nil
}

// Handlers

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleVolumeSummary(w http.ResponseWriter, r *http.Request) {
	v, ok := s.currentVolume()
	if !ok {
		s.respondError(w, http.StatusServiceUnavailable, "no volume is currently mounted")
		return
	}

	capacity, err := v.Capacity(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"volume_uuid":       v.Label.VolumeUUID,
		"generation":        v.Generation,
		"read_only":         v.ReadOnly,
		"filemark_repaired": v.FilemarkAbsent,
		"block_size":        v.Label.BlockSize,
		"compression":       v.Label.Compression,
		"capacity": map[string]interface{}{
			"index_partition_max":       humanize.IBytes(capacity.MaxP0 << 20),
			"index_partition_remaining": humanize.IBytes(capacity.RemainP0 << 20),
			"data_partition_max":        humanize.IBytes(capacity.MaxP1 << 20),
			"data_partition_remaining":  humanize.IBytes(capacity.RemainP1 << 20),
		},
	})
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	v, ok := s.currentVolume()
	if !ok {
		s.respondError(w, http.StatusServiceUnavailable, "no volume is currently mounted")
		return
	}
	id, err := s.getDentryID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dentry id")
		return
	}
	info, ok := v.Stat(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "dentry not found")
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	v, ok := s.currentVolume()
	if !ok {
		s.respondError(w, http.StatusServiceUnavailable, "no volume is currently mounted")
		return
	}
	id, err := s.getDentryID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dentry id")
		return
	}
	children, err := v.ListChildren(id)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, children)
}

func (s *Server) handleXattrs(w http.ResponseWriter, r *http.Request) {
	v, ok := s.currentVolume()
	if !ok {
		s.respondError(w, http.StatusServiceUnavailable, "no volume is currently mounted")
		return
	}
	id, err := s.getDentryID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dentry id")
		return
	}
	xattrs, err := v.ListXattrs(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, xattrs)
}

func (s *Server) handleCatalogVolumes(w http.ResponseWriter, r *http.Request) {
	if s.cat == nil {
		s.respondError(w, http.StatusServiceUnavailable, "no catalog database configured")
		return
	}
	vols, err := s.cat.ListVolumes()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, vols)
}

func (s *Server) handleCatalogScrubs(w http.ResponseWriter, r *http.Request) {
	if s.cat == nil {
		s.respondError(w, http.StatusServiceUnavailable, "no catalog database configured")
		return
	}
	uuid := chi.URLParam(r, "uuid")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.cat.RecentScrubRuns(uuid, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, runs)
}
