// Command ltfsindexd is the long-running daemon: it mounts one configured
// cartridge, serves the read-only introspection HTTP API over the mounted
// tree, and periodically scrubs the volume against the catalog's recorded
// coherency. Wiring order and graceful-shutdown shape are grounded directly
// on _examples/RoseOO-TapeBackarr/cmd/tapebackarr/main.go: load config,
// build a logger, construct services, start the scheduler, start the HTTP
// server in a goroutine, block on SIGINT/SIGTERM, then stop the scheduler,
// the HTTP server and the volume, in that order.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ltfscore/ltfscore/internal/authx"
	"github.com/ltfscore/ltfscore/internal/catalog"
	"github.com/ltfscore/ltfscore/internal/config"
	"github.com/ltfscore/ltfscore/internal/criteria"
	"github.com/ltfscore/ltfscore/internal/drive"
	"github.com/ltfscore/ltfscore/internal/index"
	"github.com/ltfscore/ltfscore/internal/introspect"
	"github.com/ltfscore/ltfscore/internal/label"
	"github.com/ltfscore/ltfscore/internal/logging"
	"github.com/ltfscore/ltfscore/internal/ltfserr"
	"github.com/ltfscore/ltfscore/internal/maintenance"
	"github.com/ltfscore/ltfscore/internal/volume"
)

var (
	version   = "0.1.0"
	buildTime = "development"
)

func main() {
	configPath := flag.String("config", "/etc/ltfsindexd/config.json", "Path to configuration file")
	device := flag.String("device", "", "device name to mount at startup (required unless -init-config)")
	showVersion := flag.Bool("version", false, "Show version information")
	initConfig := flag.Bool("init-config", false, "Create default configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ltfsindexd v%s (built: %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *initConfig {
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration saved to %s\n", *configPath)
		os.Exit(0)
	}

	if *device == "" {
		fmt.Fprintln(os.Stderr, "ltfsindexd: -device is required")
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("Starting ltfsindexd", map[string]interface{}{
		"version": version,
		"config":  *configPath,
		"device":  *device,
	})

	index.Wire()

	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		logger.Error("Failed to open catalog", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer cat.Close()

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is empty; tokens will stop validating across a restart", nil)
	}
	adminHash, err := authx.Hash(adminBootstrapPassword())
	if err != nil {
		logger.Error("Failed to hash admin credential", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	authService := authx.NewService("admin", adminHash, []byte(cfg.Auth.JWTSecret), time.Duration(cfg.Auth.TokenExpiration)*time.Hour)

	introspectServer := introspect.NewServer(authService, cat, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	h := drive.NewMock()
	if err := h.Open(ctx, *device); err != nil {
		logger.Error("Failed to open device", map[string]interface{}{"error": err.Error()})
		cancel()
		os.Exit(1)
	}

	vol, err := mountOrFormat(ctx, h, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("Failed to mount volume", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	introspectServer.SetVolume(vol)

	if err := cat.UpsertVolume(catalog.VolumeInfo{
		VolumeUUID:   vol.Label.VolumeUUID,
		LabelVersion: 1,
		BlockSize:    vol.Label.BlockSize,
	}); err != nil {
		logger.Warn("Failed to record volume in catalog", map[string]interface{}{"error": err.Error()})
	}
	if err := cat.RecordCoherency(catalog.Coherency{
		VolumeUUID: vol.Label.VolumeUUID,
		Generation: int64(vol.Generation),
		Partition:  string(vol.SelfPartition),
		StartBlock: int64(vol.SelfBlock),
	}); err != nil {
		logger.Warn("Failed to record coherency in catalog", map[string]interface{}{"error": err.Error()})
	}

	scrubService := maintenance.NewService(logger, scrubFunc(cat, vol), 10*time.Minute)
	if err := scrubService.Start(cfg.Volume.ScrubInterval); err != nil {
		logger.Error("Failed to start scrub scheduler", map[string]interface{}{"error": err.Error()})
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      introspectServer.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // tape reads can be slow
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", map[string]interface{}{"address": addr})
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", map[string]interface{}{"signal": sig.String()})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	scrubService.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", map[string]interface{}{"error": err.Error()})
	}

	if err := vol.Close(shutdownCtx); err != nil {
		logger.Error("Volume close error", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("ltfsindexd shutdown complete", nil)
}

// mountOrFormat mounts the cartridge already in the drive, or formats a
// fresh one if it carries no LTFS volume yet (spec.md §9 has no single
// prescribed first-run behavior for a daemon, as opposed to mkltfs; this
// engine chooses to self-format rather than refuse to start, since an
// empty cartridge is the common case for a freshly provisioned drive).
func mountOrFormat(ctx context.Context, h drive.Handle, cfg *config.Config, logger *logging.Logger) (*volume.Volume, error) {
	vol, err := volume.Mount(ctx, h, volume.Options{})
	if err == nil {
		return vol, nil
	}
	if kind, ok := ltfserr.Of(err); !ok || (kind != ltfserr.LabelInvalid && kind != ltfserr.NotPartitioned) {
		return nil, err
	}

	logger.Info("no existing LTFS volume found, formatting", map[string]interface{}{"error": err.Error()})
	if _, err := criteria.Parse(cfg.Volume.Criteria); err != nil {
		return nil, fmt.Errorf("configured criteria invalid: %w", err)
	}
	return volume.Format(ctx, h, volume.FormatOptions{
		Label: label.FormatOptions{
			BlockSize:         cfg.Volume.BlockSize,
			IndexPartitionMiB: 2048,
			Now:               time.Now().UTC(),
		},
		Criteria: cfg.Volume.Criteria,
	})
}

func scrubFunc(cat *catalog.DB, vol *volume.Volume) maintenance.ScrubFunc {
	return func(ctx context.Context) error {
		id, err := cat.RecordScrubStart(vol.Label.VolumeUUID, time.Now())
		if err != nil {
			return err
		}
		last, err := cat.LastCoherency(vol.Label.VolumeUUID)
		ok := err == nil && last.Generation == int64(vol.Generation)
		detail := "generation matches catalog"
		if !ok {
			detail = "generation mismatch or no prior coherency recorded"
		}
		return cat.RecordScrubFinish(id, time.Now(), ok, detail)
	}
}

// adminBootstrapPassword is a placeholder until operator provisioning is
// wired to a real secret store; the introspection API is read-only and
// meant for operators on a trusted management network, not end users.
func adminBootstrapPassword() string {
	if p := os.Getenv("LTFSINDEXD_ADMIN_PASSWORD"); p != "" {
		return p
	}
	return "changeme"
}
