// Command mkltfs formats a cartridge with the LTFS partition map, VOL1
// labels, XML labels, and a generation-0 empty index, then exits. Flag
// parsing and top-level wiring follow
// _examples/RoseOO-TapeBackarr/cmd/tapebackarr/main.go's shape (flag
// package, construct a logger before doing anything else, one flat
// main()); there is no subcommand tree because this tool does one thing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ltfscore/ltfscore/internal/criteria"
	"github.com/ltfscore/ltfscore/internal/drive"
	"github.com/ltfscore/ltfscore/internal/index"
	"github.com/ltfscore/ltfscore/internal/label"
	"github.com/ltfscore/ltfscore/internal/logging"
	"github.com/ltfscore/ltfscore/internal/volume"
)

// Exit codes (spec.md §6).
const (
	exitSuccess   = 0
	exitUsage     = 1
	exitOperation = 2
	exitCanceled  = 3
	exitUnformat  = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("mkltfs", flag.ContinueOnError)
	device := fs.String("d", "", "device name to format (required)")
	volumeName := fs.String("n", "", "volume name stored in the text volume label")
	barcode := fs.String("b", "", "cartridge barcode")
	blockSize := fs.Int("blocksize", 524288, "tape record size in bytes")
	indexPartMiB := fs.Uint64("p", 2048, "index partition size in MiB")
	compression := fs.Bool("compression", true, "enable drive compression")
	rules := fs.String("rules", "", "index-criteria rule string, e.g. size=1M/name=*.xml:*.json")
	force := fs.Bool("f", false, "format even if the cartridge already carries an LTFS volume")
	wipe := fs.Bool("wipe", false, "unformat the cartridge (issues unformat, not format)")
	longWipe := fs.Bool("long-wipe", false, "with -wipe, also reset recorded capacity (closest equivalent to a long erase this engine's drive contract exposes)")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.SetOutput(os.Stderr)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitUsage
		}
		return exitUsage
	}

	if *showVersion {
		fmt.Println("mkltfs (ltfscore)")
		return exitSuccess
	}

	if *device == "" {
		fmt.Fprintln(os.Stderr, "mkltfs: -d device is required")
		return exitUsage
	}

	if _, err := criteria.Parse(*rules); err != nil {
		fmt.Fprintf(os.Stderr, "mkltfs: invalid -rules: %v\n", err)
		return exitUsage
	}

	logger, err := logging.NewLogger("info", "text", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkltfs: %v\n", err)
		return exitOperation
	}
	defer logger.Close()

	index.Wire()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	h := drive.NewMock()
	if err := h.Open(ctx, *device); err != nil {
		logger.Error("open device", map[string]interface{}{"device": *device, "error": err.Error()})
		return exitOperation
	}
	defer h.Close(ctx)

	if *wipe {
		return doWipe(ctx, h, logger, *longWipe)
	}

	return doFormat(ctx, h, logger, formatArgs{
		volumeName:   *volumeName,
		barcode:      *barcode,
		blockSize:    *blockSize,
		indexPartMiB: *indexPartMiB,
		compression:  *compression,
		rules:        *rules,
		force:        *force,
	})
}

type formatArgs struct {
	volumeName   string
	barcode      string
	blockSize    int
	indexPartMiB uint64
	compression  bool
	rules        string
	force        bool
}

func doFormat(ctx context.Context, h drive.Handle, logger *logging.Logger, a formatArgs) int {
	if !a.force {
		if _, err := label.Mount(ctx, h); err == nil {
			fmt.Fprintln(os.Stderr, "mkltfs: cartridge is already formatted, use -f to overwrite")
			return exitUsage
		}
	}

	v, err := volume.Format(ctx, h, volume.FormatOptions{
		Label: label.FormatOptions{
			BlockSize:         a.blockSize,
			Barcode:           a.barcode,
			VolumeName:        a.volumeName,
			IndexPartitionMiB: a.indexPartMiB,
			Compression:       a.compression,
			Now:               time.Now().UTC(),
		},
		Criteria: a.rules,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return exitCanceled
		}
		logger.Error("format failed", map[string]interface{}{"error": err.Error()})
		return exitOperation
	}

	logger.Info("format complete", map[string]interface{}{
		"volume_uuid": v.Label.VolumeUUID,
		"block_size":  v.Label.BlockSize,
	})
	fmt.Printf("formatted volume %s\n", v.Label.VolumeUUID)
	return exitSuccess
}

func doWipe(ctx context.Context, h drive.Handle, logger *logging.Logger, longWipe bool) int {
	if err := label.Unformat(ctx, h); err != nil {
		logger.Error("unformat failed", map[string]interface{}{"error": err.Error()})
		return exitOperation
	}
	if longWipe {
		if err := h.ResetCapacity(ctx); err != nil {
			logger.Error("long wipe: reset capacity", map[string]interface{}{"error": err.Error()})
			return exitOperation
		}
	}
	logger.Info("cartridge unformatted", map[string]interface{}{"long_wipe": longWipe})
	return exitUnformat
}
