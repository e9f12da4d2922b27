package index

import (
	"context"
	"io"

	"github.com/ltfscore/ltfscore/internal/drive"
)

// tapeReader adapts drive.Handle into an io.Reader that reads exactly
// block-size chunks and buffers one block at a time, per spec.md §4.7
// ("Tape-stream parser"): a short block signals end-of-index, a
// zero-length read signals the trailing filemark.
type tapeReader struct {
	ctx       context.Context
	h         drive.Handle
	blockSize int

	buf  []byte
	pos  int
	done bool

	SawFilemark bool
	SawShort    bool
}

func newTapeReader(ctx context.Context, h drive.Handle, blockSize int) *tapeReader {
	return &tapeReader{ctx: ctx, h: h, blockSize: blockSize}
}

func (r *tapeReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	if r.pos >= len(r.buf) {
		if r.SawShort {
			// The previous block was already short (end-of-index); the
			// next read is expected to be the trailing filemark or EOD.
			r.done = true
			outcome, err := r.drainTrailer()
			if err != nil {
				return 0, err
			}
			if outcome == drive.ReadFilemark {
				r.SawFilemark = true
			}
			return 0, io.EOF
		}
		raw := make([]byte, r.blockSize)
		n, outcome, err := r.h.Read(r.ctx, raw)
		if err != nil {
			r.done = true
			return 0, err
		}
		switch outcome {
		case drive.ReadFilemark:
			r.SawFilemark = true
			r.done = true
			return 0, io.EOF
		case drive.ReadEOD:
			r.done = true
			return 0, io.EOF
		}
		r.buf = raw[:n]
		r.pos = 0
		if n < r.blockSize {
			r.SawShort = true
		}
	}
	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}

func (r *tapeReader) drainTrailer() (drive.ReadOutcome, error) {
	raw := make([]byte, r.blockSize)
	_, outcome, err := r.h.Read(r.ctx, raw)
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// ConsumeTrailer forces the filemark check once the caller (the XML
// decoder) is done pulling document bytes, regardless of how much of that
// reading was buffered ahead internally. Safe to call more than once.
func (r *tapeReader) ConsumeTrailer() {
	if r.done {
		return
	}
	if r.pos < len(r.buf) {
		return
	}
	r.done = true
	outcome, err := r.drainTrailer()
	if err == nil && outcome == drive.ReadFilemark {
		r.SawFilemark = true
	}
}

// writeAllBlocks writes data to h in blockSize chunks, allowing the final
// chunk to be shorter (spec.md §4.8: "Output is streamed to a block-sized
// tape buffer").
func writeAllBlocks(ctx context.Context, h drive.Handle, blockSize int, data []byte) error {
	for offset := 0; offset < len(data); offset += blockSize {
		end := offset + blockSize
		last := end >= len(data)
		if last {
			end = len(data)
		}
		if _, err := h.Write(ctx, data[offset:end], last, false); err != nil {
			return err
		}
	}
	if len(data) == 0 {
		if _, err := h.Write(ctx, nil, true, false); err != nil {
			return err
		}
	}
	return nil
}
