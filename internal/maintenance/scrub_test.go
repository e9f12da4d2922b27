package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ltfscore/ltfscore/internal/logging"
)

func TestRunNowInvokesScrubFunc(t *testing.T) {
	var calls int32
	s := NewService(logging.Nop(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, time.Second)

	s.RunNow()

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("scrubFunc called %d times, want 1", calls)
	}
}

func TestRunNowSkipsWhileAlreadyRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	s := NewService(logging.Nop(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return nil
	}, time.Second)

	go s.RunNow()
	<-started

	s.RunNow() // should observe running=true and skip

	close(release)
	// give the first goroutine's deferred cleanup a moment to run
	time.Sleep(10 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("scrubFunc called %d times, want 1 (second RunNow should have been skipped)", got)
	}
}

func TestStartWithScheduleAndStop(t *testing.T) {
	var calls int32
	s := NewService(logging.Nop(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, time.Second)

	if err := s.Start("* * * * *"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if next := s.NextRun(); next.IsZero() {
		t.Error("expected a non-zero next scheduled run")
	}
	s.Stop()
}

func TestScrubFuncErrorIsLoggedNotPanicked(t *testing.T) {
	s := NewService(logging.Nop(), func(ctx context.Context) error {
		return errors.New("coherency mismatch")
	}, time.Second)
	s.RunNow() // must not panic
}

func TestParseSchedule(t *testing.T) {
	if err := ParseSchedule("0 0 * * *"); err != nil {
		t.Errorf("ParseSchedule(valid) = %v, want nil", err)
	}
	if err := ParseSchedule("not a cron expr"); err == nil {
		t.Error("ParseSchedule(invalid) = nil, want error")
	}
}
