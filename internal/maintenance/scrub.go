// Package maintenance runs the periodic background scrub ltfsindexd
// performs against whatever volume it has mounted: compare the generation in
// the catalog's last-recorded coherency tuple with the mounted volume's
// generation; the cartridge itself is not re-read (SPEC_FULL.md §0,
// "domain-stack addition"). Grounded directly on
// _examples/RoseOO-TapeBackarr/internal/scheduler/service.go's
// cron.New()/AddFunc/entry-tracking shape, adapted from "run scheduled
// backup jobs" to "run one scheduled scrub."
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ltfscore/ltfscore/internal/logging"
)

// ScrubFunc performs one scrub pass and reports whether the volume it
// checked is still coherent. The caller (cmd/ltfsindexd) supplies this: it
// knows which volume is mounted and how to record the outcome in the
// catalog, neither of which this package needs to know about.
type ScrubFunc func(ctx context.Context) error

// Service runs ScrubFunc on a cron schedule.
type Service struct {
	logger    *logging.Logger
	cron      *cron.Cron
	scrubFunc ScrubFunc
	timeout   time.Duration

	mu      sync.Mutex
	entryID cron.EntryID
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService builds a scrub scheduler. timeout bounds a single scrub run;
// callers that don't care can pass 0, which this package treats as one
// hour.
func NewService(logger *logging.Logger, scrubFunc ScrubFunc, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		logger:    logger,
		cron:      cron.New(),
		scrubFunc: scrubFunc,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules scrubs on the given standard five-field cron expression
// and starts the underlying cron runner. An empty expression disables
// scheduling entirely (the service idles until Stop).
func (s *Service) Start(expr string) error {
	s.logger.Info("Starting scrub scheduler", map[string]interface{}{"schedule": expr})

	if expr != "" {
		entryID, err := s.cron.AddFunc(expr, s.runScrub)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.entryID = entryID
		s.mu.Unlock()
	}

	s.cron.Start()
	return nil
}

// Stop cancels any in-flight scrub and waits for the cron runner to drain.
func (s *Service) Stop() {
	s.logger.Info("Stopping scrub scheduler", nil)
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunNow triggers an out-of-schedule scrub, e.g. from an operator command.
// It is a no-op (returns immediately) if a scrub is already in flight.
func (s *Service) RunNow() {
	s.runScrub()
}

func (s *Service) runScrub() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Scrub already in progress, skipping this tick", nil)
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("Running scrub", nil)

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	if err := s.scrubFunc(ctx); err != nil {
		s.logger.Error("Scrub failed", map[string]interface{}{"error": err.Error()})
		return
	}
	s.logger.Info("Scrub completed", nil)
}

// NextRun reports the next scheduled scrub time, or the zero time if none
// is scheduled.
func (s *Service) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// ParseSchedule validates a standard five-field cron expression.
func ParseSchedule(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	return err
}
