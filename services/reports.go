package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReportKind identifies one of the three report pipelines.
type ReportKind string

const (
	ReportFace      ReportKind = "face"
	ReportBlur      ReportKind = "blur"
	ReportDuplicate ReportKind = "duplicate"
)

const recentOutcomeLimit = 10

// ReportRunner recomputes the report aggregate from the current source of
// truth and dispatches notifications. It runs at fire time, never at schedule
// time.
type ReportRunner func(ctx context.Context, albumID uint) error

// ReportOutcome records a finished job for diagnostics.
type ReportOutcome struct {
	AlbumID    uint
	Attempts   int
	Err        string
	FinishedAt time.Time
}

// ReportScheduler coalesces repeated triggers for the same album into a
// single delayed execution. The first trigger wins the timer: later calls for
// the same album while a job is pending or executing are no-ops and do not
// extend the window. Jobs are not cancellable once scheduled; the fire-time
// recomputation absorbs state changes that happen during the delay.
type ReportScheduler struct {
	kind        ReportKind
	delay       time.Duration
	maxAttempts int
	run         ReportRunner
	logger      *zap.SugaredLogger

	// RetryBackoff is the base delay between failed attempts.
	RetryBackoff time.Duration

	mu      sync.Mutex
	pending map[uint]struct{}
	recent  []ReportOutcome

	wg sync.WaitGroup
}

// NewReportScheduler builds a scheduler for one report kind with its default
// delay and retry cap.
func NewReportScheduler(kind ReportKind, delay time.Duration, maxAttempts int, run ReportRunner, logger *zap.SugaredLogger) *ReportScheduler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &ReportScheduler{
		kind:         kind,
		delay:        delay,
		maxAttempts:  maxAttempts,
		run:          run,
		logger:       logger,
		RetryBackoff: 5 * time.Second,
		pending:      map[uint]struct{}{},
	}
}

// Schedule queues a report for the album after the scheduler's default delay.
func (s *ReportScheduler) Schedule(albumID uint) {
	s.ScheduleAfter(albumID, s.delay)
}

// ScheduleAfter queues a report with an explicit delay. A no-op when a job for
// the album is already pending or executing.
func (s *ReportScheduler) ScheduleAfter(albumID uint, delay time.Duration) {
	s.mu.Lock()
	if _, exists := s.pending[albumID]; exists {
		s.mu.Unlock()
		s.logger.Debugf("%s report for album %d already queued, coalescing", s.kind, albumID)
		return
	}
	s.pending[albumID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.execute(albumID)
	})
	s.logger.Infof("queued %s report for album %d (delay %s)", s.kind, albumID, delay)
}

func (s *ReportScheduler) execute(albumID uint) {
	var err error
	attempts := 0
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		attempts = attempt
		err = s.run(context.Background(), albumID)
		if err == nil {
			break
		}
		if IsPermanent(err) {
			s.logger.Errorf("%s report for album %d failed permanently: %v", s.kind, albumID, err)
			break
		}
		if attempt < s.maxAttempts {
			delay := backoffDelay(s.RetryBackoff, attempt)
			s.logger.Warnf("%s report for album %d failed (attempt %d/%d), retrying in %s: %v",
				s.kind, albumID, attempt, s.maxAttempts, delay, err)
			time.Sleep(delay)
		} else {
			s.logger.Errorf("%s report for album %d exhausted %d attempts: %v", s.kind, albumID, s.maxAttempts, err)
		}
	}

	outcome := ReportOutcome{AlbumID: albumID, Attempts: attempts, FinishedAt: time.Now()}
	if err != nil {
		outcome.Err = err.Error()
	}

	s.mu.Lock()
	delete(s.pending, albumID)
	s.recent = append(s.recent, outcome)
	if len(s.recent) > recentOutcomeLimit {
		s.recent = s.recent[len(s.recent)-recentOutcomeLimit:]
	}
	s.mu.Unlock()

	if err == nil {
		s.logger.Infof("%s report for album %d completed", s.kind, albumID)
	}
}

// Pending reports whether a job for the album is queued or executing.
func (s *ReportScheduler) Pending(albumID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[albumID]
	return ok
}

// RecentOutcomes returns a copy of the bounded diagnostics ring.
func (s *ReportScheduler) RecentOutcomes() []ReportOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReportOutcome, len(s.recent))
	copy(out, s.recent)
	return out
}

// Wait blocks until every scheduled job has fired and finished. Test helper
// and shutdown aid; new Schedule calls during the wait are not tracked.
func (s *ReportScheduler) Wait() {
	s.wg.Wait()
}
