package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/picshare/services"
)

type fakeProber struct {
	calls int32
	fn    func(key string) (bool, error)
}

func (p *fakeProber) Exists(ctx context.Context, key string) (bool, error) {
	atomic.AddInt32(&p.calls, 1)
	return p.fn(key)
}

type fakeRecognizer struct {
	calls int32
	fn    func(records []services.IngestRecord) ([]services.RecognitionMatch, error)
}

func (r *fakeRecognizer) RecognizeFaces(ctx context.Context, records []services.IngestRecord) ([]services.RecognitionMatch, error) {
	atomic.AddInt32(&r.calls, 1)
	return r.fn(records)
}

type fakeBlurDetector struct {
	calls int32
	fn    func(records []services.IngestRecord) (map[uint]int, error)
}

func (b *fakeBlurDetector) DetectBlur(ctx context.Context, records []services.IngestRecord) (map[uint]int, error) {
	atomic.AddInt32(&b.calls, 1)
	return b.fn(records)
}

type fakeDuplicateDetector struct {
	calls int32
	fn    func(records []services.IngestRecord) (uint, int, error)
}

func (d *fakeDuplicateDetector) DetectDuplicates(ctx context.Context, records []services.IngestRecord) (uint, int, error) {
	atomic.AddInt32(&d.calls, 1)
	return d.fn(records)
}

func noopRunner(ctx context.Context, albumID uint) error { return nil }

// idleScheduler returns a scheduler whose jobs will not fire during the test,
// so Pending can be observed.
func idleScheduler(kind services.ReportKind) *services.ReportScheduler {
	return services.NewReportScheduler(kind, time.Hour, 1, noopRunner, zap.NewNop().Sugar())
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestQueue(t *testing.T, prober services.ObjectProber, rec services.Recognizer, blur services.BlurDetector, dup services.DuplicateDetector) (*services.BatchQueue, *services.ReportScheduler, *services.ReportScheduler, *services.ReportScheduler) {
	t.Helper()
	_, rc := newTestRedis(t)
	matches := services.NewMatchStore(rc, time.Hour, zap.NewNop().Sugar())
	face := idleScheduler(services.ReportFace)
	blurReports := idleScheduler(services.ReportBlur)
	dupReports := idleScheduler(services.ReportDuplicate)
	q := services.NewBatchQueue(
		services.BatchQueueOptions{
			Workers:     2,
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
			ReportDelay: time.Hour,
		},
		prober, rec, blur, dup,
		matches, face, blurReports, dupReports,
		zap.NewNop().Sugar(),
	)
	q.Start()
	t.Cleanup(q.Stop)
	return q, face, blurReports, dupReports
}

func TestAllUnavailableRecordsExhaustRetriesWithoutClassification(t *testing.T) {
	prober := &fakeProber{fn: func(string) (bool, error) { return false, nil }}
	rec := &fakeRecognizer{fn: func([]services.IngestRecord) ([]services.RecognitionMatch, error) { return nil, nil }}
	blur := &fakeBlurDetector{fn: func([]services.IngestRecord) (map[uint]int, error) { return nil, nil }}
	dup := &fakeDuplicateDetector{fn: func([]services.IngestRecord) (uint, int, error) { return 0, 0, nil }}

	q, _, _, _ := newTestQueue(t, prober, rec, blur, dup)

	if err := q.Submit([]services.IngestRecord{{S3Key: "images/1/2/x.jpg", AlbumID: 1, UserID: 2}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&prober.calls) >= 3 },
		"expected 3 probe attempts before abandonment")
	// Give a potential fourth attempt time to appear.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&prober.calls); got != 3 {
		t.Fatalf("expected exactly 3 probe attempts, got %d", got)
	}
	if got := atomic.LoadInt32(&rec.calls); got != 0 {
		t.Fatalf("recognizer must not run without available records, got %d calls", got)
	}
	if got := atomic.LoadInt32(&blur.calls); got != 0 {
		t.Fatalf("blur detector must not run without available records, got %d calls", got)
	}
}

func TestProbeInfraErrorRetriesJob(t *testing.T) {
	var failures int32
	prober := &fakeProber{fn: func(string) (bool, error) {
		if atomic.AddInt32(&failures, 1) == 1 {
			return false, errors.New("storage unreachable")
		}
		return true, nil
	}}
	rec := &fakeRecognizer{fn: func([]services.IngestRecord) ([]services.RecognitionMatch, error) { return nil, nil }}
	blur := &fakeBlurDetector{fn: func([]services.IngestRecord) (map[uint]int, error) { return nil, nil }}
	dup := &fakeDuplicateDetector{fn: func([]services.IngestRecord) (uint, int, error) { return 0, 0, nil }}

	q, _, _, _ := newTestQueue(t, prober, rec, blur, dup)

	if err := q.Submit([]services.IngestRecord{{S3Key: "images/1/2/x.jpg", AlbumID: 1, UserID: 2}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&rec.calls) == 1 },
		"expected recognition after probe retry")
}

func TestDetachedClassifierFailureDoesNotFailJob(t *testing.T) {
	prober := &fakeProber{fn: func(string) (bool, error) { return true, nil }}
	rec := &fakeRecognizer{fn: func([]services.IngestRecord) ([]services.RecognitionMatch, error) { return nil, nil }}
	blur := &fakeBlurDetector{fn: func([]services.IngestRecord) (map[uint]int, error) {
		return nil, errors.New("blur classifier down")
	}}
	dup := &fakeDuplicateDetector{fn: func([]services.IngestRecord) (uint, int, error) {
		return 0, 0, errors.New("duplicate classifier down")
	}}

	q, _, _, _ := newTestQueue(t, prober, rec, blur, dup)

	if err := q.Submit([]services.IngestRecord{{S3Key: "images/1/2/x.jpg", AlbumID: 1, UserID: 2}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&blur.calls) == 1 },
		"expected blur classifier to run")
	time.Sleep(50 * time.Millisecond)
	// Detached failures never re-run the job.
	if got := atomic.LoadInt32(&prober.calls); got != 1 {
		t.Fatalf("expected 1 probe attempt, got %d", got)
	}
	if got := atomic.LoadInt32(&rec.calls); got != 1 {
		t.Fatalf("expected 1 recognition call, got %d", got)
	}
}

func TestMalformedRecognitionResponseCompletesJob(t *testing.T) {
	prober := &fakeProber{fn: func(string) (bool, error) { return true, nil }}
	rec := &fakeRecognizer{fn: func([]services.IngestRecord) ([]services.RecognitionMatch, error) {
		return nil, fmt.Errorf("%w: unexpected shape", services.ErrMalformedResponse)
	}}
	blur := &fakeBlurDetector{fn: func([]services.IngestRecord) (map[uint]int, error) { return nil, nil }}
	dup := &fakeDuplicateDetector{fn: func([]services.IngestRecord) (uint, int, error) { return 0, 0, nil }}

	q, face, _, _ := newTestQueue(t, prober, rec, blur, dup)

	if err := q.Submit([]services.IngestRecord{{S3Key: "images/7/1/x.jpg", AlbumID: 7, UserID: 1}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&rec.calls) == 1 },
		"expected recognition to run once")
	time.Sleep(50 * time.Millisecond)
	// An undecodable response is a no-op for the classifier, never a retry.
	if got := atomic.LoadInt32(&prober.calls); got != 1 {
		t.Fatalf("malformed response must not retry the job, got %d probe attempts", got)
	}
	if got := atomic.LoadInt32(&rec.calls); got != 1 {
		t.Fatalf("expected 1 recognition call, got %d", got)
	}
	if face.Pending(7) {
		t.Fatal("no face report without reconciled matches")
	}
}

func TestSuccessfulBatchSchedulesReports(t *testing.T) {
	prober := &fakeProber{fn: func(string) (bool, error) { return true, nil }}
	rec := &fakeRecognizer{fn: func([]services.IngestRecord) ([]services.RecognitionMatch, error) {
		return []services.RecognitionMatch{
			{AlbumID: 7, UserID: 1, Distance: 0.3},
			{AlbumID: 7, UserID: 2, Distance: 0.5},
		}, nil
	}}
	blur := &fakeBlurDetector{fn: func([]services.IngestRecord) (map[uint]int, error) {
		return map[uint]int{7: 2}, nil
	}}
	dup := &fakeDuplicateDetector{fn: func([]services.IngestRecord) (uint, int, error) {
		return 7, 3, nil
	}}

	q, face, blurReports, dupReports := newTestQueue(t, prober, rec, blur, dup)

	if err := q.Submit([]services.IngestRecord{{S3Key: "images/7/1/x.jpg", AlbumID: 7, UserID: 1}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, func() bool { return face.Pending(7) }, "expected face report scheduled for album 7")
	waitFor(t, func() bool { return blurReports.Pending(7) }, "expected blur report scheduled for album 7")
	waitFor(t, func() bool { return dupReports.Pending(7) }, "expected duplicate report scheduled for album 7")
}

func TestZeroDuplicatesScheduleNoReport(t *testing.T) {
	prober := &fakeProber{fn: func(string) (bool, error) { return true, nil }}
	rec := &fakeRecognizer{fn: func([]services.IngestRecord) ([]services.RecognitionMatch, error) { return nil, nil }}
	blur := &fakeBlurDetector{fn: func([]services.IngestRecord) (map[uint]int, error) { return nil, nil }}
	dup := &fakeDuplicateDetector{fn: func([]services.IngestRecord) (uint, int, error) {
		return 7, 0, nil
	}}

	q, _, _, dupReports := newTestQueue(t, prober, rec, blur, dup)

	if err := q.Submit([]services.IngestRecord{{S3Key: "images/7/1/x.jpg", AlbumID: 7, UserID: 1}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&dup.calls) == 1 },
		"expected duplicate classifier to run")
	time.Sleep(50 * time.Millisecond)
	if dupReports.Pending(7) {
		t.Fatal("zero duplicates must not schedule a report")
	}
}

func TestSubmitValidation(t *testing.T) {
	prober := &fakeProber{fn: func(string) (bool, error) { return true, nil }}
	rec := &fakeRecognizer{fn: func([]services.IngestRecord) ([]services.RecognitionMatch, error) { return nil, nil }}
	blur := &fakeBlurDetector{fn: func([]services.IngestRecord) (map[uint]int, error) { return nil, nil }}
	dup := &fakeDuplicateDetector{fn: func([]services.IngestRecord) (uint, int, error) { return 0, 0, nil }}

	q, _, _, _ := newTestQueue(t, prober, rec, blur, dup)

	if err := q.Submit(nil); !errors.Is(err, services.ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}

	q.Stop()
	err := q.Submit([]services.IngestRecord{{S3Key: "images/1/1/x.jpg", AlbumID: 1, UserID: 1}})
	if !errors.Is(err, services.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}
