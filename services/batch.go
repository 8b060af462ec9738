package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// IngestRecord describes one uploaded object awaiting classification. Created
// when an upload URL is issued, consumed once by a batch worker, never
// persisted.
type IngestRecord struct {
	S3Key    string
	AlbumID  uint
	UserID   uint
	FileName string
}

// batchJob is an ordered collection of records plus an attempt counter.
type batchJob struct {
	records []IngestRecord
	attempt int
}

// Submit errors; the only caller-visible failure mode of the pipeline.
var (
	ErrQueueClosed = errors.New("batch queue is shut down")
	ErrQueueFull   = errors.New("batch queue is full")
	ErrNoRecords   = errors.New("no records in batch")

	errNoAvailableRecords = errors.New("no available records")
)

// BatchQueueOptions tunes the worker pool.
type BatchQueueOptions struct {
	Workers     int           // concurrent jobs, default 5
	MaxAttempts int           // total attempts per job, default 3
	BackoffBase time.Duration // first retry delay, doubles per attempt, default 5s
	QueueDepth  int           // submit buffer, default 256
	ReportDelay time.Duration // debounce window for scheduled reports, default 1m
}

func (o *BatchQueueOptions) fill() {
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 5 * time.Second
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 256
	}
	if o.ReportDelay <= 0 {
		o.ReportDelay = time.Minute
	}
}

// BatchQueue groups uploaded-object events into jobs, filters them by storage
// availability and dispatches survivors to the classifiers. Failed jobs are
// retried with exponential backoff up to the attempt cap, then abandoned with
// a log line only.
type BatchQueue struct {
	opts BatchQueueOptions

	prober     ObjectProber
	recognizer Recognizer
	blur       BlurDetector
	duplicates DuplicateDetector
	matches    *MatchStore

	faceReports      *ReportScheduler
	blurReports      *ReportScheduler
	duplicateReports *ReportScheduler

	logger *zap.SugaredLogger

	jobs     chan *batchJob
	quit     chan struct{}
	stopOnce sync.Once
	workerWG sync.WaitGroup
	sideWG   sync.WaitGroup // detached classifier calls and retry timers
}

// NewBatchQueue wires the ingestion pipeline. Call Start before submitting.
func NewBatchQueue(
	opts BatchQueueOptions,
	prober ObjectProber,
	recognizer Recognizer,
	blur BlurDetector,
	duplicates DuplicateDetector,
	matches *MatchStore,
	faceReports, blurReports, duplicateReports *ReportScheduler,
	logger *zap.SugaredLogger,
) *BatchQueue {
	opts.fill()
	return &BatchQueue{
		opts:             opts,
		prober:           prober,
		recognizer:       recognizer,
		blur:             blur,
		duplicates:       duplicates,
		matches:          matches,
		faceReports:      faceReports,
		blurReports:      blurReports,
		duplicateReports: duplicateReports,
		logger:           logger,
		jobs:             make(chan *batchJob, opts.QueueDepth),
		quit:             make(chan struct{}),
	}
}

// Start launches the worker pool.
func (q *BatchQueue) Start() {
	for i := 0; i < q.opts.Workers; i++ {
		q.workerWG.Add(1)
		go q.worker()
	}
	q.logger.Infof("batch queue started with %d workers", q.opts.Workers)
}

// Stop shuts the queue down and waits for in-flight jobs and detached
// classifier calls to finish. Jobs still waiting on a retry timer are
// abandoned.
func (q *BatchQueue) Stop() {
	q.stopOnce.Do(func() { close(q.quit) })
	q.workerWG.Wait()
	q.sideWG.Wait()
	q.logger.Info("batch queue stopped")
}

// Submit enqueues one job and returns immediately. Fire-and-forget from the
// caller's perspective: all processing failures surface only in logs.
func (q *BatchQueue) Submit(records []IngestRecord) error {
	if len(records) == 0 {
		return ErrNoRecords
	}
	job := &batchJob{records: records, attempt: 1}
	select {
	case <-q.quit:
		return ErrQueueClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *BatchQueue) worker() {
	defer q.workerWG.Done()
	for {
		select {
		case <-q.quit:
			return
		case job := <-q.jobs:
			if err := q.process(job); err != nil {
				q.retry(job, err)
			}
		}
	}
}

func (q *BatchQueue) retry(job *batchJob, err error) {
	if IsPermanent(err) {
		q.logger.Errorf("batch job failed permanently: %v", err)
		return
	}
	if job.attempt >= q.opts.MaxAttempts {
		q.logger.Errorf("batch job abandoned after %d attempts: %v", job.attempt, err)
		return
	}
	delay := backoffDelay(q.opts.BackoffBase, job.attempt)
	job.attempt++
	q.logger.Warnf("batch job failed, retrying in %s (attempt %d/%d): %v",
		delay, job.attempt, q.opts.MaxAttempts, err)
	q.sideWG.Add(1)
	time.AfterFunc(delay, func() {
		defer q.sideWG.Done()
		select {
		case q.jobs <- job:
		case <-q.quit:
			q.logger.Warnf("batch job dropped during shutdown (attempt %d)", job.attempt)
		}
	})
}

// process runs one attempt of a job: probe every record concurrently, drop
// the ones storage cannot see yet, then dispatch to the classifiers.
func (q *BatchQueue) process(job *batchJob) error {
	ctx := context.Background()
	q.logger.Infof("processing batch job with %d record(s), attempt %d", len(job.records), job.attempt)

	available, err := q.probeAll(ctx, job.records)
	if err != nil {
		return err
	}
	if len(available) == 0 {
		// Records that never become visible are dropped for good; the job
		// itself retries in case the writes are still propagating.
		return errNoAvailableRecords
	}

	q.detach("blur", func() { q.runBlur(available) })
	q.detach("duplicate", func() { q.runDuplicate(available) })

	matches, err := q.recognizer.RecognizeFaces(ctx, available)
	if err != nil {
		// A response we cannot decode is a no-op for this classifier, not a
		// job failure; re-running the batch would not change the payload.
		if errors.Is(err, ErrMalformedResponse) {
			q.logger.Errorf("recognition response unusable, skipping reconciliation: %v", err)
			return nil
		}
		return err
	}

	var lastAlbum uint
	for _, m := range matches {
		if m.AlbumID == 0 {
			q.logger.Errorf("album id not found in recognition result for user %d", m.UserID)
			continue
		}
		lastAlbum = m.AlbumID
		if err := q.matches.Reconcile(ctx, m.AlbumID, m.UserID, m.Distance, m.PhotoURLs); err != nil {
			q.logger.Errorf("storing recognition match failed for album %d user %d: %v", m.AlbumID, m.UserID, err)
		}
	}
	// When a batch spans several albums only the last observed album gets a
	// face report this invocation; earlier albums are picked up by the next
	// batch that touches them.
	if lastAlbum != 0 {
		q.faceReports.ScheduleAfter(lastAlbum, q.opts.ReportDelay)
	}
	return nil
}

// probeAll checks availability of every record in parallel. Unavailable
// records are dropped; infra errors fail the whole attempt.
func (q *BatchQueue) probeAll(ctx context.Context, records []IngestRecord) ([]IngestRecord, error) {
	type probeResult struct {
		exists bool
		err    error
	}
	results := make([]probeResult, len(records))
	var wg sync.WaitGroup
	for i, rec := range records {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			exists, err := q.prober.Exists(ctx, key)
			results[i] = probeResult{exists: exists, err: err}
		}(i, rec.S3Key)
	}
	wg.Wait()

	available := make([]IngestRecord, 0, len(records))
	for i, rec := range records {
		if results[i].err != nil {
			return nil, results[i].err
		}
		if !results[i].exists {
			q.logger.Infof("object %s not available yet, skipping", rec.S3Key)
			continue
		}
		available = append(available, rec)
	}
	return available, nil
}

// detach runs fn on an isolated goroutine. Failures inside fn are the fn's
// own to log; the job never waits for or fails on detached work.
func (q *BatchQueue) detach(name string, fn func()) {
	q.sideWG.Add(1)
	go func() {
		defer q.sideWG.Done()
		defer func() {
			if r := recover(); r != nil {
				q.logger.Errorf("detached %s classifier panicked: %v", name, r)
			}
		}()
		fn()
	}()
}

func (q *BatchQueue) runBlur(records []IngestRecord) {
	counts, err := q.blur.DetectBlur(context.Background(), records)
	if err != nil {
		q.logger.Errorf("blur classifier failed: %v", err)
		return
	}
	for albumID := range counts {
		q.blurReports.ScheduleAfter(albumID, q.opts.ReportDelay)
	}
}

func (q *BatchQueue) runDuplicate(records []IngestRecord) {
	albumID, total, err := q.duplicates.DetectDuplicates(context.Background(), records)
	if err != nil {
		q.logger.Errorf("duplicate classifier failed: %v", err)
		return
	}
	if albumID == 0 {
		q.logger.Warn("no album id in duplicate response, skipping report")
		return
	}
	if total == 0 {
		return
	}
	q.duplicateReports.ScheduleAfter(albumID, q.opts.ReportDelay)
}
