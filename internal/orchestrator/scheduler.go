package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/brensch/setfetch/internal/db"
)

// ErrSchedulerClosed is returned by Submit once Drain has been called.
var ErrSchedulerClosed = errors.New("orchestrator: scheduler already drained")

// ExtractFunc unpacks one archive into targetDir and removes the archive.
type ExtractFunc func(ctx context.Context, archivePath, targetDir string) error

// ExtractionJob is an archive waiting to be unpacked.
type ExtractionJob struct {
	URL         string
	ArchivePath string
	TargetDir   string
}

// ExtractionResult is the terminal state of one job.
type ExtractionResult struct {
	Job      ExtractionJob
	Err      error
	Duration time.Duration
}

// Scheduler runs extraction jobs on a fixed number of workers. Jobs are
// admitted to the workers in submission order. Submit never waits for a free
// worker; Drain blocks until every submitted job has finished.
type Scheduler struct {
	ctx     context.Context
	extract ExtractFunc
	logger  *slog.Logger
	record  func(ctx context.Context, ev db.Event)

	mu       sync.Mutex
	closed   bool
	submitCh chan ExtractionJob
	workCh   chan ExtractionJob
	resultCh chan ExtractionResult

	dispatchDone chan struct{}
	collectDone  chan struct{}
	workerWg     sync.WaitGroup
	drainOnce    sync.Once
	results      []ExtractionResult
}

// NewScheduler starts workers goroutines that run extract. Jobs run under ctx;
// once it is cancelled, jobs that have not started fail with the context error.
func NewScheduler(ctx context.Context, workers int, extract ExtractFunc, logger *slog.Logger, record func(context.Context, db.Event)) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if record == nil {
		record = func(context.Context, db.Event) {}
	}
	s := &Scheduler{
		ctx:          ctx,
		extract:      extract,
		logger:       logger,
		record:       record,
		submitCh:     make(chan ExtractionJob),
		workCh:       make(chan ExtractionJob),
		resultCh:     make(chan ExtractionResult, workers),
		dispatchDone: make(chan struct{}),
		collectDone:  make(chan struct{}),
	}

	go s.dispatch()
	for i := 0; i < workers; i++ {
		s.workerWg.Add(1)
		go s.worker(i)
	}
	go s.collect()
	return s
}

// Submit queues a job.
func (s *Scheduler) Submit(job ExtractionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	// dispatch is always ready to receive, so this does not wait on workers.
	s.submitCh <- job
	return nil
}

// Drain stops accepting jobs and waits until all submitted jobs are done.
// It returns every result plus the joined extraction errors.
func (s *Scheduler) Drain() ([]ExtractionResult, error) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.submitCh)
	}
	s.mu.Unlock()

	s.drainOnce.Do(func() {
		<-s.dispatchDone
		s.workerWg.Wait()
		close(s.resultCh)
	})
	<-s.collectDone

	var errs []error
	for _, r := range s.results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return append([]ExtractionResult(nil), s.results...), errors.Join(errs...)
}

// dispatch keeps an unbounded FIFO between Submit and the workers.
func (s *Scheduler) dispatch() {
	defer close(s.dispatchDone)
	defer close(s.workCh)

	var queue []ExtractionJob
	in := s.submitCh
	for in != nil || len(queue) > 0 {
		var out chan ExtractionJob
		var next ExtractionJob
		if len(queue) > 0 {
			out = s.workCh
			next = queue[0]
		}
		select {
		case job, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, job)
		case out <- next:
			queue = queue[1:]
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.workerWg.Done()
	for job := range s.workCh {
		s.resultCh <- s.run(id, job)
	}
}

func (s *Scheduler) run(id int, job ExtractionJob) ExtractionResult {
	l := s.logger.With(slog.String("archive", filepath.Base(job.ArchivePath)), slog.Int("worker", id))
	start := time.Now()

	if err := s.ctx.Err(); err != nil {
		l.Warn("Extraction not started, run cancelled.", "error", err)
		err = fmt.Errorf("extract %s: %w", filepath.Base(job.ArchivePath), err)
		s.record(s.ctx, db.Event{URL: job.URL, ArchivePath: job.ArchivePath, Event: db.EventExtractFailed, Message: err.Error()})
		return ExtractionResult{Job: job, Err: err}
	}

	l.Info("Extracting archive.")
	s.record(s.ctx, db.Event{URL: job.URL, ArchivePath: job.ArchivePath, Event: db.EventExtractStart})

	err := s.extract(s.ctx, job.ArchivePath, job.TargetDir)
	res := ExtractionResult{Job: job, Err: err, Duration: time.Since(start)}
	if err != nil {
		l.Error("Extraction failed.", "error", err, slog.Duration("duration", res.Duration.Round(time.Millisecond)))
		s.record(s.ctx, db.Event{URL: job.URL, ArchivePath: job.ArchivePath, Event: db.EventExtractFailed, Message: err.Error(), Duration: res.Duration})
		return res
	}
	l.Info("Extracted archive and deleted it.", slog.Duration("duration", res.Duration.Round(time.Millisecond)))
	s.record(s.ctx, db.Event{URL: job.URL, ArchivePath: job.ArchivePath, Event: db.EventExtractEnd, Duration: res.Duration})
	return res
}

func (s *Scheduler) collect() {
	defer close(s.collectDone)
	for r := range s.resultCh {
		s.results = append(s.results, r)
	}
}
