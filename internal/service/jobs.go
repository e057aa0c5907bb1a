// Package service runs the FinRAG ingestion and query pipelines.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/patrickmn/go-cache"
	"github.com/raphaelgruber/finrag-go/internal/events"
	"github.com/raphaelgruber/finrag-go/internal/metrics"
	"github.com/raphaelgruber/finrag-go/internal/models"
)

const (
	sinkTimeout  = 2 * time.Second
	mirrorBuffer = 256
)

// Job is one ingestion run and its event log.
type Job struct {
	ID  string
	req models.IngestRequest

	mu          sync.RWMutex
	status      models.JobStatus
	results     map[string]models.TickerResult
	steps       map[string]models.Stage
	totalChunks int
	err         string
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time

	log    *eventLog
	logger *slog.Logger

	// emitMu orders appends with mirror sends and guards mirror's close.
	emitMu sync.Mutex
	mirror chan Envelope // nil when events are not mirrored
}

// Emit appends e to the job's log and hands it to the mirror without
// blocking. A full mirror drops the event.
func (j *Job) Emit(e models.Event) {
	j.track(e)

	j.emitMu.Lock()
	defer j.emitMu.Unlock()
	env, ok := j.log.append(e)
	if !ok || j.mirror == nil {
		return
	}
	select {
	case j.mirror <- env:
	default:
		j.logger.Warn("event mirror full, dropping event", "seq", env.Seq, "type", e.Type())
	}
	if models.IsTerminal(e) {
		close(j.mirror)
		j.mirror = nil
	}
}

// startMirror publishes the job's events to sink from its own goroutine,
// so a slow or unreachable sink never holds up the pipeline.
func (j *Job) startMirror(sink events.Sink, wg *sync.WaitGroup) {
	ch := make(chan Envelope, mirrorBuffer)
	j.mirror = ch
	wg.Add(1)
	go func() {
		defer wg.Done()
		for env := range ch {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			err := sink.Publish(ctx, j.ID, env.Seq, env.Event)
			cancel()
			if err != nil {
				j.logger.Warn("failed to mirror event", "seq", env.Seq, "type", env.Event.Type(), "error", err)
			}
		}
	}()
}

// track keeps the per-ticker step map and results current.
func (j *Job) track(e models.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch ev := e.(type) {
	case models.StepEvent:
		if ev.Status == models.StepStarted {
			j.steps[ev.Ticker] = ev.Step
		}
	case models.TickerDoneEvent:
		delete(j.steps, ev.Ticker)
		res := models.TickerResult{Ticker: ev.Ticker, Status: string(ev.Status), Chunks: ev.Chunks}
		if ev.Status == models.StepError {
			res.Error = ev.Message
		} else {
			j.totalChunks += ev.Chunks
		}
		j.results[ev.Ticker] = res
	}
}

// transition moves the job forward. Backward moves are refused.
func (j *Job) transition(next models.JobStatus, errMsg string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.CanTransition(next) {
		return false
	}
	now := time.Now()
	j.status = next
	switch {
	case next == models.JobRunning:
		j.startedAt = &now
	case next.Terminal():
		j.completedAt = &now
		j.err = errMsg
	}
	return true
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() models.IngestionJob {
	j.mu.RLock()
	defer j.mu.RUnlock()

	results := make([]models.TickerResult, 0, len(j.results))
	for _, t := range j.req.Tickers {
		if r, ok := j.results[t]; ok {
			results = append(results, r)
		}
	}
	produced, dropped := j.log.counts()

	return models.IngestionJob{
		ID:          j.ID,
		Tickers:     slices.Clone(j.req.Tickers),
		FilingTypes: slices.Clone(j.req.FilingTypes),
		Limit:       j.req.Limit,
		Status:      j.status,
		TotalChunks: j.totalChunks,
		Results:     results,
		Steps:       maps.Clone(j.steps),
		Error:       j.err,
		Events:      produced,
		Dropped:     dropped,
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
}

// done builds the closing event from the ticker results.
func (j *Job) done() models.DoneEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()

	ev := models.DoneEvent{TotalChunks: j.totalChunks, Tickers: slices.Clone(j.req.Tickers)}
	for _, t := range j.req.Tickers {
		if r, ok := j.results[t]; ok && r.Status == string(models.StepError) {
			ev.FailedTickers = append(ev.FailedTickers, t)
		}
	}
	ev.Message = fmt.Sprintf("Ingested %d chunks from %d of %d tickers",
		ev.TotalChunks, len(ev.Tickers)-len(ev.FailedTickers), len(ev.Tickers))
	return ev
}

// Runner executes the ingestion pipeline of one job. A returned error is an
// orchestration fault and fails the job.
type Runner interface {
	Run(ctx context.Context, req models.IngestRequest, job *Job) error
}

// JobOptions configures a JobManager.
type JobOptions struct {
	Concurrency       int           // jobs running at once
	BufferSize        int           // events kept per job
	HeartbeatInterval time.Duration // stream keepalive
	Retention         time.Duration // how long finished jobs stay addressable
	Sink              events.Sink
	Metrics           *metrics.Collector
}

// JobManager schedules ingestion jobs on a worker pool and keeps a registry
// of jobs and their event logs. Jobs start in submission order.
type JobManager struct {
	runner   Runner
	opts     JobOptions
	pool     *ants.Pool
	registry *cache.Cache
	wg       sync.WaitGroup
	mirrors  sync.WaitGroup

	qmu      sync.Mutex
	queue    []*Job
	ready    chan struct{}
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewJobManager creates a new job manager.
func NewJobManager(runner Runner, opts JobOptions) (*JobManager, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 500
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * time.Minute
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard{}
	}

	pool, err := ants.NewPool(opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create job pool: %w", err)
	}
	m := &JobManager{
		runner:   runner,
		opts:     opts,
		pool:     pool,
		registry: cache.New(opts.Retention, opts.Retention),
		ready:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go m.dispatch()
	return m, nil
}

// NormalizeRequest fills defaults, upper-cases tickers, removes duplicates
// and validates the request.
func NormalizeRequest(req models.IngestRequest) (models.IngestRequest, error) {
	clean := func(in []string, upper bool) []string {
		var out []string
		for _, s := range in {
			s = strings.TrimSpace(s)
			if upper {
				s = strings.ToUpper(s)
			}
			if s != "" && !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
		return out
	}
	req.Tickers = clean(req.Tickers, true)
	req.FilingTypes = clean(req.FilingTypes, true)

	if len(req.Tickers) == 0 {
		return req, validationErr("at least one ticker is required")
	}
	if len(req.FilingTypes) == 0 {
		return req, validationErr("at least one filing type is required")
	}
	if req.Limit <= 0 {
		return req, validationErr("limit must be positive, got %d", req.Limit)
	}
	return req, nil
}

// Submit validates req, registers a pending job and schedules it. It never
// blocks on the pool: jobs wait in pending state until a worker is free.
func (m *JobManager) Submit(req models.IngestRequest) (models.IngestionJob, error) {
	req, err := NormalizeRequest(req)
	if err != nil {
		return models.IngestionJob{}, err
	}

	id := uuid.New().String()
	job := &Job{
		ID:        id,
		req:       req,
		status:    models.JobPending,
		results:   make(map[string]models.TickerResult),
		steps:     make(map[string]models.Stage),
		createdAt: time.Now(),
		log:       newEventLog(m.opts.BufferSize),
		logger:    slog.With("job_id", id),
	}
	if _, discard := m.opts.Sink.(events.Discard); !discard {
		job.startMirror(m.opts.Sink, &m.mirrors)
	}
	m.registry.Set(id, job, cache.NoExpiration)
	job.logger.Info("job created", "tickers", req.Tickers, "filing_types", req.FilingTypes, "limit", req.Limit)

	m.wg.Add(1)
	m.qmu.Lock()
	m.queue = append(m.queue, job)
	m.qmu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}

	return job.Snapshot(), nil
}

// dispatch hands queued jobs to the pool one at a time, oldest first.
// pool.Submit blocks while every worker is busy, which keeps later jobs
// queued behind earlier ones.
func (m *JobManager) dispatch() {
	defer close(m.stopped)
	for {
		job := m.dequeue()
		if job == nil {
			select {
			case <-m.ready:
				continue
			case <-m.stop:
				return
			}
		}
		if err := m.pool.Submit(func() {
			defer m.wg.Done()
			m.run(job)
		}); err != nil {
			m.finish(job, fmt.Errorf("schedule job: %w", err))
			m.wg.Done()
		}
	}
}

func (m *JobManager) dequeue() *Job {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	job := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return job
}

func (m *JobManager) run(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			job.logger.Error("job goroutine panicked", "panic", r)
			m.finish(job, fmt.Errorf("internal panic: %v", r))
		}
	}()

	if !job.transition(models.JobRunning, "") {
		return
	}
	m.opts.Metrics.JobStarted()
	job.logger.Info("job started")

	err := m.runner.Run(context.Background(), job.req, job)
	m.finish(job, err)
}

// finish moves the job to its terminal state, emits the closing event and
// starts the retention window.
func (m *JobManager) finish(job *Job, err error) {
	if err != nil {
		if !job.transition(models.JobFailed, err.Error()) {
			return
		}
		job.Emit(models.ErrorEvent{Message: err.Error()})
		job.logger.Error("job failed", "error", err)
		m.opts.Metrics.JobFinished(true, 0)
	} else {
		if !job.transition(models.JobCompleted, "") {
			return
		}
		done := job.done()
		job.Emit(done)
		job.logger.Info("job completed", "total_chunks", done.TotalChunks, "failed_tickers", done.FailedTickers)
		m.opts.Metrics.JobFinished(false, done.TotalChunks)
	}
	m.registry.Set(job.ID, job, m.opts.Retention)
}

// Get returns a job snapshot.
func (m *JobManager) Get(id string) (models.IngestionJob, error) {
	job, err := m.lookup(id)
	if err != nil {
		return models.IngestionJob{}, err
	}
	return job.Snapshot(), nil
}

// List returns all retained jobs, most recent first.
func (m *JobManager) List() []models.IngestionJob {
	items := m.registry.Items()
	jobs := make([]models.IngestionJob, 0, len(items))
	for _, item := range items {
		jobs = append(jobs, item.Object.(*Job).Snapshot())
	}
	slices.SortFunc(jobs, func(a, b models.IngestionJob) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return jobs
}

// Subscribe streams the job's events. The channel closes after the terminal
// event or when ctx is done; cancelling ctx only detaches the consumer.
func (m *JobManager) Subscribe(ctx context.Context, id string) (<-chan Envelope, error) {
	job, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	out := make(chan Envelope, 16)
	go job.log.follow(ctx, out, m.opts.HeartbeatInterval, job.createdAt)
	return out, nil
}

func (m *JobManager) lookup(id string) (*Job, error) {
	v, ok := m.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return v.(*Job), nil
}

// Wait blocks until every submitted job has finished.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// Close waits for queued and running jobs, stops the dispatcher, flushes
// event mirrors and releases the pool.
func (m *JobManager) Close() {
	m.Wait()
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.stopped
	m.mirrors.Wait()
	m.pool.Release()
	m.opts.Sink.Close()
}
