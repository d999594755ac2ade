// Package dispatcher runs a URL list through the fetch pipeline in sequential
// batches of concurrent tasks and keeps the run tally.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	idgen "github.com/JakeFAU/sitemap-crawler/internal/id/uuid"
	"github.com/JakeFAU/sitemap-crawler/internal/logging"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
)

// Sink failure policies.
const (
	SinkFailureCount = "count"
	SinkFailureFatal = "fatal"
)

const (
	defaultConcurrency = 10
	stopTimeout        = 30 * time.Second
)

// Run states reported by Snapshot.
const (
	StatePending  = "pending"
	StateRunning  = "running"
	StateDone     = "done"
	StateFailed   = "failed"
	StateCanceled = "canceled"
)

// Resolver turns one task into an outcome. Implementations must be safe for
// concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, task crawler.Task) crawler.Outcome
}

// Config controls a single run.
type Config struct {
	// Concurrency is the batch size K.
	Concurrency       int
	SinkFailurePolicy string
	RunID             string
	Labels            crawler.Labels
}

// Status is a point-in-time view of a run.
type Status struct {
	RunID       string    `json:"run_id"`
	State       string    `json:"state"`
	Submitted   int       `json:"submitted"`
	Batches     int       `json:"batches"`
	BatchesDone int       `json:"batches_done"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	PeakMemory  uint64    `json:"peak_memory_bytes"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Error       string    `json:"error,omitempty"`
}

// Dispatcher owns the engine lifecycle and the tally for one run.
type Dispatcher struct {
	cfg      Config
	runKey   [16]byte
	engine   crawler.Engine
	resolver Resolver
	sink     crawler.DocumentSink
	sampler  crawler.MemorySampler
	emitter  progress.Emitter
	clock    crawler.Clock
	logger   *zap.Logger

	mu     sync.RWMutex
	status Status
}

// New constructs a Dispatcher. emitter may be nil.
func New(
	cfg Config,
	engine crawler.Engine,
	resolver Resolver,
	sink crawler.DocumentSink,
	sampler crawler.MemorySampler,
	emitter progress.Emitter,
	clock crawler.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.SinkFailurePolicy == "" {
		cfg.SinkFailurePolicy = SinkFailureCount
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:      cfg,
		runKey:   idgen.Key(cfg.RunID),
		engine:   engine,
		resolver: resolver,
		sink:     sink,
		sampler:  sampler,
		emitter:  emitter,
		clock:    clock,
		logger:   logger.With(zap.String("run_id", cfg.RunID)),
		status:   Status{RunID: cfg.RunID, State: StatePending},
	}
}

// Partition splits urls into contiguous batches of at most k entries.
func Partition(urls []string, k int) [][]string {
	if k <= 0 {
		k = 1
	}
	batches := make([][]string, 0, (len(urls)+k-1)/k)
	for start := 0; start < len(urls); start += k {
		end := min(start+k, len(urls))
		batches = append(batches, urls[start:end:end])
	}
	return batches
}

// SessionFor derives the session for the URL at index within a run.
func SessionFor(runID string, index int) crawler.SessionID {
	return crawler.SessionID(fmt.Sprintf("%s-%d", runID, index))
}

// Run crawls urls and returns the tally. The engine is started once and
// stopped exactly once on every path, including a failed start. Task and
// content failures are counted; only a failed start, a fatal sink failure, or
// cancellation produce an error. On cancellation undispatched URLs count as
// failed.
func (d *Dispatcher) Run(ctx context.Context, urls []string) (tally crawler.Tally, err error) {
	started := d.clock.Now()
	batches := Partition(urls, d.cfg.Concurrency)
	d.begin(len(urls), len(batches), started)
	d.emit(progress.Event{Stage: progress.StageRunStart})

	if startErr := d.engine.Start(ctx); startErr != nil {
		d.stopEngine(ctx)
		err = fmt.Errorf("%w: start engine: %w", crawler.ErrSetup, startErr)
		d.finish(tally, started, err)
		return tally, err
	}

	defer func() {
		d.stopEngine(ctx)
		final := d.sampler.Sample()
		tally.ObserveMemory(final)
		d.logger.Info("final memory", logging.Memory("memory_mb", final), logging.Memory("peak_mb", tally.PeakMemory))
		d.logSummary(tally)
		d.finish(tally, started, err)
	}()

	for i, batch := range batches {
		if ctxErr := ctx.Err(); ctxErr != nil {
			abandoned := abandon(&tally, len(urls))
			d.logger.Warn("run canceled; remaining urls counted as failed", zap.Int("remaining", abandoned))
			return tally, fmt.Errorf("crawl canceled: %w", ctxErr)
		}
		if batchErr := d.runBatch(ctx, i, i*d.cfg.Concurrency, batch, &tally); batchErr != nil {
			abandon(&tally, len(urls))
			return tally, batchErr
		}
	}
	return tally, nil
}

// Snapshot returns the current run status.
func (d *Dispatcher) Snapshot() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Dispatcher) runBatch(ctx context.Context, index, offset int, urls []string, tally *crawler.Tally) error {
	batchStart := d.clock.Now()
	before := d.sampler.Sample()
	tally.ObserveMemory(before)
	d.logger.Info("batch starting",
		zap.Int("batch", index+1),
		zap.Int("size", len(urls)),
		logging.Memory("memory_mb", before),
		logging.Memory("peak_mb", tally.PeakMemory),
	)
	d.emit(progress.Event{Stage: progress.StageBatchStart, Batch: index, Memory: before})

	tasks := make([]crawler.Task, len(urls))
	outcomes := make([]crawler.Outcome, len(urls))
	var wg sync.WaitGroup
	for j, url := range urls {
		tasks[j] = crawler.Task{Index: offset + j, URL: url, Session: SessionFor(d.cfg.RunID, offset+j)}
		wg.Add(1)
		go func(j int) {
			defer wg.Done()
			outcomes[j] = d.resolve(ctx, tasks[j])
		}(j)
	}
	wg.Wait()

	after := d.sampler.Sample()
	tally.ObserveMemory(after)
	tally.Batches++
	d.logger.Info("batch finished",
		zap.Int("batch", index+1),
		logging.Memory("memory_mb", after),
		logging.Memory("peak_mb", tally.PeakMemory),
	)

	for j, out := range outcomes {
		d.emitFetch(index, tasks[j], out)
		if out.Kind != crawler.OutcomeSuccess {
			tally.Failed++
			continue
		}
		if err := d.store(ctx, tasks[j], out); err != nil {
			tally.Failed++
			d.logger.Error("document sink failed", zap.String("url", tasks[j].URL), zap.Error(err))
			if d.cfg.SinkFailurePolicy == SinkFailureFatal {
				d.update(*tally)
				return fmt.Errorf("%w: %s: %w", crawler.ErrSinkFailed, tasks[j].URL, err)
			}
			continue
		}
		tally.Succeeded++
	}

	d.update(*tally)
	d.emit(progress.Event{
		Stage:     progress.StageBatchDone,
		Batch:     index,
		Memory:    after,
		Dur:       d.clock.Now().Sub(batchStart),
		Succeeded: tally.Succeeded,
		Failed:    tally.Failed,
	})
	return nil
}

// resolve shields the batch from a Resolver that panics.
func (d *Dispatcher) resolve(ctx context.Context, task crawler.Task) (out crawler.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked", zap.String("url", task.URL), zap.Any("panic", r))
			out = crawler.Outcome{Kind: crawler.OutcomeRaisedError, Err: fmt.Errorf("task panicked: %v", r)}
		}
	}()
	return d.resolver.Resolve(ctx, task)
}

func (d *Dispatcher) store(ctx context.Context, task crawler.Task, out crawler.Outcome) error {
	finalURL := out.Page.URL
	if finalURL == "" {
		finalURL = task.URL
	}
	return d.sink.Store(ctx, crawler.Document{
		RunID:      d.cfg.RunID,
		URL:        task.URL,
		FinalURL:   finalURL,
		StatusCode: out.Page.StatusCode,
		Labels:     d.cfg.Labels,
		PageTitle:  out.Content.Title,
		Content:    out.Content.Text,
		Format:     out.Content.Format,
		Headless:   out.Page.UsedHeadless,
		FetchedAt:  d.clock.Now(),
	})
}

func (d *Dispatcher) stopEngine(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := d.engine.Stop(stopCtx); err != nil {
		d.logger.Warn("engine stop failed", zap.Error(err))
	}
}

func (d *Dispatcher) logSummary(tally crawler.Tally) {
	d.logger.Info("crawl summary",
		zap.Int("succeeded", tally.Succeeded),
		zap.Int("failed", tally.Failed),
		zap.Int("batches", tally.Batches),
		logging.Memory("peak_memory_mb", tally.PeakMemory),
	)
}

func (d *Dispatcher) emitFetch(batch int, task crawler.Task, out crawler.Outcome) {
	evt := progress.Event{
		Stage:   progress.StageFetchDone,
		Batch:   batch,
		Site:    metrics.SanitizeSite(task.URL),
		URL:     task.URL,
		Bytes:   int64(len(out.Page.Body)),
		Outcome: out.Kind.String(),
		Dur:     out.Page.Duration,
	}
	if out.Page.StatusCode != 0 {
		evt.StatusClass = progress.ClassifyStatus(out.Page.StatusCode)
	}
	if out.Err != nil {
		evt.Note = out.Err.Error()
	}
	d.emit(evt)
}

func (d *Dispatcher) emit(evt progress.Event) {
	evt.RunID = d.runKey
	evt.TS = d.clock.Now()
	d.emitter.Emit(evt)
}

func (d *Dispatcher) begin(submitted, batches int, started time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.State = StateRunning
	d.status.Submitted = submitted
	d.status.Batches = batches
	d.status.StartedAt = started
}

func (d *Dispatcher) update(tally crawler.Tally) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.BatchesDone = tally.Batches
	d.status.Succeeded = tally.Succeeded
	d.status.Failed = tally.Failed
	d.status.PeakMemory = tally.PeakMemory
}

func (d *Dispatcher) finish(tally crawler.Tally, started time.Time, err error) {
	now := d.clock.Now()
	d.mu.Lock()
	d.status.BatchesDone = tally.Batches
	d.status.Succeeded = tally.Succeeded
	d.status.Failed = tally.Failed
	d.status.PeakMemory = tally.PeakMemory
	d.status.FinishedAt = now
	switch {
	case err == nil:
		d.status.State = StateDone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		d.status.State = StateCanceled
		d.status.Error = err.Error()
	default:
		d.status.State = StateFailed
		d.status.Error = err.Error()
	}
	d.mu.Unlock()

	evt := progress.Event{
		Stage:     progress.StageRunDone,
		Dur:       now.Sub(started),
		Memory:    tally.PeakMemory,
		Succeeded: tally.Succeeded,
		Failed:    tally.Failed,
	}
	if err != nil {
		evt.Stage = progress.StageRunError
		evt.Note = err.Error()
	}
	d.emit(evt)
}

// abandon counts every unaccounted URL as failed and returns how many there were.
func abandon(tally *crawler.Tally, submitted int) int {
	remaining := submitted - tally.Total()
	if remaining > 0 {
		tally.Failed += remaining
	}
	return remaining
}

