package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
	closed  bool
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return s.err
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, len(b))
	}
	return out
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var testRun = [16]byte(uuid.MustParse("6f1c2a8e-0000-4000-8000-000000000001"))

func fetchEvent(url string) Event {
	return Event{
		RunID:       testRun,
		TS:          time.Now().UTC(),
		Stage:       StageFetchDone,
		Site:        "example.com",
		URL:         url,
		Outcome:     "success",
		StatusClass: Status2xx,
	}
}

func stageEvent(stage Stage) Event {
	return Event{RunID: testRun, TS: time.Now().UTC(), Stage: stage}
}

func TestHubFlushesWhenBatchFull(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 3, MaxBatchWait: time.Minute}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	for _, u := range []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"} {
		hub.Emit(fetchEvent(u))
	}

	require.Eventually(t, func() bool {
		sizes := sink.sizes()
		return len(sizes) == 1 && sizes[0] == 3
	}, time.Second, 5*time.Millisecond)
}

func TestHubFlushesAfterMaxBatchWait(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 50, MaxBatchWait: 20 * time.Millisecond}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(fetchEvent("https://example.com/a"))

	require.Eventually(t, func() bool {
		return len(sink.sizes()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubBoundaryStagesFlushImmediately(t *testing.T) {
	t.Parallel()

	for _, stage := range []Stage{StageBatchDone, StageRunDone, StageRunError} {
		t.Run(string(stage), func(t *testing.T) {
			t.Parallel()

			sink := &recordingSink{}
			hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 50, MaxBatchWait: time.Hour}, sink)
			t.Cleanup(func() { _ = hub.Close(context.Background()) })

			hub.Emit(fetchEvent("https://example.com/a"))
			hub.Emit(stageEvent(stage))

			require.Eventually(t, func() bool {
				sizes := sink.sizes()
				return len(sizes) == 1 && sizes[0] == 2
			}, time.Second, 5*time.Millisecond)
		})
	}
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 50, MaxBatchWait: time.Hour}, sink)

	hub.Emit(stageEvent(StageRunStart))
	hub.Emit(stageEvent(StageBatchStart))
	require.NoError(t, hub.Close(context.Background()))

	require.Equal(t, []int{2}, sink.sizes())
	require.True(t, sink.isClosed())
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(stageEvent(StageRunDone))
	require.Equal(t, int64(2), hub.Stats().Accepted)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{BufferSize: 4})
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(Event{Stage: StageRunStart})
	hub.Emit(Event{RunID: testRun, TS: time.Now(), Stage: StageFetchDone})

	require.Equal(t, Stats{}, hub.Stats())
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event, 1),
		logger: zap.New(core),
	}

	start := time.Now()
	hub.Emit(fetchEvent("https://example.com/a"))
	hub.Emit(fetchEvent("https://example.com/b"))
	hub.Emit(fetchEvent("https://example.com/c"))
	require.Less(t, time.Since(start), 50*time.Millisecond)

	stats := hub.Stats()
	require.Equal(t, int64(1), stats.Accepted)
	require.Equal(t, int64(2), stats.Dropped)

	warnings := logs.FilterMessage("progress events dropped due to backpressure").All()
	require.Len(t, warnings, 1)
	require.Equal(t, int64(1), warnings[0].ContextMap()["dropped"])
}

func TestHubCountsSinkErrors(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	failing := &recordingSink{err: errors.New("sink offline")}
	healthy := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 1, Logger: zap.New(core)}, failing, nil, healthy)

	hub.Emit(stageEvent(StageRunStart))
	hub.Emit(stageEvent(StageRunDone))
	require.NoError(t, hub.Close(context.Background()))

	stats := hub.Stats()
	require.Equal(t, int64(2), stats.Flushes)
	require.Equal(t, int64(2), stats.SinkErrors)
	require.Equal(t, []int{1, 1}, healthy.sizes())
	require.Equal(t, 2, logs.FilterMessage("progress sink consume failed").Len())
}

func TestHubCloseHonorsContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	slow := sinkFunc(func(context.Context, []Event) error {
		<-block
		return nil
	})
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1}, slow)
	hub.Emit(stageEvent(StageRunStart))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := hub.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	require.NoError(t, hub.Close(context.Background()))
}

func TestNilHubIsInert(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(stageEvent(StageRunStart))
	require.Equal(t, Stats{}, hub.Stats())
	require.NoError(t, hub.Close(context.Background()))
}
