package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	runID := [16]byte(uuid.New())
	now := time.Now()
	tests := []struct {
		name    string
		evt     Event
		wantErr string
	}{
		{name: "run start", evt: Event{RunID: runID, TS: now, Stage: StageRunStart}},
		{name: "batch done", evt: Event{RunID: runID, TS: now, Stage: StageBatchDone, Batch: 2, Memory: 1024}},
		{
			name: "fetch done",
			evt:  Event{RunID: runID, TS: now, Stage: StageFetchDone, Site: "example.com", Outcome: "success"},
		},
		{name: "missing run", evt: Event{TS: now, Stage: StageRunStart}, wantErr: "run id"},
		{name: "missing ts", evt: Event{RunID: runID, Stage: StageRunStart}, wantErr: "timestamp"},
		{name: "negative batch", evt: Event{RunID: runID, TS: now, Stage: StageBatchStart, Batch: -1}, wantErr: "batch index"},
		{name: "fetch without site", evt: Event{RunID: runID, TS: now, Stage: StageFetchDone, Outcome: "success"}, wantErr: "site"},
		{name: "fetch without outcome", evt: Event{RunID: runID, TS: now, Stage: StageFetchDone, Site: "a"}, wantErr: "outcome"},
		{name: "unknown stage", evt: Event{RunID: runID, TS: now, Stage: "NOPE"}, wantErr: "unknown stage"},
		{name: "negative duration", evt: Event{RunID: runID, TS: now, Stage: StageRunDone, Dur: -time.Second}, wantErr: "duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.evt.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestEventValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	err := Event{Stage: StageFetchDone, Batch: -1}.Validate()
	for _, want := range []string{"run id", "timestamp", "batch index", "site", "outcome"} {
		require.ErrorContains(t, err, want)
	}
}

func TestStageBoundary(t *testing.T) {
	t.Parallel()

	boundaries := map[Stage]bool{
		StageRunStart:   false,
		StageBatchStart: false,
		StageFetchDone:  false,
		StageBatchDone:  true,
		StageRunDone:    true,
		StageRunError:   true,
	}
	for stage, want := range boundaries {
		require.Equal(t, want, stage.Boundary(), string(stage))
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]StatusClass{
		0:   StatusOther,
		101: StatusOther,
		200: Status2xx,
		204: Status2xx,
		301: Status3xx,
		404: Status4xx,
		503: Status5xx,
		599: Status5xx,
		600: StatusOther,
	}
	for code, want := range cases {
		require.Equal(t, want, ClassifyStatus(code), "code %d", code)
	}
}

func TestRunUUID(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	require.Equal(t, id, Event{RunID: id}.RunUUID())
}
