package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names a point in the run, batch, fetch lifecycle.
type Stage string

// Stages in emission order.
const (
	StageRunStart   Stage = "RUN_START"
	StageBatchStart Stage = "BATCH_START"
	StageFetchDone  Stage = "FETCH_DONE"
	StageBatchDone  Stage = "BATCH_DONE"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Boundary reports whether the stage closes a batch or a run.
func (s Stage) Boundary() bool {
	return s == StageBatchDone || s == StageRunDone || s == StageRunError
}

func (s Stage) batchScoped() bool {
	return s == StageBatchStart || s == StageBatchDone || s == StageFetchDone
}

// StatusClass groups HTTP status codes into families.
type StatusClass string

// Status classes reported on fetch events.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

var statusFamilies = [...]StatusClass{2: Status2xx, 3: Status3xx, 4: Status4xx, 5: Status5xx}

// ClassifyStatus maps an HTTP status code to its family.
func ClassifyStatus(code int) StatusClass {
	if family := code / 100; code >= 200 && family < len(statusFamilies) {
		return statusFamilies[family]
	}
	return StatusOther
}

// Event is one progress record. Which fields are meaningful depends on Stage.
type Event struct {
	// RunID is the binary form of the run's UUID.
	RunID [16]byte
	TS    time.Time
	Stage Stage

	// Batch is the zero-based batch index on batch and fetch events.
	Batch int

	// Fetch fields.
	Site        string
	URL         string
	Bytes       int64
	Outcome     string
	StatusClass StatusClass

	// Dur is fetch latency, batch wall time or run wall time.
	Dur time.Duration
	// Memory is a resident memory sample in bytes, set on batch events.
	Memory uint64
	// Running totals on batch and run events.
	Succeeded int
	Failed    int
	// Note carries short context such as an error message.
	Note string
}

// Validate rejects events that sinks cannot attribute.
func (e Event) Validate() error {
	var errs []error
	if e.RunID == [16]byte{} {
		errs = append(errs, errors.New("run id is required"))
	}
	if e.TS.IsZero() {
		errs = append(errs, errors.New("timestamp is required"))
	}
	switch e.Stage {
	case StageRunStart, StageBatchStart, StageFetchDone, StageBatchDone, StageRunDone, StageRunError:
	default:
		errs = append(errs, fmt.Errorf("unknown stage %q", e.Stage))
	}
	if e.Stage.batchScoped() && e.Batch < 0 {
		errs = append(errs, errors.New("batch index must be >= 0"))
	}
	if e.Stage == StageFetchDone {
		if e.Site == "" {
			errs = append(errs, errors.New("fetch done requires site"))
		}
		if e.Outcome == "" {
			errs = append(errs, errors.New("fetch done requires outcome"))
		}
	}
	if e.Dur < 0 {
		errs = append(errs, errors.New("duration must be >= 0"))
	}
	return errors.Join(errs...)
}

// RunUUID returns RunID as a uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}
