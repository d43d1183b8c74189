package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageRunDone         Stage = "RUN_DONE"
	StageRunError        Stage = "RUN_ERROR"
	StagePageFetched     Stage = "PAGE_FETCHED"
	StageRecordListed    Stage = "RECORD_LISTED"
	StageRecordDropped   Stage = "RECORD_DROPPED"
	StageFallbackIssued  Stage = "FALLBACK_ISSUED"
	StageSectionFilled   Stage = "SECTION_FILLED"
	StageRecordRejected  Stage = "RECORD_REJECTED"
	StageRecordPersisted Stage = "RECORD_PERSISTED"
	StageRecordFailed    Stage = "RECORD_FAILED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is a single crawl milestone.
type Event struct {
	// RunID identifies the crawl run.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Character is the record name for record-scoped events.
	Character string
	// Section is set for SECTION_FILLED and FALLBACK_ISSUED.
	Section string
	URL     string
	// Kind labels fetched pages (listing, detail, fallback).
	Kind        string
	StatusClass StatusClass
	Bytes       int64
	Dur         time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageFetched:
		if e.Kind == "" {
			return errors.New("page fetched requires kind")
		}
	case StageRecordListed, StageRecordDropped, StageRecordRejected,
		StageRecordPersisted, StageRecordFailed:
		if e.Character == "" && e.URL == "" {
			return fmt.Errorf("%s requires character or url", e.Stage)
		}
	case StageFallbackIssued, StageSectionFilled:
		if e.Section == "" {
			return fmt.Errorf("%s requires section", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
