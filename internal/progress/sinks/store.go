package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-character-crawler/internal/progress"
	"github.com/JakeFAU/wiki-character-crawler/internal/store"
)

// RunSink persists run lifecycle and outcome counters through a
// store.RunRepository. Counters are collapsed per run within a batch to
// reduce write amplification.
type RunSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewRunSink constructs a RunSink for the provided repository.
func NewRunSink(repo store.RunRepository, logger *zap.Logger) *RunSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunSink{repo: repo, logger: logger}
}

// Consume applies the batch in order. Pending counters for a run are flushed
// before that run is completed, so the final row carries every count.
func (s *RunSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[string]*countsDelta)

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, evt.RunID, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			if err := s.flush(ctx, evt.RunID, pending); err != nil {
				return err
			}
			if err := s.completeRun(ctx, evt); err != nil {
				return err
			}
		default:
			tally(pending, evt)
		}
	}

	for runID := range pending {
		if err := s.flush(ctx, runID, pending); err != nil {
			return err
		}
	}
	return nil
}

func (s *RunSink) completeRun(ctx context.Context, evt progress.Event) error {
	status := store.RunSuccess
	var note *string
	if evt.Stage == progress.StageRunError {
		status = store.RunError
		if evt.Note != "" {
			note = &evt.Note
		}
	}
	if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	s.logger.Debug("run recorded", zap.String("run_id", evt.RunID), zap.String("status", string(status)))
	return nil
}

func (s *RunSink) flush(ctx context.Context, runID string, pending map[string]*countsDelta) error {
	delta, ok := pending[runID]
	if !ok {
		return nil
	}
	delete(pending, runID)
	if err := s.repo.AddCounts(ctx, runID, delta.counts, delta.at); err != nil {
		return fmt.Errorf("add run counts: %w", err)
	}
	return nil
}

func tally(pending map[string]*countsDelta, evt progress.Event) {
	var inc store.RunCounts
	switch evt.Stage {
	case progress.StageRecordListed:
		inc.Listed = 1
	case progress.StageRecordDropped:
		inc.Dropped = 1
	case progress.StageRecordRejected:
		inc.Rejected = 1
	case progress.StageRecordPersisted:
		inc.Persisted = 1
	case progress.StageRecordFailed:
		inc.Failed = 1
	case progress.StagePageFetched:
		inc.Pages = 1
		inc.Bytes = evt.Bytes
	default:
		return
	}
	d := pending[evt.RunID]
	if d == nil {
		d = &countsDelta{}
		pending[evt.RunID] = d
	}
	d.add(inc, evt.TS)
}

// Close implements progress.Sink.
func (s *RunSink) Close(context.Context) error {
	return nil
}

type countsDelta struct {
	counts store.RunCounts
	at     time.Time
}

func (d *countsDelta) add(inc store.RunCounts, at time.Time) {
	d.counts.Listed += inc.Listed
	d.counts.Dropped += inc.Dropped
	d.counts.Rejected += inc.Rejected
	d.counts.Persisted += inc.Persisted
	d.counts.Failed += inc.Failed
	d.counts.Pages += inc.Pages
	d.counts.Bytes += inc.Bytes
	if at.After(d.at) {
		d.at = at
	}
}
