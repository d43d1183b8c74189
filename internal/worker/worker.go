// Package worker implements the task execution loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-character-crawler/internal/crawler"
	"github.com/JakeFAU/wiki-character-crawler/internal/metrics"
	"github.com/JakeFAU/wiki-character-crawler/internal/telemetry"
)

// Handler processes a single task. The crawl engine implements it.
type Handler interface {
	Handle(ctx context.Context, task crawler.Task) error
}

// Worker consumes tasks from a queue and hands them to a Handler.
type Worker struct {
	id      int
	queue   crawler.Queue
	handler Handler
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New constructs a Worker.
func New(id int, queue crawler.Queue, handler Handler, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:      id,
		queue:   queue,
		handler: handler,
		tracer:  telemetry.Tracer(),
		logger:  logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task crawler.Task) {
	if w.handler == nil {
		w.logger.Error("no handler configured", zap.String("url", task.URL))
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := w.tracer.Start(ctx, "task."+string(task.Stage),
		trace.WithAttributes(
			attribute.String("crawl.url", task.URL),
			attribute.String("crawl.section", string(task.Section)),
			attribute.Int("crawl.worker", w.id),
		),
	)
	defer span.End()

	start := time.Now()
	w.logger.Debug("task dequeued", zap.String("stage", string(task.Stage)), zap.String("url", task.URL))
	if err := w.handler.Handle(ctx, task); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.logger.Error("task failed",
			zap.String("stage", string(task.Stage)),
			zap.String("url", task.URL),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("task done",
		zap.String("stage", string(task.Stage)),
		zap.String("url", task.URL),
		zap.Duration("dur", time.Since(start)),
	)
}
