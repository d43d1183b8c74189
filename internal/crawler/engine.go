package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-character-crawler/internal/extract"
	"github.com/JakeFAU/wiki-character-crawler/internal/metrics"
	"github.com/JakeFAU/wiki-character-crawler/internal/progress"
)

// Engine drives one crawl run. Run seeds detail tasks from the listing page;
// workers feed the queued tasks back through Handle.
type Engine struct {
	cfg       Config
	fetcher   Fetcher
	queue     Queue
	store     CharacterStore
	blobs     BlobStore
	publisher Publisher
	hasher    Hasher
	clock     Clock
	emitter   progress.Emitter
	logger    *zap.Logger

	runID    string
	counters counters
	slots    chan struct{}
	inflight sync.WaitGroup
	started  atomic.Bool
}

type counters struct {
	listed       atomic.Int64
	dropped      atomic.Int64
	detailFailed atomic.Int64
	rejected     atomic.Int64
	persistFail  atomic.Int64
	persisted    atomic.Int64
}

func (c *counters) snapshot() Summary {
	return Summary{
		Listed:       c.listed.Load(),
		Dropped:      c.dropped.Load(),
		DetailFailed: c.detailFailed.Load(),
		Rejected:     c.rejected.Load(),
		PersistFail:  c.persistFail.Load(),
		Persisted:    c.persisted.Load(),
	}
}

// Deps groups the collaborators an Engine needs. Blobs, Publisher, Hasher
// and Emitter are optional.
type Deps struct {
	Fetcher   Fetcher
	Queue     Queue
	Store     CharacterStore
	Blobs     BlobStore
	Publisher Publisher
	Hasher    Hasher
	Clock     Clock
	IDs       IDGenerator
	Emitter   progress.Emitter
}

// NewEngine validates cfg and allocates a run ID.
func NewEngine(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if deps.Fetcher == nil || deps.Queue == nil || deps.Store == nil {
		return nil, errors.New("engine requires a fetcher, a queue and a store")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("engine requires a clock and an id generator")
	}
	if c, ok := deps.Queue.(interface{ Cap() int }); ok && c.Cap() < 2*cfg.MaxInFlight {
		return nil, fmt.Errorf("queue capacity %d must be at least twice max in flight (%d)", c.Cap(), cfg.MaxInFlight)
	}
	if deps.Blobs != nil && deps.Hasher == nil {
		return nil, errors.New("page archive requires a hasher")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	return &Engine{
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		queue:     deps.Queue,
		store:     deps.Store,
		blobs:     deps.Blobs,
		publisher: deps.Publisher,
		hasher:    deps.Hasher,
		clock:     deps.Clock,
		emitter:   deps.Emitter,
		logger:    logger.With(zap.String("run_id", runID)),
		runID:     runID,
		slots:     make(chan struct{}, cfg.MaxInFlight),
	}, nil
}

// RunID returns the identifier stamped on events and archive paths.
func (e *Engine) RunID() string {
	return e.runID
}

// Summary returns the live outcome counters.
func (e *Engine) Summary() Summary {
	return e.counters.snapshot()
}

// Run fetches the listing page, seeds one detail task per character and
// blocks until every admitted record has been emitted or ctx ends. Only a
// listing failure or cancellation produces an error; per-record failures
// are counted in the Summary.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if !e.started.CompareAndSwap(false, true) {
		return e.Summary(), errors.New("engine already ran")
	}
	start := e.clock.Now()
	e.logger.Info("crawl started", zap.String("listing_url", e.cfg.ListingURL))
	e.emit(progress.Event{Stage: progress.StageRunStart, URL: e.cfg.ListingURL})

	records, err := e.loadListing(ctx)
	if err != nil {
		e.emit(progress.Event{Stage: progress.StageRunError, Dur: e.since(start), Note: err.Error()})
		return e.Summary(), err
	}

	err = e.seed(ctx, records)
	if waitErr := e.wait(ctx); err == nil {
		err = waitErr
	}
	summary := e.Summary()
	if err != nil {
		e.logger.Warn("crawl interrupted", zap.Error(err))
		e.emit(progress.Event{Stage: progress.StageRunError, Dur: e.since(start), Note: err.Error()})
		return summary, err
	}
	e.logger.Info("crawl finished",
		zap.Int64("listed", summary.Listed),
		zap.Int64("persisted", summary.Persisted),
		zap.Duration("dur", e.since(start)),
	)
	e.emit(progress.Event{Stage: progress.StageRunDone, Dur: e.since(start)})
	return summary, nil
}

func (e *Engine) loadListing(ctx context.Context) ([]Record, error) {
	resp, err := e.fetch(ctx, e.cfg.ListingURL, PageListing)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	records, err := ParseListing(resp.Body)
	if err != nil {
		return nil, err
	}
	e.logger.Info("listing parsed", zap.Int("rows", len(records)))
	return records, nil
}

func (e *Engine) seed(ctx context.Context, records []Record) error {
	admitted := 0
	for _, rec := range records {
		if e.cfg.MaxRecords > 0 && admitted >= e.cfg.MaxRecords {
			e.logger.Info("max records reached", zap.Int("max_records", e.cfg.MaxRecords))
			break
		}
		detailURL, err := DetailURL(e.cfg.BaseURL, rec.Href)
		if err != nil {
			e.counters.dropped.Add(1)
			e.logger.Warn("dropping listing row", zap.String("character", rec.Name), zap.Error(err))
			e.emit(progress.Event{
				Stage:     progress.StageRecordDropped,
				Character: rec.Name,
				URL:       e.cfg.ListingURL,
				Note:      err.Error(),
			})
			continue
		}

		select {
		case e.slots <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("seed records: %w", ctx.Err())
		}
		admitted++
		e.inflight.Add(1)
		e.counters.listed.Add(1)
		e.emit(progress.Event{Stage: progress.StageRecordListed, Character: rec.Name, URL: detailURL})

		task := Task{URL: detailURL, Stage: StageDetail, Record: NewInFlight(rec, detailURL)}
		if err := e.queue.Enqueue(ctx, task); err != nil {
			e.release()
			return fmt.Errorf("enqueue detail task for %q: %w", rec.Name, err)
		}
	}
	e.logger.Info("records seeded", zap.Int("records", admitted))
	return nil
}

func (e *Engine) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for records: %w", ctx.Err())
	}
}

// Handle processes one queued task. It implements worker.Handler.
func (e *Engine) Handle(ctx context.Context, task Task) error {
	if task.Record == nil {
		return fmt.Errorf("task for %s carries no record", task.URL)
	}
	switch task.Stage {
	case StageDetail:
		e.handleDetail(ctx, task)
	case StageFallback:
		e.handleFallback(ctx, task)
	default:
		return fmt.Errorf("unknown task stage %q", task.Stage)
	}
	return nil
}

func (e *Engine) handleDetail(ctx context.Context, task Task) {
	flight := task.Record
	log := e.logger.With(zap.String("character", flight.Name()), zap.String("url", task.URL))

	doc, err := e.fetchDocument(ctx, task.URL, PageDetail)
	if err != nil {
		e.counters.detailFailed.Add(1)
		log.Warn("detail fetch failed, dropping record", zap.Error(err))
		e.emit(progress.Event{
			Stage:     progress.StageRecordDropped,
			Character: flight.Name(),
			URL:       task.URL,
			Note:      err.Error(),
		})
		e.release()
		return
	}

	for _, section := range RequiredSections {
		if text, ok := extract.Extract(doc, section.AnchorID(), extract.Primary); ok {
			e.fill(flight, section, task.URL, text)
		}
	}

	var fallbacks []Task
	for _, section := range flight.Filled().Missing() {
		if subURL, ok := SubPageURL(flight.DetailURL(), section); ok {
			fallbacks = append(fallbacks, Task{URL: subURL, Stage: StageFallback, Section: section, Record: flight})
		}
	}
	if len(fallbacks) == 0 {
		e.complete(ctx, flight)
		return
	}

	flight.Await(len(fallbacks))
	for _, fb := range fallbacks {
		e.emit(progress.Event{
			Stage:     progress.StageFallbackIssued,
			Character: flight.Name(),
			Section:   string(fb.Section),
			URL:       fb.URL,
		})
		if err := e.queue.Enqueue(ctx, fb); err != nil {
			log.Warn("enqueue fallback failed", zap.String("section", string(fb.Section)), zap.Error(err))
			if flight.Resolve() {
				e.complete(ctx, flight)
			}
		}
	}
}

func (e *Engine) handleFallback(ctx context.Context, task Task) {
	flight := task.Record
	log := e.logger.With(
		zap.String("character", flight.Name()),
		zap.String("section", string(task.Section)),
		zap.String("url", task.URL),
	)

	doc, err := e.fetchDocument(ctx, task.URL, PageFallback)
	switch {
	case err != nil:
		log.Warn("sub-page fetch failed, section left unfilled", zap.Error(err))
	default:
		if text, ok := extract.Extract(doc, task.Section.AnchorID(), extract.SubPage); ok {
			e.fill(flight, task.Section, task.URL, text)
		} else {
			log.Debug("section not found on sub-page")
		}
	}

	if flight.Resolve() {
		e.complete(ctx, flight)
	}
}

func (e *Engine) fill(flight *InFlight, section Section, pageURL, text string) {
	if !flight.Fill(section, text) {
		return
	}
	e.emit(progress.Event{
		Stage:     progress.StageSectionFilled,
		Character: flight.Name(),
		Section:   string(section),
		URL:       pageURL,
	})
}

// complete normalizes, stores and announces a record, then frees its slot.
func (e *Engine) complete(ctx context.Context, flight *InFlight) {
	defer e.release()

	record := flight.Snapshot()
	log := e.logger.With(zap.String("character", record.Name))

	character, err := record.Normalize()
	if err != nil {
		e.counters.rejected.Add(1)
		log.Warn("record rejected", zap.Error(err))
		e.emit(progress.Event{Stage: progress.StageRecordRejected, Character: record.Name, Note: err.Error()})
		return
	}

	start := e.clock.Now()
	err = e.store.Upsert(ctx, character)
	metrics.ObserveUpsert(err, e.since(start))
	if err != nil {
		e.counters.persistFail.Add(1)
		log.Error("persist character failed", zap.Error(err))
		e.emit(progress.Event{Stage: progress.StageRecordFailed, Character: record.Name, Note: err.Error()})
		return
	}

	sections := flight.Filled().Sections()
	e.counters.persisted.Add(1)
	log.Info("character stored", zap.Int("sections", len(sections)))
	e.emit(progress.Event{Stage: progress.StageRecordPersisted, Character: record.Name, Dur: e.since(start)})
	e.publish(ctx, character.Name, sections)
}

func (e *Engine) publish(ctx context.Context, name string, sections []Section) {
	if e.publisher == nil || e.cfg.Topic == "" {
		return
	}
	evt := CharacterEvent{
		RunID:    e.runID,
		Name:     name,
		StoredAt: e.clock.Now(),
		Sections: sections,
	}
	msgID, err := e.publisher.Publish(ctx, e.cfg.Topic, evt)
	metrics.ObservePublish(err)
	if err != nil {
		e.logger.Warn("publish character event failed", zap.String("character", name), zap.Error(err))
		return
	}
	e.logger.Debug("character event published", zap.String("character", name), zap.String("message_id", msgID))
}

func (e *Engine) release() {
	<-e.slots
	e.inflight.Done()
}

func (e *Engine) fetchDocument(ctx context.Context, pageURL string, kind PageKind) (*goquery.Document, error) {
	resp, err := e.fetch(ctx, pageURL, kind)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s page: %w", kind, err)
	}
	return doc, nil
}

func (e *Engine) fetch(ctx context.Context, pageURL string, kind PageKind) (FetchResponse, error) {
	resp, err := e.fetcher.Fetch(ctx, FetchRequest{URL: pageURL, Kind: kind})
	if err != nil {
		return FetchResponse{}, err
	}
	e.emit(progress.Event{
		Stage:       progress.StagePageFetched,
		URL:         pageURL,
		Kind:        string(kind),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Bytes:       int64(len(resp.Body)),
		Dur:         resp.Duration,
	})
	e.archive(ctx, kind, resp)
	return resp, nil
}

// archive writes the page body under <prefix>/<run-id>/<kind>/<sha256>.html.
// Failures are logged only.
func (e *Engine) archive(ctx context.Context, kind PageKind, resp FetchResponse) {
	if e.blobs == nil {
		return
	}
	hash, err := e.hasher.Hash(resp.Body)
	if err != nil {
		e.logger.Warn("hash page failed", zap.String("url", resp.URL), zap.Error(err))
		return
	}
	path := e.archivePath(kind, hash)
	uri, err := e.blobs.PutObject(ctx, path, e.cfg.ContentType, bytes.NewReader(resp.Body))
	metrics.ObserveArchive(string(kind), err)
	if err != nil {
		e.logger.Warn("archive page failed", zap.String("url", resp.URL), zap.String("path", path), zap.Error(err))
		return
	}
	e.logger.Debug("page archived", zap.String("url", resp.URL), zap.String("uri", uri))
}

func (e *Engine) archivePath(kind PageKind, hash string) string {
	prefix := strings.Trim(e.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.html", e.runID, kind, hash)
	}
	return fmt.Sprintf("%s/%s/%s/%s.html", prefix, e.runID, kind, hash)
}

func (e *Engine) emit(evt progress.Event) {
	evt.RunID = e.runID
	evt.TS = e.clock.Now()
	e.emitter.Emit(evt)
}

func (e *Engine) since(start time.Time) time.Duration {
	d := e.clock.Now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}
