package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-character-crawler/internal/clock/system"
	"github.com/JakeFAU/wiki-character-crawler/internal/crawler"
	"github.com/JakeFAU/wiki-character-crawler/internal/dispatcher"
	"github.com/JakeFAU/wiki-character-crawler/internal/hash/sha256"
	"github.com/JakeFAU/wiki-character-crawler/internal/progress"
	pubmemory "github.com/JakeFAU/wiki-character-crawler/internal/publisher/memory"
	queuememory "github.com/JakeFAU/wiki-character-crawler/internal/queue/memory"
	storememory "github.com/JakeFAU/wiki-character-crawler/internal/storage/memory"
)

const base = "https://wiki.test"

func listingRow(idx int, name, href, episode, chapter, year, note string) string {
	link := fmt.Sprintf(`<a class="new">%s</a>`, name)
	if href != "" {
		link = fmt.Sprintf(`<a href="%s" title="%s">%s</a>`, href, name, name)
	}
	return fmt.Sprintf("<tr><td>%d</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
		idx, link, episode, chapter, year, note)
}

func listingPage(rows ...string) string {
	return `<html><body><table class="wikitable"><tbody>
<tr><th>#</th><th>Name</th><th>Episode</th><th>Chapter</th><th>Year</th><th>Note</th></tr>` +
		strings.Join(rows, "\n") + `</tbody></table></body></html>`
}

func section(level, id, body string) string {
	return fmt.Sprintf(`<%s><span class="mw-headline" id="%s">%s</span></%s><p>%s</p>`, level, id, id, level, body)
}

func page(parts ...string) string {
	return "<html><body>" + strings.Join(parts, "") + "</body></html>"
}

type response struct {
	status int
	body   string
	err    error
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]response
	calls map[string]int
}

func newFakeFetcher(pages map[string]response) *fakeFetcher {
	return &fakeFetcher{pages: pages, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.calls[req.URL]++
	resp, ok := f.pages[req.URL]
	f.mu.Unlock()

	switch {
	case !ok:
		return crawler.FetchResponse{}, &crawler.FetchError{URL: req.URL, StatusCode: http.StatusNotFound, Err: errors.New("not found")}
	case resp.err != nil:
		return crawler.FetchResponse{}, &crawler.FetchError{URL: req.URL, Err: resp.err}
	case resp.status >= 300:
		return crawler.FetchResponse{}, &crawler.FetchError{URL: req.URL, StatusCode: resp.status, Err: errors.New(http.StatusText(resp.status))}
	}
	status := resp.status
	if status == 0 {
		status = http.StatusOK
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: status, Body: []byte(resp.body), Duration: time.Millisecond}, nil
}

func (f *fakeFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages(character string) []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Stage
	for _, evt := range r.events {
		if evt.Character == character {
			out = append(out, evt.Stage)
		}
	}
	return out
}

func (r *recordingEmitter) Count(stage progress.Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt.Stage == stage {
			n++
		}
	}
	return n
}

type failingStore struct {
	*storememory.CharacterStore
	failFor string
}

func (s *failingStore) Upsert(ctx context.Context, c crawler.Character) error {
	if c.Name == s.failFor {
		return errors.New("connection reset")
	}
	return s.CharacterStore.Upsert(ctx, c)
}

type harness struct {
	cfg       crawler.Config
	fetcher   *fakeFetcher
	store     crawler.CharacterStore
	memStore  *storememory.CharacterStore
	blobs     *storememory.BlobStore
	publisher *pubmemory.Publisher
	events    *recordingEmitter
	workers   int
}

func newHarness() *harness {
	mem := storememory.NewCharacterStore()
	return &harness{
		cfg: crawler.Config{
			ListingURL:    base + "/wiki/List_of_Canon_Characters",
			BaseURL:       base,
			MaxInFlight:   2,
			ArchivePrefix: "raw",
			Topic:         "characters",
		},
		fetcher:   newFakeFetcher(map[string]response{}),
		store:     mem,
		memStore:  mem,
		blobs:     storememory.NewBlobStore(),
		publisher: pubmemory.New(),
		events:    &recordingEmitter{},
		workers:   3,
	}
}

// serve registers the response for base/wiki/<path>.
func (h *harness) serve(path string, resp response) {
	h.fetcher.pages[base+"/wiki/"+path] = resp
}

func (h *harness) listing(rows ...string) {
	h.serve("List_of_Canon_Characters", response{body: listingPage(rows...)})
}

func (h *harness) run(t *testing.T) (crawler.Summary, *crawler.Engine, error) {
	t.Helper()

	queue := queuememory.NewQueue(2 * h.cfg.MaxInFlight)
	engine, err := crawler.NewEngine(h.cfg, crawler.Deps{
		Fetcher:   h.fetcher,
		Queue:     queue,
		Store:     h.store,
		Blobs:     h.blobs,
		Publisher: h.publisher,
		Hasher:    sha256.New(),
		Clock:     system.NewFixed(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
		IDs:       staticIDs{id: "run-1"},
		Emitter:   h.events,
	}, zap.NewNop())
	require.NoError(t, err)

	pool := dispatcher.NewPool(queue, engine, h.workers, zap.NewNop())
	done := make(chan struct{})
	go func() {
		pool.Run(context.Background())
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, runErr := engine.Run(ctx)

	queue.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after queue close")
	}
	return summary, engine, runErr
}

func (h *harness) character(t *testing.T, name string) crawler.Character {
	t.Helper()
	c, ok := h.memStore.Get(name)
	require.True(t, ok, "character %q not stored", name)
	return c
}

func deref(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func fullPage() string {
	return page(
		section("h2", "Appearance", "a"),
		section("h2", "Personality", "p"),
		section("h2", "Abilities_and_Powers", "x"),
	)
}

func TestEngineStoresFullRecordFromDetailPage(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.listing(listingRow(1, "Nami", "/wiki/Nami", "001", "008", " 1997 ", "Navigator"))
	h.serve("Nami", response{body: page(
		section("h2", "Appearance", "Orange hair.[1]"),
		section("h2", "Personality", "Loves   money."),
		section("h2", "Abilities_and_Powers", "Weather science."),
		section("h2", "History", "Arlong Park."),
	)})

	summary, engine, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, "run-1", engine.RunID())
	assert.Equal(t, crawler.Summary{Listed: 1, Persisted: 1}, summary)

	nami := h.character(t, "Nami")
	assert.Equal(t, "Episode 1", nami.Episode)
	assert.Equal(t, "Chapter 8", nami.Chapter)
	assert.Equal(t, 1997, nami.Year)
	assert.Equal(t, "Navigator", deref(nami.Note))
	assert.Equal(t, "Orange hair.", deref(nami.Appearance))
	assert.Equal(t, "Loves money.", deref(nami.Personality))
	assert.Equal(t, "Weather science.", deref(nami.AbilitiesAndPowers))

	assert.Zero(t, h.fetcher.Calls(base+"/wiki/Nami/Personality_and_Relationships"))
	assert.Zero(t, h.fetcher.Calls(base+"/wiki/Nami/Abilities_and_Powers"))
	assert.Equal(t, []progress.Stage{
		progress.StageRecordListed,
		progress.StageSectionFilled,
		progress.StageSectionFilled,
		progress.StageSectionFilled,
		progress.StageRecordPersisted,
	}, h.events.Stages("Nami"))
	assert.Equal(t, 1, h.events.Count(progress.StageRunStart))
	assert.Equal(t, 1, h.events.Count(progress.StageRunDone))
}

func TestEngineFallsBackToOverviewOnSubPage(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.listing(listingRow(1, "Zoro", "/wiki/Roronoa_Zoro", "1", "3", "1997", ""))
	h.serve("Roronoa_Zoro", response{body: page(
		section("h2", "Appearance", "Green hair."),
		section("h2", "Abilities_and_Powers", "Three swords."),
	)})
	h.serve("Roronoa_Zoro/Personality_and_Relationships", response{body: page(
		section("h2", "Overview", "Stoic."),
		section("h3", "Overview", "Loyal."),
		section("h3", "Crew", "ignored"),
	)})

	summary, _, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Persisted)

	zoro := h.character(t, "Zoro")
	assert.Equal(t, "Stoic. Loyal.", deref(zoro.Personality))
	assert.Equal(t, "Three swords.", deref(zoro.AbilitiesAndPowers))
	assert.Nil(t, zoro.Note)
	assert.Equal(t, 1, h.fetcher.Calls(base+"/wiki/Roronoa_Zoro/Personality_and_Relationships"))
	assert.Equal(t, 1, h.events.Count(progress.StageFallbackIssued))
}

func TestEngineEmitsRecordWhenSectionsNeverResolve(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.listing(listingRow(1, "Usopp", "/wiki/Usopp", "8", "23", "1998", ""))
	h.serve("Usopp", response{body: page(section("h2", "History", "Syrup Village."))})
	h.serve("Usopp/Personality_and_Relationships", response{body: page(section("h2", "Personality", "Cowardly liar."))})
	h.serve("Usopp/Abilities_and_Powers", response{status: http.StatusInternalServerError})

	summary, _, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Listed: 1, Persisted: 1}, summary)

	usopp := h.character(t, "Usopp")
	assert.Nil(t, usopp.Appearance)
	assert.Equal(t, "Cowardly liar.", deref(usopp.Personality))
	assert.Nil(t, usopp.AbilitiesAndPowers)
	assert.Equal(t, 2, h.events.Count(progress.StageFallbackIssued))
	assert.Zero(t, h.fetcher.Calls(base+"/wiki/Usopp/Appearance"))
}

func TestEngineCountsEveryOutcome(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.listing(
		listingRow(1, "Luffy", "/wiki/Monkey_D._Luffy", "1", "1", "1997", ""),
		listingRow(2, "Ghost", "", "2", "2", "1997", ""),
		listingRow(3, "Broken", "/wiki/Broken", "3", "3", "1997", ""),
		listingRow(4, "Oddyear", "/wiki/Oddyear", "4", "4", "Unknown", ""),
		listingRow(5, "Unstored", "/wiki/Unstored", "5", "5", "1999", ""),
	)
	h.serve("Monkey_D._Luffy", response{body: fullPage()})
	h.serve("Broken", response{err: errors.New("connection refused")})
	h.serve("Oddyear", response{body: fullPage()})
	h.serve("Unstored", response{body: fullPage()})
	h.store = &failingStore{CharacterStore: h.memStore, failFor: "Unstored"}

	summary, _, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{
		Listed:       4,
		Dropped:      1,
		DetailFailed: 1,
		Rejected:     1,
		PersistFail:  1,
		Persisted:    1,
	}, summary)

	assert.Equal(t, []progress.Stage{progress.StageRecordDropped}, h.events.Stages("Ghost"))
	assert.Contains(t, h.events.Stages("Broken"), progress.StageRecordDropped)
	assert.Contains(t, h.events.Stages("Oddyear"), progress.StageRecordRejected)
	assert.Contains(t, h.events.Stages("Unstored"), progress.StageRecordFailed)
	assert.Equal(t, 1, h.memStore.Len())
	assert.Len(t, h.publisher.Messages(), 1)
}

func TestEngineHonorsMaxRecords(t *testing.T) {
	t.Parallel()

	h := newHarness()
	var rows []string
	for i := 1; i <= 6; i++ {
		name := fmt.Sprintf("Pirate%d", i)
		rows = append(rows, listingRow(i, name, "/wiki/"+name, "1", "1", "2000", ""))
		h.serve(name, response{body: fullPage()})
	}
	h.listing(rows...)
	h.cfg.MaxRecords = 4
	h.cfg.MaxInFlight = 1
	h.workers = 1

	summary, _, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.Listed)
	assert.Equal(t, int64(4), summary.Persisted)
	assert.Zero(t, h.fetcher.Calls(base+"/wiki/Pirate5"))
}

func TestEngineArchivesAndPublishes(t *testing.T) {
	t.Parallel()

	detail := page(
		section("h2", "Appearance", "Tall."),
		section("h2", "Abilities_and_Powers", "Gum."),
	)
	sub := page(section("h2", "Personality", "Cheerful."))

	h := newHarness()
	h.listing(listingRow(1, "Luffy", "/wiki/Luffy", "1", "1", "1997", ""))
	h.serve("Luffy", response{body: detail})
	h.serve("Luffy/Personality_and_Relationships", response{body: sub})

	_, _, err := h.run(t)
	require.NoError(t, err)

	hasher := sha256.New()
	detailHash, err := hasher.Hash([]byte(detail))
	require.NoError(t, err)
	subHash, err := hasher.Hash([]byte(sub))
	require.NoError(t, err)

	paths := h.blobs.Paths()
	assert.Len(t, paths, 3)
	assert.Contains(t, paths, "raw/run-1/detail/"+detailHash+".html")
	assert.Contains(t, paths, "raw/run-1/fallback/"+subHash+".html")
	stored, ok := h.blobs.Get("raw/run-1/detail/" + detailHash + ".html")
	require.True(t, ok)
	assert.Equal(t, detail, string(stored))

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "characters", msgs[0].Topic)
	evt, ok := msgs[0].Payload.(crawler.CharacterEvent)
	require.True(t, ok)
	assert.Equal(t, "run-1", evt.RunID)
	assert.Equal(t, "Luffy", evt.Name)
	assert.Equal(t, []crawler.Section{
		crawler.SectionAppearance,
		crawler.SectionPersonality,
		crawler.SectionAbilitiesAndPowers,
	}, evt.Sections)
}

func TestEngineListingFailureEndsRun(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.serve("List_of_Canon_Characters", response{status: http.StatusServiceUnavailable})

	summary, _, err := h.run(t)
	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	assert.Equal(t, crawler.Summary{}, summary)
	assert.Equal(t, 1, h.events.Count(progress.StageRunError))
}

func TestEngineRunsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.listing()
	_, engine, err := h.run(t)
	require.NoError(t, err)

	_, err = engine.Run(context.Background())
	require.Error(t, err)
}

func TestNewEngineValidation(t *testing.T) {
	t.Parallel()

	good := crawler.Deps{
		Fetcher: newFakeFetcher(nil),
		Queue:   queuememory.NewQueue(4),
		Store:   storememory.NewCharacterStore(),
		Clock:   system.New(),
		IDs:     staticIDs{id: "run"},
	}
	cfg := crawler.Config{MaxInFlight: 2}

	_, err := crawler.NewEngine(cfg, good, nil)
	require.NoError(t, err)

	small := good
	small.Queue = queuememory.NewQueue(3)
	_, err = crawler.NewEngine(cfg, small, nil)
	require.ErrorContains(t, err, "queue capacity")

	noHasher := good
	noHasher.Blobs = storememory.NewBlobStore()
	_, err = crawler.NewEngine(cfg, noHasher, nil)
	require.ErrorContains(t, err, "hasher")

	noStore := good
	noStore.Store = nil
	_, err = crawler.NewEngine(cfg, noStore, nil)
	require.Error(t, err)

	_, err = crawler.NewEngine(crawler.Config{ListingURL: "not-a-url"}, good, nil)
	require.ErrorContains(t, err, "listing url")
}
