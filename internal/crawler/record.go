package crawler

import (
	"fmt"
	"sync"

	"github.com/JakeFAU/wiki-character-crawler/internal/normalize"
)

// Record is a character as it is assembled during the crawl. Year holds the
// raw listing text until Normalize converts it.
type Record struct {
	Name               string
	Href               string
	Episode            string
	Chapter            string
	Year               string
	Note               *string
	Appearance         *string
	Personality        *string
	AbilitiesAndPowers *string
}

// Section returns the value assigned to s, if any.
func (r Record) Section(s Section) (string, bool) {
	var p *string
	switch s {
	case SectionAppearance:
		p = r.Appearance
	case SectionPersonality:
		p = r.Personality
	case SectionAbilitiesAndPowers:
		p = r.AbilitiesAndPowers
	}
	if p == nil {
		return "", false
	}
	return *p, true
}

func (r *Record) setSection(s Section, text string) {
	v := text
	switch s {
	case SectionAppearance:
		r.Appearance = &v
	case SectionPersonality:
		r.Personality = &v
	case SectionAbilitiesAndPowers:
		r.AbilitiesAndPowers = &v
	}
}

// Normalize converts the record into its stored form. Section text is
// cleaned; a year that is not an integer fails the whole record.
func (r Record) Normalize() (Character, error) {
	if r.Name == "" {
		return Character{}, fmt.Errorf("record has no name")
	}
	year, err := normalize.Year(r.Year)
	if err != nil {
		return Character{}, fmt.Errorf("normalize %q: %w", r.Name, err)
	}
	return Character{
		Name:               r.Name,
		Episode:            r.Episode,
		Chapter:            r.Chapter,
		Year:               year,
		Note:               r.Note,
		Appearance:         cleanSection(r.Appearance),
		Personality:        cleanSection(r.Personality),
		AbilitiesAndPowers: cleanSection(r.AbilitiesAndPowers),
	}, nil
}

func cleanSection(raw *string) *string {
	if raw == nil {
		return nil
	}
	clean := normalize.Text(*raw)
	return &clean
}

// FillState is the set of sections that have been assigned on a record.
type FillState map[Section]struct{}

// Has reports whether s has been filled.
func (f FillState) Has(s Section) bool {
	_, ok := f[s]
	return ok
}

// Len returns the number of filled sections.
func (f FillState) Len() int {
	return len(f)
}

// Missing returns the required sections that are still unfilled, in
// RequiredSections order.
func (f FillState) Missing() []Section {
	var out []Section
	for _, s := range RequiredSections {
		if !f.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// InFlight carries one record through the crawl. Fallback tasks for the same
// record may run concurrently, so every access goes through the mutex.
type InFlight struct {
	mu        sync.Mutex
	record    Record
	filled    FillState
	pending   int
	detailURL string
}

// NewInFlight wraps a skeletal record parsed from the listing page.
func NewInFlight(record Record, detailURL string) *InFlight {
	return &InFlight{
		record:    record,
		filled:    FillState{},
		detailURL: detailURL,
	}
}

// Name returns the character name.
func (f *InFlight) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record.Name
}

// DetailURL returns the character page URL.
func (f *InFlight) DetailURL() string {
	return f.detailURL
}

// Fill assigns text to section s and marks it filled. The first assignment
// wins; later ones are ignored and report false.
func (f *InFlight) Fill(s Section, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filled.Has(s) {
		return false
	}
	f.record.setSection(s, text)
	f.filled[s] = struct{}{}
	return true
}

// Filled returns a copy of the fill state.
func (f *InFlight) Filled() FillState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(FillState, len(f.filled))
	for s := range f.filled {
		out[s] = struct{}{}
	}
	return out
}

// Snapshot returns a copy of the record.
func (f *InFlight) Snapshot() Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record
}

// Await records that n fallback tasks have been issued.
func (f *InFlight) Await(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending += n
}

// Resolve records that one fallback task has finished and reports whether
// it was the last one outstanding.
func (f *InFlight) Resolve() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
	}
	return f.pending == 0
}

// Sections returns the filled sections in RequiredSections order.
func (f FillState) Sections() []Section {
	out := make([]Section, 0, len(f))
	for _, s := range RequiredSections {
		if f.Has(s) {
			out = append(out, s)
		}
	}
	return out
}
