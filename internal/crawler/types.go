package crawler

import (
	"net/http"
	"time"
)

// Section identifies one of the long-form sections every character record
// carries.
type Section string

// Required long-form sections.
const (
	SectionAppearance         Section = "appearance"
	SectionPersonality        Section = "personality"
	SectionAbilitiesAndPowers Section = "abilities_and_powers"
)

// RequiredSections lists the sections in the order they are extracted.
var RequiredSections = []Section{
	SectionAppearance,
	SectionPersonality,
	SectionAbilitiesAndPowers,
}

// AnchorID returns the heading id the wiki uses for the section.
func (s Section) AnchorID() string {
	switch s {
	case SectionAppearance:
		return "Appearance"
	case SectionPersonality:
		return "Personality"
	case SectionAbilitiesAndPowers:
		return "Abilities_and_Powers"
	default:
		return ""
	}
}

// SubPage returns the path suffix of the sub-page that holds the section when
// the detail page does not. Appearance has no sub-page.
func (s Section) SubPage() (string, bool) {
	switch s {
	case SectionPersonality:
		return "Personality_and_Relationships", true
	case SectionAbilitiesAndPowers:
		return "Abilities_and_Powers", true
	default:
		return "", false
	}
}

// PageKind labels fetched pages for metrics and archive paths.
type PageKind string

// Page kinds fetched during a crawl.
const (
	PageListing  PageKind = "listing"
	PageDetail   PageKind = "detail"
	PageFallback PageKind = "fallback"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Kind    PageKind
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Stage names the handler a Task is routed to.
type Stage string

// Task stages.
const (
	StageDetail   Stage = "detail"
	StageFallback Stage = "fallback"
)

// Task is one unit of crawl work. Detail tasks fetch a character page and
// try every section; fallback tasks fetch one sub-page for one section.
type Task struct {
	URL     string
	Stage   Stage
	Section Section
	Record  *InFlight
}

// Character is a normalized record ready for persistence. Nil section
// pointers mean the section was never found.
type Character struct {
	Name               string  `json:"name"`
	Episode            string  `json:"episode"`
	Chapter            string  `json:"chapter"`
	Year               int     `json:"year"`
	Note               *string `json:"note,omitempty"`
	Appearance         *string `json:"appearance,omitempty"`
	Personality        *string `json:"personality,omitempty"`
	AbilitiesAndPowers *string `json:"abilities_and_powers,omitempty"`
}

// CharacterEvent is published after a character has been stored.
type CharacterEvent struct {
	RunID    string    `json:"run_id"`
	Name     string    `json:"name"`
	StoredAt time.Time `json:"stored_at"`
	Sections []Section `json:"sections"`
}

// Summary counts record outcomes for one crawl run.
type Summary struct {
	Listed       int64 `json:"listed"`
	Dropped      int64 `json:"dropped"`
	DetailFailed int64 `json:"detail_failed"`
	Rejected     int64 `json:"rejected"`
	PersistFail  int64 `json:"persist_failed"`
	Persisted    int64 `json:"persisted"`
}
