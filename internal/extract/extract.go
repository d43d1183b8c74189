// Package extract locates a named section in a wiki article and returns the
// paragraph text that belongs to it.
//
// Wiki articles anchor sections with a span carrying the section id inside a
// heading element:
//
//	<h2><span class="mw-headline" id="Appearance">Appearance</span></h2>
//	<p>...</p>
//
// A section runs over the paragraph siblings that follow its heading until a
// boundary heading. Which headings count as boundaries depends on the
// Strategy in use.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Heading levels used by the wiki.
const (
	Major = "h2"
	Minor = "h3"
)

// OverviewID is the anchor used by sub-pages that keep their content under a
// generic heading.
const OverviewID = "Overview"

// Strategy selects how a section is anchored and where it ends.
type Strategy int

const (
	// Primary anchors at a major heading and retries at the minor level when
	// the major heading is immediately followed by another heading.
	Primary Strategy = iota
	// Nested anchors at a minor heading and stops only at a major heading.
	Nested
	// SubPage anchors at a major heading, falling back to the Overview
	// heading, and ignores Overview minor headings inside the content.
	SubPage
)

func (s Strategy) String() string {
	switch s {
	case Primary:
		return "primary"
	case Nested:
		return "nested"
	case SubPage:
		return "subpage"
	default:
		return "unknown"
	}
}

// Extract returns the text of section id in doc. The boolean is false when
// the section is absent; a present section without paragraphs yields ("", true).
func Extract(doc *goquery.Document, id string, strategy Strategy) (string, bool) {
	if doc == nil {
		return "", false
	}
	root := doc.Selection
	switch strategy {
	case Primary:
		return primary(root, id)
	case Nested:
		return nested(root, id)
	case SubPage:
		return subPage(root, id)
	default:
		return "", false
	}
}

func primary(root *goquery.Selection, id string) (string, bool) {
	heading := anchor(root, Major, id)
	if heading.Length() == 0 {
		return "", false
	}

	var (
		buf      strings.Builder
		retried  bool
		retryTxt string
		retryOK  bool
	)
	hasMinor := anchor(root, Minor, id).Length() > 0
	walk(heading, &buf, func(sib *goquery.Selection) bool {
		switch goquery.NodeName(sib) {
		case Major, Minor:
			if buf.Len() > 0 {
				return true
			}
			if hasMinor {
				retried = true
				retryTxt, retryOK = nestedRetry(root, id)
				return true
			}
		}
		return false
	})
	if retried {
		return retryTxt, retryOK
	}
	return buf.String(), true
}

// nestedRetry reads the minor heading carrying id when the major section
// opens with a heading. A minor heading that yields nothing is treated as
// absent.
func nestedRetry(root *goquery.Selection, id string) (string, bool) {
	text, ok := nested(root, id)
	if !ok || text == "" {
		return "", false
	}
	return text, true
}

func nested(root *goquery.Selection, id string) (string, bool) {
	heading := anchor(root, Minor, id)
	if heading.Length() == 0 {
		return "", false
	}
	var buf strings.Builder
	walk(heading, &buf, func(sib *goquery.Selection) bool {
		return goquery.NodeName(sib) == Major
	})
	return buf.String(), true
}

func subPage(root *goquery.Selection, id string) (string, bool) {
	heading := anchor(root, Major, id)
	if heading.Length() == 0 {
		heading = anchor(root, Major, OverviewID)
	}
	if heading.Length() == 0 {
		return "", false
	}
	var buf strings.Builder
	walk(heading, &buf, func(sib *goquery.Selection) bool {
		switch goquery.NodeName(sib) {
		case Major:
			return true
		case Minor:
			return hasNamedAnchorOtherThan(sib, OverviewID)
		}
		return false
	})
	return buf.String(), true
}

// anchor returns the heading element of the given level that directly
// contains a span with the requested id, or an empty selection.
func anchor(root *goquery.Selection, level, id string) *goquery.Selection {
	return root.Find(level + " > span[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("id")
		return v == id
	}).First().Parent()
}

// walk appends the text of every paragraph sibling after heading to buf until
// stop reports a boundary. Non-paragraph, non-boundary siblings are skipped.
func walk(heading *goquery.Selection, buf *strings.Builder, stop func(*goquery.Selection) bool) {
	heading.NextAll().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
		if goquery.NodeName(sib) == "p" {
			buf.WriteString(sib.Text())
			buf.WriteByte(' ')
			return true
		}
		return !stop(sib)
	})
}

func hasNamedAnchorOtherThan(heading *goquery.Selection, id string) bool {
	named := false
	heading.ChildrenFiltered("span[id]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, _ := s.Attr("id"); v != id {
			named = true
			return false
		}
		return true
	})
	return named
}
