package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Listing table column indexes.
const (
	colName    = 1
	colEpisode = 2
	colChapter = 3
	colYear    = 4
	colNote    = 5
)

// ParseListing reads the first wikitable on the listing page and returns one
// skeletal record per data row. Rows without any cells (header rows) are
// skipped; rows without a character link are returned with an empty Href so
// the caller can account for them.
func ParseListing(body []byte) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	table := doc.Find("table.wikitable").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("parse listing: no wikitable found")
	}

	var records []Record
	table.Find("tbody").First().Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		records = append(records, parseRow(cells))
	})
	return records, nil
}

func parseRow(cells *goquery.Selection) Record {
	var rec Record
	cells.Each(func(idx int, td *goquery.Selection) {
		switch idx {
		case colName:
			rec.Name = td.Find("a").First().Text()
			if href, ok := td.Find("a[href]").First().Attr("href"); ok {
				rec.Href = strings.TrimSpace(href)
			}
		case colEpisode:
			if raw := td.Text(); raw != "" {
				rec.Episode = "Episode " + trimLeadingZeros(strings.TrimSpace(raw))
			}
		case colChapter:
			if raw := td.Text(); raw != "" {
				rec.Chapter = "Chapter " + trimLeadingZeros(strings.TrimSpace(raw))
			}
		case colYear:
			rec.Year = strings.TrimSpace(td.Text())
		case colNote:
			if raw := td.Text(); raw != "" {
				note := strings.TrimSpace(raw)
				rec.Note = &note
			}
		}
	})
	return rec
}

// trimLeadingZeros strips every leading zero, so an all-zero cell becomes
// empty and the column reads "Episode " or "Chapter ".
func trimLeadingZeros(s string) string {
	return strings.TrimLeft(s, "0")
}

// DetailURL resolves a listing href against the wiki base URL.
func DetailURL(base, href string) (string, error) {
	if strings.TrimSpace(href) == "" {
		return "", ErrNoLink
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// SubPageURL appends the sub-page suffix for s to the character page URL.
func SubPageURL(detailURL string, s Section) (string, bool) {
	suffix, ok := s.SubPage()
	if !ok {
		return "", false
	}
	return strings.TrimRight(detailURL, "/") + "/" + suffix, true
}
