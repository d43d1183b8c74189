package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Default wiki locations.
const (
	DefaultBaseURL    = "https://onepiece.fandom.com"
	DefaultListingURL = DefaultBaseURL + "/wiki/List_of_Canon_Characters"
)

// Config holds the settings for a crawl run. It is decoupled from Viper so
// the engine can be built and tested without a config file.
type Config struct {
	ListingURL string
	// BaseURL is resolved against listing hrefs to build detail URLs.
	BaseURL string
	// MaxInFlight caps how many records are between listing and emission.
	MaxInFlight int
	// MaxRecords stops seeding after this many records; zero means all.
	MaxRecords int
	// ArchivePrefix is prepended to archived page paths.
	ArchivePrefix string
	ContentType   string
	// Topic receives a CharacterEvent per stored record when a Publisher is set.
	Topic string
}

// Validate reports configuration the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if !absolute(c.ListingURL) {
		errs = append(errs, fmt.Errorf("listing url %q must be an absolute URL", c.ListingURL))
	}
	if !absolute(c.BaseURL) {
		errs = append(errs, fmt.Errorf("base url %q must be an absolute URL", c.BaseURL))
	}
	if c.MaxInFlight < 1 {
		errs = append(errs, errors.New("max in flight must be >= 1"))
	}
	if c.MaxRecords < 0 {
		errs = append(errs, errors.New("max records must be >= 0"))
	}
	return errors.Join(errs...)
}

func absolute(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func (c Config) withDefaults() Config {
	if c.ListingURL == "" {
		c.ListingURL = DefaultListingURL
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = 1
	}
	if c.ContentType == "" {
		c.ContentType = "text/html; charset=utf-8"
	}
	return c
}

// Crawler runs one crawl to completion.
type Crawler interface {
	Run(ctx context.Context) (Summary, error)
}
