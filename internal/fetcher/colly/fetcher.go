// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/wiki-character-crawler/internal/crawler"
	"github.com/JakeFAU/wiki-character-crawler/internal/metrics"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	IgnoreRobots bool
	Timeout      time.Duration
	// Parallelism and Delay feed a colly LimitRule shared by every fetch.
	Parallelism int
	Delay       time.Duration
	DomainGlob  string
}

// Fetcher implements crawler.Fetcher. Each Fetch runs on a clone of a base
// collector so limits and transport are shared but callbacks are not.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher and installs the politeness limit rule.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DomainGlob == "" {
		cfg.DomainGlob = "*"
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = cfg.IgnoreRobots
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(newHTTPTransport())
	if cfg.Parallelism > 0 || cfg.Delay > 0 {
		rule := &colly.LimitRule{
			DomainGlob:  cfg.DomainGlob,
			Parallelism: cfg.Parallelism,
			Delay:       cfg.Delay,
		}
		if err := c.Limit(rule); err != nil {
			return nil, fmt.Errorf("colly limit rule: %w", err)
		}
	}
	return &Fetcher{cfg: cfg, baseCollector: c}, nil
}

// Fetch performs a GET. Non-2xx responses and transport failures are
// returned as *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result     crawler.FetchResponse
		fetchErr   error
		statusCode int
	)
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, request, time.Now(), &result, &fetchErr, &statusCode)

	err := f.runCollector(ctx, collector, request.URL)
	if err == nil {
		err = fetchErr
	}
	if err != nil {
		metrics.ObserveFetch(request.URL, string(request.Kind), statusCode, 0)
		return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, StatusCode: statusCode, Err: err}
	}
	metrics.ObserveFetch(request.URL, string(request.Kind), result.StatusCode, len(result.Body))
	return result, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = f.cfg.IgnoreRobots
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
	statusCode *int,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*statusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func copyHeaders(src http.Header, r *colly.Request) {
	if src == nil || r.Headers == nil {
		return
	}
	for key, values := range src {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// IsStatus reports whether err is a FetchError carrying the given status.
func IsStatus(err error, status int) bool {
	var fe *crawler.FetchError
	return errors.As(err, &fe) && fe.StatusCode == status
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
