// Package collyfetcher implements crawler.Fetcher on a gocolly collector.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	// UserAgent applies when a request carries no User-Agent header.
	UserAgent string
	// Timeout bounds one request including the body read.
	Timeout time.Duration
	// MaxBodySize caps response bodies in bytes; 0 means unlimited.
	MaxBodySize int
}

// Fetcher implements crawler.Fetcher using the Colly collector. Every status
// code is handed back as a response; only transport failures are errors.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher whose transport decodes gzip and brotli bodies.
func New(cfg Config) *Fetcher {
	return NewWithTransport(cfg, newHTTPTransport())
}

// NewWithTransport builds a Fetcher on an explicit base round tripper.
func NewWithTransport(cfg Config, base http.RoundTripper) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	// Listing pages and retried identifiers hit the same URL more than once.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodySize
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(&decodingTransport{base: base})
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, request, time.Now(), &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
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

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit %s: %w", url, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response %s: %w", url, *fetchErr)
		}
		return nil
	}
}

// copyHeaders replaces collector defaults (such as User-Agent) with the
// request's own values.
func copyHeaders(headers http.Header, r *colly.Request) {
	if headers == nil || r.Headers == nil {
		return
	}
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
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
		IdleConnTimeout:       90 * time.Second,
	}
}
