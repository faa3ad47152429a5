// Package collyfetcher implements the static HTTP fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Config controls collector behavior. Request spacing is owned by the
// shared limiter upstream, so no Colly delay rule is installed here.
type Config struct {
	UserAgent      string
	AllowedHost    string
	Parallelism    int
	RequestTimeout time.Duration
}

// Fetcher retrieves pages with a cloned Colly collector per request.
type Fetcher struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher. Redirects that leave AllowedHost are refused by
// the collector and surface as scraper.ErrForeignHost; robots.txt is
// respected, with the robots body cached across collector clones.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 25 * time.Second
	}

	opts := []colly.CollectorOption{
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	}
	if domains := hostVariants(cfg.AllowedHost); len(domains) > 0 {
		opts = append(opts, colly.AllowedDomains(domains...))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.IgnoreRobotsTxt = false
	base.WithTransport(newRobotsCacheTransport(newHTTPTransport(cfg)))
	base.SetRequestTimeout(cfg.RequestTimeout)

	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
	}); err != nil {
		return nil, err
	}

	return &Fetcher{
		baseCollector: base,
		logger:        logger,
	}, nil
}

// Fetch retrieves one page. A completed HTTP exchange always yields a
// Page, whatever the status code; the error return covers transport
// problems only. The headless flag on the request is ignored here.
func (f *Fetcher) Fetch(ctx context.Context, req scraper.FetchRequest) (scraper.Page, error) {
	collector := f.baseCollector.Clone()
	if deadline, ok := ctx.Deadline(); ok {
		collector.SetRequestTimeout(time.Until(deadline))
	}

	start := time.Now()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{page: pageFrom(r, req.URL, time.Since(start))})
	})

	collector.OnError(func(r *colly.Response, err error) {
		// Colly routes every non-2xx here; a real status code still
		// means the server answered.
		if r != nil && r.StatusCode > 0 {
			send(fetchResult{page: pageFrom(r, req.URL, time.Since(start))})
			return
		}
		send(fetchResult{err: mapCollyError(req.URL, err)})
	})

	if err := collector.Visit(req.URL); err != nil {
		return scraper.Page{}, mapCollyError(req.URL, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return scraper.Page{}, err
		}
		return res.page, res.err
	default:
		return scraper.Page{}, errors.New("colly fetch produced no result")
	}
}

type fetchResult struct {
	page scraper.Page
	err  error
}

func mapCollyError(rawURL string, err error) error {
	switch {
	case err == nil:
		return fmt.Errorf("fetch %s: unknown colly error", rawURL)
	// Colly reports the initial-URL domain check with ErrForbiddenDomain
	// but mid-redirect checks with a formatted error, hence the string
	// match.
	case errors.Is(err, colly.ErrForbiddenDomain),
		strings.Contains(err.Error(), "AllowedDomains"):
		return fmt.Errorf("fetch %s: %w", rawURL, scraper.ErrForeignHost)
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return fmt.Errorf("fetch %s: %w", rawURL, scraper.ErrRobotsDisallowed)
	default:
		return err
	}
}

func pageFrom(r *colly.Response, rawURL string, elapsed time.Duration) scraper.Page {
	headers := http.Header{}
	if r.Headers != nil {
		for k, v := range *r.Headers {
			cp := make([]string, len(v))
			copy(cp, v)
			headers[k] = cp
		}
	}
	finalURL := rawURL
	if r.Request != nil && r.Request.URL != nil {
		finalURL = r.Request.URL.String()
	}
	return scraper.Page{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte{}, r.Body...),
		Duration:   elapsed,
	}
}

func newHTTPTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.Parallelism * 2,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// hostVariants returns the host with and without the www prefix, so a
// sitemap that mixes both still resolves to one site.
func hostVariants(host string) []string {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil
	}
	bare := strings.TrimPrefix(host, "www.")
	if bare == host {
		return []string{host, "www." + host}
	}
	return []string{bare, host}
}
