// Package sitemap discovers and classifies crawl targets from the site's
// XML sitemap.
package sitemap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Index is the classified result of one discovery pass.
type Index struct {
	Items   []scraper.WorkItem      `json:"items"`
	ByKind  map[scraper.URLKind]int `json:"by_kind"`
	Dropped int                     `json:"dropped"`
}

func newIndex() *Index {
	return &Index{ByKind: make(map[scraper.URLKind]int)}
}

func (ix *Index) add(item scraper.WorkItem) {
	ix.Items = append(ix.Items, item)
	ix.ByKind[item.Kind]++
}

// RecordURLCount returns how many discovered URLs yield marketplace
// records. The pre-fetch gate compares this count against its threshold.
func (ix *Index) RecordURLCount() int {
	return ix.ByKind[scraper.KindPlugin] + ix.ByKind[scraper.KindTemplate]
}

// Service fetches the target's XML sitemap, follows one level of
// <sitemapindex> indirection, and classifies every URL it yields.
type Service struct {
	client     *http.Client
	classifier *scraper.Classifier
	userAgent  string
	logger     *zap.Logger
}

// New constructs a discovery service. A nil client falls back to
// http.DefaultClient.
func New(client *http.Client, classifier *scraper.Classifier, userAgent string, logger *zap.Logger) *Service {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client:     client,
		classifier: classifier,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// Discover fetches and parses the sitemap rooted at sitemapURL and returns
// the classified index. Failures carry a scraper.DiscoveryError whose class
// decides how the run reacts: 5xx aborts with exit code 2 and never falls
// back to a cached classification, network errors and broken documents
// permit the cache, and a sitemap with zero usable URLs is malformed.
func (s *Service) Discover(ctx context.Context, sitemapURL string) (*Index, error) {
	body, err := s.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	entries, err := s.parse(ctx, body)
	if err != nil {
		return nil, err
	}

	ix := newIndex()
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		kind, canonical, cerr := s.classifier.Classify(e.loc)
		if cerr != nil {
			ix.Dropped++
			s.logger.Debug("dropped sitemap url", zap.String("url", e.loc), zap.Error(cerr))
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		ix.add(scraper.WorkItem{URL: canonical, Kind: kind, LastMod: e.lastMod})
	}

	if len(ix.Items) == 0 {
		return nil, scraper.NewDiscoveryError(scraper.DiscoveryMalformed, 0, errors.New("sitemap yielded no usable urls"))
	}

	s.logger.Info("sitemap discovery complete",
		zap.Int("urls", len(ix.Items)),
		zap.Int("dropped", ix.Dropped),
		zap.Any("by_kind", ix.ByKind),
	)
	return ix, nil
}

type entry struct {
	loc     string
	lastMod *time.Time
}

func (s *Service) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build sitemap request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, scraper.NewDiscoveryError(scraper.DiscoveryTransient, 0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, scraper.NewDiscoveryError(
			scraper.DiscoveryUpstreamUnavailable,
			resp.StatusCode,
			fmt.Errorf("sitemap endpoint returned %d", resp.StatusCode),
		)
	case resp.StatusCode != http.StatusOK:
		// Non-5xx errors (redirect loops, auth walls, 404 on a moved
		// sitemap) are transient from the run's point of view: the cached
		// classification may substitute.
		return nil, scraper.NewDiscoveryError(
			scraper.DiscoveryTransient,
			resp.StatusCode,
			fmt.Errorf("sitemap endpoint returned %d", resp.StatusCode),
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, scraper.NewDiscoveryError(scraper.DiscoveryTransient, 0, fmt.Errorf("read sitemap body: %w", err))
	}
	return body, nil
}

func (s *Service) parse(ctx context.Context, body []byte) ([]entry, error) {
	root, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	if root.Tag == "sitemapindex" {
		return s.parseIndexDoc(ctx, root)
	}
	return parseURLSet(root), nil
}

// parseIndexDoc resolves a <sitemapindex> by fetching each child urlset.
// Only one level of indirection is followed; nested indexes are skipped.
func (s *Service) parseIndexDoc(ctx context.Context, root *etree.Element) ([]entry, error) {
	var all []entry
	seen := make(map[string]struct{})
	for _, sm := range root.SelectElements("sitemap") {
		loc := sm.SelectElement("loc")
		if loc == nil {
			continue
		}
		childURL := strings.TrimSpace(loc.Text())
		if childURL == "" {
			continue
		}
		if _, ok := seen[childURL]; ok {
			continue
		}
		seen[childURL] = struct{}{}

		if err := ctx.Err(); err != nil {
			return nil, scraper.NewDiscoveryError(scraper.DiscoveryTransient, 0, err)
		}
		body, err := s.fetch(ctx, childURL)
		if err != nil {
			return nil, err
		}
		childRoot, err := parseDocument(body)
		if err != nil {
			return nil, fmt.Errorf("child sitemap %s: %w", childURL, err)
		}
		if childRoot.Tag == "sitemapindex" {
			s.logger.Warn("skipping nested sitemap index", zap.String("url", childURL))
			continue
		}
		all = append(all, parseURLSet(childRoot)...)
	}
	return all, nil
}

// parseDocument decodes a sitemap body. Broken XML classifies as transient,
// same as a network error: a half-delivered document is indistinguishable
// from a truncated read, and the cached classification may substitute.
func parseDocument(body []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, scraper.NewDiscoveryError(scraper.DiscoveryTransient, 0, fmt.Errorf("parse sitemap xml: %w", err))
	}
	root := doc.Root()
	if root == nil {
		return nil, scraper.NewDiscoveryError(scraper.DiscoveryTransient, 0, errors.New("empty sitemap document"))
	}
	return root, nil
}

func parseURLSet(root *etree.Element) []entry {
	var entries []entry
	for _, urlEl := range root.SelectElements("url") {
		loc := urlEl.SelectElement("loc")
		if loc == nil {
			continue
		}
		u := strings.TrimSpace(loc.Text())
		if u == "" {
			continue
		}
		e := entry{loc: u}
		if lm := urlEl.SelectElement("lastmod"); lm != nil {
			if ts, ok := parseLastMod(strings.TrimSpace(lm.Text())); ok {
				e.lastMod = &ts
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// parseLastMod accepts the W3C datetime forms sitemaps use in the wild.
func parseLastMod(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
