package sitemap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

const urlsetDoc = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>http://HOST/marketplace/plugins/seo-checker</loc><lastmod>2026-08-01T10:00:00Z</lastmod></url>
  <url><loc>http://HOST/marketplace/templates/portfolio-dark</loc><lastmod>2026-08-02</lastmod></url>
  <url><loc>http://HOST/marketplace/plugins</loc></url>
  <url><loc>http://HOST/marketplace/creators/jane-doe</loc></url>
  <url><loc>http://HOST/@john</loc></url>
  <url><loc>http://HOST/blog/launch</loc></url>
  <url><loc>http://elsewhere.example.com/offsite</loc></url>
</urlset>`

func hostOf(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u.Host
}

func TestDiscoverClassifiesURLSet(t *testing.T) {
	t.Parallel()

	var doc string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, doc)
	}))
	defer srv.Close()

	host := hostOf(t, srv)
	doc = strings.ReplaceAll(urlsetDoc, "HOST", host)

	svc := New(srv.Client(), scraper.NewClassifier(host), "test-agent", zap.NewNop())
	ix, err := svc.Discover(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)

	require.Len(t, ix.Items, 6)
	require.Equal(t, 1, ix.ByKind[scraper.KindPlugin])
	require.Equal(t, 1, ix.ByKind[scraper.KindTemplate])
	require.Equal(t, 1, ix.ByKind[scraper.KindCategory])
	require.Equal(t, 2, ix.ByKind[scraper.KindCreator])
	require.Equal(t, 1, ix.ByKind[scraper.KindInfo])
	require.Equal(t, 1, ix.Dropped, "off-host url should be dropped")
	require.Equal(t, 2, ix.RecordURLCount())

	require.NotNil(t, ix.Items[0].LastMod)
	require.Equal(t, time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC), ix.Items[0].LastMod.UTC())
	require.NotNil(t, ix.Items[1].LastMod, "date-only lastmod should parse")
	require.Nil(t, ix.Items[2].LastMod)
}

func TestDiscoverFollowsSitemapIndex(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	host := hostOf(t, srv)

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/sitemap-plugins.xml</loc></sitemap>
  <sitemap><loc>%s/sitemap-templates.xml</loc></sitemap>
</sitemapindex>`, srv.URL, srv.URL)
	})
	mux.HandleFunc("/sitemap-plugins.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<urlset><url><loc>%s/marketplace/plugins/alpha</loc></url></urlset>`, srv.URL)
	})
	mux.HandleFunc("/sitemap-templates.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<urlset><url><loc>%s/marketplace/templates/beta</loc></url></urlset>`, srv.URL)
	})

	svc := New(srv.Client(), scraper.NewClassifier(host), "test-agent", zap.NewNop())
	ix, err := svc.Discover(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, 2, ix.RecordURLCount())
	require.Equal(t, 1, ix.ByKind[scraper.KindPlugin])
	require.Equal(t, 1, ix.ByKind[scraper.KindTemplate])
}

func TestDiscoverServerErrorIsUpstreamUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc := New(srv.Client(), scraper.NewClassifier(hostOf(t, srv)), "test-agent", zap.NewNop())
	_, err := svc.Discover(context.Background(), srv.URL+"/sitemap.xml")

	var derr *scraper.DiscoveryError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, scraper.DiscoveryUpstreamUnavailable, derr.Failure)
	require.Equal(t, http.StatusServiceUnavailable, derr.Status)
}

func TestDiscoverNetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL
	srv.Close()

	svc := New(nil, scraper.NewClassifier("www.framer.com"), "test-agent", zap.NewNop())
	_, err := svc.Discover(context.Background(), dead+"/sitemap.xml")

	var derr *scraper.DiscoveryError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, scraper.DiscoveryTransient, derr.Failure)
}

func TestDiscoverEmptyURLSetIsMalformed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"></urlset>`)
	}))
	defer srv.Close()

	svc := New(srv.Client(), scraper.NewClassifier(hostOf(t, srv)), "test-agent", zap.NewNop())
	_, err := svc.Discover(context.Background(), srv.URL+"/sitemap.xml")

	var derr *scraper.DiscoveryError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, scraper.DiscoveryMalformed, derr.Failure)
}

func TestDiscoverNotFoundIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	svc := New(srv.Client(), scraper.NewClassifier(hostOf(t, srv)), "test-agent", zap.NewNop())
	_, err := svc.Discover(context.Background(), srv.URL+"/sitemap.xml")

	var derr *scraper.DiscoveryError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, scraper.DiscoveryTransient, derr.Failure, "a moved sitemap may fall back to the cache")
	require.Equal(t, http.StatusNotFound, derr.Status)
}

func TestDiscoverBrokenXMLIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<urlset><url><loc>https://www.framer.com/x`)
	}))
	defer srv.Close()

	svc := New(srv.Client(), scraper.NewClassifier(hostOf(t, srv)), "test-agent", zap.NewNop())
	_, err := svc.Discover(context.Background(), srv.URL+"/sitemap.xml")

	var derr *scraper.DiscoveryError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, scraper.DiscoveryTransient, derr.Failure, "a truncated document reads like a truncated connection")
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cache := NewCache(dir)

	missing, err := cache.Load()
	require.NoError(t, err)
	require.Nil(t, missing)

	lastMod := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	ix := newIndex()
	ix.add(scraper.WorkItem{URL: "https://www.framer.com/marketplace/plugins/alpha", Kind: scraper.KindPlugin, LastMod: &lastMod})
	ix.Dropped = 3

	require.NoError(t, cache.Save(ix))

	loaded, err := cache.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, ix.Items, loaded.Items)
	require.Equal(t, 3, loaded.Dropped)
	require.Equal(t, 1, loaded.ByKind[scraper.KindPlugin])
}
