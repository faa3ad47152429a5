package simple

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

func TestAllowFetchSkipsCategories(t *testing.T) {
	t.Parallel()

	p := New()
	require.False(t, p.AllowFetch(scraper.KindCategory, "https://www.framer.com/marketplace/templates/"))
	require.True(t, p.AllowFetch(scraper.KindPlugin, "https://www.framer.com/marketplace/plugins/analytics-lite/"))
	require.True(t, p.AllowFetch(scraper.KindCreator, "https://www.framer.com/marketplace/creators/studio-north/"))
	require.True(t, p.AllowFetch(scraper.KindInfo, "https://www.framer.com/marketplace/"))
}

func TestAllowFetchDenyPatterns(t *testing.T) {
	t.Parallel()

	p := New("/marketplace/plugins/legacy-widget/", "/marketplace/experts/*")

	require.False(t, p.AllowFetch(scraper.KindPlugin, "https://www.framer.com/marketplace/plugins/legacy-widget/"))
	require.False(t, p.AllowFetch(scraper.KindInfo, "https://www.framer.com/marketplace/experts/"))
	require.False(t, p.AllowFetch(scraper.KindInfo, "https://www.framer.com/marketplace/experts/studio-east/"))
	require.True(t, p.AllowFetch(scraper.KindPlugin, "https://www.framer.com/marketplace/plugins/analytics-lite/"))
}

func TestAllowHeadlessRecordKindsOnly(t *testing.T) {
	t.Parallel()

	p := New()
	require.True(t, p.AllowHeadless(scraper.KindPlugin, "https://www.framer.com/marketplace/plugins/analytics-lite/"))
	require.True(t, p.AllowHeadless(scraper.KindTemplate, "https://www.framer.com/marketplace/templates/portfolio-noir/"))
	require.False(t, p.AllowHeadless(scraper.KindCreator, "https://www.framer.com/marketplace/creators/studio-north/"))
	require.False(t, p.AllowHeadless(scraper.KindInfo, "https://www.framer.com/marketplace/"))
}

func TestDenylistNormalization(t *testing.T) {
	t.Parallel()

	require.Nil(t, newPathPatternDenylist([]string{"", "   "}))

	d := newPathPatternDenylist([]string{"marketplace/Experts/*", "/About"})
	require.True(t, d.IsDenied("/marketplace/experts/anyone/"))
	require.True(t, d.IsDenied("/marketplace/experts"))
	require.True(t, d.IsDenied("/about/"))
	require.False(t, d.IsDenied("/marketplace/expertise/"))
	require.False(t, d.IsDenied("/marketplace/plugins/analytics-lite/"))
}

func TestDenylistDeduplicatesPrefixes(t *testing.T) {
	t.Parallel()

	d := newPathPatternDenylist([]string{"/beta/*", "/beta/*", "/beta*"})
	require.Len(t, d.prefixes, 1)
}
