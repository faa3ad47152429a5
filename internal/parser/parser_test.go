package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

const pluginPageJSONLD = `<!DOCTYPE html>
<html>
<head>
<title>Chart Kit | Framer Marketplace</title>
<meta property="og:title" content="Chart Kit">
<meta property="og:description" content="Beautiful charts for your site.">
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "Product",
  "productID": "plg_8f2c1a",
  "name": "Chart Kit",
  "description": "Beautiful charts for your site.",
  "category": "Analytics",
  "author": {"@type": "Person", "name": "Acme Studio", "url": "https://www.framer.com/@acme/"},
  "offers": {"@type": "Offer", "price": "29.00", "priceCurrency": "USD"},
  "aggregateRating": {"@type": "AggregateRating", "ratingValue": "4.8", "ratingCount": "212"}
}
</script>
</head>
<body><h1>Chart Kit</h1></body>
</html>`

const templatePageArrayLD = `<!DOCTYPE html>
<html>
<head><title>Portfolio Pro</title>
<script type="application/ld+json">
[
  {"@type": "WebPage", "name": "ignored"},
  {
    "@type": ["Product", "CreativeWork"],
    "sku": "tpl_0042",
    "name": "Portfolio Pro",
    "offers": [{"price": 0, "priceCurrency": ""}],
    "aggregateRating": {"ratingValue": 4.5, "reviewCount": 37}
  }
]
</script>
</head>
<body></body>
</html>`

const pluginPageNoLD = `<!DOCTYPE html>
<html>
<head>
<meta property="og:title" content="Form Builder">
<meta name="description" content="Forms without code.">
</head>
<body>
<nav><a href="/marketplace/categories/forms/">Forms</a></nav>
<a href="https://www.framer.com/@formsmith/?ref=page">Formsmith</a>
</body>
</html>`

const creatorPage = `<!DOCTYPE html>
<html>
<head>
<meta property="og:title" content="Acme Studio">
<meta property="og:description" content="Design tools by Acme.">
</head>
<body><h1>Acme Studio</h1></body>
</html>`

const infoPage = `<!DOCTYPE html>
<html>
<head>
<title>Using the marketplace</title>
<meta name="description" content="How purchases and licenses work.">
</head>
<body><p>Details.</p></body>
</html>`

func TestParsePluginWithJSONLD(t *testing.T) {
	t.Parallel()

	page := scraper.Page{
		URL:  "https://www.framer.com/marketplace/plugins/chart-kit/",
		Body: []byte(pluginPageJSONLD),
	}
	rec, err := New().Parse(page, scraper.KindPlugin)
	require.NoError(t, err)

	require.Equal(t, "plg_8f2c1a", rec.ID)
	require.Equal(t, scraper.KindPlugin, rec.Kind)
	require.Equal(t, "chart-kit", rec.Slug)
	require.Equal(t, "Chart Kit", rec.Title)
	require.Equal(t, "Beautiful charts for your site.", rec.Description)
	require.Equal(t, "Analytics", rec.Category)
	require.Equal(t, "acme", rec.OwnerHandle)
	require.Equal(t, 2900, rec.PriceCents)
	require.Equal(t, "USD", rec.Currency)
	require.InDelta(t, 4.8, rec.Rating, 0.001)
	require.Equal(t, 212, rec.RatingCount)
	require.Equal(t, "id:plg_8f2c1a", rec.DedupKey())
}

func TestParseTemplateArrayBlock(t *testing.T) {
	t.Parallel()

	page := scraper.Page{
		URL:  "https://www.framer.com/marketplace/templates/portfolio-pro/",
		Body: []byte(templatePageArrayLD),
	}
	rec, err := New().Parse(page, scraper.KindTemplate)
	require.NoError(t, err)

	require.Equal(t, "tpl_0042", rec.ID)
	require.Equal(t, "Portfolio Pro", rec.Title)
	require.Equal(t, 0, rec.PriceCents)
	require.Equal(t, "USD", rec.Currency)
	require.InDelta(t, 4.5, rec.Rating, 0.001)
	require.Equal(t, 37, rec.RatingCount)
}

func TestParsePluginFallbacks(t *testing.T) {
	t.Parallel()

	page := scraper.Page{
		URL:  "https://www.framer.com/marketplace/plugins/form-builder/",
		Body: []byte(pluginPageNoLD),
	}
	rec, err := New().Parse(page, scraper.KindPlugin)
	require.NoError(t, err)

	require.Empty(t, rec.ID)
	require.Equal(t, "Form Builder", rec.Title)
	require.Equal(t, "Forms without code.", rec.Description)
	require.Equal(t, "Forms", rec.Category)
	require.Equal(t, "formsmith", rec.OwnerHandle)
	require.Equal(t, "url:https://www.framer.com/marketplace/plugins/form-builder/", rec.DedupKey())
}

func TestParseCreatorPage(t *testing.T) {
	t.Parallel()

	page := scraper.Page{
		URL:  "https://www.framer.com/@acme/",
		Body: []byte(creatorPage),
	}
	rec, err := New().Parse(page, scraper.KindCreator)
	require.NoError(t, err)

	require.Equal(t, "acme", rec.OwnerHandle)
	require.Equal(t, "Acme Studio", rec.Title)
	require.Equal(t, "Design tools by Acme.", rec.Description)
}

func TestParseInfoPageTitleTag(t *testing.T) {
	t.Parallel()

	page := scraper.Page{
		URL:  "https://www.framer.com/legal/terms/",
		Body: []byte(infoPage),
	}
	rec, err := New().Parse(page, scraper.KindInfo)
	require.NoError(t, err)

	require.Equal(t, "Using the marketplace", rec.Title)
	require.Equal(t, "How purchases and licenses work.", rec.Description)
}

func TestParseBlankPageFails(t *testing.T) {
	t.Parallel()

	page := scraper.Page{
		URL:  "https://www.framer.com/marketplace/plugins/ghost/",
		Body: []byte("<html><head></head><body></body></html>"),
	}
	_, err := New().Parse(page, scraper.KindPlugin)
	require.ErrorIs(t, err, ErrNoContent)
}

func TestPriceCents(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want int
	}{
		{raw: "29.00", want: 2900},
		{raw: "$5", want: 500},
		{raw: "12.5", want: 1250},
		{raw: "Free", want: 0},
		{raw: "", want: 0},
		{raw: "0", want: 0},
		{raw: "1.999", want: 199},
		{raw: "not a price", want: 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, priceCents(tc.raw), "priceCents(%q)", tc.raw)
	}
}
