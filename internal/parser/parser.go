// Package parser extracts marketplace records from fetched HTML.
//
// Product pages carry JSON-LD blocks, so structured data is tried first
// and OpenGraph / DOM selectors fill the gaps. Creator and info pages have
// no product markup; for those only the identity and text fields are
// populated, enough for change fingerprinting.
package parser

import (
	"bytes"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// ErrNoContent is returned when a page yields no usable title from any
// source. A 200 response that trips this is treated as a terminal parse
// failure upstream.
var ErrNoContent = errors.New("page has no extractable content")

// Marketplace parses Framer marketplace pages.
type Marketplace struct{}

func New() *Marketplace {
	return &Marketplace{}
}

// Parse extracts a record from page according to kind. Product kinds get
// the full field set; creator and info kinds only identity and text.
func (m *Marketplace) Parse(page scraper.Page, kind scraper.URLKind) (scraper.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return scraper.Record{}, err
	}

	rec := scraper.Record{
		Kind: kind,
		URL:  page.URL,
		Slug: scraper.Slug(page.URL),
	}

	if kind.IsRecord() {
		if prod, ok := productFromJSONLD(doc); ok {
			rec.ID = prod.id
			rec.Title = prod.name
			rec.Description = prod.description
			rec.Category = prod.category
			rec.OwnerHandle = prod.ownerHandle
			rec.PriceCents = prod.priceCents
			rec.Currency = prod.currency
			rec.Rating = prod.rating
			rec.RatingCount = prod.ratingCount
		}
		if rec.Category == "" {
			rec.Category = categoryFromBreadcrumb(doc)
		}
		if rec.OwnerHandle == "" {
			rec.OwnerHandle = handleFromCreatorLink(doc)
		}
	}

	if kind == scraper.KindCreator {
		rec.OwnerHandle = strings.TrimPrefix(rec.Slug, "@")
	}

	if rec.Title == "" {
		rec.Title = titleFallback(doc)
	}
	if rec.Description == "" {
		rec.Description = metaContent(doc, `meta[property="og:description"]`)
	}
	if rec.Description == "" {
		rec.Description = metaContent(doc, `meta[name="description"]`)
	}

	if rec.Title == "" {
		return scraper.Record{}, ErrNoContent
	}
	return rec, nil
}

// titleFallback walks the usual sources in order of reliability.
func titleFallback(doc *goquery.Document) string {
	if t := metaContent(doc, `meta[property="og:title"]`); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

// categoryFromBreadcrumb picks the first category link on the page.
func categoryFromBreadcrumb(doc *goquery.Document) string {
	var category string
	doc.Find(`a[href*="/marketplace/categories/"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			category = text
			return false
		}
		return true
	})
	return category
}

// handleFromCreatorLink extracts the @handle from the first profile link.
func handleFromCreatorLink(doc *goquery.Document) string {
	var handle string
	doc.Find(`a[href*="/@"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		if h := handleFromHref(href); h != "" {
			handle = h
			return false
		}
		return true
	})
	return handle
}

func handleFromHref(href string) string {
	idx := strings.Index(href, "/@")
	if idx < 0 {
		return ""
	}
	rest := href[idx+2:]
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
