// Package detector decides when a static fetch needs a headless re-fetch.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	bodyLengthThreshold int
}

// NewHeuristic creates a new detector. A zero threshold selects the
// default of 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{bodyLengthThreshold: threshold}
}

// contentMarkers indicate the server already rendered what the parser
// needs, so a headless pass would only burn rate-limit budget.
var contentMarkers = [][]byte{
	[]byte("application/ld+json"),
	[]byte(`property="og:title"`),
}

// shellMarkers indicate a client-side app shell waiting for JS.
var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ShouldPromote reports whether the statically fetched page looks like an
// unrendered client shell. Non-200 responses and pages fetched headlessly
// already never promote.
func (h *Heuristic) ShouldPromote(probe scraper.Page) bool {
	if probe.StatusCode != http.StatusOK || probe.UsedHeadless {
		return false
	}
	body := probe.Body
	if len(body) == 0 {
		return true
	}
	for _, marker := range contentMarkers {
		if bytes.Contains(body, marker) {
			return false
		}
	}
	if len(body) < h.bodyLengthThreshold {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return scriptHeavy(body)
}

// scriptHeavy reports whether script tags cover at least a quarter of the
// document.
func scriptHeavy(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
