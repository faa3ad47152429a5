package headless

import (
	"context"
	"errors"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Noop implements Fetcher but always returns an error, for builds and
// deployments where headless Chrome is unavailable. The worker falls back
// to the static page when promotion fails.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ scraper.FetchRequest) (scraper.Page, error) {
	return scraper.Page{}, errors.New("headless fetcher not configured")
}
