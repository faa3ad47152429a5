// Package gate holds the safety checks that keep a broken crawl from
// wiping downstream data.
package gate

import (
	"go.uber.org/zap"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Gate evaluates the pre-fetch and pre-publish checks. Both are pure
// threshold decisions; the orchestrator turns a failure into an abort.
type Gate struct {
	minRecordURLs int
	logger        *zap.Logger
}

func New(minRecordURLs int, logger *zap.Logger) *Gate {
	return &Gate{minRecordURLs: minRecordURLs, logger: logger}
}

// PreFetch verifies discovery yielded a plausible number of record URLs
// before any page is fetched. A tiny count means the sitemap or the
// classifier broke, not that the marketplace shrank overnight.
func (g *Gate) PreFetch(recordURLs int) scraper.GateResult {
	if recordURLs < g.minRecordURLs {
		g.logger.Error("pre-fetch gate failed",
			zap.Int("record_urls", recordURLs),
			zap.Int("min_record_urls", g.minRecordURLs),
		)
		return scraper.GateFailed
	}
	g.logger.Info("pre-fetch gate passed",
		zap.Int("record_urls", recordURLs),
		zap.Int("min_record_urls", g.minRecordURLs),
	)
	return scraper.GatePassed
}

// PrePublish verifies at least one record is pending before sinks flush
// and change notifications go out. Zero records after a full fetch pass
// means parsing collapsed, and publishing would clobber good data.
func (g *Gate) PrePublish(pending int) scraper.GateResult {
	if pending == 0 {
		g.logger.Error("pre-publish gate failed", zap.Int("pending_records", 0))
		return scraper.GateFailed
	}
	g.logger.Info("pre-publish gate passed", zap.Int("pending_records", pending))
	return scraper.GatePassed
}
