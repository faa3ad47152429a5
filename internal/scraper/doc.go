// Package scraper defines the core types and interfaces shared across the
// crawl engine: work items, fetch outcomes, marketplace records, run
// summaries, and the collaborator interfaces implemented under internal/.
package scraper
