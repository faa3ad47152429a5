// Package simple implements the default crawl admission policy.
package simple

import (
	"net/url"
	"strings"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Policy decides which classified URLs enter the work list and which of them
// may be promoted to a headless fetch. Category listing pages shape the work
// list but are never fetched themselves; configured deny patterns exclude
// further paths.
type Policy struct {
	deny *pathPatternDenylist
}

// New builds a Policy from deny patterns. A pattern is an exact path
// ("/marketplace/experts") or a segment-boundary prefix wildcard
// ("/marketplace/experts/*").
func New(denyPaths ...string) *Policy {
	return &Policy{deny: newPathPatternDenylist(denyPaths)}
}

// AllowFetch reports whether a classified URL should be fetched.
func (p *Policy) AllowFetch(kind scraper.URLKind, rawURL string) bool {
	if kind == scraper.KindCategory {
		return false
	}
	return !p.deny.IsDenied(pathOf(rawURL))
}

// AllowHeadless reports whether a thin page of this kind may be re-fetched
// with a headless browser. Only record pages carry extractable fields.
func (p *Policy) AllowHeadless(kind scraper.URLKind, _ string) bool {
	return kind.IsRecord()
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

// pathPatternDenylist stores exact paths and prefix wildcards derived from
// configuration.
type pathPatternDenylist struct {
	exact    map[string]struct{}
	prefixes []string
}

func newPathPatternDenylist(patterns []string) *pathPatternDenylist {
	matcher := &pathPatternDenylist{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		if !strings.HasPrefix(value, "/") {
			value = "/" + value
		}
		if strings.HasSuffix(value, "*") {
			prefix := strings.TrimSuffix(strings.TrimSuffix(value, "*"), "/")
			if prefix != "" {
				matcher.addPrefix(prefix + "/")
			}
			continue
		}
		matcher.exact[normalizePath(value)] = struct{}{}
	}
	if len(matcher.exact) == 0 && len(matcher.prefixes) == 0 {
		return nil
	}
	return matcher
}

func (d *pathPatternDenylist) addPrefix(prefix string) {
	for _, existing := range d.prefixes {
		if existing == prefix {
			return
		}
	}
	d.prefixes = append(d.prefixes, prefix)
}

// IsDenied reports whether a request path matches a configured pattern.
// Prefix patterns match the bare path and anything below it, never a sibling
// that merely shares leading characters.
func (d *pathPatternDenylist) IsDenied(path string) bool {
	if d == nil {
		return false
	}
	path = normalizePath(path)
	if path == "" {
		return false
	}
	if _, exact := d.exact[path]; exact {
		return true
	}
	for _, prefix := range d.prefixes {
		if strings.HasPrefix(path+"/", prefix) {
			return true
		}
	}
	return false
}

func normalizePath(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
