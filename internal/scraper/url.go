package scraper

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so the same page always maps to the same
// key. It lowercases the scheme and host, removes default ports and
// fragments, sorts query parameters, and trims a trailing slash from the
// path.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Classifier assigns every discovered URL to exactly one URLKind based on
// its path shape. URLs outside the target host are rejected with
// ErrForeignHost.
type Classifier struct {
	host string
}

// NewClassifier builds a classifier for the given target host
// (e.g. "www.framer.com").
func NewClassifier(host string) *Classifier {
	return &Classifier{host: strings.ToLower(host)}
}

// Classify normalizes rawURL and returns its kind plus the canonical form.
func (c *Classifier) Classify(rawURL string) (URLKind, string, error) {
	canonical, err := NormalizeURL(rawURL)
	if err != nil {
		return "", "", err
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return "", "", fmt.Errorf("parse canonical url: %w", err)
	}
	if u.Host != c.host {
		return "", "", fmt.Errorf("%w: %s", ErrForeignHost, u.Host)
	}

	segments := pathSegments(u.Path)
	return classifySegments(segments), canonical, nil
}

func classifySegments(segments []string) URLKind {
	if len(segments) > 0 && strings.HasPrefix(segments[0], "@") && len(segments[0]) > 1 {
		return KindCreator
	}
	if len(segments) == 0 || segments[0] != "marketplace" {
		return KindInfo
	}

	// Everything below here is under /marketplace.
	if len(segments) == 1 {
		return KindCategory
	}
	switch segments[1] {
	case "plugins", "templates":
		if len(segments) == 2 {
			return KindCategory
		}
		if segments[1] == "plugins" {
			return KindPlugin
		}
		return KindTemplate
	case "categories":
		return KindCategory
	case "creators":
		if len(segments) >= 3 {
			return KindCreator
		}
		return KindCategory
	default:
		return KindInfo
	}
}

// Slug returns the last path segment of a canonical URL, or "" when the
// path is empty. Used as the record slug fallback when a page exposes none.
func Slug(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	segments := pathSegments(u.Path)
	if len(segments) == 0 {
		return ""
	}
	last := segments[len(segments)-1]
	return strings.TrimPrefix(last, "@")
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
