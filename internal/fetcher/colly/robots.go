package collyfetcher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// maxRobotsBody caps how much of a robots.txt response is retained.
const maxRobotsBody = 512 * 1024

// robotsCacheTransport answers robots.txt requests from an in-memory
// cache. Every per-request collector clone re-checks robots, so without
// the cache a crawl of n pages would hit /robots.txt n times on a site
// that is already rate limiting us.
type robotsCacheTransport struct {
	base http.RoundTripper

	mu    sync.Mutex
	cache map[string]robotsEntry
}

type robotsEntry struct {
	status int
	body   []byte
}

func newRobotsCacheTransport(base http.RoundTripper) *robotsCacheTransport {
	return &robotsCacheTransport{
		base:  base,
		cache: make(map[string]robotsEntry),
	}
}

// RoundTrip serves robots.txt from cache when possible and passes every
// other request straight through. A failed robots fetch is answered with
// a synthetic allow-all and is not cached, so the next clone probes again.
func (t *robotsCacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}

	host := req.URL.Host
	t.mu.Lock()
	entry, ok := t.cache[host]
	t.mu.Unlock()
	if ok {
		return syntheticRobotsResponse(req, entry.status, entry.body), nil
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return syntheticRobotsResponse(req, http.StatusOK, []byte(robotsAllowAll)), nil
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	closeErr := resp.Body.Close()
	if readErr != nil || closeErr != nil {
		return syntheticRobotsResponse(req, http.StatusOK, []byte(robotsAllowAll)), nil
	}

	t.mu.Lock()
	t.cache[host] = robotsEntry{status: resp.StatusCode, body: body}
	t.mu.Unlock()

	return syntheticRobotsResponse(req, resp.StatusCode, body), nil
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

const robotsAllowAll = "User-agent: *\nAllow: /"

func syntheticRobotsResponse(req *http.Request, status int, body []byte) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}
