package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// HTTP fetcher defaults.
const (
	DefaultTimeout   = 20 * time.Second
	DefaultUserAgent = "listingpipe/1.0"
	maxResponseBytes = 16 << 20
)

// HTTPFetcher reads listings from a JSON API:
//
//	GET {base}/api/search?q=<term>&location=<location>
//	  -> {"listings":[...]} or [...]
type HTTPFetcher struct {
	baseURL   string
	client    *http.Client
	userAgent string
	now       func() time.Time
}

func NewHTTPFetcher(baseURL, userAgent string, timeout time.Duration) (*HTTPFetcher, error) {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPFetcher{
		baseURL:   strings.TrimRight(base, "/"),
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		now:       time.Now,
	}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, q models.Query) ([]models.RawListing, error) {
	u, err := url.Parse(f.baseURL + "/api/search")
	if err != nil {
		return nil, err
	}
	params := u.Query()
	params.Set("q", strings.TrimSpace(q.SearchTerm))
	params.Set("location", strings.TrimSpace(q.Location))
	u.RawQuery = params.Encode()

	start := f.now()
	body, status, err := f.doGET(ctx, u.String())
	slog.Debug("HTTPFetcher.Fetch: search request", "query", q.String(), "status", status, "latency", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q, err)
	}

	records, err := decodeSearch(body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q, err)
	}
	return stamp(records, q, start.UTC()), nil
}

// decodeSearch accepts both object-wrapped and bare-array payloads. Elements
// that do not decode are skipped so one bad record never drops the batch.
func decodeSearch(body []byte) ([]models.RawListing, error) {
	var elems []json.RawMessage
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, fmt.Errorf("search payload parse: %w", err)
		}
	} else {
		var wrapped struct {
			Listings []json.RawMessage `json:"listings"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("search payload parse: %w", err)
		}
		elems = wrapped.Listings
	}

	out := make([]models.RawListing, 0, len(elems))
	for i, elem := range elems {
		var raw models.RawListing
		if err := json.Unmarshal(elem, &raw); err != nil {
			slog.Warn("HTTPFetcher.Fetch: skipping malformed record", "index", i, "error", err)
			continue
		}
		out = append(out, raw)
	}
	return out, nil
}

func (f *HTTPFetcher) doGET(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	status := resp.StatusCode
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, status, fmt.Errorf("read body: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, status, fmt.Errorf("http status %d", status)
	}
	return b, status, nil
}
