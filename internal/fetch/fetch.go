// Package fetch contains the upstream listing sources.
//
// A Fetcher returns a finite sequence of raw records for one (search term,
// location) query. Ordering is not chronological and callers must not rely
// on it. No implementation here contains site-specific scraping rules.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// Fetcher produces raw listings for a query.
type Fetcher interface {
	Fetch(ctx context.Context, q models.Query) ([]models.RawListing, error)
}

// ErrNoSource is returned by New when neither a base URL nor an input path is set.
var ErrNoSource = errors.New("no fetch source configured")

// Options selects and configures a Fetcher.
type Options struct {
	BaseURL   string // HTTP JSON endpoint
	InputPath string // JSON Lines dump; used when BaseURL is empty
	UserAgent string
	Timeout   time.Duration
}

// New returns an HTTPFetcher when BaseURL is set, otherwise a FileFetcher.
func New(opts Options) (Fetcher, error) {
	switch {
	case strings.TrimSpace(opts.BaseURL) != "":
		return NewHTTPFetcher(opts.BaseURL, opts.UserAgent, opts.Timeout)
	case strings.TrimSpace(opts.InputPath) != "":
		return NewFileFetcher(opts.InputPath), nil
	default:
		return nil, ErrNoSource
	}
}

// stamp fills provenance and scrape time on records that lack them.
func stamp(in []models.RawListing, q models.Query, scrapedAt time.Time) []models.RawListing {
	for i := range in {
		if in[i].SearchTerm == "" {
			in[i].SearchTerm = q.SearchTerm
		}
		if in[i].SearchLocation == "" {
			in[i].SearchLocation = q.Location
		}
		if in[i].ScrapedAt.IsZero() {
			in[i].ScrapedAt = scrapedAt
		}
	}
	return in
}

// StaticFetcher serves fixed records per query. Queries present in Fail
// return that error instead.
type StaticFetcher struct {
	Records map[models.Query][]models.RawListing
	Fail    map[models.Query]error
	Now     func() time.Time
}

func (s *StaticFetcher) Fetch(ctx context.Context, q models.Query) ([]models.RawListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.Fail[q]; ok {
		return nil, fmt.Errorf("fetch %s: %w", q, err)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	out := append([]models.RawListing(nil), s.Records[q]...)
	return stamp(out, q, now().UTC()), nil
}
