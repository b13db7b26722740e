// Package testutil provides common test fixtures and helpers for ListingPipe tests.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// ScrapeTime is the fixed scrape time used by fixtures.
var ScrapeTime = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

// ItemURL returns a marketplace item link for id.
func ItemURL(id string) string {
	return "https://www.facebook.com/marketplace/item/" + id + "/"
}

// NewListing returns a fully populated, fresh listing with shipping disabled.
func NewListing(id string) models.Listing {
	price := 120.0
	return models.Listing{
		ID:              id,
		Title:           "Road bike " + id,
		Price:           &price,
		Location:        "Toronto, ON",
		PostedAt:        ScrapeTime.Add(-5 * time.Minute),
		PostTimeHint:    "5 minutes ago",
		ImageURLs:       []string{"https://img.example/" + id + ".jpg"},
		URL:             ItemURL(id),
		ShippingEnabled: models.BoolPtr(false),
		SearchTerm:      "bike",
		SearchLocation:  "toronto",
		ScrapedAt:       ScrapeTime,
	}
}

// NewRawListing returns a raw record posted two minutes before the scrape.
func NewRawListing(id, title string, shipping *bool) models.RawListing {
	return models.RawListing{
		ID:              id,
		Title:           title,
		URL:             ItemURL(id),
		Price:           "$450",
		PostedAt:        "2 minutes ago",
		ShippingEnabled: shipping,
	}
}

// WriteJSONLines writes one JSON document per line to dir/name and returns the path.
func WriteJSONLines(t *testing.T, dir, name string, records ...any) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			t.Fatalf("encode record: %v", err)
		}
	}
	return path
}

// AssertCount fails the test when got differs from want.
func AssertCount(t *testing.T, name string, want, got int) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %d, got %d", name, want, got)
	}
}
