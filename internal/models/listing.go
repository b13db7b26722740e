package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxAge is the freshness window used when no max_age is configured.
const DefaultMaxAge = 10 * time.Minute

// RawPrice is the unparsed price text of a scraped record. Fetchers may
// deliver it as a JSON string ("$1,200") or a bare number (1200).
type RawPrice string

// UnmarshalJSON accepts strings, numbers and null.
func (p *RawPrice) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = RawPrice(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("price must be a string or number: %w", err)
	}
	*p = RawPrice(n.String())
	return nil
}

// RawListing is one payload produced by a fetcher. Every field is optional
// at this stage; the normalizer decides what is usable.
type RawListing struct {
	ID              string    `json:"id,omitempty"`
	Title           string    `json:"title,omitempty"`
	URL             string    `json:"url,omitempty"`
	Price           RawPrice  `json:"price,omitempty"`
	Location        string    `json:"location,omitempty"`
	PostedAt        string    `json:"posted_at,omitempty"` // absolute timestamp or relative hint ("5 minutes ago")
	Description     string    `json:"description,omitempty"`
	ImageURLs       []string  `json:"image_urls,omitempty"`
	ShippingEnabled *bool     `json:"shipping_enabled,omitempty"`
	SearchTerm      string    `json:"search_term,omitempty"`
	SearchLocation  string    `json:"search_location,omitempty"`
	ScrapedAt       time.Time `json:"scraped_at,omitempty"`
}

// Listing is the canonical marketplace item. Values are treated as
// immutable once the normalizer returns them.
type Listing struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Price           *float64  `json:"price"`
	Location        string    `json:"location"`
	PostedAt        time.Time `json:"posted_at"`
	PostTimeHint    string    `json:"post_time_str,omitempty"`
	ImageURLs       []string  `json:"image_urls"`
	URL             string    `json:"url"`
	ShippingEnabled *bool     `json:"shipping_enabled"`
	Description     string    `json:"description,omitempty"`
	SearchTerm      string    `json:"search_term"`
	SearchLocation  string    `json:"search_location"`
	ScrapedAt       time.Time `json:"scraped_at"`
}

// FirstImage returns the first image URL or an empty string.
func (l Listing) FirstImage() string {
	if len(l.ImageURLs) == 0 {
		return ""
	}
	return l.ImageURLs[0]
}

// PriceText renders the price for humans; unknown prices render as "n/a".
func (l Listing) PriceText() string {
	if l.Price == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *l.Price)
}

// SeenRecord is one entry of the deduplication store.
type SeenRecord struct {
	ID          string    `json:"id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Query is one (search term, location) pair.
type Query struct {
	SearchTerm string `json:"search_term"`
	Location   string `json:"location"`
}

func (q Query) String() string {
	return fmt.Sprintf("%q in %s", q.SearchTerm, q.Location)
}

// FilterConfig is the per-run filter snapshot. Build it with NewFilterConfig.
type FilterConfig struct {
	MaxAge        time.Duration
	AntiKeywords  []string
	AllowShipping bool
}

// NewFilterConfig lowercases, trims and de-duplicates the anti-keywords and
// applies DefaultMaxAge when maxAge is not positive.
func NewFilterConfig(maxAge time.Duration, antiKeywords []string, allowShipping bool) FilterConfig {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	seen := make(map[string]struct{}, len(antiKeywords))
	keywords := make([]string, 0, len(antiKeywords))
	for _, kw := range antiKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}
	return FilterConfig{
		MaxAge:        maxAge,
		AntiKeywords:  keywords,
		AllowShipping: allowShipping,
	}
}

// AdmitResult is the outcome of offering a listing to the deduplication store.
type AdmitResult int

const (
	// AlreadySeen means the id was admitted before, in this run or an earlier one.
	AlreadySeen AdmitResult = iota
	// NewlyAdmitted means the listing was persisted and its id durably recorded.
	NewlyAdmitted
)

func (r AdmitResult) String() string {
	switch r {
	case AlreadySeen:
		return "already_seen"
	case NewlyAdmitted:
		return "newly_admitted"
	default:
		return fmt.Sprintf("admit_result(%d)", int(r))
	}
}

// BoolPtr returns a pointer to b, handy for tri-state shipping flags.
func BoolPtr(b bool) *bool {
	return &b
}
