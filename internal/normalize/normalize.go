// Package normalize converts raw fetcher payloads into canonical listings.
//
// Normalization is a pure transformation: a bad record yields a
// *models.NormalizationError and never affects other records.
package normalize

import (
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

var itemIDPattern = regexp.MustCompile(`/item/(\d+)`)

// Normalizer turns RawListings into Listings. The zero value is usable.
type Normalizer struct {
	// now is used only when a raw record carries no scrape time.
	now func() time.Time
}

// NewNormalizer returns a Normalizer using time.Now as the fallback clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// WithClock returns a copy of n using now as the fallback clock.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize validates raw and returns the canonical listing.
func (n *Normalizer) Normalize(raw models.RawListing) (models.Listing, error) {
	link := strings.TrimSpace(raw.URL)
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		id = ExtractID(link)
	}

	switch {
	case id == "":
		return models.Listing{}, missing("id", raw)
	case collapseSpace(raw.Title) == "":
		return models.Listing{}, missing("title", raw)
	case link == "":
		return models.Listing{}, missing("url", raw)
	case !models.ValidID(id):
		return models.Listing{}, &models.NormalizationError{
			Kind:  models.KindInvalidID,
			Field: "id",
			RawID: strconv.Quote(id),
		}
	}

	scrapedAt := raw.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = n.clock()
	}
	scrapedAt = scrapedAt.UTC()

	postedAt, err := ParsePostTime(raw.PostedAt, scrapedAt)
	if err != nil {
		slog.Debug("Normalizer.Normalize: unparsable timestamp", "id", id, "posted_at", raw.PostedAt)
		return models.Listing{}, &models.NormalizationError{
			Kind:  models.KindUnparsableTimestamp,
			Field: "posted_at",
			RawID: id,
			Cause: err,
		}
	}

	return models.Listing{
		ID:              id,
		Title:           collapseSpace(raw.Title),
		Price:           ParsePrice(string(raw.Price)),
		Location:        collapseSpace(raw.Location),
		PostedAt:        postedAt,
		PostTimeHint:    strings.TrimSpace(raw.PostedAt),
		ImageURLs:       cleanImages(raw.ImageURLs),
		URL:             CanonicalURL(link),
		ShippingEnabled: raw.ShippingEnabled,
		Description:     strings.TrimSpace(raw.Description),
		SearchTerm:      strings.TrimSpace(raw.SearchTerm),
		SearchLocation:  strings.TrimSpace(raw.SearchLocation),
		ScrapedAt:       scrapedAt,
	}, nil
}

func (n *Normalizer) clock() time.Time {
	if n == nil || n.now == nil {
		return time.Now()
	}
	return n.now()
}

// ExtractID pulls the numeric item id out of a marketplace item link.
func ExtractID(link string) string {
	m := itemIDPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}

// CanonicalURL drops query strings and fragments from item links; tracking
// parameters make the same item look like different URLs. Other links and
// unparsable values are returned trimmed but otherwise unchanged.
func CanonicalURL(link string) string {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || u.Host == "" || !itemIDPattern.MatchString(u.Path) {
		return link
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func missing(field string, raw models.RawListing) error {
	rawID := raw.ID
	if rawID == "" {
		rawID = raw.URL
	}
	return &models.NormalizationError{
		Kind:  models.KindMissingField,
		Field: field,
		RawID: rawID,
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cleanImages(in []string) []string {
	out := make([]string, 0, len(in))
	for _, img := range in {
		if img = strings.TrimSpace(img); img != "" {
			out = append(out, img)
		}
	}
	return out
}
