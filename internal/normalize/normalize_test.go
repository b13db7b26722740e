package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

var scrapeTime = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func validRaw() models.RawListing {
	return models.RawListing{
		ID:             "123",
		Title:          "  iPhone 13\t128GB  ",
		URL:            "https://www.facebook.com/marketplace/item/123/?ref=search",
		Price:          "$1,200",
		Location:       "Toronto, ON",
		PostedAt:       "5 minutes ago",
		ImageURLs:      []string{"", " https://img.example/1.jpg "},
		SearchTerm:     "iphone",
		SearchLocation: "toronto",
		ScrapedAt:      scrapeTime,
	}
}

func TestNormalizeValidRecord(t *testing.T) {
	l, err := NewNormalizer().Normalize(validRaw())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if l.Title != "iPhone 13 128GB" {
		t.Errorf("Title = %q", l.Title)
	}
	if l.Price == nil || *l.Price != 1200 {
		t.Errorf("Price = %v, want 1200", l.Price)
	}
	if want := scrapeTime.Add(-5 * time.Minute); !l.PostedAt.Equal(want) {
		t.Errorf("PostedAt = %v, want %v", l.PostedAt, want)
	}
	if l.URL != "https://www.facebook.com/marketplace/item/123/" {
		t.Errorf("URL = %q", l.URL)
	}
	if len(l.ImageURLs) != 1 || l.ImageURLs[0] != "https://img.example/1.jpg" {
		t.Errorf("ImageURLs = %v", l.ImageURLs)
	}
	if l.ShippingEnabled != nil {
		t.Errorf("ShippingEnabled = %v, want unknown", *l.ShippingEnabled)
	}
	if l.SearchTerm != "iphone" || l.SearchLocation != "toronto" {
		t.Errorf("provenance lost: %q/%q", l.SearchTerm, l.SearchLocation)
	}
}

func TestNormalizeIDFromURL(t *testing.T) {
	raw := validRaw()
	raw.ID = ""
	raw.URL = "https://www.facebook.com/marketplace/item/987654321/"

	l, err := NewNormalizer().Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.ID != "987654321" {
		t.Errorf("ID = %q, want 987654321", l.ID)
	}
}

func TestNormalizeMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.RawListing)
		field  string
	}{
		{"no id and no item url", func(r *models.RawListing) { r.ID = ""; r.URL = "https://example.com/listing" }, "id"},
		{"blank title", func(r *models.RawListing) { r.Title = "   " }, "title"},
		{"no url", func(r *models.RawListing) { r.URL = "" }, "url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)
			_, err := NewNormalizer().Normalize(raw)
			if !errors.Is(err, models.ErrMissingField) {
				t.Fatalf("expected ErrMissingField, got %v", err)
			}
			var nerr *models.NormalizationError
			if !errors.As(err, &nerr) || nerr.Field != tt.field {
				t.Errorf("field = %v, want %s", err, tt.field)
			}
		})
	}
}

func TestNormalizeRejectsControlCharactersInID(t *testing.T) {
	for _, id := range []string{"12\t3", "12\n3", "12\r3", "1\x002"} {
		raw := validRaw()
		raw.ID = id
		_, err := NewNormalizer().Normalize(raw)
		if !errors.Is(err, models.ErrMalformedID) {
			t.Errorf("id %q: expected ErrMalformedID, got %v", id, err)
		}
	}

	raw := validRaw()
	raw.ID = " 123\n"
	if l, err := NewNormalizer().Normalize(raw); err != nil || l.ID != "123" {
		t.Errorf("surrounding whitespace should be trimmed: %+v, %v", l, err)
	}
}

func TestNormalizeUnparsableTimestamp(t *testing.T) {
	for _, hint := range []string{"", "over a month ago", "sometime", "200000 days ago", "99999999999999999 minutes ago"} {
		raw := validRaw()
		raw.PostedAt = hint
		_, err := NewNormalizer().Normalize(raw)
		if !errors.Is(err, models.ErrUnparsableTimestamp) {
			t.Errorf("hint %q: expected ErrUnparsableTimestamp, got %v", hint, err)
		}
	}
}

func TestNormalizeUsesClockWhenScrapeTimeMissing(t *testing.T) {
	raw := validRaw()
	raw.ScrapedAt = time.Time{}
	n := NewNormalizer().WithClock(func() time.Time { return scrapeTime.Add(time.Hour) })

	l, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.ScrapedAt.Equal(scrapeTime.Add(time.Hour)) {
		t.Errorf("ScrapedAt = %v", l.ScrapedAt)
	}
}

func TestNormalizeBadPriceIsNotAnError(t *testing.T) {
	raw := validRaw()
	raw.Price = "Free"
	raw.ImageURLs = nil

	l, err := NewNormalizer().Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Price != nil {
		t.Errorf("Price = %v, want nil", *l.Price)
	}
	if l.ImageURLs == nil || len(l.ImageURLs) != 0 {
		t.Errorf("ImageURLs = %#v, want empty slice", l.ImageURLs)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$1,200", 1200, true},
		{"1.200 €", 1200, true},
		{"12,50", 12.5, true},
		{"$1,234.56", 1234.56, true},
		{"1.234,56 €", 1234.56, true},
		{"CA$450", 450, true},
		{"0.125", 0.125, true},
		{"$5.", 5, true},
		{"Free", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParsePrice(tt.in)
			if !tt.ok {
				if got != nil {
					t.Errorf("ParsePrice(%q) = %v, want nil", tt.in, *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("ParsePrice(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsePostTime(t *testing.T) {
	tests := []struct {
		hint string
		want time.Time
	}{
		{"just now", scrapeTime.Add(-time.Minute)},
		{"a minute ago", scrapeTime.Add(-time.Minute)},
		{"an hour ago", scrapeTime.Add(-time.Hour)},
		{"Listed 2 hours ago in Toronto", scrapeTime.Add(-2 * time.Hour)},
		{"3 days ago", scrapeTime.Add(-72 * time.Hour)},
		{"1 week ago", scrapeTime.Add(-7 * 24 * time.Hour)},
		{"30 secs ago", scrapeTime.Add(-30 * time.Second)},
		{"yesterday", scrapeTime.Add(-24 * time.Hour)},
		{"2025-03-14T11:55:00Z", time.Date(2025, 3, 14, 11, 55, 0, 0, time.UTC)},
		{"2025-03-14T07:55:00-04:00", time.Date(2025, 3, 14, 11, 55, 0, 0, time.UTC)},
		{"2025-03-14 11:55:00", time.Date(2025, 3, 14, 11, 55, 0, 0, time.UTC)},
		{"1741953300", time.Unix(1741953300, 0).UTC()},
		{"1741953300000", time.UnixMilli(1741953300000).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.hint, func(t *testing.T) {
			got, err := ParsePostTime(tt.hint, scrapeTime)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParsePostTime(%q) = %v, want %v", tt.hint, got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("ParsePostTime(%q) not in UTC", tt.hint)
			}
		})
	}
}

func TestParsePostTimeOverflow(t *testing.T) {
	for _, hint := range []string{"200000 days ago", "20000 weeks ago", "9223372036854775807 seconds ago"} {
		if got, err := ParsePostTime(hint, scrapeTime); err == nil {
			t.Errorf("ParsePostTime(%q) = %v, want error", hint, got)
		}
	}
	if got, err := ParsePostTime("100000 days ago", scrapeTime); err != nil || !got.Before(scrapeTime) {
		t.Errorf("ParsePostTime(100000 days ago) = %v, %v", got, err)
	}
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://www.facebook.com/marketplace/item/1/?ref=x#top", "https://www.facebook.com/marketplace/item/1/"},
		{"https://example.com/search?q=bike", "https://example.com/search?q=bike"},
		{" not a url ", "not a url"},
	}
	for _, tt := range tests {
		if got := CanonicalURL(tt.in); got != tt.want {
			t.Errorf("CanonicalURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
