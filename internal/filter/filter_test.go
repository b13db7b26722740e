package filter

import (
	"testing"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

var now = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func cleanListing() models.Listing {
	return models.Listing{
		ID:              "1",
		Title:           "Road bike, 54cm",
		PostedAt:        now.Add(-2 * time.Minute),
		ShippingEnabled: models.BoolPtr(false),
	}
}

func TestFreshnessBoundary(t *testing.T) {
	cfg := models.NewFilterConfig(10*time.Minute, nil, false)
	p := FreshnessPredicate{}

	l := cleanListing()
	l.PostedAt = now.Add(-10 * time.Minute)
	if !p.Allow(l, cfg, now) {
		t.Error("listing exactly max_age old should be accepted")
	}

	l.PostedAt = now.Add(-10*time.Minute - time.Nanosecond)
	if p.Allow(l, cfg, now) {
		t.Error("listing older than max_age should be rejected")
	}

	l.PostedAt = now.Add(time.Minute)
	if !p.Allow(l, cfg, now) {
		t.Error("listing posted after now should be accepted")
	}
}

func TestShippingPredicate(t *testing.T) {
	tests := []struct {
		name          string
		shipping      *bool
		allowShipping bool
		want          bool
	}{
		{"explicitly disabled", models.BoolPtr(false), false, true},
		{"explicitly enabled", models.BoolPtr(true), false, false},
		{"enabled with allow_shipping", models.BoolPtr(true), true, false},
		{"unknown defaults to reject", nil, false, false},
		{"unknown with allow_shipping", nil, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := cleanListing()
			l.ShippingEnabled = tt.shipping
			cfg := models.NewFilterConfig(0, nil, tt.allowShipping)
			if got := (ShippingPredicate{}).Allow(l, cfg, now); got != tt.want {
				t.Errorf("Allow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAntiKeywordSubstring(t *testing.T) {
	cfg := models.NewFilterConfig(0, []string{"Firm Price", "trade"}, false)
	p := AntiKeywordPredicate{}

	tests := []struct {
		title, desc string
		want        bool
	}{
		{"iPhone 13, Firm price!", "", false},
		{"iPhone 13", "No lowballs. FIRM PRICE.", false},
		{"Tradeable bike", "", false},
		{"Road bike", "great condition", true},
	}
	for _, tt := range tests {
		l := cleanListing()
		l.Title, l.Description = tt.title, tt.desc
		if got := p.Allow(l, cfg, now); got != tt.want {
			t.Errorf("Allow(%q, %q) = %v, want %v", tt.title, tt.desc, got, tt.want)
		}
	}
}

func TestChainOrderScenarios(t *testing.T) {
	cfg := models.NewFilterConfig(10*time.Minute, []string{"firm price"}, false)
	chain := DefaultChain()

	l := models.Listing{
		ID:              "123",
		Title:           "iPhone 13 128GB, firm price, ships nationwide",
		PostedAt:        now.Add(-2 * time.Minute),
		ShippingEnabled: models.BoolPtr(true),
	}
	if ok, reason := chain.Evaluate(l, cfg, now); ok || reason != Shipping {
		t.Errorf("Evaluate() = %v, %q, want rejection at shipping", ok, reason)
	}

	l.ShippingEnabled = models.BoolPtr(false)
	if ok, reason := chain.Evaluate(l, cfg, now); ok || reason != AntiKeyword {
		t.Errorf("Evaluate() = %v, %q, want rejection at anti_keyword", ok, reason)
	}

	l.PostedAt = now.Add(-time.Hour)
	if ok, reason := chain.Evaluate(l, cfg, now); ok || reason != Freshness {
		t.Errorf("Evaluate() = %v, %q, want rejection at freshness", ok, reason)
	}

	if !chain.Accept(cleanListing(), cfg, now) {
		t.Error("clean listing should be accepted")
	}
}
