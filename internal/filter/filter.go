// Package filter implements the listing filter chain.
//
// Predicates run in a fixed order (freshness, shipping, anti-keyword) and the
// chain stops at the first rejection so the recorded reason is deterministic.
package filter

import (
	"strings"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// Reason identifies the predicate that rejected a listing. Accepted listings
// carry the empty reason.
type Reason string

const (
	Accepted    Reason = ""
	Freshness   Reason = "freshness"
	Shipping    Reason = "shipping"
	AntiKeyword Reason = "anti_keyword"
)

// Predicate is one independently testable filter step.
type Predicate interface {
	Reason() Reason
	// Allow reports whether the listing passes this step.
	Allow(l models.Listing, cfg models.FilterConfig, now time.Time) bool
}

// Chain evaluates predicates in order.
type Chain struct {
	predicates []Predicate
}

// NewChain builds a chain from the given predicates, in order.
func NewChain(predicates ...Predicate) *Chain {
	return &Chain{predicates: predicates}
}

// DefaultChain returns the standard freshness, shipping, anti-keyword chain.
func DefaultChain() *Chain {
	return NewChain(FreshnessPredicate{}, ShippingPredicate{}, AntiKeywordPredicate{})
}

// Evaluate runs the chain and returns the first rejecting reason.
func (c *Chain) Evaluate(l models.Listing, cfg models.FilterConfig, now time.Time) (bool, Reason) {
	for _, p := range c.predicates {
		if !p.Allow(l, cfg, now) {
			return false, p.Reason()
		}
	}
	return true, Accepted
}

// Accept reports whether the listing passes every predicate.
func (c *Chain) Accept(l models.Listing, cfg models.FilterConfig, now time.Time) bool {
	ok, _ := c.Evaluate(l, cfg, now)
	return ok
}

// FreshnessPredicate rejects listings older than cfg.MaxAge. A listing
// exactly MaxAge old is still fresh.
type FreshnessPredicate struct{}

func (FreshnessPredicate) Reason() Reason { return Freshness }

func (FreshnessPredicate) Allow(l models.Listing, cfg models.FilterConfig, now time.Time) bool {
	return now.Sub(l.PostedAt) <= cfg.MaxAge
}

// ShippingPredicate rejects listings with shipping enabled. Unknown shipping
// status is rejected unless cfg.AllowShipping is set.
type ShippingPredicate struct{}

func (ShippingPredicate) Reason() Reason { return Shipping }

func (ShippingPredicate) Allow(l models.Listing, cfg models.FilterConfig, _ time.Time) bool {
	if l.ShippingEnabled == nil {
		return cfg.AllowShipping
	}
	return !*l.ShippingEnabled
}

// AntiKeywordPredicate rejects listings whose title or description contains
// any configured keyword as a case-insensitive substring.
type AntiKeywordPredicate struct{}

func (AntiKeywordPredicate) Reason() Reason { return AntiKeyword }

func (AntiKeywordPredicate) Allow(l models.Listing, cfg models.FilterConfig, _ time.Time) bool {
	if len(cfg.AntiKeywords) == 0 {
		return true
	}
	title := strings.ToLower(l.Title)
	desc := strings.ToLower(l.Description)
	for _, kw := range cfg.AntiKeywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(title, kw) || (desc != "" && strings.Contains(desc, kw)) {
			return false
		}
	}
	return true
}
