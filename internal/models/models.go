// Package models defines the core data structures for ListingPipe.
//
// It includes the raw and canonical listing shapes, deduplication records and
// notification receipts, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// DeliveryStatus is the final state of one notification attempt sequence.
type DeliveryStatus string

const (
	// DeliveryStatusDelivered means the channel accepted the notification.
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusFailed means every bounded attempt failed and the notification was dropped.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Receipt records the outcome of notifying one channel about one listing.
type Receipt struct {
	ListingID string         `json:"listing_id"`
	Channel   string         `json:"channel"`
	Status    DeliveryStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	Reason    string         `json:"reason,omitempty"`
	Time      int64          `json:"time"`
}

// Delivered reports whether the receipt is a successful delivery.
func (r Receipt) Delivered() bool {
	return r.Status == DeliveryStatusDelivered
}

// Normalization error kinds.
const (
	KindMissingField        = "missing_field"
	KindUnparsableTimestamp = "unparsable_timestamp"
	KindInvalidID           = "invalid_id"
)

// Sentinel errors matched by NormalizationError via errors.Is.
var (
	ErrMissingField        = errors.New("required field missing")
	ErrUnparsableTimestamp = errors.New("timestamp cannot be resolved")
	ErrMalformedID         = errors.New("id contains control characters")
)

// ValidID reports whether id is non-empty and free of control characters,
// so it fits on one line of a seen-id file or a CSV row.
func ValidID(id string) bool {
	return id != "" && strings.IndexFunc(id, unicode.IsControl) < 0
}

// NormalizationError describes why a single raw record was skipped.
type NormalizationError struct {
	Kind  string // KindMissingField, KindUnparsableTimestamp or KindInvalidID
	Field string // offending field name
	RawID string // best-effort identifier of the record for logging
	Cause error
}

func (e *NormalizationError) Error() string {
	msg := fmt.Sprintf("normalize: %s (%s)", e.Kind, e.Field)
	if e.RawID != "" {
		msg += " record " + e.RawID
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *NormalizationError) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels so callers can write errors.Is(err, ErrMissingField).
func (e *NormalizationError) Is(target error) bool {
	switch target {
	case ErrMissingField:
		return e.Kind == KindMissingField
	case ErrUnparsableTimestamp:
		return e.Kind == KindUnparsableTimestamp
	case ErrMalformedID:
		return e.Kind == KindInvalidID
	}
	return false
}
