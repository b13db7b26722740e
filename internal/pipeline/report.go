package pipeline

import (
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// Stats counts what happened to each fetched record.
type Stats struct {
	Fetched            int            `json:"fetched"`
	Normalized         int            `json:"normalized"`
	NormalizeFailed    int            `json:"normalize_failed"`
	FilteredOut        int            `json:"filtered_out"`
	Duplicate          int            `json:"duplicate"`
	NewlyAdmitted      int            `json:"newly_admitted"`
	NotificationFailed int            `json:"notification_failed"`
	Rejections         map[string]int `json:"rejections,omitempty"`
}

func newStats() Stats {
	return Stats{Rejections: map[string]int{}}
}

func (s *Stats) add(o Stats) {
	s.Fetched += o.Fetched
	s.Normalized += o.Normalized
	s.NormalizeFailed += o.NormalizeFailed
	s.FilteredOut += o.FilteredOut
	s.Duplicate += o.Duplicate
	s.NewlyAdmitted += o.NewlyAdmitted
	s.NotificationFailed += o.NotificationFailed
	for k, v := range o.Rejections {
		s.Rejections[k] += v
	}
}

// LogAttrs returns the counts as slog key/value pairs.
func (s Stats) LogAttrs() []any {
	attrs := []any{
		"fetched", s.Fetched,
		"normalized", s.Normalized,
		"normalize_failed", s.NormalizeFailed,
		"filtered_out", s.FilteredOut,
		"duplicate", s.Duplicate,
		"newly_admitted", s.NewlyAdmitted,
		"notification_failed", s.NotificationFailed,
	}
	for reason, n := range s.Rejections {
		attrs = append(attrs, "rejected_"+reason, n)
	}
	return attrs
}

// QueryResult is the outcome of one query.
type QueryResult struct {
	Query      models.Query `json:"query"`
	Stats      Stats        `json:"stats"`
	FetchError string       `json:"fetch_error,omitempty"`
	Skipped    bool         `json:"skipped,omitempty"`
}

// Report summarizes a run.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Queries    []QueryResult `json:"queries"`
	Totals     Stats         `json:"totals"`
}

func (r *Report) sum() {
	r.Totals = newStats()
	for _, q := range r.Queries {
		r.Totals.add(q.Stats)
	}
}

// FetchFailures counts queries whose fetch failed.
func (r *Report) FetchFailures() int {
	n := 0
	for _, q := range r.Queries {
		if q.FetchError != "" {
			n++
		}
	}
	return n
}
