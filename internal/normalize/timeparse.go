package normalize

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyTimestamp is returned for a blank timestamp hint.
var ErrEmptyTimestamp = errors.New("empty timestamp")

var (
	relativePattern = regexp.MustCompile(`\b(\d+|an?|one)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|weeks?)\b`)
	digitsPattern   = regexp.MustCompile(`^\d+$`)
)

// Layouts tried in order for absolute timestamps. Zone-less layouts are UTC.
var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// unixMillisThreshold separates unix seconds from unix milliseconds.
const unixMillisThreshold = 100_000_000_000

// ParsePostTime resolves a posted-at hint to an absolute UTC instant.
// Relative phrases ("5 minutes ago", "Listed an hour ago", "just now") are
// resolved against scrapedAt, never against the processing clock.
func ParsePostTime(hint string, scrapedAt time.Time) (time.Time, error) {
	s := strings.TrimSpace(hint)
	if s == "" {
		return time.Time{}, ErrEmptyTimestamp
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	if digitsPattern.MatchString(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q out of range: %w", s, err)
		}
		if n >= unixMillisThreshold {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	if d, ok := relativeDuration(strings.ToLower(s)); ok {
		return scrapedAt.Add(-d).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func relativeDuration(s string) (time.Duration, bool) {
	switch s {
	case "just now", "now", "moments ago", "a moment ago":
		return time.Minute, true
	case "yesterday":
		return 24 * time.Hour, true
	}

	m := relativePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	var n int64 = 1
	switch m[1] {
	case "a", "an", "one":
	default:
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, false
		}
		n = v
	}

	var unit time.Duration
	switch strings.TrimSuffix(m[2], "s") {
	case "second", "sec":
		unit = time.Second
	case "minute", "min":
		unit = time.Minute
	case "hour", "hr":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	default:
		return 0, false
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, false
	}
	return time.Duration(n) * unit, true
}
