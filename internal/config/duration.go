package config

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// Duration is a time.Duration that unmarshals from Go syntax ("10m") or
// phrases such as "10 minutes" and "1 day".
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	*d = Duration(ParseDuration(s))
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

var phraseRe = regexp.MustCompile(`^(\d+)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|w)$`)

// ParseDuration parses a Go duration or a "<n> <unit>" phrase. Invalid or
// non-positive values log a warning and return models.DefaultMaxAge.
func ParseDuration(s string) time.Duration {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return models.DefaultMaxAge
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if m := phraseRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		unit := unitOf(m[2])
		if err == nil && n > 0 && n <= math.MaxInt64/int64(unit) {
			return time.Duration(n) * unit
		}
	}
	slog.Warn("ParseDuration: invalid duration, using default", "value", s, "default", models.DefaultMaxAge)
	return models.DefaultMaxAge
}

func unitOf(u string) time.Duration {
	switch {
	case strings.HasPrefix(u, "s"):
		return time.Second
	case strings.HasPrefix(u, "m"):
		return time.Minute
	case strings.HasPrefix(u, "h"):
		return time.Hour
	case strings.HasPrefix(u, "d"):
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}
