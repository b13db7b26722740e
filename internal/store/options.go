package store

import "strings"

// Opts holds configuration options for the database-backed stores.
type Opts struct {
	DSN string // Data source name: SQLite path, PostgreSQL connection string or redis:// URL
}

// Option defines a function that modifies store options.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithRedisURL sets the redis:// URL of the seen-set store.
func WithRedisURL(url string) Option {
	return func(o *Opts) {
		o.DSN = url
	}
}

// Backend names returned by DetectDSNType.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

// DetectDSNType determines the backend from a DSN. An empty DSN yields an
// empty string, meaning the caller should fall back to file stores.
func DetectDSNType(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	lower := strings.ToLower(dsn)
	switch {
	case dsn == "":
		return ""
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "host="), strings.Contains(lower, "dbname="):
		return BackendPostgres
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return BackendRedis
	default:
		return BackendSQLite
	}
}
