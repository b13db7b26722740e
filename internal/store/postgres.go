// Package store provides storage backends for ListingPipe.
//
// This file implements a PostgreSQL-backed store for seen ids, listings and receipts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/ListingPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var (
	_ ListingSink      = (*PostgresStore)(nil)
	_ ListingCommitter = (*PostgresStore)(nil)
	_ ListingReplayer  = (*PostgresStore)(nil)
	_ ReceiptRepo      = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

const postgresInsertListing = `INSERT INTO listings (` + listingColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO NOTHING`

// Persist inserts a listing. A listing with an existing id is left untouched.
func (s *PostgresStore) Persist(ctx context.Context, l models.Listing) error {
	args, err := listingArgs(l)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, postgresInsertListing, args...); err != nil {
		slog.Error("PostgresStore Persist failed", "error", err, "id", l.ID)
		return fmt.Errorf("failed to insert listing %s: %w", l.ID, err)
	}
	return nil
}

// CommitListing records the id as seen and inserts the listing in one
// transaction. It returns false, writing nothing, when the id was already seen.
func (s *PostgresStore) CommitListing(ctx context.Context, l models.Listing, firstSeenAt time.Time) (bool, error) {
	args, err := listingArgs(l)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction failed: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO seen_listings (id, first_seen_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		l.ID, firstSeenAt.UTC())
	if err != nil {
		return false, fmt.Errorf("record seen %s failed: %w", l.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, postgresInsertListing, args...); err != nil {
		return false, fmt.Errorf("insert listing %s failed: %w", l.ID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore CommitListing commit failed", "error", err, "id", l.ID)
		return false, fmt.Errorf("commit listing %s failed: %w", l.ID, err)
	}
	slog.Debug("PostgresStore CommitListing succeeded", "id", l.ID)
	return true, nil
}

func (s *PostgresStore) PersistedIDs(ctx context.Context) ([]string, error) {
	return queryIDs(ctx, s.db, `SELECT id FROM listings`)
}

// GetListings returns stored listings ordered by persistence time.
func (s *PostgresStore) GetListings(ctx context.Context) ([]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings ORDER BY persisted_at, id`)
	if err != nil {
		slog.Error("PostgresStore GetListings query failed", "error", err)
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (listing_id, channel, status, attempts, reason, time) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ListingID, r.Channel, string(r.Status), r.Attempts, nilIfEmpty(r.Reason), r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "listing_id", r.ListingID)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.ListingID, err)
	}
	slog.Debug("PostgresStore AddReceipt succeeded", "listing_id", r.ListingID, "status", r.Status)
	return nil
}

func (s *PostgresStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT listing_id, channel, status, attempts, reason, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

// clearAll deletes every row (for tests).
func (s *PostgresStore) clearAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM receipts; DELETE FROM listings; DELETE FROM seen_listings;`)
	return err
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
