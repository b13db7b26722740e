// Package store provides storage backends for ListingPipe.
//
// This file implements an SQLite-backed store for seen ids, listings and receipts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/ListingPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var (
	_ ListingSink      = (*SQLiteStore)(nil)
	_ ListingCommitter = (*SQLiteStore)(nil)
	_ ListingReplayer  = (*SQLiteStore)(nil)
	_ ReceiptRepo      = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// One writer at a time; the Dedup critical section already serializes admissions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Persist inserts a listing. A listing with an existing id is left untouched.
func (s *SQLiteStore) Persist(ctx context.Context, l models.Listing) error {
	args, err := listingArgs(l)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		slog.Error("SQLiteStore Persist failed", "error", err, "id", l.ID)
		return fmt.Errorf("failed to insert listing %s: %w", l.ID, err)
	}
	return nil
}

// CommitListing records the id as seen and inserts the listing in one
// transaction. It returns false, writing nothing, when the id was already seen.
func (s *SQLiteStore) CommitListing(ctx context.Context, l models.Listing, firstSeenAt time.Time) (bool, error) {
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
		`INSERT OR IGNORE INTO seen_listings (id, first_seen_at) VALUES (?, ?)`,
		l.ID, firstSeenAt.UTC())
	if err != nil {
		return false, fmt.Errorf("record seen %s failed: %w", l.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record seen %s failed: %w", l.ID, err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
		return false, fmt.Errorf("insert listing %s failed: %w", l.ID, err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore CommitListing commit failed", "error", err, "id", l.ID)
		return false, fmt.Errorf("commit listing %s failed: %w", l.ID, err)
	}
	slog.Debug("SQLiteStore CommitListing succeeded", "id", l.ID)
	return true, nil
}

// PersistedIDs returns the ids of every stored listing.
func (s *SQLiteStore) PersistedIDs(ctx context.Context) ([]string, error) {
	return queryIDs(ctx, s.db, `SELECT id FROM listings`)
}

// GetListings returns stored listings in insertion order.
func (s *SQLiteStore) GetListings(ctx context.Context) ([]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings ORDER BY rowid`)
	if err != nil {
		slog.Error("SQLiteStore GetListings query failed", "error", err)
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

func (s *SQLiteStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (listing_id, channel, status, attempts, reason, time) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ListingID, r.Channel, string(r.Status), r.Attempts, nilIfEmpty(r.Reason), r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "listing_id", r.ListingID)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.ListingID, err)
	}
	slog.Debug("SQLiteStore AddReceipt succeeded", "listing_id", r.ListingID, "status", r.Status)
	return nil
}

func (s *SQLiteStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT listing_id, channel, status, attempts, reason, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

func queryIDs(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ids: %w", err)
	}
	return ids, nil
}

func scanReceipts(rows *sql.Rows) ([]models.Receipt, error) {
	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var status string
		var reason sql.NullString
		if err := rows.Scan(&r.ListingID, &r.Channel, &status, &r.Attempts, &reason, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.Status = models.DeliveryStatus(status)
		r.Reason = reason.String
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}
