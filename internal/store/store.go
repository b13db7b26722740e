// Package store provides storage backends for ListingPipe.
//
// It includes the deduplication store (Dedup) and the repositories it is built
// on: an in-memory store, append-only files, SQLite, PostgreSQL and Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// ErrNotLoaded is returned by Dedup.Admit before Dedup.Load has succeeded.
var ErrNotLoaded = errors.New("dedup store not loaded")

// IOError wraps a durable-storage failure. It is fatal for the current run.
type IOError struct {
	Op  string // load, persist, record_seen, commit, reconcile
	ID  string // listing id, when the failure concerns one listing
	Err error
}

func (e *IOError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// SeenRepo is the durable set of admitted listing ids.
type SeenRepo interface {
	// LoadSeen returns every recorded id.
	LoadSeen(ctx context.Context) ([]models.SeenRecord, error)
	// RecordSeen durably adds one id. Recording an existing id is a no-op.
	RecordSeen(ctx context.Context, rec models.SeenRecord) error
}

// ListingSink is the append-only output store.
type ListingSink interface {
	Persist(ctx context.Context, l models.Listing) error
}

// ListingCommitter is implemented by stores that can persist a listing and
// record it as seen in one atomic transaction. CommitListing returns false
// when the id was already recorded, in which case nothing is written.
type ListingCommitter interface {
	CommitListing(ctx context.Context, l models.Listing, firstSeenAt time.Time) (bool, error)
}

// ListingReplayer is implemented by sinks that can list the ids they hold.
// Dedup uses it to recover ids that were persisted but never recorded as seen.
type ListingReplayer interface {
	PersistedIDs(ctx context.Context) ([]string, error)
}

// ReceiptRepo stores notification receipts.
type ReceiptRepo interface {
	AddReceipt(ctx context.Context, r models.Receipt) error
}

// InMemoryStore is a simple in-memory store implementing every repository
// interface. It does not survive the process and is used by tests and dry runs.
type InMemoryStore struct {
	mu       sync.Mutex
	seen     []models.SeenRecord
	listings []models.Listing
	receipts []models.Receipt
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

var (
	_ SeenRepo        = (*InMemoryStore)(nil)
	_ ListingSink     = (*InMemoryStore)(nil)
	_ ListingReplayer = (*InMemoryStore)(nil)
	_ ReceiptRepo     = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) LoadSeen(_ context.Context) ([]models.SeenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SeenRecord(nil), s.seen...), nil
}

func (s *InMemoryStore) RecordSeen(_ context.Context, rec models.SeenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.seen {
		if r.ID == rec.ID {
			return nil
		}
	}
	s.seen = append(s.seen, rec)
	return nil
}

func (s *InMemoryStore) Persist(_ context.Context, l models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings = append(s.listings, l)
	return nil
}

func (s *InMemoryStore) PersistedIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.listings))
	for _, l := range s.listings {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func (s *InMemoryStore) AddReceipt(_ context.Context, r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// Listings returns a copy of the persisted listings in insertion order.
func (s *InMemoryStore) Listings() []models.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Listing(nil), s.listings...)
}

// GetReceipts returns a copy of the recorded receipts.
func (s *InMemoryStore) GetReceipts() []models.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Receipt(nil), s.receipts...)
}
