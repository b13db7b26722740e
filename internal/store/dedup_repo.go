package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// Dedup is the deduplication store. It keeps an in-memory copy of the seen
// set, loaded once per run, and serializes admit + persist + record-seen so
// two listings with the same id can never both be admitted.
type Dedup struct {
	mu        sync.Mutex
	repo      SeenRepo
	sink      ListingSink
	committer ListingCommitter
	replayer  ListingReplayer
	now       func() time.Time

	seen   map[string]time.Time
	loaded bool
}

// NewDedup builds a Dedup over repo and sink. When both are the same store
// and it implements ListingCommitter, each admission is a single transaction.
// When sink implements ListingReplayer, Load recovers ids that reached the
// output but never reached repo.
func NewDedup(repo SeenRepo, sink ListingSink) *Dedup {
	d := &Dedup{
		repo: repo,
		sink: sink,
		now:  time.Now,
	}
	if c, ok := sink.(ListingCommitter); ok && any(repo) == any(sink) {
		d.committer = c
	}
	if r, ok := sink.(ListingReplayer); ok {
		d.replayer = r
	}
	return d
}

// WithClock overrides the clock used for first_seen_at.
func (d *Dedup) WithClock(now func() time.Time) *Dedup {
	d.now = now
	return d
}

// Load reads the durable seen set into memory. It is called once at run start;
// Admit never re-reads durable storage.
func (d *Dedup) Load(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	records, err := d.repo.LoadSeen(ctx)
	if err != nil {
		slog.Error("Dedup.Load: failed to load seen set", "error", err)
		return &IOError{Op: "load", Err: err}
	}

	d.seen = make(map[string]time.Time, len(records))
	for _, r := range records {
		if _, ok := d.seen[r.ID]; !ok {
			d.seen[r.ID] = r.FirstSeenAt
		}
	}

	if d.replayer != nil && d.committer == nil {
		if err := d.reconcile(ctx); err != nil {
			return err
		}
	}

	d.loaded = true
	slog.Debug("Dedup.Load: seen set loaded", "count", len(d.seen))
	return nil
}

// reconcile records ids present in the output but missing from the seen set,
// which happens when a run crashed between persist and record-seen.
func (d *Dedup) reconcile(ctx context.Context) error {
	ids, err := d.replayer.PersistedIDs(ctx)
	if err != nil {
		slog.Error("Dedup.reconcile: failed to read persisted ids", "error", err)
		return &IOError{Op: "reconcile", Err: err}
	}

	now := d.now().UTC()
	recovered := 0
	for _, id := range ids {
		if _, ok := d.seen[id]; ok {
			continue
		}
		if !models.ValidID(id) {
			slog.Warn("Dedup.reconcile: skipping malformed persisted id", "id", id)
			continue
		}
		if err := d.repo.RecordSeen(ctx, models.SeenRecord{ID: id, FirstSeenAt: now}); err != nil {
			slog.Error("Dedup.reconcile: failed to record recovered id", "id", id, "error", err)
			return &IOError{Op: "reconcile", ID: id, Err: err}
		}
		d.seen[id] = now
		recovered++
	}
	if recovered > 0 {
		slog.Warn("Dedup.reconcile: recovered persisted listings missing from seen set", "count", recovered)
	}
	return nil
}

// Admit offers a listing to the store. The first call for an id persists the
// listing, durably records the id and returns NewlyAdmitted; every later call
// returns AlreadySeen. A malformed id yields ErrInvalidID before anything is
// written; any other error means nothing is admitted and the run must stop.
func (d *Dedup) Admit(ctx context.Context, l models.Listing) (models.AdmitResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loaded {
		return models.AlreadySeen, ErrNotLoaded
	}
	if !models.ValidID(l.ID) {
		return models.AlreadySeen, fmt.Errorf("%w: %q", ErrInvalidID, l.ID)
	}
	if _, ok := d.seen[l.ID]; ok {
		return models.AlreadySeen, nil
	}

	firstSeen := d.now().UTC()

	if d.committer != nil {
		inserted, err := d.committer.CommitListing(ctx, l, firstSeen)
		if err != nil {
			slog.Error("Dedup.Admit: commit failed", "id", l.ID, "error", err)
			return models.AlreadySeen, &IOError{Op: "commit", ID: l.ID, Err: err}
		}
		if !inserted {
			// Recorded by an earlier run after our Load; keep the cache in step.
			d.seen[l.ID] = firstSeen
			return models.AlreadySeen, nil
		}
		d.seen[l.ID] = firstSeen
		return models.NewlyAdmitted, nil
	}

	// Output first: a crash after this point is repaired by reconcile, while a
	// crash before it leaves the listing re-processable.
	if err := d.sink.Persist(ctx, l); err != nil {
		slog.Error("Dedup.Admit: persist failed", "id", l.ID, "error", err)
		return models.AlreadySeen, &IOError{Op: "persist", ID: l.ID, Err: err}
	}
	if err := d.repo.RecordSeen(ctx, models.SeenRecord{ID: l.ID, FirstSeenAt: firstSeen}); err != nil {
		// The listing is in the output; never offer it again in this process.
		d.seen[l.ID] = firstSeen
		slog.Error("Dedup.Admit: record seen failed", "id", l.ID, "error", err)
		return models.AlreadySeen, &IOError{Op: "record_seen", ID: l.ID, Err: err}
	}
	d.seen[l.ID] = firstSeen
	return models.NewlyAdmitted, nil
}

// Seen reports whether id is in the loaded seen set.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

// Len returns the size of the loaded seen set.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
