package store

import (
	"context"
	"fmt"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// Compile-time check that SQLiteStore implements SeenRepo.
var _ SeenRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) LoadSeen(ctx context.Context) ([]models.SeenRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, first_seen_at FROM seen_listings`)
	if err != nil {
		return nil, fmt.Errorf("load seen failed: %w", err)
	}
	defer rows.Close()

	var records []models.SeenRecord
	for rows.Next() {
		var r models.SeenRecord
		var firstSeen time.Time
		if err := rows.Scan(&r.ID, &firstSeen); err != nil {
			return nil, fmt.Errorf("scan seen record failed: %w", err)
		}
		r.FirstSeenAt = firstSeen.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen records failed: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) RecordSeen(ctx context.Context, rec models.SeenRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_listings (id, first_seen_at) VALUES (?, ?)`,
		rec.ID, rec.FirstSeenAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record seen failed: %w", err)
	}
	return nil
}
