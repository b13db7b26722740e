package store

import (
	"context"
	"fmt"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// Compile-time check that PostgresStore implements SeenRepo.
var _ SeenRepo = (*PostgresStore)(nil)

func (s *PostgresStore) LoadSeen(ctx context.Context) ([]models.SeenRecord, error) {
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

func (s *PostgresStore) RecordSeen(ctx context.Context, rec models.SeenRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_listings (id, first_seen_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.FirstSeenAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record seen failed: %w", err)
	}
	return nil
}
