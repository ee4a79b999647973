package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fluentlens/fluentlens/internal/core"
)

// GetFrequency returns the durable record for key, or nil when none exists.
func (s *Store) GetFrequency(ctx context.Context, key core.FrequencyKey) (*core.FrequencyRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var frequency int64
	row := s.DB.QueryRowContext(ctx, `
		SELECT frequency
		FROM error_frequencies
		WHERE user_id = ? AND error_category = ? AND error_subcategory = ?
	`, key.UserID.String(), key.Category, key.Subcategory)

	if err := row.Scan(&frequency); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch frequency: %w", err)
	}

	return &core.FrequencyRecord{FrequencyKey: key, Frequency: frequency}, nil
}

// AddFrequency adds delta to the record for key, creating it with
// frequency = delta when absent, and returns the resulting frequency.
func (s *Store) AddFrequency(ctx context.Context, key core.FrequencyKey, delta int64) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if delta < 1 {
		return 0, fmt.Errorf("frequency delta must be positive, got %d", delta)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var frequency int64
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO error_frequencies (user_id, error_category, error_subcategory, frequency, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, error_category, error_subcategory) DO UPDATE SET
			frequency = error_frequencies.frequency + excluded.frequency,
			updated_at = excluded.updated_at
		RETURNING frequency
	`, key.UserID.String(), key.Category, key.Subcategory, delta, time.Now().UTC().Unix())

	if err := row.Scan(&frequency); err != nil {
		return 0, fmt.Errorf("store frequency: %w", err)
	}

	return frequency, nil
}

// TopFrequencies returns up to limit records for a user ordered by frequency
// descending. Ties are ordered by category then subcategory.
func (s *Store) TopFrequencies(ctx context.Context, userID uuid.UUID, limit int) ([]core.RankedError, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if userID == uuid.Nil {
		return nil, errors.New("user id is required")
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.DB.QueryContext(ctx, `
		SELECT error_category, error_subcategory, frequency
		FROM error_frequencies
		WHERE user_id = ?
		ORDER BY frequency DESC, error_category, error_subcategory
		LIMIT ?
	`, userID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list top frequencies: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	ranked := []core.RankedError{}
	for rows.Next() {
		var entry core.RankedError
		if err := rows.Scan(&entry.Category, &entry.Subcategory, &entry.Frequency); err != nil {
			return nil, fmt.Errorf("scan top frequencies: %w", err)
		}
		ranked = append(ranked, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list top frequencies: %w", err)
	}

	return ranked, nil
}

// CountFrequencies returns how many distinct category pairs a user has.
func (s *Store) CountFrequencies(ctx context.Context, userID uuid.UUID) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM error_frequencies
		WHERE user_id = ?
	`, userID.String())

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count frequencies: %w", err)
	}
	return count, nil
}

func validateKey(key core.FrequencyKey) error {
	if key.UserID == uuid.Nil {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(key.Category) == "" {
		return errors.New("error category is required")
	}
	if strings.TrimSpace(key.Subcategory) == "" {
		return errors.New("error subcategory is required")
	}
	return nil
}
