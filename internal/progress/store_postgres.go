package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed progress store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, userID string) (*UserProgress, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rec, err := s.get(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup progress: %w", err)
	}

	// First access: insert an empty record. A concurrent first access can
	// insert the same user first; the conflict clause makes both land on
	// the same row.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO user_progress (user_id, preferred_themes, interests)
		 VALUES ($1, '{}', '{}')
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING id::text, user_id, onboarding_completed, preferred_themes, interests, created_at, updated_at`,
		userID,
	)
	return scanProgress(row)
}

func (s *PostgresStore) SavePreferences(ctx context.Context, userID string, prefs Preferences) (*UserProgress, error) {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	// onboarding_completed is deliberately absent: preference updates never
	// reset it.
	row := s.pool.QueryRow(ctx,
		`UPDATE user_progress
		 SET preferred_themes = COALESCE($2, preferred_themes),
		     interests = COALESCE($3, interests),
		     updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING id::text, user_id, onboarding_completed, preferred_themes, interests, created_at, updated_at`,
		userID,
		prefs.PreferredThemes,
		prefs.Interests,
	)
	rec, err := scanProgress(row)
	if err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) CompleteOnboarding(ctx context.Context, userID string, prefs Preferences) (*UserProgress, error) {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`UPDATE user_progress
		 SET onboarding_completed = TRUE,
		     preferred_themes = COALESCE($2, preferred_themes),
		     interests = COALESCE($3, interests),
		     updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING id::text, user_id, onboarding_completed, preferred_themes, interests, created_at, updated_at`,
		userID,
		prefs.PreferredThemes,
		prefs.Interests,
	)
	rec, err := scanProgress(row)
	if err != nil {
		return nil, fmt.Errorf("complete onboarding: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) get(ctx context.Context, userID string) (*UserProgress, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id::text, user_id, onboarding_completed, preferred_themes, interests, created_at, updated_at
		 FROM user_progress
		 WHERE user_id = $1`,
		userID,
	)
	return scanProgress(row)
}

func scanProgress(row pgx.Row) (*UserProgress, error) {
	var rec UserProgress
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.OnboardingCompleted,
		&rec.PreferredThemes,
		&rec.Interests,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rec.PreferredThemes == nil {
		rec.PreferredThemes = []string{}
	}
	if rec.Interests == nil {
		rec.Interests = []string{}
	}
	return &rec, nil
}
