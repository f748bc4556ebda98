// Package progress tracks per-user reading preferences and onboarding state.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// UserProgress is the per-user preference and onboarding record. It is
// created lazily on first access.
type UserProgress struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId"`
	OnboardingCompleted bool      `json:"onboardingCompleted"`
	PreferredThemes     []string  `json:"preferredThemes"`
	Interests           []string  `json:"interests"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Preferences is a preference patch. Nil slices leave the stored value
// untouched; empty slices clear it.
type Preferences struct {
	PreferredThemes []string `json:"preferredThemes,omitempty"`
	Interests       []string `json:"interests,omitempty"`
}

// Store persists user progress records.
//
// Onboarding completion is monotonic: SavePreferences never touches the
// flag, and CompleteOnboarding only ever sets it.
type Store interface {
	// GetOrCreate returns the user's progress record, creating an empty one
	// on first access.
	GetOrCreate(ctx context.Context, userID string) (*UserProgress, error)
	// SavePreferences applies a preference patch.
	SavePreferences(ctx context.Context, userID string, prefs Preferences) (*UserProgress, error)
	// CompleteOnboarding marks onboarding done and applies any preferences
	// chosen during it.
	CompleteOnboarding(ctx context.Context, userID string, prefs Preferences) (*UserProgress, error)
}

// MemoryStore is an in-memory Store implementation for tests and
// single-process development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*UserProgress
	nextID  int
}

// NewMemoryStore creates an empty in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*UserProgress)}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, userID string) (*UserProgress, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreateLocked(userID)
	out := *rec
	return &out, nil
}

func (s *MemoryStore) SavePreferences(_ context.Context, userID string, prefs Preferences) (*UserProgress, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreateLocked(userID)
	applyPreferences(rec, prefs)
	rec.UpdatedAt = time.Now()

	out := *rec
	return &out, nil
}

func (s *MemoryStore) CompleteOnboarding(_ context.Context, userID string, prefs Preferences) (*UserProgress, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreateLocked(userID)
	applyPreferences(rec, prefs)
	rec.OnboardingCompleted = true
	rec.UpdatedAt = time.Now()

	out := *rec
	return &out, nil
}

func (s *MemoryStore) getOrCreateLocked(userID string) *UserProgress {
	if rec, ok := s.records[userID]; ok {
		return rec
	}
	s.nextID++
	now := time.Now()
	rec := &UserProgress{
		ID:              fmt.Sprintf("progress-%d", s.nextID),
		UserID:          userID,
		PreferredThemes: []string{},
		Interests:       []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.records[userID] = rec
	return rec
}

func applyPreferences(rec *UserProgress, prefs Preferences) {
	if prefs.PreferredThemes != nil {
		rec.PreferredThemes = append([]string{}, prefs.PreferredThemes...)
	}
	if prefs.Interests != nil {
		rec.Interests = append([]string{}, prefs.Interests...)
	}
}
