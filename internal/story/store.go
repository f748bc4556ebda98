package story

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence gateway for stories and their questions.
type Store interface {
	// FindCached returns the most recent story for the (level, theme) key
	// along with its questions, or (nil, nil, nil) on a miss. A miss is a
	// normal outcome, not an error.
	FindCached(ctx context.Context, level ReadingLevel, theme string) (*Story, []Question, error)
	// CreateWithQuestions persists a story and its questions as one atomic
	// unit: both become visible together or not at all.
	CreateWithQuestions(ctx context.Context, s *Story, qs []Question) (*Story, []Question, error)
	// ListRecent returns story summaries newest first, optionally filtered
	// by level (empty level means all).
	ListRecent(ctx context.Context, level ReadingLevel, limit int) ([]Story, error)
	// UpdateMetadata replaces a story's metadata, the one mutable field.
	UpdateMetadata(ctx context.Context, storyID string, metadata map[string]any) error
}

// MemoryStore is an in-memory Store implementation used in tests and
// single-process development.
type MemoryStore struct {
	mu        sync.RWMutex
	stories   map[string]*Story
	questions map[string][]Question // story ID -> questions
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stories:   make(map[string]*Story),
		questions: make(map[string][]Question),
	}
}

func (s *MemoryStore) FindCached(_ context.Context, level ReadingLevel, theme string) (*Story, []Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Story
	for _, st := range s.stories {
		if st.ReadingLevel != level || st.Theme != theme {
			continue
		}
		if best == nil || newerThan(st, best) {
			best = st
		}
	}
	if best == nil {
		return nil, nil, nil
	}

	found := *best
	return &found, append([]Question(nil), s.questions[best.ID]...), nil
}

func (s *MemoryStore) CreateWithQuestions(_ context.Context, st *Story, qs []Question) (*Story, []Question, error) {
	if st == nil {
		return nil, nil, fmt.Errorf("story is nil")
	}
	if len(qs) == 0 {
		return nil, nil, fmt.Errorf("story must be created with its questions")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := *st
	created.ID = uuid.NewString()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now()
	}

	createdQs := make([]Question, len(qs))
	for i, q := range qs {
		q.ID = uuid.NewString()
		q.StoryID = created.ID
		if q.CreatedAt.IsZero() {
			q.CreatedAt = created.CreatedAt
		}
		createdQs[i] = q
	}

	s.stories[created.ID] = &created
	s.questions[created.ID] = createdQs

	result := created
	return &result, append([]Question(nil), createdQs...), nil
}

func (s *MemoryStore) ListRecent(_ context.Context, level ReadingLevel, limit int) ([]Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Story
	for _, st := range s.stories {
		if level != "" && st.ReadingLevel != level {
			continue
		}
		out = append(out, *st)
	}

	sort.Slice(out, func(i, j int) bool {
		return newerThan(&out[i], &out[j])
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateMetadata(_ context.Context, storyID string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stories[storyID]
	if !ok {
		return fmt.Errorf("story not found: %s", storyID)
	}
	st.Metadata = metadata
	return nil
}

// newerThan orders stories by creation timestamp descending, then by
// identifier ascending for determinism.
func newerThan(a, b *Story) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}
