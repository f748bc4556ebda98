package story

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yelabb/readquest/internal/ai"
)

// scriptedCompleter answers story and question tasks separately and counts
// calls per task.
type scriptedCompleter struct {
	mu            sync.Mutex
	storyResp     string
	questionsResp string
	storyErr      error
	questionsErr  error
	storyCalls    int
	questionCalls int
}

func (s *scriptedCompleter) Complete(_ context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Task {
	case ai.TaskStory:
		s.storyCalls++
		if s.storyErr != nil {
			return ai.CompletionResponse{}, s.storyErr
		}
		return ai.CompletionResponse{Content: s.storyResp, Model: "mock"}, nil
	default:
		s.questionCalls++
		if s.questionsErr != nil {
			return ai.CompletionResponse{}, s.questionsErr
		}
		return ai.CompletionResponse{Content: s.questionsResp, Model: "mock"}, nil
	}
}

func (s *scriptedCompleter) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storyCalls, s.questionCalls
}

func newTestAssembler(store Store, completer Completer, hot HotCache) *Assembler {
	return NewAssembler(AssemblerConfig{
		Store:        store,
		Generator:    NewGenerator(completer, DefaultRubricTable(), time.Second),
		HotCache:     hot,
		NumQuestions: 2,
	})
}

func happyCompleter() *scriptedCompleter {
	return &scriptedCompleter{
		storyResp:     storyDraftJSON(simpleText(8)),
		questionsResp: questionsJSON(mcQuestion(), tfQuestion()),
	}
}

func TestAssembleGeneratesThenServesFromCache(t *testing.T) {
	completer := happyCompleter()
	asm := newTestAssembler(NewMemoryStore(), completer, nil)

	req := Request{ReadingLevel: "beginner", Theme: "cats"}

	first, err := asm.Assemble(context.Background(), req)
	if err != nil {
		t.Fatalf("first Assemble: %v", err)
	}
	if first.Cached {
		t.Error("first request should not be served from cache")
	}
	if first.Story.ID == "" {
		t.Error("persisted story has no ID")
	}
	if len(first.Questions) != 2 {
		t.Errorf("got %d questions, want 2", len(first.Questions))
	}
	if first.Story.WordCount != 48 {
		t.Errorf("word count = %d, want 48", first.Story.WordCount)
	}
	if first.Story.ReadingMinutes < 1 {
		t.Errorf("reading minutes = %d", first.Story.ReadingMinutes)
	}
	if first.Story.Language != "en" {
		t.Errorf("language = %q, want default en", first.Story.Language)
	}
	for _, q := range first.Questions {
		if q.StoryID != first.Story.ID {
			t.Errorf("question %s belongs to story %s", q.ID, q.StoryID)
		}
	}

	second, err := asm.Assemble(context.Background(), req)
	if err != nil {
		t.Fatalf("second Assemble: %v", err)
	}
	if !second.Cached {
		t.Error("second request should be a cache hit")
	}
	if second.Story.ID != first.Story.ID {
		t.Errorf("cache hit returned a different story: %s vs %s", second.Story.ID, first.Story.ID)
	}
	if len(second.Questions) != len(first.Questions) {
		t.Errorf("cache hit lost questions: %d vs %d", len(second.Questions), len(first.Questions))
	}

	if sc, _ := completer.calls(); sc != 1 {
		t.Errorf("story generation ran %d times, want 1", sc)
	}
}

func TestAssembleCallerErrors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{name: "invalid level", req: Request{ReadingLevel: "EXPERT", Theme: "cats"}, want: ErrInvalidReadingLevel},
		{name: "missing theme", req: Request{ReadingLevel: "beginner"}, want: ErrMissingTheme},
		{name: "invalid language", req: Request{ReadingLevel: "beginner", Theme: "cats", Language: "!!"}, want: ErrInvalidLanguage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := happyCompleter()
			asm := newTestAssembler(NewMemoryStore(), completer, nil)

			_, err := asm.Assemble(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if !IsCallerError(err) {
				t.Errorf("caller error not classified: %v", err)
			}
			if sc, qc := completer.calls(); sc != 0 || qc != 0 {
				t.Errorf("provider called (%d, %d) times for invalid input", sc, qc)
			}
		})
	}
}

func TestAssembleRubricMissKeepsStoryFlagged(t *testing.T) {
	completer := happyCompleter()
	completer.storyResp = storyDraftJSON(simpleText(2)) // far below the BEGINNER minimum
	asm := newTestAssembler(NewMemoryStore(), completer, nil)

	res, err := asm.Assemble(context.Background(), Request{ReadingLevel: "beginner", Theme: "cats"})
	if err != nil {
		t.Fatalf("rubric miss must not fail the request: %v", err)
	}
	if res.Story.Metadata["low_confidence"] != true {
		t.Errorf("metadata = %v, want low_confidence flag", res.Story.Metadata)
	}
	if res.Story.Metadata["rubric_reasons"] == nil {
		t.Error("rubric reasons not recorded")
	}
}

func TestAssembleQuestionFailureLeavesNothingBehind(t *testing.T) {
	completer := happyCompleter()
	completer.questionsResp = "not json"
	store := NewMemoryStore()
	asm := newTestAssembler(store, completer, nil)

	_, err := asm.Assemble(context.Background(), Request{ReadingLevel: "beginner", Theme: "cats"})
	var malformedErr *MalformedOutputError
	if !errors.As(err, &malformedErr) {
		t.Fatalf("error = %v, want MalformedOutputError", err)
	}

	// The story is never visible without its questions.
	st, _, err := store.FindCached(context.Background(), LevelBeginner, "cats")
	if err != nil {
		t.Fatal(err)
	}
	if st != nil {
		t.Error("half-assembled story was persisted")
	}
}

func TestAssembleTransientFailureSurfaces(t *testing.T) {
	completer := happyCompleter()
	completer.storyErr = ai.ErrRateLimited
	asm := newTestAssembler(NewMemoryStore(), completer, nil)

	_, err := asm.Assemble(context.Background(), Request{ReadingLevel: "beginner", Theme: "cats"})
	if !ai.IsTransient(err) {
		t.Fatalf("error = %v, want transient classification to survive wrapping", err)
	}
}

func TestAssembleConcurrentMissesShareOneGeneration(t *testing.T) {
	completer := happyCompleter()
	asm := newTestAssembler(NewMemoryStore(), completer, nil)
	req := Request{ReadingLevel: "beginner", Theme: "cats"}

	const n = 8
	results := make([]*Result, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = asm.Assemble(context.Background(), req)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
	}
	id := results[0].Story.ID
	for i := 1; i < n; i++ {
		if results[i].Story.ID != id {
			t.Errorf("request %d got story %s, want %s", i, results[i].Story.ID, id)
		}
	}
	if sc, _ := completer.calls(); sc != 1 {
		t.Errorf("story generation ran %d times under concurrent misses, want 1", sc)
	}
}

func TestAssembleDistinctKeysGenerateSeparately(t *testing.T) {
	completer := happyCompleter()
	asm := newTestAssembler(NewMemoryStore(), completer, nil)

	if _, err := asm.Assemble(context.Background(), Request{ReadingLevel: "beginner", Theme: "cats"}); err != nil {
		t.Fatal(err)
	}
	if _, err := asm.Assemble(context.Background(), Request{ReadingLevel: "beginner", Theme: "dogs"}); err != nil {
		t.Fatal(err)
	}
	if _, err := asm.Assemble(context.Background(), Request{ReadingLevel: "early", Theme: "cats"}); err != nil {
		t.Fatal(err)
	}

	if sc, _ := completer.calls(); sc != 3 {
		t.Errorf("story generation ran %d times for 3 distinct keys", sc)
	}
}

// fakeHotCache is an in-memory HotCache.
type fakeHotCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
	sets int
}

func newFakeHotCache() *fakeHotCache {
	return &fakeHotCache{data: make(map[string][]byte)}
}

func (c *fakeHotCache) GetBytes(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeHotCache) SetBytes(_ context.Context, key string, val []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[key] = val
	return nil
}

func TestAssembleHotCacheShortCircuitsTheStore(t *testing.T) {
	completer := happyCompleter()
	hot := newFakeHotCache()
	asm := newTestAssembler(NewMemoryStore(), completer, hot)
	req := Request{ReadingLevel: "beginner", Theme: "cats"}

	first, err := asm.Assemble(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if hot.sets == 0 {
		t.Fatal("hot cache never populated")
	}

	// A second assembler with an empty store but the same hot cache serves
	// the payload without touching the database or the provider.
	asm2 := newTestAssembler(NewMemoryStore(), completer, hot)
	second, err := asm2.Assemble(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached {
		t.Error("hot cache hit not marked cached")
	}
	if second.Story.ID != first.Story.ID {
		t.Errorf("hot cache returned story %s, want %s", second.Story.ID, first.Story.ID)
	}
	if sc, _ := completer.calls(); sc != 1 {
		t.Errorf("story generation ran %d times, want 1", sc)
	}
}

func TestAssembleLanguageNormalized(t *testing.T) {
	completer := happyCompleter()
	asm := newTestAssembler(NewMemoryStore(), completer, nil)

	res, err := asm.Assemble(context.Background(), Request{ReadingLevel: "developing", Theme: "dragons", Language: "FR"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Story.Language != "fr" {
		t.Errorf("language = %q, want normalized fr", res.Story.Language)
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey(LevelBeginner, "Space Cats")
	b := CacheKey(LevelBeginner, "space cats ")
	if a != b {
		t.Errorf("theme normalization: %q vs %q", a, b)
	}
	if a == CacheKey(LevelEarly, "space cats") {
		t.Error("different levels must not collide")
	}
	if a == CacheKey(LevelBeginner, "space dogs") {
		t.Error("different themes must not collide")
	}
}
