package story

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
)

const defaultNumQuestions = 5

// HotCache is an optional read-through cache for assembled payloads,
// sitting in front of the database lookup.
type HotCache interface {
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)
	SetBytes(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Request is the input to the assembly pipeline.
type Request struct {
	ReadingLevel         string   `json:"readingLevel"`
	Theme                string   `json:"theme"`
	Interests            []string `json:"interests,omitempty"`
	DifficultyMultiplier float64  `json:"difficultyMultiplier,omitempty"`
	Language             string   `json:"language,omitempty"`
}

// Result is the output of the assembly pipeline.
type Result struct {
	Story     *Story     `json:"story"`
	Questions []Question `json:"questions"`
	Cached    bool       `json:"cached"`
}

// AssemblerConfig holds dependencies for the orchestrator.
type AssemblerConfig struct {
	Store        Store
	Generator    *Generator
	Rubrics      RubricTable
	HotCache     HotCache // nil disables the hot cache
	HotCacheTTL  time.Duration
	NumQuestions int
}

// Assembler is the pipeline entry point. It coordinates cache lookup,
// generation, rubric validation, and atomic persistence. Concurrent misses
// for the same (level, theme) key share one in-flight generation instead of
// issuing duplicate provider calls.
type Assembler struct {
	store        Store
	generator    *Generator
	rubrics      RubricTable
	hotCache     HotCache
	hotCacheTTL  time.Duration
	numQuestions int

	inflight singleflight.Group
}

// NewAssembler creates an assembly orchestrator.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	numQuestions := cfg.NumQuestions
	if numQuestions <= 0 {
		numQuestions = defaultNumQuestions
	}
	ttl := cfg.HotCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	rubrics := cfg.Rubrics
	if rubrics == nil {
		rubrics = DefaultRubricTable()
	}
	return &Assembler{
		store:        cfg.Store,
		generator:    cfg.Generator,
		rubrics:      rubrics,
		hotCache:     cfg.HotCache,
		hotCacheTTL:  ttl,
		numQuestions: numQuestions,
	}
}

// Assemble serves a story for the request, from cache when possible,
// otherwise generating, validating, and persisting a new one.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Result, error) {
	level, err := ParseLevel(req.ReadingLevel)
	if err != nil {
		return nil, err
	}
	if req.Theme == "" {
		return nil, ErrMissingTheme
	}
	lang, err := normalizeLanguage(req.Language)
	if err != nil {
		return nil, err
	}
	multiplier := req.DifficultyMultiplier
	if multiplier <= 0 {
		multiplier = 1.0
	}

	key := CacheKey(level, req.Theme)
	v, err, _ := a.inflight.Do(key, func() (any, error) {
		return a.assembleKey(ctx, key, level, req.Theme, req.Interests, multiplier, lang)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (a *Assembler) assembleKey(ctx context.Context, key string, level ReadingLevel, theme string, interests []string, multiplier float64, lang string) (*Result, error) {
	if res, ok := a.hotCacheGet(ctx, key); ok {
		return res, nil
	}

	st, qs, err := a.store.FindCached(ctx, level, theme)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	if st != nil {
		res := &Result{Story: st, Questions: qs, Cached: true}
		a.hotCacheSet(ctx, key, res)
		return res, nil
	}

	draft, err := a.generator.GenerateStory(ctx, level, theme, interests, multiplier, lang)
	if err != nil {
		return nil, fmt.Errorf("generate story: %w", err)
	}

	metadata := map[string]any{
		"emoji": draft.Emoji,
		"model": draft.Model,
	}

	// A rubric miss is a quality defect, not a hard error: the paid
	// generation is kept and flagged rather than discarded.
	validation := a.rubrics.Validate(draft.Text, level)
	if !validation.OK {
		metadata["low_confidence"] = true
		metadata["rubric_reasons"] = validation.Reasons
		slog.Warn("generated story failed rubric validation",
			"level", level.String(),
			"theme", theme,
			"reasons", validation.Reasons,
		)
	}

	questions, err := a.generator.GenerateQuestions(ctx, draft.Text, level, a.numQuestions, multiplier, lang)
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}

	wordCount := countWords(draft.Text)
	story := &Story{
		Title:          draft.Title,
		Text:           draft.Text,
		Theme:          theme,
		ReadingLevel:   level,
		Language:       lang,
		WordCount:      wordCount,
		ReadingMinutes: a.rubrics.ReadingMinutes(level, wordCount),
		Vocabulary:     draft.Vocabulary,
		Metadata:       metadata,
	}

	created, createdQs, err := a.store.CreateWithQuestions(ctx, story, questions)
	if err != nil {
		return nil, fmt.Errorf("persist story with questions: %w", err)
	}

	slog.Info("story assembled",
		"story_id", created.ID,
		"level", level.String(),
		"theme", theme,
		"word_count", created.WordCount,
		"questions", len(createdQs),
	)

	res := &Result{Story: created, Questions: createdQs, Cached: false}
	a.hotCacheSet(ctx, key, &Result{Story: created, Questions: createdQs, Cached: true})
	return res, nil
}

func (a *Assembler) hotCacheGet(ctx context.Context, key string) (*Result, bool) {
	if a.hotCache == nil {
		return nil, false
	}
	data, ok, err := a.hotCache.GetBytes(ctx, key)
	if err != nil {
		slog.Warn("hot cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		slog.Warn("hot cache payload corrupt", "key", key, "error", err)
		return nil, false
	}
	res.Cached = true
	return &res, true
}

func (a *Assembler) hotCacheSet(ctx context.Context, key string, res *Result) {
	if a.hotCache == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := a.hotCache.SetBytes(ctx, key, data, a.hotCacheTTL); err != nil {
		slog.Warn("hot cache write failed", "key", key, "error", err)
	}
}

// normalizeLanguage canonicalizes a BCP-47 tag, defaulting to English.
func normalizeLanguage(tag string) (string, error) {
	if tag == "" {
		return "en", nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, tag)
	}
	return parsed.String(), nil
}

func countWords(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch {
		case r == ' ' || r == '\n' || r == '\t' || r == '\r':
			inWord = false
		case !inWord:
			inWord = true
			n++
		}
	}
	return n
}
