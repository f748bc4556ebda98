package story

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/yelabb/readquest/internal/ai"
)

const (
	storyMaxTokens     = 2048
	questionsMaxTokens = 1600

	storyTemperature     = 0.9
	questionsTemperature = 0.3
)

// Completer is the slice of the AI gateway the generator needs. Both
// *ai.Router and individual providers satisfy it.
type Completer interface {
	Complete(ctx context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error)
}

// Generator wraps the model provider with the two pipeline operations:
// story generation and question generation. It classifies failures as
// transient (retried once, surfaced as retry-later) or malformed (hard
// failure for the attempt, never retried).
type Generator struct {
	completer Completer
	rubrics   RubricTable
	timeout   time.Duration
}

// NewGenerator creates a generation client.
func NewGenerator(completer Completer, rubrics RubricTable, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Generator{
		completer: completer,
		rubrics:   rubrics,
		timeout:   timeout,
	}
}

// Draft is the parsed output of a story generation call, before rubric
// validation and persistence.
type Draft struct {
	Title      string
	Text       string
	Emoji      string
	Vocabulary []VocabWord
	Model      string
}

// GenerateStory asks the creative model for a story draft.
func (g *Generator) GenerateStory(ctx context.Context, level ReadingLevel, theme string, interests []string, multiplier float64, language string) (*Draft, error) {
	rubric := g.rubrics[level]
	target := g.rubrics.TargetWords(level, multiplier)
	prompt := buildStoryPrompt(level, rubric, theme, interests, target, language)

	resp, err := g.complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: storySystemPrompt},
			{Role: "user", Content: prompt},
		},
		Task:        ai.TaskStory,
		MaxTokens:   storyMaxTokens,
		Temperature: storyTemperature,
	})
	if err != nil {
		return nil, err
	}

	raw := stripCodeFence(resp.Content)
	if err := checkSchema(storyDraftSchema, raw); err != nil {
		return nil, err
	}

	var parsed struct {
		Title      string `json:"title"`
		Text       string `json:"text"`
		Emoji      string `json:"emoji"`
		Vocabulary []struct {
			Word       string `json:"word"`
			Definition string `json:"definition"`
		} `json:"vocabulary"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, malformed(raw, "decoding story draft: %v", err)
	}

	draft := &Draft{
		Title: strings.TrimSpace(parsed.Title),
		Text:  strings.TrimSpace(parsed.Text),
		Emoji: parsed.Emoji,
		Model: resp.Model,
	}

	// Resolve vocabulary spans against the text; entries whose word never
	// appears are dropped rather than stored with a broken span.
	lowerText := strings.ToLower(draft.Text)
	for _, v := range parsed.Vocabulary {
		word := strings.TrimSpace(v.Word)
		idx := strings.Index(lowerText, strings.ToLower(word))
		if word == "" || idx < 0 {
			slog.Debug("dropping vocabulary entry not present in text", "word", v.Word)
			continue
		}
		draft.Vocabulary = append(draft.Vocabulary, VocabWord{
			Word:       word,
			Definition: strings.TrimSpace(v.Definition),
			Start:      idx,
			End:        idx + len(word),
		})
	}

	return draft, nil
}

// GenerateQuestions asks the structured model for exactly numQuestions
// comprehension questions for the story text.
func (g *Generator) GenerateQuestions(ctx context.Context, storyText string, level ReadingLevel, numQuestions int, multiplier float64, language string) ([]Question, error) {
	if numQuestions <= 0 {
		numQuestions = 5
	}
	prompt := buildQuestionsPrompt(storyText, level, numQuestions, multiplier, language)

	resp, err := g.complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: questionsSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Task:        ai.TaskQuestions,
		MaxTokens:   questionsMaxTokens,
		Temperature: questionsTemperature,
	})
	if err != nil {
		return nil, err
	}

	raw := stripCodeFence(resp.Content)
	if err := checkSchema(questionListSchema, raw); err != nil {
		return nil, err
	}

	var parsed []struct {
		Type        string   `json:"type"`
		Text        string   `json:"text"`
		Options     []string `json:"options"`
		Answer      []string `json:"answer"`
		Explanation string   `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, malformed(raw, "decoding questions: %v", err)
	}

	if len(parsed) != numQuestions {
		return nil, malformed(raw, "question count %d, want %d", len(parsed), numQuestions)
	}

	questions := make([]Question, 0, len(parsed))
	for i, q := range parsed {
		question := Question{
			Type:        QuestionType(q.Type),
			Text:        strings.TrimSpace(q.Text),
			Options:     q.Options,
			Answer:      q.Answer,
			Explanation: strings.TrimSpace(q.Explanation),
		}
		if err := checkQuestion(raw, i, question); err != nil {
			return nil, err
		}
		questions = append(questions, question)
	}

	return questions, nil
}

// complete runs one provider call under the generation deadline, with a
// single retry for transient failures only.
func (g *Generator) complete(ctx context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.completer.Complete(callCtx, req)
	if err == nil {
		return resp, nil
	}
	if !ai.IsTransient(err) || ctx.Err() != nil {
		return ai.CompletionResponse{}, err
	}

	slog.Warn("transient provider failure, retrying once", "task", req.Task.String(), "error", err)

	retryCtx, cancelRetry := context.WithTimeout(ctx, g.timeout)
	defer cancelRetry()
	return g.completer.Complete(retryCtx, req)
}

// checkQuestion enforces the per-type internal consistency rules.
func checkQuestion(raw string, idx int, q Question) error {
	if !ValidQuestionType(string(q.Type)) {
		return malformed(raw, "question %d has invalid type %q", idx, q.Type)
	}
	if len(q.Answer) == 0 {
		return malformed(raw, "question %d has no answer", idx)
	}

	switch q.Type {
	case QuestionMultipleChoice:
		if len(q.Options) < 2 {
			return malformed(raw, "question %d: multiple choice needs at least 2 options", idx)
		}
		if len(q.Answer) != 1 || !contains(q.Options, q.Answer[0]) {
			return malformed(raw, "question %d: correct answer must be one of the options", idx)
		}
	case QuestionTrueFalse:
		if len(q.Answer) != 1 {
			return malformed(raw, "question %d: true/false needs a single answer", idx)
		}
		a := strings.ToLower(q.Answer[0])
		if a != "true" && a != "false" {
			return malformed(raw, "question %d: true/false answer must be true or false, got %q", idx, q.Answer[0])
		}
	case QuestionSequencing:
		if len(q.Options) < 2 {
			return malformed(raw, "question %d: sequencing needs at least 2 items", idx)
		}
		if !samePermutation(q.Options, q.Answer) {
			return malformed(raw, "question %d: sequencing answer must be an ordering of the provided items", idx)
		}
	case QuestionFillInBlank:
		if !strings.Contains(q.Text, "___") {
			return malformed(raw, "question %d: fill-in-blank text has no blank", idx)
		}
	case QuestionVocabularyMatch:
		if len(q.Options) > 0 && !contains(q.Options, q.Answer[0]) {
			return malformed(raw, "question %d: vocabulary match answer must be one of the options", idx)
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// samePermutation reports whether b is a reordering of a.
func samePermutation(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, v := range a {
		counts[v]++
	}
	for _, v := range b {
		counts[v]--
		if counts[v] < 0 {
			return false
		}
	}
	return true
}
