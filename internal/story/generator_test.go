package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/yelabb/readquest/internal/ai"
)

type completerFunc func(ctx context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error)

func (f completerFunc) Complete(ctx context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error) {
	return f(ctx, req)
}

func respondWith(content string) completerFunc {
	return func(_ context.Context, _ ai.CompletionRequest) (ai.CompletionResponse, error) {
		return ai.CompletionResponse{Content: content, Model: "mock"}, nil
	}
}

func storyDraftJSON(text string) string {
	doc := map[string]any{
		"title": "The Cat",
		"text":  text,
		"emoji": "🐱",
		"vocabulary": []map[string]string{
			{"word": "mat", "definition": "a small rug"},
			{"word": "spaceship", "definition": "not in this story"},
		},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

func questionsJSON(qs ...map[string]any) string {
	b, _ := json.Marshal(qs)
	return string(b)
}

func mcQuestion() map[string]any {
	return map[string]any{
		"type":        "multiple_choice",
		"text":        "Where did the cat sit?",
		"options":     []string{"the mat", "the hat", "the car"},
		"answer":      []string{"the mat"},
		"explanation": "The story says the cat sat on the mat.",
	}
}

func tfQuestion() map[string]any {
	return map[string]any{
		"type":   "true_false",
		"text":   "The cat sat on the mat.",
		"answer": []string{"true"},
	}
}

func TestGenerateStory(t *testing.T) {
	text := simpleText(8)
	gen := NewGenerator(respondWith(storyDraftJSON(text)), DefaultRubricTable(), time.Second)

	draft, err := gen.GenerateStory(context.Background(), LevelBeginner, "cats", []string{"animals"}, 1.0, "en")
	if err != nil {
		t.Fatalf("GenerateStory: %v", err)
	}
	if draft.Title != "The Cat" {
		t.Errorf("title = %q", draft.Title)
	}
	if draft.Text != text {
		t.Errorf("text not preserved")
	}
	if draft.Model != "mock" {
		t.Errorf("model = %q", draft.Model)
	}

	// "mat" appears in the text and resolves to a span; "spaceship" does not
	// and is dropped.
	if len(draft.Vocabulary) != 1 {
		t.Fatalf("vocabulary = %v, want the single resolvable entry", draft.Vocabulary)
	}
	v := draft.Vocabulary[0]
	if v.Word != "mat" {
		t.Errorf("word = %q", v.Word)
	}
	if got := draft.Text[v.Start:v.End]; !strings.EqualFold(got, "mat") {
		t.Errorf("span [%d,%d) covers %q, want \"mat\"", v.Start, v.End, got)
	}
}

func TestGenerateStoryStripsCodeFence(t *testing.T) {
	fenced := "```json\n" + storyDraftJSON(simpleText(8)) + "\n```"
	gen := NewGenerator(respondWith(fenced), DefaultRubricTable(), time.Second)

	if _, err := gen.GenerateStory(context.Background(), LevelBeginner, "cats", nil, 1.0, "en"); err != nil {
		t.Fatalf("fenced output should still parse: %v", err)
	}
}

func TestGenerateStoryMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not JSON", content: "Once upon a time..."},
		{name: "missing text", content: `{"title": "The Cat"}`},
		{name: "empty title", content: `{"title": "", "text": "words"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := NewGenerator(respondWith(tt.content), DefaultRubricTable(), time.Second)
			_, err := gen.GenerateStory(context.Background(), LevelBeginner, "cats", nil, 1.0, "en")
			var malformedErr *MalformedOutputError
			if !errors.As(err, &malformedErr) {
				t.Fatalf("error = %v, want MalformedOutputError", err)
			}
		})
	}
}

func TestGenerateQuestions(t *testing.T) {
	content := questionsJSON(mcQuestion(), tfQuestion())
	gen := NewGenerator(respondWith(content), DefaultRubricTable(), time.Second)

	qs, err := gen.GenerateQuestions(context.Background(), simpleText(8), LevelBeginner, 2, 1.0, "en")
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("got %d questions, want 2", len(qs))
	}
	if qs[0].Type != QuestionMultipleChoice || qs[1].Type != QuestionTrueFalse {
		t.Errorf("types = %v, %v", qs[0].Type, qs[1].Type)
	}
	if qs[0].Answer[0] != "the mat" {
		t.Errorf("answer = %v", qs[0].Answer)
	}
}

func TestGenerateQuestionsCountContract(t *testing.T) {
	// Asking for 3 but receiving 2 is malformed output, not silently accepted.
	content := questionsJSON(mcQuestion(), tfQuestion())
	gen := NewGenerator(respondWith(content), DefaultRubricTable(), time.Second)

	_, err := gen.GenerateQuestions(context.Background(), simpleText(8), LevelBeginner, 3, 1.0, "en")
	var malformedErr *MalformedOutputError
	if !errors.As(err, &malformedErr) {
		t.Fatalf("error = %v, want MalformedOutputError", err)
	}
	if !strings.Contains(malformedErr.Reason, "count") {
		t.Errorf("reason = %q", malformedErr.Reason)
	}
}

func TestGenerateQuestionsConsistencyRules(t *testing.T) {
	tests := []struct {
		name string
		q    map[string]any
	}{
		{
			name: "multiple choice answer not among options",
			q: map[string]any{
				"type":    "multiple_choice",
				"text":    "Where?",
				"options": []string{"a", "b"},
				"answer":  []string{"c"},
			},
		},
		{
			name: "multiple choice single option",
			q: map[string]any{
				"type":    "multiple_choice",
				"text":    "Where?",
				"options": []string{"a"},
				"answer":  []string{"a"},
			},
		},
		{
			name: "true false bad answer",
			q: map[string]any{
				"type":   "true_false",
				"text":   "The cat sat.",
				"answer": []string{"maybe"},
			},
		},
		{
			name: "sequencing answer not a permutation",
			q: map[string]any{
				"type":    "sequencing",
				"text":    "Order the events.",
				"options": []string{"wake", "eat", "sleep"},
				"answer":  []string{"wake", "eat", "run"},
			},
		},
		{
			name: "fill in blank without blank",
			q: map[string]any{
				"type":   "fill_in_blank",
				"text":   "The cat sat on the mat.",
				"answer": []string{"mat"},
			},
		},
		{
			name: "vocabulary match answer outside options",
			q: map[string]any{
				"type":    "vocabulary_match",
				"text":    "What does mat mean?",
				"options": []string{"a rug", "a hat"},
				"answer":  []string{"a car"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := NewGenerator(respondWith(questionsJSON(tt.q)), DefaultRubricTable(), time.Second)
			_, err := gen.GenerateQuestions(context.Background(), simpleText(8), LevelBeginner, 1, 1.0, "en")
			var malformedErr *MalformedOutputError
			if !errors.As(err, &malformedErr) {
				t.Fatalf("error = %v, want MalformedOutputError", err)
			}
		})
	}
}

func TestGenerateQuestionsSequencingAccepted(t *testing.T) {
	q := map[string]any{
		"type":    "sequencing",
		"text":    "Order the events.",
		"options": []string{"wake", "eat", "sleep"},
		"answer":  []string{"sleep", "wake", "eat"},
	}
	gen := NewGenerator(respondWith(questionsJSON(q)), DefaultRubricTable(), time.Second)
	if _, err := gen.GenerateQuestions(context.Background(), simpleText(8), LevelBeginner, 1, 1.0, "en"); err != nil {
		t.Fatalf("valid sequencing rejected: %v", err)
	}
}

func TestCompleteRetriesTransientOnce(t *testing.T) {
	calls := 0
	completer := completerFunc(func(_ context.Context, _ ai.CompletionRequest) (ai.CompletionResponse, error) {
		calls++
		if calls == 1 {
			return ai.CompletionResponse{}, fmt.Errorf("provider: %w", ai.ErrRateLimited)
		}
		return ai.CompletionResponse{Content: storyDraftJSON(simpleText(8)), Model: "mock"}, nil
	})

	gen := NewGenerator(completer, DefaultRubricTable(), time.Second)
	if _, err := gen.GenerateStory(context.Background(), LevelBeginner, "cats", nil, 1.0, "en"); err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCompleteDoesNotRetryTwice(t *testing.T) {
	calls := 0
	completer := completerFunc(func(_ context.Context, _ ai.CompletionRequest) (ai.CompletionResponse, error) {
		calls++
		return ai.CompletionResponse{}, fmt.Errorf("provider: %w", ai.ErrRateLimited)
	})

	gen := NewGenerator(completer, DefaultRubricTable(), time.Second)
	_, err := gen.GenerateStory(context.Background(), LevelBeginner, "cats", nil, 1.0, "en")
	if !ai.IsTransient(err) {
		t.Fatalf("error = %v, want transient", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want exactly one retry", calls)
	}
}

func TestCompleteDoesNotRetryHardFailures(t *testing.T) {
	calls := 0
	completer := completerFunc(func(_ context.Context, _ ai.CompletionRequest) (ai.CompletionResponse, error) {
		calls++
		return ai.CompletionResponse{}, errors.New("invalid request")
	})

	gen := NewGenerator(completer, DefaultRubricTable(), time.Second)
	if _, err := gen.GenerateStory(context.Background(), LevelBeginner, "cats", nil, 1.0, "en"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, hard failures must not be retried", calls)
	}
}

func TestGenerateStoryPromptCarriesConstraints(t *testing.T) {
	var captured ai.CompletionRequest
	completer := completerFunc(func(_ context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error) {
		captured = req
		return ai.CompletionResponse{Content: storyDraftJSON(simpleText(8)), Model: "mock"}, nil
	})

	gen := NewGenerator(completer, DefaultRubricTable(), time.Second)
	if _, err := gen.GenerateStory(context.Background(), LevelBeginner, "space cats", []string{"rockets"}, 1.0, "fr"); err != nil {
		t.Fatal(err)
	}

	if captured.Task != ai.TaskStory {
		t.Errorf("task = %v", captured.Task)
	}
	prompt := captured.Messages[len(captured.Messages)-1].Content
	for _, want := range []string{"space cats", "rockets", "fr", "65"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
