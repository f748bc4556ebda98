package story

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// QuestionType is the closed set of comprehension question kinds.
type QuestionType string

const (
	QuestionMultipleChoice  QuestionType = "multiple_choice"
	QuestionTrueFalse       QuestionType = "true_false"
	QuestionFillInBlank     QuestionType = "fill_in_blank"
	QuestionSequencing      QuestionType = "sequencing"
	QuestionShortAnswer     QuestionType = "short_answer"
	QuestionVocabularyMatch QuestionType = "vocabulary_match"
	QuestionPrediction      QuestionType = "prediction"
)

// QuestionTypes returns every valid question type.
func QuestionTypes() []QuestionType {
	return []QuestionType{
		QuestionMultipleChoice,
		QuestionTrueFalse,
		QuestionFillInBlank,
		QuestionSequencing,
		QuestionShortAnswer,
		QuestionVocabularyMatch,
		QuestionPrediction,
	}
}

// ValidQuestionType reports whether s is in the closed type set.
func ValidQuestionType(s string) bool {
	for _, qt := range QuestionTypes() {
		if string(qt) == s {
			return true
		}
	}
	return false
}

// VocabWord is a vocabulary entry attached to a story, with a position span
// into the story text.
type VocabWord struct {
	Word       string `json:"word"`
	Definition string `json:"definition"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// Story is an immutable generated story. Only Metadata may change after
// creation.
type Story struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Text           string         `json:"text"`
	Theme          string         `json:"theme"`
	ReadingLevel   ReadingLevel   `json:"readingLevel"`
	Language       string         `json:"language"`
	WordCount      int            `json:"wordCount"`
	ReadingMinutes int            `json:"readingMinutes"`
	Vocabulary     []VocabWord    `json:"vocabulary,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Question is one comprehension question belonging to a story. Questions are
// created with their story in a single transaction and cascade-deleted with
// it.
type Question struct {
	ID          string       `json:"id"`
	StoryID     string       `json:"storyId"`
	Type        QuestionType `json:"type"`
	Text        string       `json:"text"`
	Options     []string     `json:"options,omitempty"`
	// Answer holds the correct answer: a single value, or for sequencing
	// questions the ordered list joined in order.
	Answer      []string `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ErrInvalidLanguage marks a language tag that fails BCP-47 parsing.
var ErrInvalidLanguage = errors.New("invalid language tag")

// ErrMissingTheme marks a request without a theme.
var ErrMissingTheme = errors.New("theme is required")

// IsCallerError reports whether err belongs to the caller-error class
// (invalid input, surfaced without any provider call).
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInvalidReadingLevel) ||
		errors.Is(err, ErrInvalidLanguage) ||
		errors.Is(err, ErrMissingTheme)
}

// CacheKey is the addressable unit for "is there already an acceptable
// story for this slot": the (readingLevel, theme) pair.
func CacheKey(level ReadingLevel, theme string) string {
	return fmt.Sprintf("story:%s|%s", level, strings.ToLower(strings.TrimSpace(theme)))
}
