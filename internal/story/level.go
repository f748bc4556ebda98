// Package story implements the story generation pipeline: reading-level
// rubric validation, prompt construction, LLM-backed generation of stories
// and comprehension questions, cache lookup, and atomic persistence.
package story

import (
	"errors"
	"fmt"
	"strings"
)

// ReadingLevel is one of six ordered difficulty tiers governing vocabulary
// and length constraints.
type ReadingLevel string

const (
	LevelBeginner     ReadingLevel = "BEGINNER"
	LevelEarly        ReadingLevel = "EARLY"
	LevelDeveloping   ReadingLevel = "DEVELOPING"
	LevelIntermediate ReadingLevel = "INTERMEDIATE"
	LevelAdvanced     ReadingLevel = "ADVANCED"
	LevelProficient   ReadingLevel = "PROFICIENT"
)

// Levels returns all reading levels in ascending difficulty order.
func Levels() []ReadingLevel {
	return []ReadingLevel{
		LevelBeginner,
		LevelEarly,
		LevelDeveloping,
		LevelIntermediate,
		LevelAdvanced,
		LevelProficient,
	}
}

// ErrInvalidReadingLevel marks a level outside the closed enumeration.
// It is a caller error: no provider call is made.
var ErrInvalidReadingLevel = errors.New("invalid reading level")

// ParseLevel validates a reading level string (case-insensitive).
func ParseLevel(s string) (ReadingLevel, error) {
	candidate := ReadingLevel(strings.ToUpper(strings.TrimSpace(s)))
	for _, l := range Levels() {
		if candidate == l {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReadingLevel, s)
}

// Ord returns the position of the level in the ordered enumeration,
// starting at 0 for BEGINNER. Unknown levels return -1.
func (l ReadingLevel) Ord() int {
	for i, lvl := range Levels() {
		if l == lvl {
			return i
		}
	}
	return -1
}

func (l ReadingLevel) String() string {
	return string(l)
}
