package story

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// LevelRubric holds the measurable constraints for one reading level.
// The table is configuration data: it can be replaced from a YAML file
// without touching the validator.
type LevelRubric struct {
	// Description is embedded in generation prompts.
	Description string `yaml:"description"`
	// MinWords and MaxWords bound the story body length.
	MinWords int `yaml:"min_words"`
	MaxWords int `yaml:"max_words"`
	// MaxSentenceWords is the ceiling on words in a single sentence.
	MaxSentenceWords int `yaml:"max_sentence_words"`
	// ComplexWordLength is the letter count above which a word counts as
	// complex; MaxComplexRatio caps the fraction of complex words.
	ComplexWordLength int     `yaml:"complex_word_length"`
	MaxComplexRatio   float64 `yaml:"max_complex_ratio"`
	// WordsPerMinute drives the estimated reading time.
	WordsPerMinute int `yaml:"words_per_minute"`
}

// RubricTable maps each reading level to its constraints.
type RubricTable map[ReadingLevel]LevelRubric

// DefaultRubricTable returns the built-in constraint table. Bands widen and
// ceilings rise with each level.
func DefaultRubricTable() RubricTable {
	return RubricTable{
		LevelBeginner: {
			Description:       "very short sentences, simple common words, present tense, lots of repetition",
			MinWords:          30,
			MaxWords:          100,
			MaxSentenceWords:  8,
			ComplexWordLength: 6,
			MaxComplexRatio:   0.05,
			WordsPerMinute:    60,
		},
		LevelEarly: {
			Description:       "short sentences, familiar vocabulary, simple plot with a clear beginning and end",
			MinWords:          50,
			MaxWords:          150,
			MaxSentenceWords:  10,
			ComplexWordLength: 7,
			MaxComplexRatio:   0.08,
			WordsPerMinute:    80,
		},
		LevelDeveloping: {
			Description:       "varied short sentences, some new vocabulary in context, simple dialogue",
			MinWords:          80,
			MaxWords:          250,
			MaxSentenceWords:  12,
			ComplexWordLength: 8,
			MaxComplexRatio:   0.12,
			WordsPerMinute:    100,
		},
		LevelIntermediate: {
			Description:       "longer sentences, richer vocabulary, multi-scene plot, descriptive language",
			MinWords:          150,
			MaxWords:          400,
			MaxSentenceWords:  15,
			ComplexWordLength: 9,
			MaxComplexRatio:   0.18,
			WordsPerMinute:    130,
		},
		LevelAdvanced: {
			Description:       "complex sentence structures, figurative language, character development",
			MinWords:          250,
			MaxWords:          600,
			MaxSentenceWords:  18,
			ComplexWordLength: 10,
			MaxComplexRatio:   0.25,
			WordsPerMinute:    160,
		},
		LevelProficient: {
			Description:       "sophisticated vocabulary, layered plot, varied narrative techniques",
			MinWords:          350,
			MaxWords:          900,
			MaxSentenceWords:  22,
			ComplexWordLength: 11,
			MaxComplexRatio:   0.35,
			WordsPerMinute:    200,
		},
	}
}

// LoadRubricTable reads a constraint table from a YAML file. Levels absent
// from the file keep their built-in defaults.
func LoadRubricTable(path string) (RubricTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rubric file: %w", err)
	}

	var overrides map[string]LevelRubric
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing rubric file: %w", err)
	}

	table := DefaultRubricTable()
	for name, rubric := range overrides {
		level, err := ParseLevel(name)
		if err != nil {
			return nil, fmt.Errorf("rubric file: %w", err)
		}
		table[level] = rubric
	}

	if err := table.check(); err != nil {
		return nil, err
	}
	return table, nil
}

func (t RubricTable) check() error {
	for _, level := range Levels() {
		r, ok := t[level]
		if !ok {
			return fmt.Errorf("rubric table missing level %s", level)
		}
		if r.MinWords <= 0 || r.MaxWords < r.MinWords {
			return fmt.Errorf("rubric for %s has invalid word band [%d, %d]", level, r.MinWords, r.MaxWords)
		}
	}
	return nil
}

// Validation is the result of checking a text against a level's rubric.
type Validation struct {
	OK      bool     `json:"ok"`
	Reasons []string `json:"reasons,omitempty"`
}

// Validate checks text against the constraints for the given level. It is a
// pure function of (text, level, table) and fails closed: every unmet
// constraint is recorded, and OK is true only when all pass.
func (t RubricTable) Validate(text string, level ReadingLevel) Validation {
	rubric, ok := t[level]
	if !ok {
		return Validation{Reasons: []string{fmt.Sprintf("no rubric for level %s", level)}}
	}

	var reasons []string

	words := strings.Fields(text)
	if len(words) < rubric.MinWords {
		reasons = append(reasons, fmt.Sprintf("word count %d below minimum %d for %s", len(words), rubric.MinWords, level))
	}
	if len(words) > rubric.MaxWords {
		reasons = append(reasons, fmt.Sprintf("word count %d above maximum %d for %s", len(words), rubric.MaxWords, level))
	}

	if longest := longestSentenceWords(text); longest > rubric.MaxSentenceWords {
		reasons = append(reasons, fmt.Sprintf("longest sentence has %d words, ceiling is %d for %s", longest, rubric.MaxSentenceWords, level))
	}

	if len(words) > 0 {
		complex := 0
		for _, w := range words {
			if letterCount(w) > rubric.ComplexWordLength {
				complex++
			}
		}
		ratio := float64(complex) / float64(len(words))
		if ratio > rubric.MaxComplexRatio {
			reasons = append(reasons, fmt.Sprintf("complex word ratio %.2f above ceiling %.2f for %s", ratio, rubric.MaxComplexRatio, level))
		}
	}

	return Validation{OK: len(reasons) == 0, Reasons: reasons}
}

// ReadingMinutes estimates reading time in whole minutes for a word count at
// the given level, rounding up with a floor of one minute.
func (t RubricTable) ReadingMinutes(level ReadingLevel, wordCount int) int {
	rubric, ok := t[level]
	if !ok || rubric.WordsPerMinute <= 0 {
		return 1
	}
	minutes := (wordCount + rubric.WordsPerMinute - 1) / rubric.WordsPerMinute
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// TargetWords returns the generation target: the center of the level's band
// scaled by the difficulty multiplier, clamped to the band.
func (t RubricTable) TargetWords(level ReadingLevel, multiplier float64) int {
	rubric, ok := t[level]
	if !ok {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 1.0
	}
	target := int(float64(rubric.MinWords+rubric.MaxWords) / 2 * multiplier)
	if target < rubric.MinWords {
		target = rubric.MinWords
	}
	if target > rubric.MaxWords {
		target = rubric.MaxWords
	}
	return target
}

func longestSentenceWords(text string) int {
	longest := 0
	count := 0
	for _, field := range strings.Fields(text) {
		count++
		if strings.ContainsAny(field, ".!?") {
			if count > longest {
				longest = count
			}
			count = 0
		}
	}
	if count > longest {
		longest = count
	}
	return longest
}

func letterCount(word string) int {
	n := 0
	for _, r := range word {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
