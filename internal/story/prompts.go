package story

import (
	"fmt"
	"strings"
)

const storySystemPrompt = `You are a children's story author writing for a reading-education app.
You always answer with a single JSON object and nothing else: no prose, no markdown fences.`

const questionsSystemPrompt = `You write reading-comprehension questions for a children's reading app.
You always answer with a single JSON array and nothing else: no prose, no markdown fences.`

func buildStoryPrompt(level ReadingLevel, rubric LevelRubric, theme string, interests []string, targetWords int, language string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write a children's story in %s on the theme %q.\n\n", language, theme)
	fmt.Fprintf(&b, "Reading level: %s. Style: %s.\n", level, rubric.Description)
	fmt.Fprintf(&b, "Target length: about %d words (stay between %d and %d).\n", targetWords, rubric.MinWords, rubric.MaxWords)
	fmt.Fprintf(&b, "Keep every sentence under %d words.\n", rubric.MaxSentenceWords)

	if len(interests) > 0 {
		fmt.Fprintf(&b, "If it fits naturally, weave in the reader's interests: %s. These are hints, not requirements.\n", strings.Join(interests, ", "))
	}

	b.WriteString(`
Return a JSON object with exactly these fields:
{
  "title": "story title",
  "text": "the full story text",
  "emoji": "one emoji that fits the story",
  "vocabulary": [
    {"word": "a notable word from the text", "definition": "child-friendly definition"}
  ]
}
Include 3 to 5 vocabulary entries, each for a word that actually appears in the text.`)

	return b.String()
}

func buildQuestionsPrompt(storyText string, level ReadingLevel, numQuestions int, multiplier float64, language string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write exactly %d comprehension questions in %s for this %s-level story:\n\n%s\n\n", numQuestions, language, level, storyText)

	switch {
	case multiplier > 1.0:
		b.WriteString("Lean toward the harder end of what this reading level allows.\n\n")
	case multiplier > 0 && multiplier < 1.0:
		b.WriteString("Lean toward the easier end of what this reading level allows.\n\n")
	}

	b.WriteString(`Allowed question types: multiple_choice, true_false, fill_in_blank, sequencing, short_answer, vocabulary_match, prediction.
Use a mix of types.

Return a JSON array where each element has:
{
  "type": "one of the allowed types",
  "text": "the question",
  "options": ["choices, where the type has them"],
  "answer": ["the correct answer; for sequencing, the options in correct order"],
  "explanation": "a short hint or explanation"
}

Rules:
- multiple_choice: 3 or 4 options, answer is exactly one of them
- true_false: answer is "true" or "false"
- sequencing: options lists events, answer lists the same events in story order
- fill_in_blank: text contains ___ and answer is the missing word
- short_answer, prediction: no options, one expected answer
- vocabulary_match: options lists definitions, answer is the matching one`)

	return b.String()
}
