package story

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// JSON Schemas for provider output. Structural failures here are
// malformed-generation errors, never retried.

const storyDraftSchema = `{
  "type": "object",
  "required": ["title", "text"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "text": {"type": "string", "minLength": 1},
    "emoji": {"type": "string"},
    "vocabulary": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["word", "definition"],
        "properties": {
          "word": {"type": "string", "minLength": 1},
          "definition": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

const questionListSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["type", "text", "answer"],
    "properties": {
      "type": {
        "type": "string",
        "enum": ["multiple_choice", "true_false", "fill_in_blank", "sequencing", "short_answer", "vocabulary_match", "prediction"]
      },
      "text": {"type": "string", "minLength": 1},
      "options": {"type": "array", "items": {"type": "string"}},
      "answer": {"type": "array", "items": {"type": "string"}, "minItems": 1},
      "explanation": {"type": "string"}
    }
  }
}`

// MalformedOutputError reports provider output that fails structural or
// semantic checks. It is a hard failure for the attempt: regenerating an
// ambiguous prompt is not guaranteed to converge, so callers do not retry.
type MalformedOutputError struct {
	Reason string
	Raw    string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed generation output: %s", e.Reason)
}

func malformed(raw, format string, args ...any) *MalformedOutputError {
	return &MalformedOutputError{Reason: fmt.Sprintf(format, args...), Raw: raw}
}

func checkSchema(schema, doc string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewStringLoader(doc),
	)
	if err != nil {
		return malformed(doc, "not valid JSON: %v", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return malformed(doc, "schema violation: %s", strings.Join(details, "; "))
	}
	return nil
}

// stripCodeFence removes a surrounding markdown code fence, which models
// emit despite instructions not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
