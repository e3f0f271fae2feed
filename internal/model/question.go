package model

import (
	"github.com/google/uuid"
)

// QuestionType enumerates the supported question formats.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeMultipleSelect QuestionType = "MULTIPLE_SELECT"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionTypeEssay          QuestionType = "ESSAY"
	QuestionTypeCoding         QuestionType = "CODING"
)

// Option is a single selectable choice. The ID is stable for the lifetime
// of the question regardless of presentation order, so shuffling never
// remaps what an answer refers to.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a single assessment question as presented to a candidate.
// Immutable for the lifetime of a session after loading. Correct options
// live only in the authoring store and are never selected by this service.
type Question struct {
	ID         uuid.UUID    `json:"id"`
	Type       QuestionType `json:"type"`
	Prompt     string       `json:"prompt"`
	CodeSample string       `json:"code_sample,omitempty"`
	Options    []Option     `json:"options,omitempty"`
	Section    string       `json:"section,omitempty"`
}

// HasOptions reports whether the question type carries an option list.
func (q *Question) HasOptions() bool {
	switch q.Type {
	case QuestionTypeMultipleChoice, QuestionTypeMultipleSelect, QuestionTypeTrueFalse:
		return true
	default:
		return false
	}
}
