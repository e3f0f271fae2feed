package model

import (
	"github.com/google/uuid"
)

// Section is a labeled group of questions inside an assessment.
type Section struct {
	Label     string     `json:"label"`
	Questions []Question `json:"questions"`
}

// Assessment is the candidate-facing test definition. Authoring happens in
// a separate module; this service reads definitions and caches them in
// Redis as AssessmentPayload.
type Assessment struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
	Sections  []Section  `json:"sections,omitempty"`
}

// AssessmentPayload is the Redis-cached payload served to candidates.
type AssessmentPayload struct {
	AssessmentID uuid.UUID  `json:"assessment_id"`
	Title        string     `json:"title"`
	Questions    []Question `json:"questions"`
	Sections     []Section  `json:"sections,omitempty"`
}

// QuestionCount returns the number of questions across the top level and
// all sections.
func (a *Assessment) QuestionCount() int {
	n := len(a.Questions)
	for i := range a.Sections {
		n += len(a.Sections[i].Questions)
	}
	return n
}
