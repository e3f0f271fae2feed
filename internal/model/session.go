package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates assessment session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitting SessionStatus = "SUBMITTING"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
	SessionStatusTerminated SessionStatus = "TERMINATED"
)

// AssessmentSession represents one candidate's live attempt at an assessment.
// Sessions are created by the hiring module when a candidate begins a test;
// this service only drives them to a terminal state.
type AssessmentSession struct {
	ID                 uuid.UUID     `json:"id"`
	AssessmentID       uuid.UUID     `json:"assessment_id"`
	CandidateID        int           `json:"candidate_id"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         *time.Time    `json:"finished_at,omitempty"`
	DurationSeconds    int           `json:"duration_seconds"`
	Status             SessionStatus `json:"status"`
	TabSwitchCount     int           `json:"tab_switch_count"`
	TabSwitchLimit     int           `json:"tab_switch_limit"`
	ProctoringEnabled  bool          `json:"proctoring_enabled"`
	FullscreenRequired bool          `json:"fullscreen_required"`
	ShuffleQuestions   bool          `json:"shuffle_questions"`
	ShuffleOptions     bool          `json:"shuffle_options"`
}

// Deadline returns the absolute point in time at which the session expires.
func (s *AssessmentSession) Deadline() time.Time {
	return s.StartedAt.Add(time.Duration(s.DurationSeconds) * time.Second)
}

// Remaining returns the time left at the given instant, floored at zero.
func (s *AssessmentSession) Remaining(now time.Time) time.Duration {
	r := s.Deadline().Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

// IsTerminal reports whether the session can no longer accept input.
func (s *AssessmentSession) IsTerminal() bool {
	return s.Status == SessionStatusSubmitted || s.Status == SessionStatusTerminated
}

// IntegrityViolation is a single recorded focus-loss event.
type IntegrityViolation struct {
	SessionID      uuid.UUID `json:"session_id"`
	RecordedAt     time.Time `json:"recorded_at"`
	ResultingCount int       `json:"resulting_count"`
}
