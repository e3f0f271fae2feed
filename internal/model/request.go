package model

// SaveAnswerRequest is the payload for recording a candidate answer.
type SaveAnswerRequest struct {
	Value AnswerValue `json:"value" binding:"required"`
}

// NavigateRequest is the payload for moving to another question.
type NavigateRequest struct {
	Index int `json:"index" binding:"min=0"`
}

// SignalRequest is the payload for a focus-loss signal. Source names the
// browser event that fired so the engine can de-duplicate paired events.
type SignalRequest struct {
	Source string `json:"source" binding:"required,oneof=visibility blur"`
}

// FullscreenRequest is the payload for a fullscreen state change.
type FullscreenRequest struct {
	Active *bool `json:"active" binding:"required"`
}
