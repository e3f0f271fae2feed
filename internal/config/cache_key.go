package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionAnswersKey returns the cache key for a session's autosaved answers.
func (r *CacheKeyStruct) SessionAnswersKey(sessionID string) string {
	return fmt.Sprintf("session:%s:answers", sessionID)
}

// SessionStartKey returns the cache key for a session's start timestamp.
func (r *CacheKeyStruct) SessionStartKey(sessionID string) string {
	return fmt.Sprintf("session:%s:started_at", sessionID)
}

// SessionViolationCountKey returns the cache key for a session's running
// integrity violation count.
func (r *CacheKeyStruct) SessionViolationCountKey(sessionID string) string {
	return fmt.Sprintf("session:%s:violations", sessionID)
}

// SessionSequenceKey returns the cache key for a session's shuffled
// question sequence.
func (r *CacheKeyStruct) SessionSequenceKey(sessionID string) string {
	return fmt.Sprintf("session:%s:sequence", sessionID)
}

// AssessmentPayloadKey returns the cache key for an assessment's
// candidate-facing payload.
func (r *CacheKeyStruct) AssessmentPayloadKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:payload", assessmentID)
}

var CacheKey = NewCacheKeyStruct()
