package engine

import (
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/staffdeck/assess-backend/internal/model"
)

// answerRecord tracks one answer plus its sync state.
type answerRecord struct {
	value        model.AnswerValue
	dirty        bool
	lastModified time.Time
	lastSync     time.Time
}

// AnswerStore is the single source of truth for what the candidate has
// answered. It holds authoritative local state; the Synchronizer drains it
// to the Remote opportunistically (outbox pattern).
type AnswerStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*answerRecord
}

// NewAnswerStore creates an empty AnswerStore.
func NewAnswerStore() *AnswerStore {
	return &AnswerStore{records: make(map[uuid.UUID]*answerRecord)}
}

// Set records or overwrites an answer and marks it dirty. No shape
// validation happens here.
func (s *AnswerStore) Set(questionID uuid.UUID, value model.AnswerValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[questionID] = &answerRecord{
		value:        value.Normalize(),
		dirty:        true,
		lastModified: time.Now(),
	}
}

// restore seeds an answer from the backend without marking it dirty.
// Used by the Loader only.
func (s *AnswerStore) restore(questionID uuid.UUID, value model.AnswerValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[questionID] = &answerRecord{
		value:    value.Normalize(),
		lastSync: time.Now(),
	}
}

// Answer returns the recorded value for a question.
func (s *AnswerStore) Answer(questionID uuid.UUID) (model.AnswerValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[questionID]
	if !ok {
		return model.AnswerValue{}, false
	}
	return rec.value, true
}

// Has reports whether the question holds non-empty answer content.
func (s *AnswerStore) Has(questionID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[questionID]
	return ok && !rec.value.IsEmpty()
}

// AnsweredCount returns how many questions currently hold non-empty answers.
func (s *AnswerStore) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if !rec.value.IsEmpty() {
			n++
		}
	}
	return n
}

// All returns a snapshot of every recorded answer.
func (s *AnswerStore) All() map[uuid.UUID]model.AnswerValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]model.AnswerValue, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.value
	}
	return out
}

// nonEmpty lists questions eligible for the submission sweep.
func (s *AnswerStore) nonEmpty() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.records))
	for id, rec := range s.records {
		if !rec.value.IsEmpty() {
			ids = append(ids, id)
		}
	}
	return ids
}

// isDirty reports whether the question changed since its last successful sync.
func (s *AnswerStore) isDirty(questionID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[questionID]
	return ok && rec.dirty
}

// markSynced clears the dirty flag, but only if the value has not changed
// since the given snapshot was taken. A concurrent edit keeps the record
// dirty for the next sync opportunity.
func (s *AnswerStore) markSynced(questionID uuid.UUID, snapshot model.AnswerValue, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[questionID]
	if !ok {
		return
	}
	if reflect.DeepEqual(rec.value, snapshot) {
		rec.dirty = false
		rec.lastSync = at
	}
}
