package engine

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrIndexOutOfRange is returned for navigation outside [0, questionCount).
var ErrIndexOutOfRange = errors.New("question index out of range")

// Navigator tracks the current question position and the advisory
// review-flag set. Flags never affect scoring or submission eligibility.
type Navigator struct {
	mu    sync.Mutex
	index int
	count int
	flags map[uuid.UUID]struct{}
}

func newNavigator(questionCount int) *Navigator {
	return &Navigator{
		count: questionCount,
		flags: make(map[uuid.UUID]struct{}),
	}
}

// Index returns the current question position.
func (n *Navigator) Index() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index
}

// move changes the current index after a bounds check. The
// flush-then-move orchestration lives in Engine.Navigate.
func (n *Navigator) move(index int) error {
	if index < 0 || index >= n.count {
		return ErrIndexOutOfRange
	}
	n.mu.Lock()
	n.index = index
	n.mu.Unlock()
	return nil
}

// ToggleFlag flips a question's membership in the review-flag set.
func (n *Navigator) ToggleFlag(questionID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.flags[questionID]; ok {
		delete(n.flags, questionID)
	} else {
		n.flags[questionID] = struct{}{}
	}
}

// Flagged reports whether a question is marked for review.
func (n *Navigator) Flagged(questionID uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.flags[questionID]
	return ok
}

// FlaggedIDs returns the review-flag set as a slice.
func (n *Navigator) FlaggedIDs() []uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(n.flags))
	for id := range n.flags {
		ids = append(ids, id)
	}
	return ids
}

// Summary drives the navigator panel and the submit confirmation step.
type Summary struct {
	Total      int `json:"total"`
	Answered   int `json:"answered"`
	Unanswered int `json:"unanswered"`
	Flagged    int `json:"flagged"`
	Current    int `json:"current"`
}

func (n *Navigator) summary(store *AnswerStore) Summary {
	n.mu.Lock()
	index := n.index
	flagged := len(n.flags)
	count := n.count
	n.mu.Unlock()

	answered := store.AnsweredCount()
	return Summary{
		Total:      count,
		Answered:   answered,
		Unanswered: count - answered,
		Flagged:    flagged,
		Current:    index,
	}
}
