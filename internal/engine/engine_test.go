package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/staffdeck/assess-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Test doubles ───────────────────────────────────────────────────

type syncRecord struct {
	questionID uuid.UUID
	value      model.AnswerValue
}

// fakeRemote is a programmable Remote.
type fakeRemote struct {
	mu sync.Mutex

	load    *LoadResult
	loadErr error

	syncs   []syncRecord
	syncErr error

	sequences [][]uuid.UUID

	violations   int
	violationErr error
	// terminateAt makes ReportViolation return terminated=true once the
	// server-side count reaches it. Zero disables termination.
	terminateAt int

	completeCalls int
	// failCompletes makes the first N Complete calls fail.
	failCompletes int
	// completeStarted/completeGate let a test hold a Complete call
	// mid-flight to provoke races.
	completeStarted chan struct{}
	completeGate    chan struct{}
}

func (r *fakeRemote) LoadSession(ctx context.Context, sessionID uuid.UUID) (*LoadResult, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	if r.load == nil {
		return nil, ErrSessionNotFound
	}
	return r.load, nil
}

func (r *fakeRemote) SyncAnswer(ctx context.Context, sessionID, questionID uuid.UUID, value model.AnswerValue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.syncErr != nil {
		return r.syncErr
	}
	r.syncs = append(r.syncs, syncRecord{questionID: questionID, value: value})
	return nil
}

func (r *fakeRemote) RecordSequence(ctx context.Context, sessionID uuid.UUID, order []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequences = append(r.sequences, order)
	return nil
}

func (r *fakeRemote) ReportViolation(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.violationErr != nil {
		return false, r.violationErr
	}
	r.violations++
	return r.terminateAt > 0 && r.violations >= r.terminateAt, nil
}

func (r *fakeRemote) Complete(ctx context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	r.completeCalls++
	call := r.completeCalls
	started := r.completeStarted
	gate := r.completeGate
	fail := r.failCompletes
	r.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if call <= fail {
		return errors.New("backend unavailable")
	}
	return nil
}

func (r *fakeRemote) syncCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.syncs)
}

func (r *fakeRemote) lastSync() syncRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncs[len(r.syncs)-1]
}

func (r *fakeRemote) completes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completeCalls
}

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ─── Fixtures ───────────────────────────────────────────────────────

func testQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:     uuid.New(),
			Type:   model.QuestionTypeShortAnswer,
			Prompt: fmt.Sprintf("Question %d", i+1),
		}
	}
	return qs
}

func testSession(startedAt time.Time, durationSeconds int) *model.AssessmentSession {
	return &model.AssessmentSession{
		ID:              uuid.New(),
		AssessmentID:    uuid.New(),
		CandidateID:     7,
		StartedAt:       startedAt,
		DurationSeconds: durationSeconds,
		Status:          model.SessionStatusInProgress,
		TabSwitchLimit:  3,
	}
}

func buildEngine(remote Remote, sess *model.AssessmentSession, qs []model.Question, opts Options) *Engine {
	res := &LoadResult{
		Session:    sess,
		Assessment: &model.AssessmentPayload{AssessmentID: sess.AssessmentID, Title: "Backend Screening"},
	}
	return newEngine(remote, res, qs, opts.withDefaults(), zerolog.Nop())
}

// collect drains already-published events without blocking.
func collect(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// ─── Autosave paths ─────────────────────────────────────────────────

func TestSetAnswerThrottledSync(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{}
	qs := testQuestions(2)
	eng := buildEngine(remote, testSession(clk.Now(), 3600), qs, Options{
		Throttle: 10 * time.Second,
		Now:      clk.Now,
	})
	ctx := context.Background()

	// First edit has no prior sync, so it goes out immediately.
	require.NoError(t, eng.SetAnswer(ctx, qs[0].ID, model.AnswerValue{Text: "first"}))
	assert.Equal(t, 1, remote.syncCount())

	// Within the throttle window nothing is sent.
	require.NoError(t, eng.SetAnswer(ctx, qs[0].ID, model.AnswerValue{Text: "second"}))
	assert.Equal(t, 1, remote.syncCount())

	// Once the window elapses the next edit syncs the current value.
	clk.Advance(10 * time.Second)
	require.NoError(t, eng.SetAnswer(ctx, qs[0].ID, model.AnswerValue{Text: "third"}))
	require.Equal(t, 2, remote.syncCount())
	assert.Equal(t, "third", remote.lastSync().value.Text)
	assert.False(t, eng.store.isDirty(qs[0].ID))
}

func TestSetAnswerGuards(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{}
	qs := testQuestions(1)
	eng := buildEngine(remote, testSession(clk.Now(), 3600), qs, Options{Now: clk.Now})

	err := eng.SetAnswer(context.Background(), uuid.New(), model.AnswerValue{Text: "stray"})
	assert.ErrorIs(t, err, ErrUnknownQuestion)

	eng.session.Status = model.SessionStatusSubmitted
	err = eng.SetAnswer(context.Background(), qs[0].ID, model.AnswerValue{Text: "late"})
	assert.ErrorIs(t, err, ErrSessionNotActive)
}

func TestNavigateFlushesLeavingQuestion(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{}
	qs := testQuestions(3)
	eng := buildEngine(remote, testSession(clk.Now(), 3600), qs, Options{
		Throttle: 10 * time.Second,
		Now:      clk.Now,
	})
	ctx := context.Background()

	require.NoError(t, eng.SetAnswer(ctx, qs[0].ID, model.AnswerValue{Text: "draft"}))
	require.NoError(t, eng.SetAnswer(ctx, qs[0].ID, model.AnswerValue{Text: "final"}))
	require.Equal(t, 1, remote.syncCount(), "second edit must be throttled")

	// The dirty answer on the question being left is flushed regardless
	// of the throttle timer.
	require.NoError(t, eng.Navigate(ctx, 1))
	require.Equal(t, 2, remote.syncCount())
	assert.Equal(t, "final", remote.lastSync().value.Text)
	assert.Equal(t, 1, eng.nav.Index())

	// Leaving a clean question flushes nothing.
	require.NoError(t, eng.Navigate(ctx, 0))
	assert.Equal(t, 2, remote.syncCount())

	assert.ErrorIs(t, eng.Navigate(ctx, 3), ErrIndexOutOfRange)
	assert.ErrorIs(t, eng.Navigate(ctx, -1), ErrIndexOutOfRange)
}

func TestNavigateMovesEvenWhenFlushFails(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{syncErr: errors.New("network down")}
	qs := testQuestions(2)
	eng := buildEngine(remote, testSession(clk.Now(), 3600), qs, Options{Now: clk.Now})
	ctx := context.Background()

	require.NoError(t, eng.SetAnswer(ctx, qs[0].ID, model.AnswerValue{Text: "kept locally"}))
	require.NoError(t, eng.Navigate(ctx, 1))
	assert.Equal(t, 1, eng.nav.Index())

	// The record stays dirty for the next opportunity.
	assert.True(t, eng.store.isDirty(qs[0].ID))
}

// ─── Submission ─────────────────────────────────────────────────────

func TestSubmitManual(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{}
	qs := testQuestions(2)
	eng := buildEngine(remote, testSession(clk.Now(), 3600), qs, Options{
		Throttle: 10 * time.Second,
		Now:      clk.Now,
	})
	ctx := context.Background()

	events, cancel := eng.Events()
	defer cancel()

	require.NoError(t, eng.SetAnswer(ctx, qs[0].ID, model.AnswerValue{Text: "a"}))
	require.NoError(t, eng.SetAnswer(ctx, qs[1].ID, model.AnswerValue{Text: "b"}))
	before := remote.syncCount()

	require.NoError(t, eng.Submit(ctx, false))

	// The final sweep pushed both non-empty answers.
	assert.Equal(t, before+2, remote.syncCount())
	assert.Equal(t, 1, remote.completes())
	assert.Equal(t, model.SessionStatusSubmitted, eng.Status())
	assert.True(t, eng.Done())
	require.NotNil(t, eng.session.FinishedAt)

	got := collect(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventSubmitted, got[0].Type)
	assert.False(t, got[0].Auto)

	// The stream is closed after the terminal event.
	_, open := <-events
	assert.False(t, open)

	assert.ErrorIs(t, eng.Submit(ctx, false), ErrSessionNotActive)
	assert.Equal(t, 1, remote.completes())
}

func TestSubmitManualFailureReopensSession(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{failCompletes: 1}
	qs := testQuestions(1)
	eng := buildEngine(remote, testSession(clk.Now(), 3600), qs, Options{Now: clk.Now})
	ctx := context.Background()

	require.Error(t, eng.Submit(ctx, false))
	assert.Equal(t, model.SessionStatusInProgress, eng.Status())

	// The candidate can keep answering and retry.
	require.NoError(t, eng.SetAnswer(ctx, qs[0].ID, model.AnswerValue{Text: "still here"}))
	require.NoError(t, eng.Submit(ctx, false))
	assert.Equal(t, model.SessionStatusSubmitted, eng.Status())
	assert.Equal(t, 2, remote.completes())
}

func TestSubmitAutoRetriesCompletion(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{failCompletes: 2}
	qs := testQuestions(1)
	eng := buildEngine(remote, testSession(clk.Now(), 3600), qs, Options{
		Now:              clk.Now,
		SubmitAttempts:   3,
		SubmitRetryDelay: time.Millisecond,
	})

	require.NoError(t, eng.Submit(context.Background(), true))
	assert.Equal(t, 3, remote.completes())
	assert.Equal(t, model.SessionStatusSubmitted, eng.Status())
}

func TestSubmitAutoExhaustedPublishesFailure(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{failCompletes: 10}
	qs := testQuestions(1)
	eng := buildEngine(remote, testSession(clk.Now(), 3600), qs, Options{
		Now:              clk.Now,
		SubmitAttempts:   2,
		SubmitRetryDelay: time.Millisecond,
	})

	events, cancel := eng.Events()
	defer cancel()

	require.Error(t, eng.Submit(context.Background(), true))
	assert.Equal(t, 2, remote.completes())
	// The automatic path never reopens the session.
	assert.Equal(t, model.SessionStatusSubmitting, eng.Status())

	got := collect(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventSubmitFailed, got[0].Type)
	assert.True(t, got[0].Auto)
}

func TestSubmitConcurrentTriggersCompleteOnce(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{
		completeStarted: make(chan struct{}, 1),
		completeGate:    make(chan struct{}),
	}
	qs := testQuestions(1)
	eng := buildEngine(remote, testSession(clk.Now(), 3600), qs, Options{Now: clk.Now})

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Submit(context.Background(), false) }()

	// Hold the first submission mid-flight; the racing trigger must see
	// SUBMITTING and back off.
	<-remote.completeStarted
	assert.ErrorIs(t, eng.Submit(context.Background(), false), ErrSubmitInFlight)

	close(remote.completeGate)
	require.NoError(t, <-errCh)
	assert.Equal(t, 1, remote.completes())
	assert.Equal(t, model.SessionStatusSubmitted, eng.Status())
}

// ─── Integrity monitoring ───────────────────────────────────────────

func proctoredSession(startedAt time.Time) *model.AssessmentSession {
	sess := testSession(startedAt, 3600)
	sess.ProctoringEnabled = true
	return sess
}

func TestIntegrityWarningsAndTermination(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{terminateAt: 3}
	qs := testQuestions(1)
	eng := buildEngine(remote, proctoredSession(clk.Now()), qs, Options{
		Now:          clk.Now,
		DedupeWindow: time.Second,
	})
	eng.Start()

	events, cancel := eng.Events()
	defer cancel()

	base := clk.Now()

	// A tab switch fires both signals; the pair counts once.
	eng.DocumentHidden().Emit(base)
	eng.WindowBlur().Emit(base.Add(100 * time.Millisecond))
	assert.Equal(t, 1, eng.ViolationCount())

	eng.WindowBlur().Emit(base.Add(2 * time.Second))
	assert.Equal(t, 2, eng.ViolationCount())
	assert.Equal(t, model.SessionStatusInProgress, eng.Status())

	// The third switch-away hits the limit: the backend terminates.
	eng.DocumentHidden().Emit(base.Add(4 * time.Second))
	assert.Equal(t, 3, eng.ViolationCount())
	assert.Equal(t, model.SessionStatusTerminated, eng.Status())
	assert.Equal(t, 3, remote.violations)

	got := collect(events)
	require.Len(t, got, 3)
	assert.Equal(t, EventViolationWarning, got[0].Type)
	assert.Equal(t, 1, got[0].ViolationCount)
	assert.Equal(t, 3, got[0].ViolationLimit)
	assert.Equal(t, EventViolationWarning, got[1].Type)
	assert.Equal(t, 2, got[1].ViolationCount)
	assert.Equal(t, EventTerminated, got[2].Type)
	assert.Equal(t, 3, got[2].ViolationCount)

	// Terminated sessions accept nothing, not even a manual submit.
	err := eng.SetAnswer(context.Background(), qs[0].ID, model.AnswerValue{Text: "late"})
	assert.ErrorIs(t, err, ErrSessionNotActive)
	assert.ErrorIs(t, eng.Submit(context.Background(), false), ErrSessionNotActive)
	assert.Equal(t, 0, remote.completes())
}

func TestIntegrityReportFailureKeepsLocalCount(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{violationErr: errors.New("redis down")}
	qs := testQuestions(1)
	eng := buildEngine(remote, proctoredSession(clk.Now()), qs, Options{Now: clk.Now})
	eng.Start()

	events, cancel := eng.Events()
	defer cancel()

	eng.DocumentHidden().Emit(clk.Now())

	// Local count advances; no warning is shown for an unconfirmed report.
	assert.Equal(t, 1, eng.ViolationCount())
	assert.Equal(t, model.SessionStatusInProgress, eng.Status())
	assert.Empty(t, collect(events))
}

func TestIntegritySignalsIgnoredDuringSubmission(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{
		completeStarted: make(chan struct{}, 1),
		completeGate:    make(chan struct{}),
	}
	qs := testQuestions(1)
	eng := buildEngine(remote, proctoredSession(clk.Now()), qs, Options{Now: clk.Now})
	eng.Start()

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Submit(context.Background(), false) }()
	<-remote.completeStarted

	// Mid-submission focus loss must not count.
	eng.DocumentHidden().Emit(clk.Now())
	assert.Equal(t, 0, eng.ViolationCount())
	assert.Equal(t, 0, remote.violations)

	close(remote.completeGate)
	require.NoError(t, <-errCh)
}

func TestViolationCountSeededAcrossReload(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{terminateAt: 3}
	remote.violations = 2 // two violations already on record
	qs := testQuestions(1)
	sess := proctoredSession(clk.Now())
	sess.TabSwitchCount = 2

	res := &LoadResult{
		Session:        sess,
		Assessment:     &model.AssessmentPayload{AssessmentID: sess.AssessmentID, Title: "Backend Screening"},
		ViolationCount: 2,
	}
	eng := newEngine(remote, res, qs, Options{Now: clk.Now}.withDefaults(), zerolog.Nop())
	eng.Start()

	assert.Equal(t, 2, eng.ViolationCount())

	// A reload does not grant a fresh allowance: one more ends it.
	eng.WindowBlur().Emit(clk.Now())
	assert.Equal(t, 3, eng.ViolationCount())
	assert.Equal(t, model.SessionStatusTerminated, eng.Status())
}

// ─── Fullscreen monitoring ──────────────────────────────────────────

func TestFullscreenExitWarnsWithoutEndingSession(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{}
	qs := testQuestions(1)
	sess := testSession(clk.Now(), 3600)
	sess.FullscreenRequired = true
	eng := buildEngine(remote, sess, qs, Options{Now: clk.Now})
	eng.Start()

	events, cancel := eng.Events()
	defer cancel()

	eng.FullscreenExit().Emit(clk.Now())

	got := collect(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventFullscreenLost, got[0].Type)
	assert.Equal(t, model.SessionStatusInProgress, eng.Status())
	assert.Equal(t, 0, eng.ViolationCount())
}

// ─── Countdown ──────────────────────────────────────────────────────

func TestCountdownWarnsOnceThenAutoSubmits(t *testing.T) {
	remote := &fakeRemote{}
	qs := testQuestions(1)
	// Deadline ~120ms away: StartedAt sits almost a full hour in the past.
	sess := testSession(time.Now().Add(-3600*time.Second+120*time.Millisecond), 3600)
	eng := buildEngine(remote, sess, qs, Options{
		WarnThreshold:    80 * time.Millisecond,
		TickInterval:     10 * time.Millisecond,
		SubmitRetryDelay: time.Millisecond,
	})

	events, cancel := eng.Events()
	defer cancel()
	eng.Start()

	var got []Event
	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case ev, ok := <-events:
			if !ok {
				open = false
				break
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatal("timed out waiting for terminal event")
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, EventLowTime, got[0].Type)
	assert.LessOrEqual(t, got[0].RemainingSeconds, 1)
	assert.Equal(t, EventSubmitted, got[1].Type)
	assert.True(t, got[1].Auto)

	assert.Equal(t, 1, remote.completes())
	assert.Equal(t, model.SessionStatusSubmitted, eng.Status())
	assert.Equal(t, time.Duration(0), eng.Remaining())
}

func TestExpiredSessionAutoSubmitsOnFirstTick(t *testing.T) {
	remote := &fakeRemote{}
	qs := testQuestions(1)
	sess := testSession(time.Now().Add(-2*time.Hour), 3600)
	eng := buildEngine(remote, sess, qs, Options{
		TickInterval:     5 * time.Millisecond,
		SubmitRetryDelay: time.Millisecond,
	})
	eng.Start()

	require.Eventually(t, eng.Done, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.SessionStatusSubmitted, eng.Status())
	assert.Equal(t, 1, remote.completes())
}

func TestRemainingFrozenAfterFinish(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{}
	qs := testQuestions(1)
	eng := buildEngine(remote, testSession(clk.Now(), 3600), qs, Options{Now: clk.Now})

	clk.Advance(10 * time.Minute)
	require.NoError(t, eng.Submit(context.Background(), false))
	frozen := eng.Remaining()
	assert.Equal(t, 50*time.Minute, frozen)

	// Wall clock keeps moving; the session's remaining time does not.
	clk.Advance(30 * time.Minute)
	assert.Equal(t, frozen, eng.Remaining())
}

// ─── Snapshot ───────────────────────────────────────────────────────

func TestSnapshotReflectsLiveState(t *testing.T) {
	clk := newClock()
	remote := &fakeRemote{}
	qs := testQuestions(3)
	sess := proctoredSession(clk.Now())
	eng := buildEngine(remote, sess, qs, Options{Now: clk.Now})
	ctx := context.Background()

	require.NoError(t, eng.SetAnswer(ctx, qs[0].ID, model.AnswerValue{OptionID: "b"}))
	require.NoError(t, eng.Navigate(ctx, 2))
	require.NoError(t, eng.ToggleFlag(qs[1].ID))

	snap := eng.Snapshot()
	assert.Equal(t, sess.ID, snap.SessionID)
	assert.Equal(t, "Backend Screening", snap.Title)
	assert.Equal(t, model.SessionStatusInProgress, snap.Status)
	assert.Equal(t, 3600, snap.RemainingSeconds)
	assert.Len(t, snap.Questions, 3)
	assert.Equal(t, 2, snap.CurrentIndex)
	assert.Equal(t, []uuid.UUID{qs[1].ID}, snap.FlaggedIDs)
	assert.True(t, snap.ProctoringEnabled)
	assert.Equal(t, 3, snap.TabSwitchLimit)
	assert.Equal(t, Summary{Total: 3, Answered: 1, Unanswered: 2, Flagged: 1, Current: 2}, snap.Summary)
	assert.Equal(t, "b", snap.Answers[qs[0].ID].OptionID)
}
