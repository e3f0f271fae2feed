package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/staffdeck/assess-backend/internal/model"
)

// Domain errors surfaced to handlers.
var (
	ErrSessionNotActive = errors.New("session is not accepting input")
	ErrSubmitInFlight   = errors.New("submission already in progress")
	ErrUnknownQuestion  = errors.New("question does not belong to this session")
)

// Options tune engine timing. Zero values fall back to defaults.
type Options struct {
	Throttle         time.Duration
	WarnThreshold    time.Duration
	TickInterval     time.Duration
	DedupeWindow     time.Duration
	SubmitAttempts   int           // automatic-path completion attempts
	SubmitRetryDelay time.Duration // gap between automatic attempts
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Throttle <= 0 {
		o.Throttle = DefaultThrottle
	}
	if o.WarnThreshold <= 0 {
		o.WarnThreshold = DefaultWarnThreshold
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.DedupeWindow <= 0 {
		o.DedupeWindow = DefaultDedupeWindow
	}
	if o.SubmitAttempts <= 0 {
		o.SubmitAttempts = 3
	}
	if o.SubmitRetryDelay <= 0 {
		o.SubmitRetryDelay = 2 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine hosts one live assessment session: the question sequence, answer
// store, countdown, monitors, and the at-most-once submission guard.
// Public methods serialize on one mutex — the engine's events interleave,
// they never run concurrently against shared state.
type Engine struct {
	mu   sync.Mutex
	log  zerolog.Logger
	opts Options

	remote    Remote
	session   *model.AssessmentSession
	title     string
	questions []model.Question
	indexByID map[uuid.UUID]int

	store      *AnswerStore
	sync       *Synchronizer
	countdown  *Countdown
	integrity  *IntegrityMonitor
	fullscreen *FullscreenMonitor
	nav        *Navigator

	documentHidden *Feed
	windowBlur     *Feed
	fullscreenExit *Feed

	events *broadcaster

	frozenRemaining *time.Duration
	onFinish        func() // hub eviction hook
}

func newEngine(remote Remote, res *LoadResult, questions []model.Question, opts Options, log zerolog.Logger) *Engine {
	sess := res.Session

	e := &Engine{
		log: log.With().
			Str("component", "engine").
			Str("session_id", sess.ID.String()).
			Logger(),
		opts:           opts,
		remote:         remote,
		session:        sess,
		title:          res.Assessment.Title,
		questions:      questions,
		indexByID:      make(map[uuid.UUID]int, len(questions)),
		store:          NewAnswerStore(),
		nav:            newNavigator(len(questions)),
		documentHidden: NewFeed(),
		windowBlur:     NewFeed(),
		fullscreenExit: NewFeed(),
		events:         newBroadcaster(),
	}
	for i := range questions {
		e.indexByID[questions[i].ID] = i
	}

	e.sync = newSynchronizer(remote, e.store, sess.ID, opts.Throttle, opts.Now, log)

	e.countdown = newCountdown(
		sess.Deadline(), opts.WarnThreshold, opts.TickInterval, opts.Now, log,
		e.handleLowTime, e.handleExpiry,
	)

	if sess.ProctoringEnabled {
		e.integrity = newIntegrityMonitor(
			remote, sess.ID,
			res.ViolationCount, sess.TabSwitchLimit,
			opts.DedupeWindow, opts.Now, log,
			e.submissionUnderway,
			e.handleViolationWarning, e.terminate,
		)
	}

	if sess.FullscreenRequired {
		e.fullscreen = newFullscreenMonitor(log, e.inProgress, e.handleFullscreenExit)
	}

	return e
}

// Start begins ticking and wires the monitors to their signal feeds.
func (e *Engine) Start() {
	if e.integrity != nil {
		e.integrity.Attach(e.documentHidden, e.windowBlur)
	}
	if e.fullscreen != nil {
		e.fullscreen.Attach(e.fullscreenExit)
	}
	e.countdown.Start()
}

// ─── Signal feeds (transport handlers emit into these) ──────────────

// DocumentHidden is the visibility-change focus-loss source.
func (e *Engine) DocumentHidden() *Feed { return e.documentHidden }

// WindowBlur is the window-focus focus-loss source.
func (e *Engine) WindowBlur() *Feed { return e.windowBlur }

// FullscreenExit is the fullscreen-left source.
func (e *Engine) FullscreenExit() *Feed { return e.fullscreenExit }

// Events returns a subscription to engine notifications.
func (e *Engine) Events() (<-chan Event, func()) {
	return e.events.Subscribe()
}

// ─── Candidate operations ───────────────────────────────────────────

// SetAnswer records an answer and gives the throttled sync path a chance.
func (e *Engine) SetAnswer(ctx context.Context, questionID uuid.UUID, value model.AnswerValue) error {
	e.mu.Lock()
	if e.session.Status != model.SessionStatusInProgress {
		e.mu.Unlock()
		return ErrSessionNotActive
	}
	if _, ok := e.indexByID[questionID]; !ok {
		e.mu.Unlock()
		return ErrUnknownQuestion
	}
	e.mu.Unlock()

	e.store.Set(questionID, value)
	e.sync.OnAnswer(ctx, questionID)
	return nil
}

// Navigate moves to another question. The question being left gets a
// checkpoint flush first; the move happens regardless of flush outcome.
func (e *Engine) Navigate(ctx context.Context, index int) error {
	e.mu.Lock()
	if e.session.Status != model.SessionStatusInProgress {
		e.mu.Unlock()
		return ErrSessionNotActive
	}
	e.mu.Unlock()

	if index < 0 || index >= len(e.questions) {
		return ErrIndexOutOfRange
	}

	leaving := e.questions[e.nav.Index()].ID
	e.sync.Flush(ctx, leaving)

	return e.nav.move(index)
}

// ToggleFlag flips a question's review flag. Purely local.
func (e *Engine) ToggleFlag(questionID uuid.UUID) error {
	if _, ok := e.indexByID[questionID]; !ok {
		return ErrUnknownQuestion
	}
	e.nav.ToggleFlag(questionID)
	return nil
}

// Summary returns the navigator counts consumed by the confirmation step.
// It informs submission, never blocks it.
func (e *Engine) Summary() Summary {
	return e.nav.summary(e.store)
}

// Snapshot is the full state a (re)connecting client needs.
type Snapshot struct {
	SessionID          uuid.UUID                        `json:"session_id"`
	Title              string                           `json:"title"`
	Status             model.SessionStatus              `json:"status"`
	RemainingSeconds   int                              `json:"remaining_seconds"`
	Questions          []model.Question                 `json:"questions"`
	Answers            map[uuid.UUID]model.AnswerValue  `json:"answers"`
	CurrentIndex       int                              `json:"current_index"`
	FlaggedIDs         []uuid.UUID                      `json:"flagged_ids"`
	ViolationCount     int                              `json:"violation_count"`
	TabSwitchLimit     int                              `json:"tab_switch_limit"`
	ProctoringEnabled  bool                             `json:"proctoring_enabled"`
	FullscreenRequired bool                             `json:"fullscreen_required"`
	Summary            Summary                          `json:"summary"`
}

// Snapshot returns the current presentation state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	status := e.session.Status
	limit := e.session.TabSwitchLimit
	proctoring := e.session.ProctoringEnabled
	fullscreen := e.session.FullscreenRequired
	e.mu.Unlock()

	return Snapshot{
		SessionID:          e.session.ID,
		Title:              e.title,
		Status:             status,
		RemainingSeconds:   int(e.Remaining() / time.Second),
		Questions:          e.questions,
		Answers:            e.store.All(),
		CurrentIndex:       e.nav.Index(),
		FlaggedIDs:         e.nav.FlaggedIDs(),
		ViolationCount:     e.ViolationCount(),
		TabSwitchLimit:     limit,
		ProctoringEnabled:  proctoring,
		FullscreenRequired: fullscreen,
		Summary:            e.Summary(),
	}
}

// Remaining is monotonically non-increasing while IN_PROGRESS and frozen
// at the value it held when the session left IN_PROGRESS.
func (e *Engine) Remaining() time.Duration {
	e.mu.Lock()
	frozen := e.frozenRemaining
	e.mu.Unlock()
	if frozen != nil {
		return *frozen
	}
	return e.countdown.Remaining()
}

// CandidateID identifies the session owner. Immutable after load.
func (e *Engine) CandidateID() int {
	return e.session.CandidateID
}

// Status returns the current session status.
func (e *Engine) Status() model.SessionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Status
}

// ViolationCount returns the running integrity violation count.
func (e *Engine) ViolationCount() int {
	if e.integrity == nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.session.TabSwitchCount
	}
	return e.integrity.Count()
}

// Done reports whether the session reached a terminal state.
func (e *Engine) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.IsTerminal()
}

// ─── Submission ─────────────────────────────────────────────────────

// Submit drives the terminal transition. The status guard makes the
// completion call at most once per session no matter how many triggers
// race: a second concurrent trigger sees SUBMITTING and backs off.
func (e *Engine) Submit(ctx context.Context, auto bool) error {
	e.mu.Lock()
	switch e.session.Status {
	case model.SessionStatusSubmitted, model.SessionStatusTerminated:
		e.mu.Unlock()
		return ErrSessionNotActive
	case model.SessionStatusSubmitting:
		e.mu.Unlock()
		return ErrSubmitInFlight
	}
	e.session.Status = model.SessionStatusSubmitting
	e.mu.Unlock()

	// Final sweep: best effort, continues past per-item failures.
	e.sync.Sweep(ctx)

	attempts := 1
	if auto {
		// Timer-expiry submissions have no candidate left to click retry,
		// so the engine retries the completion call itself.
		attempts = e.opts.SubmitAttempts
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(e.opts.SubmitRetryDelay):
			case <-ctx.Done():
				err = ctx.Err()
				i = attempts
				continue
			}
		}
		if err = e.remote.Complete(ctx, e.session.ID); err == nil {
			break
		}
		e.log.Warn().Err(err).Bool("auto", auto).Int("attempt", i+1).Msg("Completion call failed")
	}

	if err != nil {
		e.mu.Lock()
		if !auto && e.session.Status == model.SessionStatusSubmitting {
			// Manual path: reopen the confirmation step for a retry.
			e.session.Status = model.SessionStatusInProgress
		}
		e.mu.Unlock()
		if auto {
			e.events.publish(Event{Type: EventSubmitFailed, Auto: true})
		}
		return err
	}

	e.finish(model.SessionStatusSubmitted, Event{Type: EventSubmitted, Auto: auto})
	return nil
}

// ─── Internal transitions and callbacks ─────────────────────────────

// finish performs the one terminal transition: freezes remaining time,
// stops the countdown, detaches monitors, publishes the terminal event,
// and closes the event stream.
func (e *Engine) finish(status model.SessionStatus, ev Event) {
	e.mu.Lock()
	if e.session.IsTerminal() {
		e.mu.Unlock()
		return
	}
	e.session.Status = status
	now := e.opts.Now()
	e.session.FinishedAt = &now
	remaining := e.countdown.Remaining()
	e.frozenRemaining = &remaining
	onFinish := e.onFinish
	e.mu.Unlock()

	e.countdown.Stop()
	if e.integrity != nil {
		e.integrity.Detach()
	}
	if e.fullscreen != nil {
		e.fullscreen.Detach()
	}

	e.events.publish(ev)
	e.events.close()

	e.log.Info().Str("status", string(status)).Msg("Session closed")
	if onFinish != nil {
		onFinish()
	}
}

// terminate is the integrity short-circuit: straight to TERMINATED,
// bypassing SUBMITTING.
func (e *Engine) terminate() {
	e.finish(model.SessionStatusTerminated, Event{
		Type:           EventTerminated,
		ViolationCount: e.ViolationCount(),
		ViolationLimit: e.session.TabSwitchLimit,
	})
}

func (e *Engine) handleExpiry() {
	// Best-effort: the guard inside Submit absorbs races with a manual
	// submission that beat the timer.
	if err := e.Submit(context.Background(), true); err != nil &&
		!errors.Is(err, ErrSubmitInFlight) && !errors.Is(err, ErrSessionNotActive) {
		e.log.Error().Err(err).Msg("Automatic submission failed")
	}
}

func (e *Engine) handleLowTime(remaining time.Duration) {
	if !e.inProgress() {
		return
	}
	e.events.publish(Event{
		Type:             EventLowTime,
		RemainingSeconds: int(remaining / time.Second),
	})
}

func (e *Engine) handleViolationWarning(count, limit int) {
	e.events.publish(Event{
		Type:           EventViolationWarning,
		ViolationCount: count,
		ViolationLimit: limit,
	})
}

func (e *Engine) handleFullscreenExit() {
	e.events.publish(Event{Type: EventFullscreenLost})
}

func (e *Engine) inProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Status == model.SessionStatusInProgress
}

// submissionUnderway gates the integrity monitor: focus-loss signals while
// a submission (or terminal state) is in effect do not count.
func (e *Engine) submissionUnderway() bool {
	return !e.inProgress()
}
