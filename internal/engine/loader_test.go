package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/staffdeck/assess-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reverse is a deterministic stand-in for rand.Shuffle.
func reverse(n int, swap func(i, j int)) {
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		swap(i, j)
	}
}

func testLoader(remote Remote) *Loader {
	l := NewLoader(remote, Options{Now: newClock().Now}, zerolog.Nop())
	l.shuffle = reverse
	return l
}

func loadFixture(shuffleQuestions, shuffleOptions bool) *LoadResult {
	// Same fixed instant the test clock starts at, so loaded engines see
	// a full hour remaining.
	sess := testSession(newClock().Now(), 3600)
	sess.ShuffleQuestions = shuffleQuestions
	sess.ShuffleOptions = shuffleOptions

	qs := testQuestions(3)
	return &LoadResult{
		Session: sess,
		Assessment: &model.AssessmentPayload{
			AssessmentID: sess.AssessmentID,
			Title:        "Backend Screening",
			Questions:    qs,
		},
	}
}

func questionOrder(eng *Engine) []uuid.UUID {
	out := make([]uuid.UUID, len(eng.questions))
	for i := range eng.questions {
		out[i] = eng.questions[i].ID
	}
	return out
}

func TestLoadShufflesAndRecordsSequence(t *testing.T) {
	remote := &fakeRemote{load: loadFixture(true, false)}
	original := questionOrder(&Engine{questions: remote.load.Assessment.Questions})

	eng, err := testLoader(remote).Load(context.Background(), remote.load.Session.ID)
	require.NoError(t, err)

	want := []uuid.UUID{original[2], original[1], original[0]}
	assert.Equal(t, want, questionOrder(eng))

	// The shuffled order was pushed upstream so reloads can reuse it.
	require.Len(t, remote.sequences, 1)
	assert.Equal(t, want, remote.sequences[0])
}

func TestLoadReusesRecordedSequence(t *testing.T) {
	res := loadFixture(true, false)
	qs := res.Assessment.Questions
	// A previous load recorded q1, q0, q2.
	res.Sequence = []uuid.UUID{qs[1].ID, qs[0].ID, qs[2].ID}
	remote := &fakeRemote{load: res}

	eng, err := testLoader(remote).Load(context.Background(), res.Session.ID)
	require.NoError(t, err)

	assert.Equal(t, res.Sequence, questionOrder(eng))
	// No fresh shuffle means no new recording.
	assert.Empty(t, remote.sequences)
}

func TestLoadStaleSequenceKeepsNewQuestionsAtTail(t *testing.T) {
	res := loadFixture(true, false)
	qs := res.Assessment.Questions
	// The recorded order predates qs[2] and references a removed question.
	res.Sequence = []uuid.UUID{qs[1].ID, uuid.New(), qs[0].ID}
	remote := &fakeRemote{load: res}

	eng, err := testLoader(remote).Load(context.Background(), res.Session.ID)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{qs[1].ID, qs[0].ID, qs[2].ID}, questionOrder(eng))
}

func TestLoadShuffleOptionsPreservesIdentity(t *testing.T) {
	res := loadFixture(false, true)
	res.Assessment.Questions[0].Type = model.QuestionTypeMultipleChoice
	res.Assessment.Questions[0].Options = []model.Option{
		{ID: "a", Text: "first"},
		{ID: "b", Text: "second"},
		{ID: "c", Text: "third"},
	}
	remote := &fakeRemote{load: res}

	eng, err := testLoader(remote).Load(context.Background(), res.Session.ID)
	require.NoError(t, err)

	got := eng.questions[0].Options
	require.Len(t, got, 3)
	// Presentation order changed, identities did not.
	assert.Equal(t, []model.Option{
		{ID: "c", Text: "third"},
		{ID: "b", Text: "second"},
		{ID: "a", Text: "first"},
	}, got)
}

func TestLoadFlattensSectionsWithLabels(t *testing.T) {
	res := loadFixture(false, false)
	top := res.Assessment.Questions[:1]
	secQs := res.Assessment.Questions[1:]
	res.Assessment.Questions = top
	res.Assessment.Sections = []model.Section{
		{Label: "Algorithms", Questions: secQs},
	}
	remote := &fakeRemote{load: res}

	eng, err := testLoader(remote).Load(context.Background(), res.Session.ID)
	require.NoError(t, err)

	require.Len(t, eng.questions, 3)
	assert.Equal(t, top[0].ID, eng.questions[0].ID)
	assert.Empty(t, eng.questions[0].Section)
	assert.Equal(t, "Algorithms", eng.questions[1].Section)
	assert.Equal(t, "Algorithms", eng.questions[2].Section)
}

func TestLoadRestoresPriorAnswersClean(t *testing.T) {
	res := loadFixture(false, false)
	qs := res.Assessment.Questions
	res.PriorAnswers = map[uuid.UUID]model.AnswerValue{
		qs[0].ID:   {Text: "restored"},
		uuid.New(): {Text: "orphaned"}, // question no longer exists
	}
	remote := &fakeRemote{load: res}

	eng, err := testLoader(remote).Load(context.Background(), res.Session.ID)
	require.NoError(t, err)

	value, ok := eng.store.Answer(qs[0].ID)
	require.True(t, ok)
	assert.Equal(t, "restored", value.Text)
	// Restored answers came from the backend; nothing to sync.
	assert.False(t, eng.store.isDirty(qs[0].ID))
	assert.Equal(t, 1, eng.store.AnsweredCount())
}

func TestLoadRestorePrefersSelectionSet(t *testing.T) {
	res := loadFixture(false, false)
	qs := res.Assessment.Questions
	// A stale payload carrying both shapes resolves to the set.
	res.PriorAnswers = map[uuid.UUID]model.AnswerValue{
		qs[0].ID: {OptionID: "a", OptionIDs: []string{"a", "c"}},
	}
	remote := &fakeRemote{load: res}

	eng, err := testLoader(remote).Load(context.Background(), res.Session.ID)
	require.NoError(t, err)

	value, _ := eng.store.Answer(qs[0].ID)
	assert.Empty(t, value.OptionID)
	assert.Equal(t, []string{"a", "c"}, value.OptionIDs)
}

func TestLoadRejectsTerminalSession(t *testing.T) {
	res := loadFixture(false, false)
	res.Session.Status = model.SessionStatusSubmitted
	remote := &fakeRemote{load: res}

	_, err := testLoader(remote).Load(context.Background(), res.Session.ID)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestLoadPropagatesNotFound(t *testing.T) {
	remote := &fakeRemote{loadErr: ErrSessionNotFound}

	_, err := testLoader(remote).Load(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
