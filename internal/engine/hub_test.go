package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/staffdeck/assess-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub(remote Remote) *Hub {
	return NewHub(testLoader(remote), zerolog.Nop())
}

func TestHubReturnsSameEngineAcrossReconnects(t *testing.T) {
	res := loadFixture(false, false)
	remote := &fakeRemote{load: res}
	hub := testHub(remote)
	ctx := context.Background()

	first, err := hub.Get(ctx, res.Session.ID)
	require.NoError(t, err)

	// A page reload lands on the same live engine, not a fresh load.
	second, err := hub.Get(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Same(t, first, second)

	peeked, ok := hub.Peek(res.Session.ID)
	require.True(t, ok)
	assert.Same(t, first, peeked)
}

func TestHubEvictsFinishedEngine(t *testing.T) {
	res := loadFixture(false, false)
	remote := &fakeRemote{load: res}
	hub := testHub(remote)
	ctx := context.Background()

	eng, err := hub.Get(ctx, res.Session.ID)
	require.NoError(t, err)
	require.NoError(t, eng.Submit(ctx, false))

	_, ok := hub.Peek(res.Session.ID)
	assert.False(t, ok)

	// The session is now terminal in the backing store too, so the next
	// access reloads and is turned away.
	_, err = hub.Get(ctx, res.Session.ID)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestHubPropagatesLoadErrors(t *testing.T) {
	remote := &fakeRemote{loadErr: ErrSessionNotFound}
	hub := testHub(remote)

	_, err := hub.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHubShutdownParksSessions(t *testing.T) {
	res := loadFixture(false, false)
	remote := &fakeRemote{load: res}
	hub := testHub(remote)
	ctx := context.Background()

	eng, err := hub.Get(ctx, res.Session.ID)
	require.NoError(t, err)

	events, cancel := eng.Events()
	defer cancel()

	hub.Shutdown()

	// The engine is parked, not finished: the session stays IN_PROGRESS
	// so the next boot resumes it from absolute timestamps.
	assert.Equal(t, model.SessionStatusInProgress, eng.Status())
	assert.Equal(t, 0, remote.completes())

	_, ok := hub.Peek(res.Session.ID)
	assert.False(t, ok)

	// Event streams are closed so connected clients drop off.
	select {
	case _, open := <-events:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("event stream not closed on shutdown")
	}
}
