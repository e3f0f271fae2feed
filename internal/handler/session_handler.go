package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/staffdeck/assess-backend/internal/engine"
	"github.com/staffdeck/assess-backend/internal/middleware"
	"github.com/staffdeck/assess-backend/internal/model"
	"github.com/staffdeck/assess-backend/internal/response"
	"github.com/staffdeck/assess-backend/internal/service"
	"github.com/staffdeck/assess-backend/internal/validator"
)

// SessionHandler exposes the candidate-facing session API. Every route
// resolves the live engine through the hub, so a page reload lands back
// on the same in-memory session.
type SessionHandler struct {
	hub *engine.Hub
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(hub *engine.Hub) *SessionHandler {
	return &SessionHandler{hub: hub}
}

// resolve parses the session ID, loads (or revives) the engine and
// verifies the caller owns the session. On failure it writes the error
// response and returns nil.
func (h *SessionHandler) resolve(c *gin.Context) *engine.Engine {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil
	}

	eng, err := h.hub.Get(c.Request.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrSessionNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, engine.ErrSessionClosed):
			response.Fail(c, http.StatusConflict, response.ErrSessionClosed)
		case errors.Is(err, service.ErrNoQuestions):
			response.Fail(c, http.StatusConflict, response.ErrNoQuestions)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return nil
	}

	if eng.CandidateID() != claims.CandidateID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return nil
	}

	return eng
}

// GetState godoc
// GET /api/v1/candidate/sessions/:session_id/state
// Returns the full session snapshot. Covers the page-reload path: the
// client gets its questions in the original order, prior answers, the
// remaining time and the running violation count in one call.
func (h *SessionHandler) GetState(c *gin.Context) {
	eng := h.resolve(c)
	if eng == nil {
		return
	}

	response.Success(c, http.StatusOK, eng.Snapshot())
}

// SaveAnswer godoc
// PUT /api/v1/candidate/sessions/:session_id/answers/:question_id
// Records an answer locally and lets the autosave throttle decide
// whether to push it upstream now.
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	eng := h.resolve(c)
	if eng == nil {
		return
	}

	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := eng.SetAnswer(c.Request.Context(), questionID, req.Value); err != nil {
		h.failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"summary": eng.Summary()})
}

// Navigate godoc
// POST /api/v1/candidate/sessions/:session_id/navigate
// Moves the cursor to another question. A dirty answer on the question
// being left is flushed first so no keystroke is stranded.
func (h *SessionHandler) Navigate(c *gin.Context) {
	eng := h.resolve(c)
	if eng == nil {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := eng.Navigate(c.Request.Context(), req.Index); err != nil {
		h.failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"summary": eng.Summary()})
}

// ToggleFlag godoc
// POST /api/v1/candidate/sessions/:session_id/questions/:question_id/flag
// Flips the mark-for-review flag on a question.
func (h *SessionHandler) ToggleFlag(c *gin.Context) {
	eng := h.resolve(c)
	if eng == nil {
		return
	}

	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := eng.ToggleFlag(questionID); err != nil {
		h.failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"summary": eng.Summary()})
}

// ReportSignal godoc
// POST /api/v1/candidate/sessions/:session_id/signals
// Reports a focus-loss signal (tab hidden or window blur). The engine
// de-duplicates paired events and decides whether the session survives.
func (h *SessionHandler) ReportSignal(c *gin.Context) {
	eng := h.resolve(c)
	if eng == nil {
		return
	}

	var req model.SignalRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	now := time.Now()
	switch req.Source {
	case "visibility":
		eng.DocumentHidden().Emit(now)
	case "blur":
		eng.WindowBlur().Emit(now)
	}

	response.Success(c, http.StatusOK, gin.H{
		"violation_count": eng.ViolationCount(),
		"status":          eng.Status(),
	})
}

// ReportFullscreen godoc
// POST /api/v1/candidate/sessions/:session_id/fullscreen
// Reports a fullscreen state change. Leaving fullscreen never ends the
// session; the engine answers with a re-entry prompt event instead.
func (h *SessionHandler) ReportFullscreen(c *gin.Context) {
	eng := h.resolve(c)
	if eng == nil {
		return
	}

	var req model.FullscreenRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if req.Active != nil && !*req.Active {
		eng.FullscreenExit().Emit(time.Now())
	}

	response.Success(c, http.StatusOK, gin.H{"status": eng.Status()})
}

// Submit godoc
// POST /api/v1/candidate/sessions/:session_id/submit
// Finalizes the session. Concurrent submits collapse into one; a failed
// manual submit leaves the session open so the candidate can retry.
func (h *SessionHandler) Submit(c *gin.Context) {
	eng := h.resolve(c)
	if eng == nil {
		return
	}

	summary := eng.Summary()

	if err := eng.Submit(c.Request.Context(), false); err != nil {
		switch {
		case errors.Is(err, engine.ErrSubmitInFlight):
			response.Fail(c, http.StatusConflict, response.ErrSubmitInFlight)
		case errors.Is(err, engine.ErrSessionNotActive):
			response.Fail(c, http.StatusConflict, response.ErrSessionClosed)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrSubmissionFailed)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"status":  eng.Status(),
		"summary": summary,
	})
}

// failEngine maps engine sentinel errors onto API error codes.
func (h *SessionHandler) failEngine(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrSessionNotActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionClosed)
	case errors.Is(err, engine.ErrUnknownQuestion):
		response.Fail(c, http.StatusNotFound, response.ErrUnknownQuestion)
	case errors.Is(err, engine.ErrIndexOutOfRange):
		response.Fail(c, http.StatusBadRequest, response.ErrIndexOutOfRange)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
