package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/staffdeck/assess-backend/internal/engine"
	"github.com/staffdeck/assess-backend/internal/middleware"
	ws "github.com/staffdeck/assess-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams session events and accepts low-latency actions over
// WebSocket. The REST surface remains authoritative; this channel exists
// so the countdown, warnings and termination reach the client instantly.
type WSHandler struct {
	hub      *engine.Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *engine.Hub, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:      hub,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/candidate/sessions/:session_id/stream
// Upgrades to WebSocket, pushes engine events, and accepts autosave,
// integrity-signal, fullscreen and submit actions.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	eng, err := h.hub.Get(c.Request.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrSessionNotFound):
			conn.WriteError("session not found")
		case errors.Is(err, engine.ErrSessionClosed):
			conn.WriteError("session is closed")
		default:
			conn.WriteError("session unavailable")
		}
		return
	}

	if eng.CandidateID() != claims.CandidateID {
		conn.WriteError("session belongs to another candidate")
		return
	}

	wsLog := h.log.With().
		Int("candidate_id", claims.CandidateID).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Candidate connected")

	// Pump engine events to the client. The subscription channel closes
	// when the session reaches a terminal state; closing the connection
	// then unblocks the read loop below.
	events, cancel := eng.Events()
	defer cancel()

	go func() {
		for ev := range events {
			if err := conn.WriteTyped(ws.SessionEvent{Event: ws.EventSession, Payload: ev}); err != nil {
				return
			}
		}
		conn.Close()
	}()

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(conn, eng, &msg)
		case ws.ActionSignal:
			h.handleSignal(conn, eng, &msg)
		case ws.ActionFullscreen:
			if msg.Active != nil && !*msg.Active {
				eng.FullscreenExit().Emit(time.Now())
			}
		case ws.ActionSubmit:
			h.handleSubmit(conn, wsLog, eng)
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError("unknown action: " + string(msg.Action))
		}
	}
}

// handleAutosave records an answer on the engine; the throttle decides
// when it reaches the backend.
func (h *WSHandler) handleAutosave(conn *ws.Conn, eng *engine.Engine, msg *ws.RequestPayload) {
	if msg.QID == "" || msg.Answer == nil {
		conn.WriteError("q_id and answer are required")
		return
	}

	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		conn.WriteError("invalid q_id format")
		return
	}

	if err := eng.SetAnswer(context.Background(), questionID, *msg.Answer); err != nil {
		switch {
		case errors.Is(err, engine.ErrSessionNotActive):
			conn.WriteError("session is no longer active")
		case errors.Is(err, engine.ErrUnknownQuestion):
			conn.WriteError("unknown question")
		default:
			conn.WriteError("save failed")
		}
		return
	}

	conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, QID: msg.QID})
}

// handleSignal feeds a focus-loss signal into the integrity monitor.
func (h *WSHandler) handleSignal(conn *ws.Conn, eng *engine.Engine, msg *ws.RequestPayload) {
	now := time.Now()
	switch msg.Source {
	case "visibility":
		eng.DocumentHidden().Emit(now)
	case "blur":
		eng.WindowBlur().Emit(now)
	default:
		conn.WriteError("source must be visibility or blur")
	}
}

// handleSubmit runs a manual submission. Outcome events (submitted or
// terminated) arrive over the event pump; only failures answer inline.
func (h *WSHandler) handleSubmit(conn *ws.Conn, wsLog zerolog.Logger, eng *engine.Engine) {
	if err := eng.Submit(context.Background(), false); err != nil {
		switch {
		case errors.Is(err, engine.ErrSubmitInFlight):
			conn.WriteError("submission already in progress")
		case errors.Is(err, engine.ErrSessionNotActive):
			conn.WriteError("session is no longer active")
		default:
			wsLog.Error().Err(err).Msg("Manual submit failed")
			conn.WriteError("submission failed, please retry")
		}
	}
}
