package sessions

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cadenzalab/ensemble-backend/internal/auth"
	"github.com/cadenzalab/ensemble-backend/internal/session"
	"github.com/cadenzalab/ensemble-backend/internal/storage"
	"github.com/cadenzalab/ensemble-backend/internal/ws"
)

// SessionHandler holds the dependencies for the session HTTP surface. The
// endpoints stay thin: validation and state changes happen in the session
// engine, never here.
type SessionHandler struct {
	Manager  *session.Manager
	Store    storage.Store
	Registry *ws.Registry
	Auth     *auth.Service
	Logger   zerolog.Logger

	Upgrader websocket.Upgrader
}

// identify resolves the request's bearer token (or token query parameter for
// websocket upgrades) to a participant identity.
func (h *SessionHandler) identify(r *http.Request) (*auth.Claims, error) {
	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	return h.Auth.VerifyToken(token)
}

// writeErr maps the engine's error taxonomy onto HTTP statuses.
func (h *SessionHandler) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrMalformed):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound), errors.Is(err, storage.ErrNotFound), errors.Is(err, session.ErrStopped):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrForbidden), errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusForbidden
	case errors.Is(err, session.ErrConflict):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// CreateSession handles POST /api/v1/sessions/create. The authenticated user
// becomes the session's first (admin) participant.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	claims, err := h.identify(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Session name cannot be empty", http.StatusBadRequest)
		return
	}

	created, err := h.Manager.CreateSession(r.Context(), req.Name, claims.UserID, claims.Username)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
	h.Logger.Info().Str("session", created.ID).Str("user", claims.UserID).Msg("session created via http")
}

// ListSessions handles GET /api/v1/sessions/list for the authenticated user.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims, err := h.identify(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	list, err := h.Store.SessionsForUser(r.Context(), claims.UserID)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	type summary struct {
		ID          string  `json:"id"`
		Name        string  `json:"name"`
		Tempo       float64 `json:"tempo"`
		Tracks      int     `json:"tracks"`
		Members     int     `json:"members"`
		ActiveUsers int     `json:"activeUsers"`
	}
	out := make([]summary, 0, len(list))
	for _, s := range list {
		out = append(out, summary{
			ID:          s.ID,
			Name:        s.Name,
			Tempo:       s.Tempo,
			Tracks:      len(s.Tracks),
			Members:     len(s.Participants),
			ActiveUsers: len(h.Registry.Connections(s.ID)),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSessionData handles GET /api/v1/sessions/{id}: a consistent snapshot of
// the timeline, taken through the live engine.
func (h *SessionHandler) GetSessionData(w http.ResponseWriter, r *http.Request) {
	claims, err := h.identify(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	sessionID := mux.Vars(r)["id"]

	eng, err := h.Manager.Engine(r.Context(), sessionID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	snap, err := eng.Snapshot(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if snap.Participant(claims.UserID) == nil {
		http.Error(w, "Not a session member", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetTrackRegions handles GET /api/v1/sessions/{id}/tracks/{trackID}/regions:
// the display clustering of one track's notes at the current tempo.
func (h *SessionHandler) GetTrackRegions(w http.ResponseWriter, r *http.Request) {
	if _, err := h.identify(r); err != nil {
		h.writeErr(w, err)
		return
	}
	vars := mux.Vars(r)
	trackID, err := strconv.Atoi(vars["trackID"])
	if err != nil {
		http.Error(w, "Invalid track id", http.StatusBadRequest)
		return
	}

	eng, err := h.Manager.Engine(r.Context(), vars["id"])
	if err != nil {
		h.writeErr(w, err)
		return
	}
	regs, err := eng.Regions(r.Context(), trackID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, regs)
}

// Invite handles POST /api/v1/sessions/{id}/invite. Admin-only.
func (h *SessionHandler) Invite(w http.ResponseWriter, r *http.Request) {
	claims, err := h.identify(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	var req struct {
		UserID   string `json:"userID"`
		Username string `json:"username"`
		IsAdmin  bool   `json:"isAdmin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	eng, err := h.Manager.Engine(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := eng.Invite(r.Context(), claims.UserID, req.UserID, req.Username, req.IsAdmin); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Participant invited"})
}

// Join handles POST /api/v1/sessions/{id}/join: the authenticated user
// accepts their invite.
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	claims, err := h.identify(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	eng, err := h.Manager.Engine(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := eng.Join(r.Context(), claims.UserID); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Joined session"})
}

// Leave handles POST /api/v1/sessions/{id}/leave. Same rule as the websocket
// self-leave: the sole remaining admin cannot leave.
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	claims, err := h.identify(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	eng, err := h.Manager.Engine(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := eng.LeaveProject(r.Context(), claims.UserID); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Left session"})
}

// Delete handles DELETE /api/v1/sessions/{id}. Admin-only; closes every live
// connection with the session-deleted reason.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, err := h.identify(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	eng, err := h.Manager.Engine(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := eng.DeleteProject(r.Context(), claims.UserID, nil); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted"})
}

// ServeWS handles GET /ws/sessions/{id}: upgrades, registers the connection
// with the session engine, and pumps inbound frames into it until the socket
// drops.
func (h *SessionHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := h.identify(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	sessionID := mux.Vars(r)["id"]

	eng, err := h.Manager.Engine(r.Context(), sessionID)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	sock, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn().Err(err).Str("session", sessionID).Msg("websocket upgrade failed")
		return
	}

	conn := ws.NewConn(sessionID, claims.UserID, sock, h.Logger)
	go conn.Run()

	if err := eng.Connect(r.Context(), conn); err != nil {
		h.Logger.Debug().Err(err).Str("session", sessionID).Str("user", claims.UserID).Msg("connect refused")
		conn.Close(websocket.ClosePolicyViolation, err.Error())
		return
	}
	h.Logger.Info().Str("session", sessionID).Str("user", claims.UserID).Msg("participant connected")

	// Read loop. Mutating work is handed to the engine's serialized context;
	// this goroutine only does transport I/O.
	for {
		raw, err := conn.Next()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Logger.Debug().Err(err).Str("user", claims.UserID).Msg("websocket read error")
			}
			break
		}
		eng.Handle(r.Context(), conn, raw)
	}

	eng.Disconnect(conn)
	conn.Close(websocket.CloseNormalClosure, "")
}
