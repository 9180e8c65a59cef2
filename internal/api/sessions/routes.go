package sessions

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterSessionRoutes registers the session HTTP and WebSocket routes.
func RegisterSessionRoutes(r *mux.Router, handler *SessionHandler) {
	r.HandleFunc("/api/v1/sessions/create", handler.CreateSession).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/sessions/list", handler.ListSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/sessions/{id}", handler.GetSessionData).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/sessions/{id}", handler.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/sessions/{id}/invite", handler.Invite).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/sessions/{id}/join", handler.Join).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/sessions/{id}/leave", handler.Leave).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/sessions/{id}/tracks/{trackID}/regions", handler.GetTrackRegions).Methods(http.MethodGet)

	r.HandleFunc("/ws/sessions/{id}", handler.ServeWS).Methods(http.MethodGet)
}
