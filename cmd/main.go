package main

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/cadenzalab/ensemble-backend/internal/api/sessions"
	"github.com/cadenzalab/ensemble-backend/internal/auth"
	"github.com/cadenzalab/ensemble-backend/internal/config"
	"github.com/cadenzalab/ensemble-backend/internal/logging"
	"github.com/cadenzalab/ensemble-backend/internal/middleware"
	"github.com/cadenzalab/ensemble-backend/internal/session"
	"github.com/cadenzalab/ensemble-backend/internal/storage"
	"github.com/cadenzalab/ensemble-backend/internal/storage/memory"
	valkeystore "github.com/cadenzalab/ensemble-backend/internal/storage/valkey"
	"github.com/cadenzalab/ensemble-backend/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Environment)

	var store storage.Store
	switch cfg.StoreBackend {
	case config.StoreValkey:
		vs, err := valkeystore.NewSessionStore(cfg.ValkeyAddr, cfg.ValkeyPassword, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("valkey store")
		}
		defer vs.Close()
		store = vs
	default:
		store = memory.NewSessionStore()
	}

	registry := ws.NewRegistry(logger)
	broadcaster := ws.NewBroadcaster(registry, logger)
	manager := session.NewManager(store, registry, broadcaster, logger)
	defer manager.Shutdown()

	authService := auth.NewService(cfg.JWTSigningKey, cfg.TokenTTL)

	handler := &sessions.SessionHandler{
		Manager:  manager,
		Store:    store,
		Registry: registry,
		Auth:     authService,
		Logger:   logger,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == cfg.AllowedOrigin
			},
		},
	}

	router := mux.NewRouter()
	sessions.RegisterSessionRoutes(router, handler)
	router.Use(middleware.CORS(cfg.AllowedOrigin, logger))

	logger.Info().Str("addr", cfg.HTTPAddr).Str("store", string(cfg.StoreBackend)).Msg("server started")
	if err := http.ListenAndServe(cfg.HTTPAddr, router); err != nil {
		logger.Fatal().Err(err).Msg("http server")
	}
}
