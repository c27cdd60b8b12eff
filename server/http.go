package server

import (
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wfunc/triviaserver/logger"
	"github.com/wfunc/triviaserver/room"
	"github.com/wfunc/triviaserver/state"
)

// Router serves the websocket endpoint and the read-only HTTP API.
func (s *GameServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", s.monitor.Handler())
	r.Method(http.MethodGet, "/debug/vars", expvar.Handler())
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/categories", s.getCategories)
		r.Get("/highscores", s.getHighScores)
		r.Get("/rooms/{code}", s.getRoom)
	})
	return r
}

func (s *GameServer) getCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.rooms.Categories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *GameServer) getHighScores(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, room.ErrInvalidInput)
			return
		}
		limit = n
	}

	scores, err := s.highScores.Top(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

func (s *GameServer) getRoom(w http.ResponseWriter, r *http.Request) {
	code := room.NormalizeCode(chi.URLParam(r, "code"))
	rm, err := s.rooms.GetRoom(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state.View(rm))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warnf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, room.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, room.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, room.ErrTransientIO):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"code": errorCode(err), "message": err.Error()})
}
