package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dex-indexer/internal/domain"
	"dex-indexer/internal/ingestion"
	"dex-indexer/internal/observability"
)

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	State        string `json:"state"`
	WatchedPools int    `json:"watched_pools"`
	Listener     string `json:"listener,omitempty"`
}

// ListenerRequest is the JSON body of POST /listener/start.
type ListenerRequest struct {
	Address string `json:"address"`
}

// MessageResponse carries a listener status message or an error.
type MessageResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewRouter returns the operational HTTP routes of a.
func NewRouter(a *App) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/listener/start", a.handleListenerStart).Methods(http.MethodPost)
	r.HandleFunc("/listener/stop", a.handleListenerStop).Methods(http.MethodPost)

	return r
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := a.Orchestrator.State()
	resp := HealthResponse{
		Status:       "ok",
		State:        state.String(),
		WatchedPools: len(a.Orchestrator.WatchedPools()),
		Listener:     a.Listener.Address(),
	}
	code := http.StatusOK
	if state == ingestion.StateStopped {
		resp.Status = "stopped"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (a *App) handleListenerStart(w http.ResponseWriter, r *http.Request) {
	var req ListenerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Error: "invalid request body"})
		return
	}

	msg, err := a.Listener.Start(r.Context(), req.Address)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
	case errors.Is(err, domain.ErrInvalidAddress):
		writeJSON(w, http.StatusBadRequest, MessageResponse{Error: err.Error()})
	default:
		a.logger.Error("listener start failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, MessageResponse{Error: err.Error()})
	}
}

func (a *App) handleListenerStop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: a.Listener.Stop()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
