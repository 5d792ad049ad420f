// Package handlers holds the HTTP endpoints. Handlers validate and persist,
// then hand the heavy lifting to the pipeline; no request waits on model
// inference.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/maincase/mdesign-backend/internal/domain"
	"github.com/maincase/mdesign-backend/internal/infra"
	"github.com/maincase/mdesign-backend/internal/pipeline"
	"github.com/maincase/mdesign-backend/internal/turnstile"
)

type App struct {
	Log          zerolog.Logger
	Cfg          *infra.Config
	Repo         domain.InteriorRepository
	Store        domain.ObjectStore
	Orchestrator *pipeline.Orchestrator
	Verifier     *turnstile.Verifier
}

func NewApp(log zerolog.Logger, cfg *infra.Config, repo domain.InteriorRepository, store domain.ObjectStore, orch *pipeline.Orchestrator, verifier *turnstile.Verifier) *App {
	return &App{Log: log, Cfg: cfg, Repo: repo, Store: store, Orchestrator: orch, Verifier: verifier}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}
