package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/maincase/mdesign-backend/internal/http/handlers"
	"github.com/maincase/mdesign-backend/internal/infra/geoip"
	"github.com/maincase/mdesign-backend/internal/middleware"
)

// NewRouter assembles the public API. staticDir is served under /static/ in
// development when the filesystem store is active; pass "" in production.
func NewRouter(app *handlers.App, countries geoip.CountryResolver, staticDir string) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.Recoverer, middleware.Logger(app.Log, countries))
	r.Use(middleware.CORS(app.Cfg.AllowedOrigins))

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Route("/api/interior", func(r chi.Router) {
		r.With(middleware.RateLimit(app.Cfg.RateLimitPerMin, time.Minute)).Post("/", app.CreateInterior)
		r.Post("/create/callback", app.CreateInteriorCallback)
		r.Get("/", app.ListInteriors)
		r.Get("/{id}", app.GetInterior)
	})

	if staticDir != "" {
		fs := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(staticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
