package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/username/cryptotaxpl/src/security"
	"github.com/username/cryptotaxpl/src/utils"
)

// RouterDeps collects what NewRouter needs. Auth may be nil to serve the API without tokens.
type RouterDeps struct {
	Tax            *TaxHandler
	Rates          *RatesHandler
	Auth           *security.AuthService
	AllowedOrigins []string
	RequestsPerSec float64
	Logger         *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	burst := int(deps.RequestsPerSec * 3)
	if burst < 1 {
		burst = 1
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(ContextualLoggerMiddleware(log))
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(deps.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.SendJSON(w, nil, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimitMiddleware(deps.RequestsPerSec, burst, log))
		if deps.Auth != nil {
			r.Use(AuthMiddleware(deps.Auth, log))
		} else {
			log.Warn("JWT_SECRET not set, API routes are served without authentication")
		}

		r.Post("/pit38", deps.Tax.HandleCalculate)
		r.Post("/pit38/export", deps.Tax.HandleExport)
		r.Get("/rates/{currency}", deps.Rates.HandleGetRates)
	})
	return r
}
