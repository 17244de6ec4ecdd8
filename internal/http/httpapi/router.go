package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"genforge/internal/http/handlers"
	"genforge/internal/middleware"
)

type Options struct {
	JWTSecret   string
	CORSOrigins []string
	// SubmitsPerMinute limits job submissions per owner. Zero disables it.
	SubmitsPerMinute int
	Country          middleware.CountryLookup
	// StaticDir serves filesystem blobs under /static when set.
	StaticDir string
	Logger    zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
		middleware.Country(opts.Country),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/docs", app.OpenAPIDocs)
	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))

		r.Route("/v1/jobs", func(r chi.Router) {
			r.With(middleware.RateLimit(opts.SubmitsPerMinute, time.Minute)).Post("/", app.CreateJob)
			r.Get("/", app.ListJobs)
			r.Get("/recent", app.RecentJob)
			r.Get("/{job_id}", app.GetJob)
		})
		r.Get("/v1/account", app.Account)
		r.Get("/v1/account/transactions", app.Transactions)
	})

	return r
}
