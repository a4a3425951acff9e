/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:   Unique ID per request for tracing
  2. RealIP:      Client address from X-Forwarded-For / X-Real-IP, only
                 with TrustProxy; otherwise the socket address is used
  3. AccessLog:   zerolog line per request
  4. Recoverer:   Panic recovery (500 instead of crash)
  5. Instrument:  Prometheus request metrics (when configured)
  6. CORS:        Cross-origin requests for a frontend
  7. RateLimit:   Token bucket per client IP (API routes only)

ROUTE GROUPS:
  /api/accounts/*   Balances, history, mutations, catalog events
  /api/entries/*    Entry lookup and reversal
  /api/codes/*      Redemption code lifecycle
  /api/reports/*    Audit projections
  /api/rewards/*    Reward catalog
  /api/scenarios/*  Demo data
  /healthz /readyz /metrics

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Access log and rate limiter
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/warp/points-ledger/metrics"
)

// RouterOptions tune the middleware stack. The zero value disables CORS,
// rate limiting and metrics.
type RouterOptions struct {
	CORSOrigins []string
	RateRPS     float64
	RateBurst   int
	TrustProxy  bool
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

const maxBodyBytes = 1 << 20

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(AccessLog(opts.Logger))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Instrument)
	}
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", idempotencyHeader},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           600,
		}))
	}

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(MaxBodyBytes(maxBodyBytes))
		if opts.RateRPS > 0 {
			var onLimited func()
			if opts.Metrics != nil {
				onLimited = opts.Metrics.RateLimited
			}
			r.Use(NewRateLimiter(opts.RateRPS, opts.RateBurst, onLimited).Middleware)
		}

		// Account routes
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/", h.GetAccount)
			r.Get("/balance", h.GetBalance)
			r.Get("/entries", h.ListEntries)
			r.Put("/role", h.SetRole)
			r.Post("/credits", h.Credit)
			r.Post("/debits", h.Debit)
			r.Post("/redemptions", h.Redeem)
			r.Post("/activities", h.RecordActivity)
			r.Post("/penalties", h.ApplyPenalty)
		})

		// Entry routes
		r.Route("/entries/{id}", func(r chi.Router) {
			r.Get("/", h.GetEntry)
			r.Post("/reversal", h.Reverse)
		})

		// Code routes
		r.Route("/codes/{code}", func(r chi.Router) {
			r.Get("/", h.GetCode)
			r.Post("/use", h.UseCode)
			r.Post("/revoke", h.RevokeCode)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/summary", h.Summary)
			r.Get("/kinds", h.KindTotals)
			r.Get("/leaderboard", h.Leaderboard)
			r.Get("/accounts/{id}", h.AccountHistory)
			r.Get("/export.csv", h.ExportCSV)
		})

		r.Get("/rewards/catalog", h.ListCatalog)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
