package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/praxis-legal/praxis/internal/billing/conversion"
	"github.com/praxis-legal/praxis/internal/billing/invoices"
	"github.com/praxis-legal/praxis/internal/billing/ledger"
	"github.com/praxis-legal/praxis/internal/billing/quotations"
	"github.com/praxis-legal/praxis/internal/observability"
	"github.com/praxis-legal/praxis/internal/shared"
	"github.com/praxis-legal/praxis/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Tokens            *shared.TokenStore
	QuotationHandler  *quotations.Handler
	InvoiceHandler    *invoices.Handler
	PaymentHandler    *ledger.Handler
	ConversionHandler *conversion.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Praxis defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Tokens:  params.Tokens,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(params.Tokens, params.Logger))

		r.Route("/quotations", func(r chi.Router) {
			params.QuotationHandler.MountRoutes(r)
			if params.ConversionHandler != nil {
				params.ConversionHandler.MountRoutes(r)
			}
		})
		r.Route("/invoices", params.InvoiceHandler.MountRoutes)
		r.Route("/payments", params.PaymentHandler.MountRoutes)
		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	return r
}
