package app

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/praxis-legal/praxis/internal/observability"
	"github.com/praxis-legal/praxis/internal/platform/httpx"
	"github.com/praxis-legal/praxis/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Tokens  *shared.TokenStore
	Metrics *observability.Metrics
}

// AuthMiddleware resolves the bearer token into a caller identity. Requests
// without a valid token are rejected before reaching any handler.
func AuthMiddleware(tokens *shared.TokenStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required")
				return
			}
			ident, err := tokens.Resolve(r.Context(), token)
			if err != nil {
				if err != shared.ErrInvalidToken {
					logger.Error("resolve api token", slog.Any("error", err))
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
					return
				}
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), ident)))
		})
	}
}

// MiddlewareStack installs the Praxis middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	limit := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		limit = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}
