package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"recipe-api/internal/api"
	"recipe-api/internal/observability/logging"
	"recipe-api/internal/observability/metrics"
	"recipe-api/internal/serverutil"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr      string
	TLS       TLSConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Security  SecurityConfig
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	tlsCertFile string
	tlsKeyFile  string
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("api handler is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/recipes", handler.RecipesCollection)
	mux.HandleFunc("/api/recipes/bulk", handler.RecipesBulk)
	mux.HandleFunc("/api/recipes/", handler.RecipeByID)

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("configure cors: %w", err)
	}

	rl := newRateLimiter(cfg.RateLimit)
	handlerChain := http.Handler(mux)
	handlerChain = rateLimitMiddleware(rl, recorder, logger, handlerChain)
	handlerChain = corsMiddleware(policy, logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = recoverMiddleware(logger, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{
		Logger: logger,
		AdditionalFields: func(r *http.Request, _ int, _ time.Duration) []any {
			return []any{"remote_ip", extractClientIP(r)}
		},
		DisableRemoteAddr: true,
	})(handlerChain)
	handlerChain = requestIDMiddleware(handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      logger,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// Handler exposes the fully wrapped handler chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is cancelled and then shuts down gracefully. ready,
// when set, receives the bound listener address.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration, ready func(net.Addr)) error {
	return serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		TLS:             serverutil.TLSConfig{CertFile: s.tlsCertFile, KeyFile: s.tlsKeyFile},
		ShutdownTimeout: shutdownTimeout,
		Ready:           ready,
		Logger:          s.logger,
	})
}

func rateLimitMiddleware(rl *rateLimiter, recorder *metrics.Recorder, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if !rl.AllowRequest() {
			recorder.ObserveRateLimited("global")
			w.Header().Set("Retry-After", "1")
			writeMiddlewareError(w, api.TooManyRequestsError("global rate limit exceeded"))
			return
		}
		if isWrite(r) {
			allowed, retryAfter, err := rl.AllowWrite(r.Context(), extractClientIP(r))
			if err != nil {
				loggerForRequest(logger, r).Error("rate limiter failure", "error", err)
				writeMiddlewareError(w, api.ServiceUnavailableError("rate limit failure"))
				return
			}
			if !allowed {
				recorder.ObserveRateLimited("write")
				if retryAfter > 0 {
					seconds := int(retryAfter.Round(time.Second) / time.Second)
					if seconds < 1 {
						seconds = 1
					}
					w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
				}
				writeMiddlewareError(w, api.TooManyRequestsError("too many write requests"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func recoverMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}
			loggerForRequest(logger, r).Error("panic recovered",
				"error", fmt.Sprint(recovered),
				"method", r.Method,
				"path", r.URL.Path)
			api.WriteRequestError(w, fmt.Errorf("panic: %v", recovered))
		}()
		next.ServeHTTP(w, r)
	})
}
