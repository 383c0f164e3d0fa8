package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/chainstream/txn-indexer/logging"
)

const healthCheckTimeout = 5 * time.Second

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server exposes the operational endpoints of the pipeline, prometheus
// metrics and a database health check.
type Server struct {
	logger logging.Logger
	db     Pinger
	root   chi.Router
}

func NewServer(logger logging.Logger, db Pinger) *Server {
	s := &Server{
		logger: logger,
		db:     db,
		root:   chi.NewMux(),
	}
	s.root.Use(middleware.RequestID)
	s.root.Use(newLoggerMiddleware(s.logger))
	s.root.Use(recoverer)
	s.root.Get("/metrics", promhttp.Handler().ServeHTTP)
	s.root.Get("/healthz", s.handleHealthz)
	return s
}

func (s *Server) Serve(addr string) error {
	s.logger.WithField("addr", addr).Info("starting ops server")
	return http.ListenAndServe(addr, s.root)
}

// Handler returns the root router, used for serving over a custom listener
// and in tests.
func (s *Server) Handler() http.Handler {
	return s.root
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		logging.LoggerFromContext(r.Context()).WithError(err).Error("can't ping database")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func newLoggerMiddleware(logger logging.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestLogger := logger.WithFields(logrus.Fields{
				"request_id":  middleware.GetReqID(ctx),
				"http_method": r.Method,
				"http_path":   r.RequestURI,
			})
			ctx = logging.WithLogger(ctx, requestLogger)

			ts := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))
			requestLogger.WithField("duration", time.Since(ts)).Debug("http request completed")
		})
	}
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger := logging.LoggerFromContext(r.Context())
				if err2, ok := err.(error); ok {
					logger = logger.WithError(err2)
				} else {
					logger = logger.WithField("recovered", err)
				}
				logger.Error("recovered error from the http handler")
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
