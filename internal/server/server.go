// Package server wires the core subsystems (scheduler, dispatcher,
// telemetry/detection ingestors, fan-out hub) into a runnable process.
// It owns the background workers' lifecycle and the narrow HTTP surface
// this process is responsible for: the interactive subscription
// websocket and the Prometheus/health endpoints. The administrative
// request/response API lives in a separate service.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/config"
	"github.com/aegisfleet/sentinel/internal/middleware"
)

const gracefulShutdownTimeout = 10 * time.Second

// Server owns the HTTP listener and the background worker lifecycle.
type Server struct {
	config *config.Config
	deps   *Dependencies
	mux    *http.ServeMux
	logger *zap.Logger
}

// New builds a Server and its Dependencies. The caller must call Start
// to begin serving and running the background workers.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	deps, err := NewDependencies(cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{config: cfg, deps: deps, mux: http.NewServeMux(), logger: logger}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.deps.Hub.ServeWS)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func (s *Server) buildHandler() http.Handler {
	var handler http.Handler = s.mux
	handler = middleware.CORS(s.config.Server.CORSOrigins)(handler)
	handler = middleware.Recovery(s.logger)(handler)
	return handler
}

// Dependencies returns the shared wiring, used by main.go to start and
// stop the background workers around the HTTP listener's lifetime.
func (s *Server) Dependencies() *Dependencies { return s.deps }

// Run starts every background worker (fleet agents, scheduler,
// telemetry/detection ingestors, tracker loop) and blocks serving HTTP
// until ctx is cancelled, at which point it stops the workers and
// returns once the listener has shut down.
func (s *Server) Run(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.deps.LoadFleet(); err != nil {
		return err
	}

	unsubAlerts, err := s.deps.Alerts.Start(workerCtx, s.deps.Bus)
	if err != nil {
		return err
	}
	defer unsubAlerts()

	unsubTelemetry, err := s.deps.Telemetry.Start(workerCtx, s.deps.Bus)
	if err != nil {
		return err
	}
	defer unsubTelemetry()

	unsubDetection, err := s.deps.Detection.Start(workerCtx, s.deps.Bus)
	if err != nil {
		return err
	}
	defer unsubDetection()

	stopAgents, err := s.deps.StartAgents(workerCtx)
	if err != nil {
		return err
	}
	defer stopAgents()

	go s.deps.StartTrackerLoop(workerCtx)
	go s.deps.StartFleetMonitor(workerCtx)
	go s.deps.Scheduler.Run(workerCtx)
	defer s.deps.Scheduler.Stop()

	httpServer := &http.Server{Addr: s.config.ServerAddr(), Handler: s.buildHandler()}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("sentinel server starting", zap.String("addr", s.config.ServerAddr()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
