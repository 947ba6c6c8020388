// Package server exposes the decision and execution services over HTTP,
// a WebSocket progress stream and a gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/opsguide/opsguide-ai/internal/approval"
	"github.com/opsguide/opsguide-ai/internal/audit"
	"github.com/opsguide/opsguide-ai/internal/middleware"
	"github.com/opsguide/opsguide-ai/internal/models"
	"github.com/opsguide/opsguide-ai/internal/orchestrator"
)

// Version is reported by the health and info endpoints.
const Version = "1.0.0"

// Decider answers operational requests. Implemented by *orchestrator.Orchestrator.
type Decider interface {
	Process(ctx context.Context, req *models.OperationalRequest, mode models.Mode, observer orchestrator.Observer) (*models.DecisionArtifact, error)
}

// StepExecutor runs plan steps. Implemented by *execution.Engine.
type StepExecutor interface {
	Execute(ctx context.Context, req *models.StepExecutionRequest, userID string) (*models.StepExecution, error)
}

// ApprovalLister reads the approval trail. Implemented by *approval.Recorder.
type ApprovalLister interface {
	List(ctx context.Context, requestID string) ([]*approval.Record, error)
}

// Config holds the listener settings.
type Config struct {
	Port              int
	GRPCPort          int // 0 disables the gRPC health server
	AllowedOrigins    []string
	RequestsPerMinute int
}

// Server is the opsguide-ai API server.
type Server struct {
	config    Config
	decider   Decider
	executor  StepExecutor
	approvals ApprovalLister
	logger    audit.Logger
	log       *zap.Logger
	limiter   *middleware.RateLimiter
	upgrader  websocket.Upgrader
	handler   http.Handler

	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// NewServer wires the handlers. approvals and logger may be nil.
func NewServer(cfg Config, decider Decider, executor StepExecutor, approvals ApprovalLister, logger audit.Logger) (*Server, error) {
	if decider == nil || executor == nil {
		return nil, errors.New("decider and executor are required")
	}
	if logger == nil {
		logger = audit.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    cfg,
		decider:   decider,
		executor:  executor,
		approvals: approvals,
		logger:    logger,
		log:       logger.App().Named("server"),
		limiter:   middleware.NewRateLimiter(cfg.RequestsPerMinute),
		upgrader:  newUpgrader(cfg.AllowedOrigins),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the complete HTTP handler, CORS included.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/ws/requests", s.handleWebSocket).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/", s.handleInfo).Methods(http.MethodGet)
	v1.HandleFunc("/approvals", s.handleListApprovals).Methods(http.MethodGet)

	limited := v1.NewRoute().Subrouter()
	limited.Use(s.limiter.Middleware)
	limited.HandleFunc("/request", s.handleRequest).Methods(http.MethodPost)
	limited.HandleFunc("/steps/execute", s.handleExecuteStep).Methods(http.MethodPost)

	router.Use(middleware.CorrelationID)
	router.Use(middleware.Logging(s.log))
	router.Use(middleware.Recovery(s.log))

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.UserHeader, middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: !containsWildcard(s.config.AllowedOrigins),
	})
	return c.Handler(router)
}

// Start begins serving HTTP and, when configured, gRPC health.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("HTTP server listening", zap.Int("port", s.config.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server failed", zap.Error(err))
		}
	}()

	if s.config.GRPCPort > 0 {
		if err := s.startGRPC(); err != nil {
			return err
		}
	}

	_ = s.logger.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
		WithDescription(fmt.Sprintf("opsguide-ai %s started", Version)).
		WithResult(audit.ResultSuccess).
		WithMetadata("port", s.config.Port).
		WithMetadata("grpc_port", s.config.GRPCPort))
	return nil
}

func (s *Server) startGRPC() error {
	addr := fmt.Sprintf(":%d", s.config.GRPCPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.grpcServer = grpc.NewServer(grpc.ConnectionTimeout(30 * time.Second))
	s.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("gRPC health server listening", zap.Int("port", s.config.GRPCPort))
		if err := s.grpcServer.Serve(listener); err != nil {
			s.log.Error("gRPC server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts everything down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.healthServer != nil {
		s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	// Closes WebSocket sessions.
	s.cancel()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("HTTP server forced to shut down", zap.Error(err))
		}
	}

	if s.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			s.log.Warn("gRPC server forced to stop after timeout")
			s.grpcServer.Stop()
		}
	}

	s.limiter.Stop()
	s.wg.Wait()

	_ = s.logger.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown).
		WithResult(audit.ResultSuccess))
	return nil
}

// Wait blocks until Stop is called.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning reports whether Start has been called without Stop.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
