// Package nodeapi serves the node's HTTP API to the gateway.
package nodeapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Viktorio135/vpn/internal/auth"
	"github.com/Viktorio135/vpn/internal/metrics"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second
)

// Peers provisions and removes peers.
type Peers interface {
	Provision(ctx context.Context, clientID int64, name string) (*models.NodeArtifact, error)
	Remove(ctx context.Context, clientID int64, name string) error
}

// StatusReporter reports node health.
type StatusReporter interface {
	Status(ctx context.Context) (*models.NodeStatus, error)
}

// HTTPServer serves the node API.
type HTTPServer struct {
	logger *logger.Logger

	router *gin.Engine
	port   int
	server *http.Server

	// externalID is the subject every gateway token must carry.
	externalID string
	tokens     *auth.Issuer

	peers  Peers
	status StatusReporter
}

// NewHTTPServer creates the node HTTP server
func NewHTTPServer(peers Peers, status StatusReporter, tokens *auth.Issuer, externalID string, port int, logger *logger.Logger) *HTTPServer {
	router := gin.New()
	router.Use(gin.Recovery(), metrics.Middleware())

	server := &HTTPServer{
		logger:     logger,
		router:     router,
		port:       port,
		externalID: externalID,
		tokens:     tokens,
		peers:      peers,
		status:     status,
	}
	server.routes()
	return server
}

// Handler exposes the router, mostly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *HTTPServer) Start() {
	addr := fmt.Sprintf("0.0.0.0:%v", s.port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.logger.Infow("Starting node API", "address", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Fatal("Failed to start the node API: ", err)
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down node API...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("node API shutdown error: %w", err)
	}
	return nil
}
