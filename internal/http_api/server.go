package http_api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Viktorio135/vpn/internal/metrics"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second
)

// HTTPServer is the HTTP server struct that will serve the gateway API
type HTTPServer struct {
	// logger is the logger instance
	logger *logger.Logger

	// router is the HTTP router
	router *gin.Engine
	// port is the port on which the server will listen
	port int

	// server is the underlying HTTP server
	server *http.Server

	// apiKey authenticates the chat front-end
	apiKey string
	// postbacks throttles the public payment webhook
	postbacks *rate.Limiter

	// gateway is the main application struct
	gateway models.GatewayService
}

// NewHTTPServer creates a new HTTP server instance. postbackRate is the number
// of payment webhooks accepted per second.
func NewHTTPServer(gateway models.GatewayService, apiKey string, postbackRate float64, port int, logger *logger.Logger) *HTTPServer {
	router := gin.New()
	router.Use(gin.Recovery(), requestID(logger), metrics.Middleware())

	burst := int(postbackRate)
	if burst < 1 {
		burst = 1
	}
	server := &HTTPServer{
		router:    router,
		port:      port,
		apiKey:    apiKey,
		postbacks: rate.NewLimiter(rate.Limit(postbackRate), burst),
		gateway:   gateway,
		logger:    logger,
	}

	// Define routes
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

	s.logger.Infow("Starting HTTP server", "address", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Fatal("Failed to start the HTTP server: ", err)
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server shut down successfully")
	return nil
}
