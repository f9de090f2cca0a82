package http_api

import "github.com/Viktorio135/vpn/internal/metrics"

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	s.router.GET("/healthz", s.healthz)
	s.router.GET("/metrics", metrics.Handler())

	public := s.router.Group("/api/v1")
	public.POST("/nodes/register", s.registerNode)
	public.POST("/postback/cryptocloud", s.limitPostbacks(), s.cryptoCloudPostback)

	api := s.router.Group("/api/v1", s.requireAPIKey())

	api.POST("/users", s.createUser)
	api.GET("/users/:id", s.getUser)
	api.GET("/users/:id/subscriptions", s.listSubscriptions)
	api.POST("/users/:id/subscriptions", s.createSubscription)

	api.GET("/subscriptions/:id", s.getSubscription)
	api.POST("/subscriptions/:id/renew", s.renewSubscription)
	api.POST("/subscriptions/:id/reinstall", s.reinstallSubscription)
	api.DELETE("/subscriptions/:id", s.deleteSubscription)

	api.POST("/transactions", s.openTransaction)
	api.GET("/transactions/:id", s.getTransaction)
	api.POST("/transactions/:id/status", s.transactionStatus)
	api.POST("/transactions/:id/check", s.checkTransaction)
	api.POST("/transactions/:id/cancel", s.cancelTransaction)

	api.POST("/notifications", s.notify)

	api.GET("/monitor/statuses", s.monitorStatuses)
}
