package nodeapi

import "github.com/Viktorio135/vpn/internal/metrics"

func (s *HTTPServer) routes() {
	s.router.GET("/metrics", metrics.Handler())

	authed := s.router.Group("/", s.requireGatewayToken())
	authed.POST("/client/generate-config/", s.generateConfig)
	authed.POST("/client/delete-config/", s.deleteConfig)
	authed.GET("/status", s.nodeStatus)
}
