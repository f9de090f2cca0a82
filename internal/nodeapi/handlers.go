package nodeapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Viktorio135/vpn/internal/auth"
	"github.com/Viktorio135/vpn/internal/models"
)

// ConfigRequest identifies a peer by its owner and config name.
type ConfigRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	ConfigName string `json:"config_name" binding:"required"`
}

// ConfigMeta is sent in the X-Config-Meta header next to the config blob.
type ConfigMeta struct {
	ConfigName string `json:"config_name"`
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
}

// requireGatewayToken rejects requests without a valid gateway token for this node.
func (s *HTTPServer) requireGatewayToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid token"})
			return
		}
		if err := s.tokens.Verify(token, s.externalID); err != nil {
			detail := "invalid token"
			if errors.Is(err, models.ErrTokenExpired) {
				detail = "token expired"
			}
			s.logger.Debugw("Rejected gateway token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detail})
			return
		}
		c.Next()
	}
}

func (s *HTTPServer) generateConfig(c *gin.Context) {
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body: " + err.Error()})
		return
	}

	artifact, err := s.peers.Provision(c.Request.Context(), req.UserID, req.ConfigName)
	if err != nil {
		s.writeError(c, err)
		return
	}

	meta, err := json.Marshal(ConfigMeta{
		ConfigName: artifact.ConfigName,
		Address:    artifact.Address,
		PublicKey:  artifact.PublicKey,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("X-Config-Meta", string(meta))
	c.Header("Content-Disposition", `attachment; filename="`+models.ArtifactName(req.UserID, req.ConfigName)+`"`)
	c.Data(http.StatusOK, "application/octet-stream", artifact.Blob)
}

func (s *HTTPServer) deleteConfig(c *gin.Context) {
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body: " + err.Error()})
		return
	}

	if err := s.peers.Remove(c.Request.Context(), req.UserID, req.ConfigName); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *HTTPServer) nodeStatus(c *gin.Context) {
	status, err := s.status.Status(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *HTTPServer) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrCapacityExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "pool exhausted"})
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, models.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
	default:
		s.logger.Errorw("Node API request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
	}
}
