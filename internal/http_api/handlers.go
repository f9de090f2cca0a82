package http_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Viktorio135/vpn/internal/auth"
	"github.com/Viktorio135/vpn/internal/models"
)

// CreateUserRequest represents the JSON body for user creation
type CreateUserRequest struct {
	ID int64 `json:"id" binding:"required"`
}

// CreateSubscriptionRequest provisions a config. Months == 0 is the free trial.
type CreateSubscriptionRequest struct {
	ConfigName string `json:"config_name"`
	Months     int    `json:"months" binding:"min=0"`
}

type RenewRequest struct {
	Months int `json:"months" binding:"required,min=1"`
}

// ConfigData is sent in the X-Data header next to the config blob.
type ConfigData struct {
	SubscriptionID uint      `json:"subscription_id"`
	ConfigName     string    `json:"config_name"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Degraded       bool      `json:"degraded,omitempty"`
}

// StatusRequest reports the result of a payment from the front-end.
type StatusRequest struct {
	Paid       bool    `json:"paid"`
	ExternalID string  `json:"external_id"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	Signature  string  `json:"signature"`
	Comment    string  `json:"comment"`
}

// OpenTransactionResponse carries the new transaction and how to pay it.
type OpenTransactionResponse struct {
	Transaction *models.Transaction `json:"transaction"`
	Checkout    *models.Checkout    `json:"checkout"`
}

type CancelRequest struct {
	Comment string `json:"comment"`
}

type NotificationRequest struct {
	OwnerID int64  `json:"owner_id" binding:"required"`
	Text    string `json:"text" binding:"required"`
}

func (s *HTTPServer) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func pathUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id", "code": "invalid_input"})
		return 0, false
	}
	return id, true
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "code": "invalid_input"})
		return 0, false
	}
	return uint(id), true
}

func (s *HTTPServer) createUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, created, err := s.gateway.CreateUser(c.Request.Context(), req.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		s.logger.Infow("User created", "user_id", user.ID)
		status = http.StatusCreated
	}
	c.JSON(status, user)
}

func (s *HTTPServer) getUser(c *gin.Context) {
	id, ok := pathUserID(c)
	if !ok {
		return
	}
	user, err := s.gateway.GetUser(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *HTTPServer) listSubscriptions(c *gin.Context) {
	id, ok := pathUserID(c)
	if !ok {
		return
	}
	subs, err := s.gateway.ListSubscriptions(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, subs)
}

func (s *HTTPServer) createSubscription(c *gin.Context) {
	ownerID, ok := pathUserID(c)
	if !ok {
		return
	}
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.gateway.CreateSubscription(c.Request.Context(), ownerID, req.ConfigName, req.Months)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeConfig(c, http.StatusCreated, result)
}

// writeConfig streams the rendered config and drops the on-disk copy.
func (s *HTTPServer) writeConfig(c *gin.Context, status int, result *models.ProvisionResult) {
	defer s.gateway.DiscardArtifact(result)

	sub := result.Subscription
	data, err := json.Marshal(ConfigData{
		SubscriptionID: sub.ID,
		ConfigName:     sub.Name,
		CreatedAt:      sub.CreatedAt,
		ExpiresAt:      sub.ExpiresAt,
		Degraded:       result.Degraded,
	})
	if err != nil {
		s.writeError(c, fmt.Errorf("failed to encode config data: %w", err))
		return
	}
	c.Header("X-Data", string(data))
	c.Header("Content-Disposition", `attachment; filename="`+sub.ArtifactName()+`"`)
	c.Data(status, "application/octet-stream", result.Blob)
}

func (s *HTTPServer) getSubscription(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sub, err := s.gateway.GetSubscription(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *HTTPServer) renewSubscription(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req RenewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sub, err := s.gateway.RenewSubscription(c.Request.Context(), id, req.Months)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *HTTPServer) reinstallSubscription(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := s.gateway.ReinstallSubscription(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeConfig(c, http.StatusOK, result)
}

func (s *HTTPServer) deleteSubscription(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.gateway.DeleteSubscription(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *HTTPServer) openTransaction(c *gin.Context) {
	var req models.OpenTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	txn, checkout, err := s.gateway.OpenTransaction(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, OpenTransactionResponse{Transaction: txn, Checkout: checkout})
}

func (s *HTTPServer) getTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	txn, err := s.gateway.GetTransaction(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// transactionStatus applies a payment result reported by the front-end,
// e.g. a cancelled checkout.
func (s *HTTPServer) transactionStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	outcome, err := s.gateway.ConfirmTransaction(c.Request.Context(), models.PaymentConfirmation{
		TransactionID: id,
		Paid:          req.Paid,
		ExternalID:    req.ExternalID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Signature:     req.Signature,
		Comment:       req.Comment,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeOutcome(c, outcome)
}

func (s *HTTPServer) checkTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	outcome, err := s.gateway.CheckTransaction(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeOutcome(c, outcome)
}

// cancelTransaction fails a pending transaction, e.g. an abandoned checkout.
// A transaction that is already paid cannot be cancelled.
func (s *HTTPServer) cancelTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req CancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if req.Comment == "" {
		req.Comment = "cancelled by user"
	}

	txn, err := s.gateway.FailTransaction(c.Request.Context(), id, req.Comment)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// writeOutcome answers with the outcome. A purchase's config travels in the
// payment event, so the file is not kept for this response.
func (s *HTTPServer) writeOutcome(c *gin.Context, outcome *models.PaymentOutcome) {
	if outcome.Provisioned != nil {
		s.gateway.DiscardArtifact(outcome.Provisioned)
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *HTTPServer) notify(c *gin.Context) {
	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.gateway.Notify(c.Request.Context(), req.OwnerID, req.Text)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *HTTPServer) monitorStatuses(c *gin.Context) {
	nodes, err := s.gateway.NodeStatuses(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nodes)
}

// registerNode admits a node. The proof is the provisioning secret on first
// contact and the previously issued token afterwards.
func (s *HTTPServer) registerNode(c *gin.Context) {
	proof, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token", "code": "unauthorized"})
		return
	}
	var desc models.NodeDescriptor
	if err := c.ShouldBindJSON(&desc); err != nil {
		badRequest(c, err)
		return
	}

	token, err := s.gateway.RegisterNode(c.Request.Context(), desc, proof)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Infow("Node registered", "server_id", desc.ExternalID, "endpoint", desc.Endpoint)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// cryptoCloudPostback queues the processor's payment webhook. It is verified
// and settled by the postback consumer.
func (s *HTTPServer) cryptoCloudPostback(c *gin.Context) {
	postback := models.Postback{
		Status:       c.PostForm("status"),
		InvoiceID:    c.PostForm("invoice_id"),
		AmountCrypto: c.PostForm("amount_crypto"),
		Currency:     c.PostForm("currency"),
		OrderID:      c.PostForm("order_id"),
		Token:        c.PostForm("token"),
	}
	if postback.OrderID == "" || postback.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id and status are required", "code": "invalid_input"})
		return
	}

	if err := s.gateway.EnqueuePostback(c.Request.Context(), postback); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Postback received"})
}
