package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tourtastic/tourtastic/internal/service/webhook"
	"github.com/tourtastic/tourtastic/pkg/logger"
)

const signatureHeader = "X-Provider-Signature"

type WebhookHandler struct {
	service webhook.WebhookUseCase
	secret  []byte
}

func NewWebhookHandler(service webhook.WebhookUseCase, secret string) *WebhookHandler {
	return &WebhookHandler{service: service, secret: []byte(secret)}
}

func (h *WebhookHandler) Register(router *gin.RouterGroup) {
	router.POST("/provider", h.ingest)
}

func (h *WebhookHandler) ingest(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body", "code": "VALIDATION_FAILED"})
		return
	}

	if !h.verifySignature(body, c.GetHeader(signatureHeader)) {
		logger.Warn("rejected webhook with bad signature", "remote", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature", "code": "UNAUTHENTICATED"})
		return
	}

	var cb webhook.Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload", "code": "VALIDATION_FAILED"})
		return
	}

	if err := h.service.Process(c.Request.Context(), cb); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if len(h.secret) == 0 {
		// No secret configured means signature checking is disabled.
		return true
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
