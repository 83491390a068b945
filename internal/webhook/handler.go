package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"whatsapp-provider/internal/secure"
	wa "whatsapp-provider/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const MetaSignatureHeader = "X-Hub-Signature-256"

type Handler struct {
	Router      *Router
	VerifyToken string
	AppSecret   string
	log         *logrus.Entry
}

func NewHandler(router *Router, verifyToken, appSecret string) *Handler {
	return &Handler{
		Router:      router,
		VerifyToken: verifyToken,
		AppSecret:   appSecret,
		log:         logrus.WithField("module", "webhook"),
	}
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing verification parameters"})
		return
	}
	if mode == "subscribe" && h.VerifyToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(h.VerifyToken)) == 1 {
		h.log.Info("Webhook verified successfully")
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(challenge))
		return
	}
	h.log.Warn("Webhook verification failed")
	c.JSON(http.StatusForbidden, gin.H{"error": "Verification failed"})
}

// signedBody reads the raw body and checks the Meta signature. It writes the
// 401 itself and returns ok=false on failure.
func (h *Handler) signedBody(c *gin.Context) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid payload"})
		return nil, false
	}
	if !secure.VerifySignatureHeader(h.AppSecret, c.GetHeader(MetaSignatureHeader), body) {
		h.log.Warn("Invalid webhook signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return nil, false
	}
	return body, true
}

func (h *Handler) HandleMessage(c *gin.Context) {
	body, ok := h.signedBody(c)
	if !ok {
		return
	}

	var payload wa.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.WithError(err).Warn("Invalid webhook payload")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid payload"})
		return
	}

	queued := h.Router.Route(c.Request.Context(), &payload)
	h.log.WithField("events", queued).Debug("Webhook routed")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleCallStatus accepts either a Meta envelope carrying a calls change or a
// flat report naming the WABA.
func (h *Handler) HandleCallStatus(c *gin.Context) {
	body, ok := h.signedBody(c)
	if !ok {
		return
	}

	var shape struct {
		Object string            `json:"object"`
		Entry  []json.RawMessage `json:"entry"`
		WabaID string            `json:"waba_id"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid payload"})
		return
	}

	if len(shape.Entry) > 0 {
		var payload wa.WebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid payload"})
			return
		}
		h.Router.Route(c.Request.Context(), &payload)
	} else if shape.WabaID != "" {
		var report wa.CallStatusReport
		if err := json.Unmarshal(body, &report); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid payload"})
			return
		}
		h.Router.RouteCallStatus(c.Request.Context(), report)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
