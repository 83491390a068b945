package api

import (
	"net/http"

	"whatsapp-provider/internal/messages"
	"whatsapp-provider/internal/oauth"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	Messages *messages.Service
}

func NewMessageHandler(svc *messages.Service) *MessageHandler {
	return &MessageHandler{Messages: svc}
}

func (h *MessageHandler) SendTemplate(c *gin.Context) {
	var in messages.TemplateInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.Messages.SendTemplate(c.Request.Context(), oauth.CustomerFrom(c), in)
	h.sent(c, res, err)
}

func (h *MessageHandler) SendText(c *gin.Context) {
	var in messages.TextInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.Messages.SendText(c.Request.Context(), oauth.CustomerFrom(c), in)
	h.sent(c, res, err)
}

func (h *MessageHandler) SendMedia(c *gin.Context) {
	var in messages.MediaInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.Messages.SendMedia(c.Request.Context(), oauth.CustomerFrom(c), in)
	h.sent(c, res, err)
}

func (h *MessageHandler) sent(c *gin.Context, res *messages.Result, err error) {
	if err != nil {
		respondMeta(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message_id": res.MessageID, "cost": res.Cost})
}
