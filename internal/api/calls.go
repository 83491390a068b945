package api

import (
	"net/http"

	"whatsapp-provider/internal/calls"
	"whatsapp-provider/internal/oauth"

	"github.com/gin-gonic/gin"
)

type CallHandler struct {
	Calls *calls.Service
}

func NewCallHandler(svc *calls.Service) *CallHandler {
	return &CallHandler{Calls: svc}
}

func (h *CallHandler) RequestPermission(c *gin.Context) {
	var in calls.PermissionInput
	if !bindJSON(c, &in) {
		return
	}
	id, err := h.Calls.RequestPermission(c.Request.Context(), oauth.CustomerFrom(c), in)
	if err != nil {
		respondMeta(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message_id": id,
		"message":    "Permission request sent successfully",
	})
}

func (h *CallHandler) Initiate(c *gin.Context) {
	var in calls.InitiateInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.Calls.Initiate(c.Request.Context(), oauth.CustomerFrom(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"call_session_id":  res.CallSessionID,
		"janus_session_id": res.JanusSessionID,
		"janus_handle_id":  res.JanusHandleID,
		"janus_ws_url":     res.JanusWSURL,
		"ice_servers":      res.ICEServers,
	})
}

func (h *CallHandler) End(c *gin.Context) {
	var in calls.EndInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.Calls.End(c.Request.Context(), oauth.CustomerFrom(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"duration_seconds": res.DurationSeconds,
		"cost":             res.Cost,
		"breakdown":        res.Breakdown,
	})
}

func (h *CallHandler) Status(c *gin.Context) {
	st, err := h.Calls.Status(oauth.CustomerFrom(c), c.Query("call_session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
