package api

import (
	"errors"
	"net/http"

	"whatsapp-provider/internal/oauth"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type OAuthHandler struct {
	OAuth *oauth.Service
}

func NewOAuthHandler(svc *oauth.Service) *OAuthHandler {
	return &OAuthHandler{OAuth: svc}
}

func (h *OAuthHandler) Authorize(c *gin.Context) {
	var req oauth.AuthorizeRequest
	_ = c.ShouldBindQuery(&req)

	location, err := h.OAuth.Authorize(c.Request.Context(), req)
	switch {
	case err == nil:
		c.Redirect(http.StatusFound, location)
	case errors.Is(err, oauth.ErrUnknownClient):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, oauth.ErrMissingParameters),
		errors.Is(err, oauth.ErrInvalidResponseType),
		errors.Is(err, oauth.ErrInvalidRedirectURI):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logrus.WithError(err).Error("OAuth authorize failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
	}
}

// Token accepts form or JSON encoded requests.
func (h *OAuthHandler) Token(c *gin.Context) {
	var req oauth.TokenRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, &oauth.Error{Code: "invalid_request"})
		return
	}
	tokens, err := h.OAuth.Token(c.Request.Context(), req)
	if err != nil {
		h.tokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (h *OAuthHandler) Refresh(c *gin.Context) {
	var req oauth.TokenRequest
	if err := c.ShouldBind(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, &oauth.Error{Code: "invalid_request", Description: "Missing refresh_token"})
		return
	}
	tokens, err := h.OAuth.Refresh(c.Request.Context(), req.RefreshToken, req.ClientID, req.ClientSecret)
	if err != nil {
		h.tokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (h *OAuthHandler) tokenError(c *gin.Context, err error) {
	var oerr *oauth.Error
	if !errors.As(err, &oerr) {
		logrus.WithError(err).Error("OAuth token request failed")
		c.JSON(http.StatusInternalServerError, &oauth.Error{Code: "server_error"})
		return
	}
	status := http.StatusBadRequest
	if oerr.Code == "invalid_client" {
		status = http.StatusUnauthorized
	}
	c.JSON(status, oerr)
}
