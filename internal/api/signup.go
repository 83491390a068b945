package api

import (
	"errors"
	"net/http"

	"whatsapp-provider/internal/models"
	"whatsapp-provider/internal/signup"

	"github.com/gin-gonic/gin"
)

type SignupHandler struct {
	Signup *signup.Service
}

func NewSignupHandler(svc *signup.Service) *SignupHandler {
	return &SignupHandler{Signup: svc}
}

type initiateSignupRequest struct {
	CustomerID string `json:"customer_id"`
}

func (h *SignupHandler) Initiate(c *gin.Context) {
	var req initiateSignupRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.CustomerID == "" {
		fail(c, http.StatusBadRequest, signup.ErrMissingParameters.Error())
		return
	}
	res, err := h.Signup.Initiate(c.Request.Context(), req.CustomerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    models.MsgSignupInitiated,
		"signup_url": res.SignupURL,
		"session_id": res.SessionID,
	})
}

// Callback is where Meta redirects the browser after embedded signup.
func (h *SignupHandler) Callback(c *gin.Context) {
	var in signup.CallbackInput
	_ = c.ShouldBindQuery(&in)

	creds, err := h.Signup.Callback(c.Request.Context(), in)
	var denied *signup.DeniedError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"success":          true,
			"message":          models.MsgSignupCompleted,
			"waba_credentials": creds,
		})
	case errors.As(err, &denied):
		fail(c, http.StatusBadRequest, denied.Reason)
	default:
		respondError(c, err)
	}
}

func (h *SignupHandler) Status(c *gin.Context) {
	st, err := h.Signup.Status(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
