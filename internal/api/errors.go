package api

import (
	"errors"
	"net/http"

	"whatsapp-provider/internal/billing"
	"whatsapp-provider/internal/calls"
	"whatsapp-provider/internal/customer"
	"whatsapp-provider/internal/messages"
	"whatsapp-provider/internal/metrics"
	"whatsapp-provider/internal/plans"
	"whatsapp-provider/internal/signup"
	"whatsapp-provider/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var errorStatuses = []struct {
	err    error
	status int
}{
	{customer.ErrCustomerNotFound, http.StatusNotFound},
	{plans.ErrPlanNotFound, http.StatusNotFound},
	{billing.ErrInvoiceNotFound, http.StatusNotFound},
	{signup.ErrSessionNotFound, http.StatusNotFound},
	{calls.ErrSessionNotFound, http.StatusNotFound},

	{customer.ErrMissingFields, http.StatusBadRequest},
	{customer.ErrInvalidCustomer, http.StatusBadRequest},
	{plans.ErrInvalidPlan, http.StatusBadRequest},
	{messages.ErrMissingParameters, http.StatusBadRequest},
	{messages.ErrInvalidMediaType, http.StatusBadRequest},
	{calls.ErrMissingParameters, http.StatusBadRequest},
	{calls.ErrMissingSessionID, http.StatusBadRequest},
	{metrics.ErrInvalidUsageType, http.StatusBadRequest},
	{metrics.ErrInvalidDate, http.StatusBadRequest},
	{metrics.ErrNegativeUsage, http.StatusBadRequest},
	{signup.ErrMissingParameters, http.StatusBadRequest},
	{signup.ErrInvalidSession, http.StatusBadRequest},
	{billing.ErrInvalidMonth, http.StatusBadRequest},
	{billing.ErrInvalidStatus, http.StatusBadRequest},
	{billing.ErrInvalidDate, http.StatusBadRequest},

	{messages.ErrFeatureDisabled, http.StatusForbidden},
	{calls.ErrFeatureDisabled, http.StatusForbidden},
	{calls.ErrRestrictedRegion, http.StatusForbidden},
	{calls.ErrSessionForbidden, http.StatusForbidden},

	{customer.ErrCustomerExists, http.StatusConflict},
	{customer.ErrInvalidTransition, http.StatusConflict},
	{plans.ErrPlanExists, http.StatusConflict},
	{billing.ErrInvalidTransition, http.StatusConflict},

	{calls.ErrGateway, http.StatusBadGateway},
	{signup.ErrOAuthFailed, http.StatusBadGateway},
	{signup.ErrProviderDisabled, http.StatusServiceUnavailable},
}

func statusOf(err error) (int, bool) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status, true
		}
	}
	return 0, false
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// respondError writes the failure body for err. Known errors keep their
// message; anything else is logged and reported as an internal error.
func respondError(c *gin.Context, err error) {
	if status, ok := statusOf(err); ok {
		body := gin.H{"success": false, "error": err.Error()}
		if errors.Is(err, calls.ErrRestrictedRegion) {
			body["restricted"] = true
		}
		c.JSON(status, body)
		return
	}
	var apiErr *whatsapp.APIError
	if errors.As(err, &apiErr) {
		fail(c, http.StatusBadGateway, whatsapp.ErrorMessage(err))
		return
	}
	_ = c.Error(err)
	logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	fail(c, http.StatusInternalServerError, "Internal server error")
}

// respondMeta is respondError for calls that reach the Graph API: an
// unclassified error there is a failed Meta request, not an internal one.
func respondMeta(c *gin.Context, err error) {
	if _, ok := statusOf(err); ok {
		respondError(c, err)
		return
	}
	_ = c.Error(err)
	fail(c, http.StatusBadGateway, whatsapp.ErrorMessage(err))
}

func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// bindOptionalJSON is bindJSON for endpoints whose body may be empty.
func bindOptionalJSON(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, v)
}
