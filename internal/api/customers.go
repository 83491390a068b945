package api

import (
	"net/http"
	"time"

	"whatsapp-provider/internal/customer"
	"whatsapp-provider/internal/metrics"
	"whatsapp-provider/internal/models"
	"whatsapp-provider/internal/oauth"

	"github.com/gin-gonic/gin"
)

type CustomerHandler struct {
	Customers *customer.Service
	Metrics   *metrics.Service
}

func NewCustomerHandler(customers *customer.Service, metricsService *metrics.Service) *CustomerHandler {
	return &CustomerHandler{Customers: customers, Metrics: metricsService}
}

type planInfo struct {
	Name     string   `json:"name"`
	BaseFee  float64  `json:"base_fee"`
	Features []string `json:"features"`
}

type customerInfo struct {
	CustomerID       string     `json:"customer_id"`
	CustomerName     string     `json:"customer_name"`
	Status           string     `json:"status"`
	WabaConnected    bool       `json:"waba_connected"`
	WabaID           string     `json:"waba_id"`
	SubscriptionPlan *planInfo  `json:"subscription_plan"`
	CurrentBalance   float64    `json:"current_balance"`
	BillingCycle     string     `json:"billing_cycle"`
	LastSync         *time.Time `json:"last_sync"`
}

func (h *CustomerHandler) Info(c *gin.Context) {
	cust := oauth.CustomerFrom(c)
	plan, err := h.Customers.Plan(c.Request.Context(), cust)
	if err != nil {
		respondError(c, err)
		return
	}

	info := customerInfo{
		CustomerID:     cust.ID,
		CustomerName:   cust.CustomerName,
		Status:         cust.Status,
		WabaConnected:  cust.EmbeddedSignupCompleted,
		WabaID:         cust.WabaID,
		CurrentBalance: cust.CurrentBalance,
		BillingCycle:   cust.BillingCycle,
		LastSync:       cust.LastSync,
	}
	if plan != nil {
		features := plan.Features()
		if features == nil {
			features = []string{}
		}
		info.SubscriptionPlan = &planInfo{Name: plan.PlanName, BaseFee: plan.BaseMonthlyFee, Features: features}
	}
	c.JSON(http.StatusOK, info)
}

func (h *CustomerHandler) Usage(c *gin.Context) {
	var q metrics.SummaryQuery
	_ = c.ShouldBindQuery(&q)

	summary, err := h.Metrics.UsageSummary(c.Request.Context(), oauth.CustomerFrom(c).ID, q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Admin endpoints

func (h *CustomerHandler) Register(c *gin.Context) {
	var in customer.RegisterInput
	if !bindJSON(c, &in) {
		return
	}
	creds, err := h.Customers.Register(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":             true,
		"customer_id":         creds.CustomerID,
		"oauth_client_id":     creds.OAuthClientID,
		"oauth_client_secret": creds.OAuthClientSecret,
		"message":             models.MsgCustomerRegistered,
	})
}

func (h *CustomerHandler) Get(c *gin.Context) {
	cust, err := h.Customers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cust)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *CustomerHandler) Activate(c *gin.Context) {
	cust, err := h.Customers.Activate(c.Request.Context(), c.Param("id"))
	h.statusChanged(c, cust, err, "activated")
}

func (h *CustomerHandler) Suspend(c *gin.Context) {
	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	cust, err := h.Customers.Suspend(c.Request.Context(), c.Param("id"), req.Reason)
	h.statusChanged(c, cust, err, "suspended")
}

func (h *CustomerHandler) Cancel(c *gin.Context) {
	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	cust, err := h.Customers.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	h.statusChanged(c, cust, err, "cancelled")
}

func (h *CustomerHandler) statusChanged(c *gin.Context, cust *models.Customer, err error, verb string) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  cust.Status,
		"message": "Customer " + cust.ID + " " + verb,
	})
}

func (h *CustomerHandler) UpdateFeatures(c *gin.Context) {
	var in customer.FeatureInput
	if !bindJSON(c, &in) {
		return
	}
	if _, err := h.Customers.UpdateFeatures(c.Request.Context(), c.Param("id"), in); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Features updated"})
}

func (h *CustomerHandler) RegenerateSecret(c *gin.Context) {
	creds, err := h.Customers.RegenerateSecret(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"customer_id":         creds.CustomerID,
		"oauth_client_id":     creds.OAuthClientID,
		"oauth_client_secret": creds.OAuthClientSecret,
	})
}

func (h *CustomerHandler) SetBalance(c *gin.Context) {
	var in customer.BalanceInput
	if !bindJSON(c, &in) {
		return
	}
	cust, err := h.Customers.SetBalance(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "current_balance": cust.CurrentBalance})
}
