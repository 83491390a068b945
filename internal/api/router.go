package api

import (
	"net/http"

	"whatsapp-provider/internal/billing"
	"whatsapp-provider/internal/calls"
	"whatsapp-provider/internal/customer"
	"whatsapp-provider/internal/messages"
	"whatsapp-provider/internal/metrics"
	"whatsapp-provider/internal/middleware"
	"whatsapp-provider/internal/oauth"
	"whatsapp-provider/internal/plans"
	"whatsapp-provider/internal/signup"
	"whatsapp-provider/internal/webhook"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Services is everything the HTTP layer dispatches to.
type Services struct {
	DB        *gorm.DB
	OAuth     *oauth.Service
	Customers *customer.Service
	Plans     *plans.Service
	Messages  *messages.Service
	Calls     *calls.Service
	Metrics   *metrics.Service
	Signup    *signup.Service
	Billing   *billing.Service
	Webhooks  *webhook.Handler
	AdminKey  string
}

// NewRouter builds the gin engine with every public, customer and admin route.
func NewRouter(s Services) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logger(), middleware.Recovery(), middleware.CORS())

	oauthHandler := NewOAuthHandler(s.OAuth)
	customerHandler := NewCustomerHandler(s.Customers, s.Metrics)
	planHandler := NewPlanHandler(s.Plans)
	messageHandler := NewMessageHandler(s.Messages)
	callHandler := NewCallHandler(s.Calls)
	metricsHandler := NewMetricsHandler(s.Metrics)
	signupHandler := NewSignupHandler(s.Signup)
	billingHandler := NewBillingHandler(s.Billing)

	r.GET("/health", health(s.DB))

	// OAuth Routes
	r.GET("/oauth/authorize", oauthHandler.Authorize)
	r.POST("/oauth/token", oauthHandler.Token)
	r.POST("/oauth/refresh", oauthHandler.Refresh)

	// Webhook Routes
	r.GET("/webhooks/meta", s.Webhooks.VerifyWebhook)
	r.POST("/webhooks/meta", s.Webhooks.HandleMessage)
	r.POST("/webhooks/call-status", s.Webhooks.HandleCallStatus)

	r.GET("/signup/callback", signupHandler.Callback)

	// Customer API Routes
	apiGroup := r.Group("/api")
	{
		account := apiGroup.Group("", s.OAuth.RequireCustomer(false))
		account.GET("/customer/info", customerHandler.Info)
		account.GET("/customer/usage", customerHandler.Usage)
		account.POST("/metrics/usage", metricsHandler.ReportUsage)
		account.GET("/metrics/summary", metricsHandler.Summary)
		account.GET("/metrics/billing", metricsHandler.Billing)

		active := apiGroup.Group("", s.OAuth.RequireCustomer(true))
		active.POST("/messages/template", messageHandler.SendTemplate)
		active.POST("/messages/text", messageHandler.SendText)
		active.POST("/messages/media", messageHandler.SendMedia)
		active.POST("/calls/permission", callHandler.RequestPermission)
		active.POST("/calls/initiate", callHandler.Initiate)
		active.POST("/calls/end", callHandler.End)
		active.GET("/calls/status", callHandler.Status)
	}

	// Admin Routes
	admin := r.Group("/admin", oauth.RequireAdmin(s.AdminKey))
	{
		admin.POST("/customers", customerHandler.Register)
		admin.GET("/customers/:id", customerHandler.Get)
		admin.POST("/customers/:id/activate", customerHandler.Activate)
		admin.POST("/customers/:id/suspend", customerHandler.Suspend)
		admin.POST("/customers/:id/cancel", customerHandler.Cancel)
		admin.POST("/customers/:id/features", customerHandler.UpdateFeatures)
		admin.POST("/customers/:id/secret", customerHandler.RegenerateSecret)
		admin.POST("/customers/:id/balance", customerHandler.SetBalance)

		admin.GET("/plans", planHandler.List)
		admin.POST("/plans", planHandler.Create)
		admin.GET("/plans/:name", planHandler.Get)
		admin.PUT("/plans/:name", planHandler.Update)

		admin.POST("/signup", signupHandler.Initiate)
		admin.GET("/signup/:session_id", signupHandler.Status)

		admin.GET("/invoices", billingHandler.ListInvoices)
		admin.POST("/invoices/:id/status", billingHandler.SetInvoiceStatus)

		admin.POST("/jobs/aggregate", billingHandler.Aggregate)
		admin.POST("/jobs/cleanup", billingHandler.Cleanup)
		admin.POST("/jobs/invoice", billingHandler.Invoice)
	}

	return r
}

func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "up"})
	}
}
