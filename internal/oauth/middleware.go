package oauth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"whatsapp-provider/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	contextKeyCustomerID = "customer_id"
	contextKeyCustomer   = "customer"
)

// RequireCustomer authenticates a bearer access token. With activeOnly the
// customer must also be Active.
func (s *Service) RequireCustomer(activeOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
			return
		}

		claims, err := s.ValidateToken(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) {
				logrus.WithError(err).Error("Token validation failed")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
			return
		}

		cust, err := s.customers.Get(c.Request.Context(), claims.CustomerID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
			return
		}
		if activeOnly && cust.Status != models.CustomerStatusActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrCustomerInactive.Error()})
			return
		}

		c.Set(contextKeyCustomerID, cust.ID)
		c.Set(contextKeyCustomer, cust)
		c.Next()
	}
}

// CustomerFrom returns the customer set by RequireCustomer.
func CustomerFrom(c *gin.Context) *models.Customer {
	v, ok := c.Get(contextKeyCustomer)
	if !ok {
		return nil
	}
	cust, _ := v.(*models.Customer)
	return cust
}

// RequireAdmin checks the X-Admin-Key header. An empty configured key disables the admin API.
func RequireAdmin(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Key")
		if adminKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authorized"})
			return
		}
		c.Next()
	}
}
