package api

import (
	"errors"
	"net/http"
	"strconv"

	"whatsapp-provider/internal/billing"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
)

type BillingHandler struct {
	Billing *billing.Service
}

func NewBillingHandler(svc *billing.Service) *BillingHandler {
	return &BillingHandler{Billing: svc}
}

func (h *BillingHandler) ListInvoices(c *gin.Context) {
	var f billing.InvoiceFilter
	_ = c.ShouldBindQuery(&f)

	invoices, err := h.Billing.ListInvoices(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "invoices": invoices})
}

func (h *BillingHandler) SetInvoiceStatus(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusNotFound, billing.ErrInvoiceNotFound.Error())
		return
	}
	var in billing.StatusInput
	if !bindJSON(c, &in) {
		return
	}
	inv, err := h.Billing.SetInvoiceStatus(c.Request.Context(), uint(id), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "invoice": inv})
}

type monthRequest struct {
	Month string `json:"month"`
}

func (h *BillingHandler) Aggregate(c *gin.Context) {
	var req monthRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.Month == "" {
		req.Month = h.Billing.CurrentMonth()
	}
	n, err := h.Billing.AggregateUsage(c.Request.Context(), req.Month)
	jobDone(c, gin.H{"month": req.Month, "summaries": n}, err)
}

func (h *BillingHandler) Cleanup(c *gin.Context) {
	res, err := h.Billing.Cleanup(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"metrics_deleted":  res.Metrics,
		"sessions_deleted": res.Sessions,
	})
}

func (h *BillingHandler) Invoice(c *gin.Context) {
	var req monthRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	var (
		n   int
		err error
	)
	if req.Month == "" {
		n, err = h.Billing.GenerateInvoices(c.Request.Context())
	} else {
		n, err = h.Billing.InvoiceMonth(c.Request.Context(), req.Month)
	}
	jobDone(c, gin.H{"invoices": n}, err)
}

// jobDone reports a batch job. Per-customer failures are listed alongside
// the count of what did succeed.
func jobDone(c *gin.Context, body gin.H, err error) {
	var merr *multierror.Error
	switch {
	case err == nil:
		body["success"] = true
		c.JSON(http.StatusOK, body)
	case errors.As(err, &merr):
		failures := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			failures = append(failures, e.Error())
		}
		body["success"] = false
		body["errors"] = failures
		c.JSON(http.StatusInternalServerError, body)
	default:
		respondError(c, err)
	}
}
