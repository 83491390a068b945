package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsapp-provider/internal/metrics"
	"whatsapp-provider/internal/models"

	"github.com/hashicorp/go-multierror"
	"github.com/qmuntal/stateless"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrInvalidStatus     = errors.New("invalid invoice status")
	ErrInvalidTransition = errors.New("invalid invoice status transition")
	ErrInvalidDate       = errors.New("payment_date must be in YYYY-MM-DD format")
)

const (
	triggerSend    = "send"
	triggerPay     = "pay"
	triggerOverdue = "overdue"
)

var statusTriggers = map[string]string{
	models.InvoiceStatusSent:    triggerSend,
	models.InvoiceStatusPaid:    triggerPay,
	models.InvoiceStatusOverdue: triggerOverdue,
}

// nextInvoiceStatus applies trigger to current:
//
//	Draft   -> Sent | Paid
//	Sent    -> Paid | Overdue
//	Overdue -> Paid
func nextInvoiceStatus(current, trigger string) (string, error) {
	machine := stateless.NewStateMachine(current)
	machine.Configure(models.InvoiceStatusDraft).
		Permit(triggerSend, models.InvoiceStatusSent).
		Permit(triggerPay, models.InvoiceStatusPaid)
	machine.Configure(models.InvoiceStatusSent).
		Permit(triggerPay, models.InvoiceStatusPaid).
		Permit(triggerOverdue, models.InvoiceStatusOverdue)
	machine.Configure(models.InvoiceStatusOverdue).
		Permit(triggerPay, models.InvoiceStatusPaid)
	machine.Configure(models.InvoiceStatusPaid)

	if err := machine.Fire(trigger); err != nil {
		return "", fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, trigger)
	}
	return machine.MustState().(string), nil
}

// GenerateInvoices issues Draft invoices for the month before now from every
// summary not yet invoiced, and emails each customer that has an address.
func (s *Service) GenerateInvoices(ctx context.Context) (int, error) {
	now := s.now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	month := first.AddDate(0, -1, 0).Format(models.MonthLayout)
	return s.InvoiceMonth(ctx, month)
}

// InvoiceMonth re-aggregates one YYYY-MM month and issues its invoices.
// A customer whose aggregation fails is still invoiced from its last summary.
func (s *Service) InvoiceMonth(ctx context.Context, month string) (int, error) {
	start, end, err := monthBounds(month)
	if err != nil {
		return 0, err
	}

	var result *multierror.Error
	if _, err := s.AggregateUsage(ctx, month); err != nil {
		result = multierror.Append(result, fmt.Errorf("aggregate %s: %w", month, err))
	}

	var summaries []models.MonthlyUsageSummary
	err = s.db.WithContext(ctx).
		Where("month = ? AND invoice_generated = ?", month, false).
		Order("id").
		Find(&summaries).Error
	if err != nil {
		return 0, fmt.Errorf("list summaries: %w", err)
	}

	issued := 0
	for i := range summaries {
		inv, err := s.issue(ctx, &summaries[i], start, end)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("customer %s: %w", summaries[i].CustomerID, err))
			continue
		}
		issued++
		if err := s.notify(ctx, inv, start); err != nil {
			s.log.WithError(err).WithField("customer_id", inv.CustomerID).Error("Failed to send invoice email")
		}
	}

	s.log.WithFields(logrus.Fields{"month": month, "invoices": issued}).Info("Invoice generation finished")
	return issued, result.ErrorOrNil()
}

func (s *Service) issue(ctx context.Context, summary *models.MonthlyUsageSummary, start, end time.Time) (*models.CustomerInvoice, error) {
	inv := &models.CustomerInvoice{
		CustomerID:         summary.CustomerID,
		InvoicePeriodStart: start.Format(models.DateLayout),
		InvoicePeriodEnd:   end.Format(models.DateLayout),
		BaseFee:            summary.BaseFee,
		CallCharges:        metrics.Round(summary.CallCharges, 2),
		MessageCharges:     metrics.Round(summary.MessageCharges, 2),
		TotalCalls:         summary.TotalCalls,
		TotalMessages:      summary.TotalMessages,
		InvoiceStatus:      models.InvoiceStatusDraft,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(inv).Error; err != nil {
			return err
		}
		return tx.Model(summary).Update("invoice_generated", true).Error
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) notify(ctx context.Context, inv *models.CustomerInvoice, period time.Time) error {
	var c models.Customer
	if err := s.db.WithContext(ctx).Where("id = ?", inv.CustomerID).First(&c).Error; err != nil {
		return err
	}
	if c.CompanyEmail == "" {
		return nil
	}
	subject, body := invoiceEmail(&c, inv, period)
	return s.mailer.Send(ctx, c.CompanyEmail, subject, body)
}

func invoiceEmail(c *models.Customer, inv *models.CustomerInvoice, period time.Time) (string, string) {
	label := period.Format("January 2006")
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", c.CustomerName)
	fmt.Fprintf(&b, "Your invoice for %s is ready.\n\n", label)
	b.WriteString("Invoice Summary:\n")
	fmt.Fprintf(&b, "- Base Fee: $%.2f\n", inv.BaseFee)
	fmt.Fprintf(&b, "- Usage Charges: $%.2f\n", inv.TotalAmount-inv.BaseFee)
	fmt.Fprintf(&b, "- Total Calls: %d\n", inv.TotalCalls)
	fmt.Fprintf(&b, "- Total Messages: %d\n", inv.TotalMessages)
	fmt.Fprintf(&b, "- Total Amount: $%.2f\n\n", inv.TotalAmount)
	b.WriteString("Please log in to your dashboard to view the full invoice and make payment.\n\n")
	b.WriteString("Best regards,\nWalue Biz Team\n")
	return "Walue WhatsApp - Invoice for " + label, b.String()
}

type InvoiceFilter struct {
	CustomerID string `form:"customer_id"`
	Status     string `form:"status"`
}

func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter) ([]models.CustomerInvoice, error) {
	q := s.db.WithContext(ctx).Order("invoice_period_start DESC, id DESC")
	if f.CustomerID != "" {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.Status != "" {
		q = q.Where("invoice_status = ?", f.Status)
	}
	invoices := []models.CustomerInvoice{}
	if err := q.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

type StatusInput struct {
	Status      string `json:"status"`
	PaymentDate string `json:"payment_date"`
}

// SetInvoiceStatus moves an invoice to in.Status. Paying without a
// payment date records today.
func (s *Service) SetInvoiceStatus(ctx context.Context, id uint, in StatusInput) (*models.CustomerInvoice, error) {
	trigger, ok := statusTriggers[in.Status]
	if !ok {
		return nil, ErrInvalidStatus
	}

	var inv models.CustomerInvoice
	err := s.db.WithContext(ctx).First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}

	next, err := nextInvoiceStatus(inv.InvoiceStatus, trigger)
	if err != nil {
		return nil, err
	}
	if next == models.InvoiceStatusPaid {
		paid := s.now().UTC().Truncate(24 * time.Hour)
		if in.PaymentDate != "" {
			paid, err = time.Parse(models.DateLayout, in.PaymentDate)
			if err != nil {
				return nil, ErrInvalidDate
			}
		}
		inv.PaymentDate = &paid
	}
	inv.InvoiceStatus = next

	if err := s.db.WithContext(ctx).Save(&inv).Error; err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"invoice_id": inv.ID, "status": next}).Info("Invoice status updated")
	return &inv, nil
}
