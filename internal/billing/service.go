// Package billing rolls daily usage up into monthly summaries, issues
// invoices and prunes data past its retention window.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-provider/internal/metrics"
	"whatsapp-provider/internal/models"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrInvalidMonth = errors.New("month must be in YYYY-MM format")

type Customers interface {
	ListActive(ctx context.Context) ([]models.Customer, error)
	Plan(ctx context.Context, c *models.Customer) (*models.SubscriptionPlan, error)
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Service struct {
	db        *gorm.DB
	customers Customers
	mailer    Mailer
	now       func() time.Time
	log       *logrus.Entry
}

func NewService(db *gorm.DB, customers Customers, mailer Mailer) *Service {
	return &Service{
		db:        db,
		customers: customers,
		mailer:    mailer,
		now:       time.Now,
		log:       logrus.WithField("module", "billing"),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CurrentMonth is the UTC month of the service clock as YYYY-MM.
func (s *Service) CurrentMonth() string {
	return s.now().UTC().Format(models.MonthLayout)
}

// monthBounds returns the first and last day of a YYYY-MM month.
func monthBounds(month string) (time.Time, time.Time, error) {
	start, err := time.Parse(models.MonthLayout, month)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidMonth
	}
	return start, start.AddDate(0, 1, -1), nil
}

type monthTotals struct {
	TotalCalls       int64
	TotalCallMinutes float64
	TotalMessages    int64
	TotalCallCost    float64
	TotalMessageCost float64
	CallMarkup       float64
	MessageMarkup    float64
	TotalRevenue     float64
}

// AggregateUsage rebuilds the month's summary for every Active customer and
// returns how many summaries were written. Summaries already invoiced are left alone.
func (s *Service) AggregateUsage(ctx context.Context, month string) (int, error) {
	start, end, err := monthBounds(month)
	if err != nil {
		return 0, err
	}

	customers, err := s.customers.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active customers: %w", err)
	}

	var result *multierror.Error
	written := 0
	for i := range customers {
		c := &customers[i]
		ok, err := s.aggregateCustomer(ctx, c, month, start, end)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("customer %s: %w", c.ID, err))
			continue
		}
		if ok {
			written++
		}
	}

	s.log.WithFields(logrus.Fields{"month": month, "customers": len(customers), "summaries": written}).Info("Usage aggregation finished")
	return written, result.ErrorOrNil()
}

func (s *Service) aggregateCustomer(ctx context.Context, c *models.Customer, month string, start, end time.Time) (bool, error) {
	var totals monthTotals
	err := s.db.WithContext(ctx).Model(&models.DailyUsageMetrics{}).
		Select(`COALESCE(SUM(total_calls), 0) AS total_calls,
			COALESCE(SUM(total_call_minutes), 0) AS total_call_minutes,
			COALESCE(SUM(total_messages), 0) AS total_messages,
			COALESCE(SUM(total_call_cost), 0) AS total_call_cost,
			COALESCE(SUM(total_message_cost), 0) AS total_message_cost,
			COALESCE(SUM(call_markup), 0) AS call_markup,
			COALESCE(SUM(message_markup), 0) AS message_markup,
			COALESCE(SUM(total_revenue), 0) AS total_revenue`).
		Where("customer_id = ? AND date BETWEEN ? AND ?", c.ID, start.Format(models.DateLayout), end.Format(models.DateLayout)).
		Scan(&totals).Error
	if err != nil {
		return false, err
	}

	plan, err := s.customers.Plan(ctx, c)
	if err != nil {
		return false, err
	}
	baseFee := 0.0
	if plan != nil {
		baseFee = plan.BaseMonthlyFee
	}

	var summary models.MonthlyUsageSummary
	err = s.db.WithContext(ctx).Where("customer_id = ? AND month = ?", c.ID, month).First(&summary).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		summary = models.MonthlyUsageSummary{CustomerID: c.ID, Month: month}
	case err != nil:
		return false, err
	case summary.InvoiceGenerated:
		return false, nil
	}

	summary.TotalCalls = totals.TotalCalls
	summary.TotalCallMinutes = metrics.Round(totals.TotalCallMinutes, 2)
	summary.TotalMessages = totals.TotalMessages
	summary.BaseFee = baseFee
	summary.CallCharges = metrics.Round(totals.TotalCallCost+totals.CallMarkup, 4)
	summary.MessageCharges = metrics.Round(totals.TotalMessageCost+totals.MessageMarkup, 4)
	summary.UsageCharges = metrics.Round(totals.TotalRevenue, 4)

	if err := s.db.WithContext(ctx).Save(&summary).Error; err != nil {
		return false, err
	}
	return true, nil
}

type CleanupResult struct {
	Metrics  int64 `json:"metrics_deleted"`
	Sessions int64 `json:"sessions_deleted"`
}

// Cleanup deletes daily metrics past retention and stale signup sessions.
// Completed sessions are kept.
func (s *Service) Cleanup(ctx context.Context) (*CleanupResult, error) {
	now := s.now().UTC()
	cutoffDate := now.Add(-models.UsageMetricsRetention).Format(models.DateLayout)

	res := s.db.WithContext(ctx).Where("date < ?", cutoffDate).Delete(&models.DailyUsageMetrics{})
	if res.Error != nil {
		return nil, fmt.Errorf("delete old metrics: %w", res.Error)
	}
	out := &CleanupResult{Metrics: res.RowsAffected}

	res = s.db.WithContext(ctx).
		Where("created_at < ? AND status IN ?", now.Add(-models.SignupSessionCleanup), []string{
			models.SignupStatusInitiated,
			models.SignupStatusInProgress,
			models.SignupStatusFailed,
		}).
		Delete(&models.EmbeddedSignupSession{})
	if res.Error != nil {
		return out, fmt.Errorf("delete expired signup sessions: %w", res.Error)
	}
	out.Sessions = res.RowsAffected

	s.log.WithFields(logrus.Fields{
		"cutoff":           cutoffDate,
		"metrics_deleted":  out.Metrics,
		"sessions_deleted": out.Sessions,
	}).Info("Cleanup finished")
	return out, nil
}
