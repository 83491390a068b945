// Package metrics stores per-customer daily usage aggregates and answers
// usage, quota and billing queries from them. Only counts, minutes and
// costs are kept.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"whatsapp-provider/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	UsageTypeCall    = "call"
	UsageTypeMessage = "message"

	QuotaOK       = "ok"
	QuotaWarning  = "warning"
	QuotaCritical = "critical"
)

var (
	ErrInvalidUsageType = errors.New("Invalid usage_type")
	ErrInvalidDate      = errors.New("Invalid date. Use YYYY-MM-DD")
	ErrNegativeUsage    = errors.New("cost and duration_minutes cannot be negative")
)

type planLookup interface {
	Plan(ctx context.Context, c *models.Customer) (*models.SubscriptionPlan, error)
}

type Service struct {
	db    *gorm.DB
	plans planLookup
	now   func() time.Time
}

func NewService(db *gorm.DB, plans planLookup) *Service {
	return &Service{db: db, plans: plans, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) today() time.Time {
	t := s.now().UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Usage is a delta added to a customer's row for the day.
type Usage struct {
	Calls         int64
	CallMinutes   float64
	Messages      int64
	CallCost      float64
	MessageCost   float64
	CallMarkup    float64
	MessageMarkup float64
}

// Add upserts today's row for the customer, incrementing every counter by u.
func (s *Service) Add(ctx context.Context, customerID string, u Usage) error {
	row := models.DailyUsageMetrics{
		CustomerID:       customerID,
		Date:             s.today().Format(models.DateLayout),
		TotalCalls:       u.Calls,
		TotalCallMinutes: u.CallMinutes,
		TotalMessages:    u.Messages,
		TotalCallCost:    u.CallCost,
		TotalMessageCost: u.MessageCost,
		CallMarkup:       u.CallMarkup,
		MessageMarkup:    u.MessageMarkup,
	}

	// BeforeSave derives total_markup and total_revenue for the delta, so
	// summing them keeps the row consistent.
	increments := clause.Assignments(map[string]interface{}{
		"total_calls":        increment("total_calls"),
		"total_call_minutes": increment("total_call_minutes"),
		"total_messages":     increment("total_messages"),
		"total_call_cost":    increment("total_call_cost"),
		"total_message_cost": increment("total_message_cost"),
		"call_markup":        increment("call_markup"),
		"message_markup":     increment("message_markup"),
		"total_markup":       increment("total_markup"),
		"total_revenue":      increment("total_revenue"),
		"updated_at":         s.now(),
	})

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}, {Name: "date"}},
		DoUpdates: increments,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record usage for %s: %w", customerID, err)
	}
	return nil
}

func increment(column string) clause.Expr {
	return gorm.Expr(fmt.Sprintf("daily_usage_metrics.%s + excluded.%s", column, column))
}

// RecordMessage counts one sent message with its Meta cost and markup.
func (s *Service) RecordMessage(ctx context.Context, customerID string, cost, markup float64) error {
	return s.Add(ctx, customerID, Usage{Messages: 1, MessageCost: cost, MessageMarkup: markup})
}

// RecordCall counts one finished call.
func (s *Service) RecordCall(ctx context.Context, customerID string, minutes, cost, markup float64) error {
	return s.Add(ctx, customerID, Usage{Calls: 1, CallMinutes: minutes, CallCost: cost, CallMarkup: markup})
}

type ReportInput struct {
	UsageType       string  `json:"usage_type"`
	Count           int64   `json:"count"`
	DurationMinutes float64 `json:"duration_minutes"`
	Cost            float64 `json:"cost"`
}

// ReportUsage adds usage reported by a customer app and returns the
// resulting quota state.
func (s *Service) ReportUsage(ctx context.Context, c *models.Customer, in ReportInput) (*BalanceInfo, error) {
	if in.Cost < 0 || in.DurationMinutes < 0 {
		return nil, ErrNegativeUsage
	}
	var u Usage
	switch in.UsageType {
	case UsageTypeCall:
		u = Usage{Calls: in.Count, CallMinutes: in.DurationMinutes, CallCost: in.Cost}
	case UsageTypeMessage:
		u = Usage{Messages: in.Count, MessageCost: in.Cost}
	default:
		return nil, ErrInvalidUsageType
	}
	if err := s.Add(ctx, c.ID, u); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"customer_id": c.ID,
		"usage_type":  in.UsageType,
		"count":       in.Count,
	}).Debug("Usage reported")
	return s.Balance(ctx, c)
}

type Alert struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type BalanceInfo struct {
	Balance     float64 `json:"balance"`
	TotalUsage  float64 `json:"total_usage"`
	QuotaStatus string  `json:"quota_status"`
	Alerts      []Alert `json:"alerts"`
}

// Balance compares month-to-date revenue against the customer's balance.
func (s *Service) Balance(ctx context.Context, c *models.Customer) (*BalanceInfo, error) {
	today := s.today()
	var used float64
	err := s.db.WithContext(ctx).Model(&models.DailyUsageMetrics{}).
		Select("COALESCE(SUM(total_revenue), 0)").
		Where("customer_id = ? AND date >= ?", c.ID, monthStart(today).Format(models.DateLayout)).
		Scan(&used).Error
	if err != nil {
		return nil, err
	}
	return quota(c.CurrentBalance, used), nil
}

func quota(balance, used float64) *BalanceInfo {
	info := &BalanceInfo{Balance: balance, TotalUsage: used, QuotaStatus: QuotaOK, Alerts: []Alert{}}
	if balance <= 0 {
		return info
	}
	ratio := used / balance
	msg := fmt.Sprintf("You've used %.0f%% of your balance", ratio*100)
	switch {
	case ratio >= models.UsageAlertThreshold:
		info.QuotaStatus = QuotaCritical
		info.Alerts = append(info.Alerts, Alert{Type: "quota_critical", Message: msg})
	case ratio >= models.UsageWarningThreshold:
		info.QuotaStatus = QuotaWarning
		info.Alerts = append(info.Alerts, Alert{Type: "quota_warning", Message: msg})
	}
	return info
}

type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Totals struct {
	TotalCalls       int64   `json:"total_calls"`
	TotalCallMinutes float64 `json:"total_call_minutes"`
	TotalMessages    int64   `json:"total_messages"`
	TotalCost        float64 `json:"total_cost"`
	TotalRevenue     float64 `json:"total_revenue"`
}

type DailyPoint struct {
	Date             string  `json:"date"`
	TotalCalls       int64   `json:"total_calls"`
	TotalCallMinutes float64 `json:"total_call_minutes"`
	TotalMessages    int64   `json:"total_messages"`
	TotalRevenue     float64 `json:"total_revenue"`
}

type Summary struct {
	Period  Period       `json:"period"`
	Summary Totals       `json:"summary"`
	Daily   []DailyPoint `json:"daily"`
}

// SummaryQuery selects the reporting window. Period is today, week, month or
// custom; anything else falls back to month.
type SummaryQuery struct {
	Period    string `form:"period"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

func (s *Service) window(q SummaryQuery) (time.Time, time.Time, error) {
	today := s.today()
	switch q.Period {
	case "today":
		return today, today, nil
	case "week":
		return today.AddDate(0, 0, -7), today, nil
	case "custom":
		if q.StartDate == "" || q.EndDate == "" {
			break
		}
		start, err := time.Parse(models.DateLayout, q.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, ErrInvalidDate
		}
		end, err := time.Parse(models.DateLayout, q.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, ErrInvalidDate
		}
		return start, end, nil
	}
	return monthStart(today), today, nil
}

// UsageSummary returns totals and a daily breakdown for the requested window.
func (s *Service) UsageSummary(ctx context.Context, customerID string, q SummaryQuery) (*Summary, error) {
	start, end, err := s.window(q)
	if err != nil {
		return nil, err
	}
	from, to := start.Format(models.DateLayout), end.Format(models.DateLayout)

	var sums struct {
		TotalCalls       int64
		TotalCallMinutes float64
		TotalMessages    int64
		TotalCallCost    float64
		TotalMessageCost float64
		TotalRevenue     float64
	}
	err = s.db.WithContext(ctx).Model(&models.DailyUsageMetrics{}).
		Select(`COALESCE(SUM(total_calls), 0) AS total_calls,
			COALESCE(SUM(total_call_minutes), 0) AS total_call_minutes,
			COALESCE(SUM(total_messages), 0) AS total_messages,
			COALESCE(SUM(total_call_cost), 0) AS total_call_cost,
			COALESCE(SUM(total_message_cost), 0) AS total_message_cost,
			COALESCE(SUM(total_revenue), 0) AS total_revenue`).
		Where("customer_id = ? AND date BETWEEN ? AND ?", customerID, from, to).
		Scan(&sums).Error
	if err != nil {
		return nil, err
	}

	daily := []DailyPoint{}
	err = s.db.WithContext(ctx).Model(&models.DailyUsageMetrics{}).
		Select("date, total_calls, total_call_minutes, total_messages, total_revenue").
		Where("customer_id = ? AND date BETWEEN ? AND ?", customerID, from, to).
		Order("date").
		Scan(&daily).Error
	if err != nil {
		return nil, err
	}

	return &Summary{
		Period: Period{Start: from, End: to},
		Summary: Totals{
			TotalCalls:       sums.TotalCalls,
			TotalCallMinutes: Round(sums.TotalCallMinutes, 2),
			TotalMessages:    sums.TotalMessages,
			TotalCost:        Round(sums.TotalCallCost+sums.TotalMessageCost, 2),
			TotalRevenue:     Round(sums.TotalRevenue, 2),
		},
		Daily: daily,
	}, nil
}

type PlanDetails struct {
	Name          string  `json:"name"`
	BaseFee       float64 `json:"base_fee"`
	CallMarkup    float64 `json:"call_markup"`
	MessageMarkup float64 `json:"message_markup"`
}

type BillingInfo struct {
	CustomerID           string       `json:"customer_id"`
	Status               string       `json:"status"`
	CurrentBalance       float64      `json:"current_balance"`
	SubscriptionPlan     *PlanDetails `json:"subscription_plan"`
	CurrentMonthCharges  float64      `json:"current_month_charges"`
	CurrentMonthCalls    int64        `json:"current_month_calls"`
	CurrentMonthMessages int64        `json:"current_month_messages"`
	BillingCycle         string       `json:"billing_cycle"`
}

// Billing reports the balance, plan and month-to-date charges.
func (s *Service) Billing(ctx context.Context, c *models.Customer) (*BillingInfo, error) {
	var month struct {
		TotalCharges  float64
		TotalCalls    int64
		TotalMessages int64
	}
	err := s.db.WithContext(ctx).Model(&models.DailyUsageMetrics{}).
		Select(`COALESCE(SUM(total_revenue), 0) AS total_charges,
			COALESCE(SUM(total_calls), 0) AS total_calls,
			COALESCE(SUM(total_messages), 0) AS total_messages`).
		Where("customer_id = ? AND date >= ?", c.ID, monthStart(s.today()).Format(models.DateLayout)).
		Scan(&month).Error
	if err != nil {
		return nil, err
	}

	info := &BillingInfo{
		CustomerID:           c.ID,
		Status:               c.Status,
		CurrentBalance:       c.CurrentBalance,
		CurrentMonthCharges:  Round(month.TotalCharges, 2),
		CurrentMonthCalls:    month.TotalCalls,
		CurrentMonthMessages: month.TotalMessages,
		BillingCycle:         c.BillingCycle,
	}

	plan, err := s.plans.Plan(ctx, c)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		info.SubscriptionPlan = &PlanDetails{
			Name:          plan.PlanName,
			BaseFee:       plan.BaseMonthlyFee,
			CallMarkup:    plan.CallMarkupPercentage,
			MessageMarkup: plan.MessageMarkupPercentage,
		}
	}
	return info, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Round rounds x half away from zero to the given number of decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
