package metrics

import (
	"context"
	"testing"
	"time"

	"whatsapp-provider/internal/database/dbtest"
	"whatsapp-provider/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePlans struct {
	plan *models.SubscriptionPlan
}

func (f fakePlans) Plan(context.Context, *models.Customer) (*models.SubscriptionPlan, error) {
	return f.plan, nil
}

var fixedNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, plan *models.SubscriptionPlan) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.New(t)
	return NewService(db, fakePlans{plan: plan}).WithClock(func() time.Time { return fixedNow }), db
}

func seed(t *testing.T, db *gorm.DB, rows ...models.DailyUsageMetrics) {
	t.Helper()
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}
}

func TestAddUpsertsTodayRow(t *testing.T) {
	ctx := context.Background()
	s, db := newTestService(t, nil)

	require.NoError(t, s.RecordMessage(ctx, "c1", 0.005, 0.0015))
	require.NoError(t, s.RecordMessage(ctx, "c1", 0, 0))
	require.NoError(t, s.RecordCall(ctx, "c1", 2.5, 0.075, 0.02625))

	var rows []models.DailyUsageMetrics
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "2025-03-15", row.Date)
	assert.EqualValues(t, 2, row.TotalMessages)
	assert.EqualValues(t, 1, row.TotalCalls)
	assert.InDelta(t, 2.5, row.TotalCallMinutes, 1e-9)
	assert.InDelta(t, 0.005, row.TotalMessageCost, 1e-9)
	assert.InDelta(t, 0.075, row.TotalCallCost, 1e-9)
	assert.InDelta(t, 0.0015+0.02625, row.TotalMarkup, 1e-9)
	assert.InDelta(t, row.TotalCallCost+row.TotalMessageCost+row.TotalMarkup, row.TotalRevenue, 1e-9)

	require.NoError(t, s.RecordMessage(ctx, "c2", 0, 0))
	var count int64
	require.NoError(t, db.Model(&models.DailyUsageMetrics{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestReportUsage(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t, nil)
	c := &models.Customer{ID: "c1", CurrentBalance: 10}

	_, err := s.ReportUsage(ctx, c, ReportInput{UsageType: "sms"})
	assert.ErrorIs(t, err, ErrInvalidUsageType)
	_, err = s.ReportUsage(ctx, c, ReportInput{UsageType: UsageTypeMessage, Count: 1, Cost: -3})
	assert.ErrorIs(t, err, ErrNegativeUsage)
	_, err = s.ReportUsage(ctx, c, ReportInput{UsageType: UsageTypeCall, Count: 1, DurationMinutes: -1})
	assert.ErrorIs(t, err, ErrNegativeUsage)

	info, err := s.ReportUsage(ctx, c, ReportInput{UsageType: UsageTypeCall, Count: 3, DurationMinutes: 12, Cost: 5})
	require.NoError(t, err)
	assert.Equal(t, QuotaOK, info.QuotaStatus)
	assert.Empty(t, info.Alerts)

	info, err = s.ReportUsage(ctx, c, ReportInput{UsageType: UsageTypeMessage, Count: 40, Cost: 4.5})
	require.NoError(t, err)
	assert.Equal(t, QuotaCritical, info.QuotaStatus)
	require.Len(t, info.Alerts, 1)
	assert.Equal(t, Alert{Type: "quota_critical", Message: "You've used 95% of your balance"}, info.Alerts[0])
}

func TestQuota(t *testing.T) {
	tests := []struct {
		name    string
		balance float64
		used    float64
		status  string
		alerts  int
	}{
		{"no balance", 0, 100, QuotaOK, 0},
		{"low usage", 100, 10, QuotaOK, 0},
		{"warning", 100, 75, QuotaWarning, 1},
		{"critical", 100, 90, QuotaCritical, 1},
		{"overdrawn", 100, 150, QuotaCritical, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := quota(tt.balance, tt.used)
			assert.Equal(t, tt.status, info.QuotaStatus)
			assert.Len(t, info.Alerts, tt.alerts)
		})
	}
}

func TestUsageSummary(t *testing.T) {
	ctx := context.Background()
	s, db := newTestService(t, nil)
	seed(t, db,
		models.DailyUsageMetrics{CustomerID: "c1", Date: "2025-02-28", TotalCalls: 9, TotalCallCost: 9},
		models.DailyUsageMetrics{CustomerID: "c1", Date: "2025-03-10", TotalCalls: 2, TotalCallMinutes: 3.333, TotalCallCost: 0.1, CallMarkup: 0.035},
		models.DailyUsageMetrics{CustomerID: "c1", Date: "2025-03-01", TotalMessages: 4, TotalMessageCost: 0.02, MessageMarkup: 0.006},
		models.DailyUsageMetrics{CustomerID: "c1", Date: "2025-03-15", TotalMessages: 1},
		models.DailyUsageMetrics{CustomerID: "c2", Date: "2025-03-10", TotalCalls: 100},
	)

	sum, err := s.UsageSummary(ctx, "c1", SummaryQuery{})
	require.NoError(t, err)
	assert.Equal(t, Period{Start: "2025-03-01", End: "2025-03-15"}, sum.Period)
	assert.EqualValues(t, 2, sum.Summary.TotalCalls)
	assert.EqualValues(t, 5, sum.Summary.TotalMessages)
	assert.Equal(t, 3.33, sum.Summary.TotalCallMinutes)
	assert.Equal(t, 0.12, sum.Summary.TotalCost)
	assert.Equal(t, 0.16, sum.Summary.TotalRevenue)
	require.Len(t, sum.Daily, 3)
	assert.Equal(t, "2025-03-01", sum.Daily[0].Date)
	assert.Equal(t, "2025-03-10", sum.Daily[1].Date)
	assert.Equal(t, "2025-03-15", sum.Daily[2].Date)

	sum, err = s.UsageSummary(ctx, "c1", SummaryQuery{Period: "today"})
	require.NoError(t, err)
	assert.Equal(t, Period{Start: "2025-03-15", End: "2025-03-15"}, sum.Period)
	assert.EqualValues(t, 1, sum.Summary.TotalMessages)

	sum, err = s.UsageSummary(ctx, "c1", SummaryQuery{Period: "week"})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-08", sum.Period.Start)
	assert.Len(t, sum.Daily, 2)

	sum, err = s.UsageSummary(ctx, "c1", SummaryQuery{Period: "custom", StartDate: "2025-02-01", EndDate: "2025-02-28"})
	require.NoError(t, err)
	assert.EqualValues(t, 9, sum.Summary.TotalCalls)

	sum, err = s.UsageSummary(ctx, "c1", SummaryQuery{Period: "custom", StartDate: "2025-02-01"})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", sum.Period.Start, "incomplete custom range falls back to month")

	_, err = s.UsageSummary(ctx, "c1", SummaryQuery{Period: "custom", StartDate: "01/02/2025", EndDate: "2025-02-28"})
	assert.ErrorIs(t, err, ErrInvalidDate)

	sum, err = s.UsageSummary(ctx, "nobody", SummaryQuery{})
	require.NoError(t, err)
	assert.Zero(t, sum.Summary.TotalCalls)
	assert.NotNil(t, sum.Daily)
}

func TestBilling(t *testing.T) {
	ctx := context.Background()
	plan := &models.SubscriptionPlan{PlanName: "Starter", BaseMonthlyFee: 29, CallMarkupPercentage: 35, MessageMarkupPercentage: 30}
	s, db := newTestService(t, plan)
	seed(t, db,
		models.DailyUsageMetrics{CustomerID: "c1", Date: "2025-02-20", TotalCalls: 50, TotalCallCost: 50},
		models.DailyUsageMetrics{CustomerID: "c1", Date: "2025-03-02", TotalCalls: 3, TotalMessages: 7, TotalCallCost: 1.234, TotalMessageCost: 1},
	)

	c := &models.Customer{ID: "c1", Status: models.CustomerStatusActive, CurrentBalance: 40, BillingCycle: "Monthly"}
	info, err := s.Billing(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 2.23, info.CurrentMonthCharges)
	assert.EqualValues(t, 3, info.CurrentMonthCalls)
	assert.EqualValues(t, 7, info.CurrentMonthMessages)
	require.NotNil(t, info.SubscriptionPlan)
	assert.Equal(t, "Starter", info.SubscriptionPlan.Name)
	assert.Equal(t, 35.0, info.SubscriptionPlan.CallMarkup)

	s.plans = fakePlans{}
	info, err = s.Billing(ctx, c)
	require.NoError(t, err)
	assert.Nil(t, info.SubscriptionPlan)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.1235, Round(0.123456, 4))
	assert.Equal(t, 1.23, Round(1.2345678, 2))
	assert.Equal(t, 3.0, Round(2.999, 2))
}
