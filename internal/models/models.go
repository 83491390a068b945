package models

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	CustomerStatusPending   = "Pending"
	CustomerStatusActive    = "Active"
	CustomerStatusSuspended = "Suspended"
	CustomerStatusCancelled = "Cancelled"
)

const (
	SignupStatusInitiated  = "initiated"
	SignupStatusInProgress = "in_progress"
	SignupStatusCompleted  = "completed"
	SignupStatusFailed     = "failed"
)

const (
	InvoiceStatusDraft   = "Draft"
	InvoiceStatusSent    = "Sent"
	InvoiceStatusPaid    = "Paid"
	InvoiceStatusOverdue = "Overdue"
)

const (
	FeatureCalling       = "calling"
	FeatureMessaging     = "messaging"
	FeatureCallRecording = "call_recording"
)

const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

var monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// ValidationError is returned by the save hooks when a field breaks a rule.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// SystemSetting stores provider settings that override the environment.
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;type:varchar(100)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}

// Customer is a reseller account. Only WABA references are kept, never credentials.
type Customer struct {
	ID                      string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CustomerName            string     `gorm:"type:varchar(255);not null" json:"customer_name"`
	CompanyEmail            string     `gorm:"type:varchar(255);uniqueIndex" json:"company_email"`
	SiteURL                 string     `gorm:"type:varchar(500)" json:"site_url"`
	Status                  string     `gorm:"type:varchar(20);index;default:'Pending'" json:"status"`
	OAuthClientID           string     `gorm:"column:oauth_client_id;type:varchar(64);uniqueIndex" json:"oauth_client_id"`
	OAuthClientSecretHash   string     `gorm:"column:oauth_client_secret_hash;type:varchar(100)" json:"-"`
	SubscriptionPlan        *string    `gorm:"type:varchar(100)" json:"subscription_plan"`
	BillingCycle            string     `gorm:"type:varchar(20);default:'Monthly'" json:"billing_cycle"`
	CurrentBalance          float64    `json:"current_balance"`
	MetaBusinessID          string     `gorm:"type:varchar(64)" json:"meta_business_id"`
	WabaID                  string     `gorm:"type:varchar(64);index" json:"waba_id"`
	PhoneNumberID           string     `gorm:"type:varchar(64)" json:"phone_number_id"`
	EmbeddedSignupCompleted bool       `json:"embedded_signup_completed"`
	CallingEnabled          *bool      `json:"calling_enabled"`
	MessagingEnabled        *bool      `json:"messaging_enabled"`
	RecordingEnabled        *bool      `json:"recording_enabled"`
	Notes                   string     `gorm:"type:text" json:"notes"`
	LastSync                *time.Time `json:"last_sync"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}

func (c *Customer) BeforeSave(tx *gorm.DB) error {
	if c.CompanyEmail != "" {
		if _, err := mail.ParseAddress(c.CompanyEmail); err != nil {
			return invalid("invalid email address")
		}
	}
	if c.SiteURL != "" {
		if !strings.HasPrefix(c.SiteURL, "http://") && !strings.HasPrefix(c.SiteURL, "https://") {
			return invalid("site URL must start with http:// or https://")
		}
		c.SiteURL = strings.TrimRight(c.SiteURL, "/")
	}
	return nil
}

// AddNote appends a timestamped line to the customer's notes.
func (c *Customer) AddNote(at time.Time, note string) {
	line := fmt.Sprintf("%s %s", at.UTC().Format(time.RFC3339), note)
	if c.Notes == "" {
		c.Notes = line
		return
	}
	c.Notes += "\n" + line
}

// SubscriptionPlan is a pricing tier. Markups are percentages.
type SubscriptionPlan struct {
	PlanName                string    `gorm:"primaryKey;type:varchar(100)" json:"plan_name"`
	BaseMonthlyFee          float64   `json:"base_monthly_fee"`
	CallMarkupPercentage    float64   `json:"call_markup_percentage"`
	MessageMarkupPercentage float64   `json:"message_markup_percentage"`
	FeaturesJSON            string    `gorm:"type:text" json:"features_json"`
	CreatedAt               time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SubscriptionPlan) TableName() string {
	return "subscription_plans"
}

func (p *SubscriptionPlan) BeforeSave(tx *gorm.DB) error {
	return p.Validate()
}

func (p *SubscriptionPlan) Validate() error {
	if p.BaseMonthlyFee < 0 {
		return invalid("base monthly fee cannot be negative")
	}
	if p.CallMarkupPercentage < 0 || p.CallMarkupPercentage > 100 {
		return invalid("call markup percentage must be between 0 and 100")
	}
	if p.MessageMarkupPercentage < 0 || p.MessageMarkupPercentage > 100 {
		return invalid("message markup percentage must be between 0 and 100")
	}
	if p.FeaturesJSON != "" {
		var features []string
		if err := json.Unmarshal([]byte(p.FeaturesJSON), &features); err != nil {
			return invalid("features must be a JSON array of strings")
		}
	}
	return nil
}

func (p *SubscriptionPlan) Features() []string {
	var features []string
	if p.FeaturesJSON != "" {
		_ = json.Unmarshal([]byte(p.FeaturesJSON), &features)
	}
	return features
}

func (p *SubscriptionPlan) HasFeature(name string) bool {
	for _, f := range p.Features() {
		if f == name {
			return true
		}
	}
	return false
}

// DailyUsageMetrics holds aggregated counts and costs only; no per-call or per-message detail.
type DailyUsageMetrics struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	CustomerID       string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_daily_customer_date" json:"customer"`
	Date             string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_daily_customer_date;index" json:"date"`
	TotalCalls       int64     `json:"total_calls"`
	TotalCallMinutes float64   `json:"total_call_minutes"`
	TotalMessages    int64     `json:"total_messages"`
	TotalCallCost    float64   `json:"total_call_cost"`
	TotalMessageCost float64   `json:"total_message_cost"`
	CallMarkup       float64   `json:"call_markup"`
	MessageMarkup    float64   `json:"message_markup"`
	TotalMarkup      float64   `json:"total_markup"`
	TotalRevenue     float64   `json:"total_revenue"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DailyUsageMetrics) TableName() string {
	return "daily_usage_metrics"
}

func (m *DailyUsageMetrics) BeforeSave(tx *gorm.DB) error {
	if m.TotalCalls < 0 {
		m.TotalCalls = 0
	}
	if m.TotalMessages < 0 {
		m.TotalMessages = 0
	}
	if m.TotalCallMinutes < 0 {
		m.TotalCallMinutes = 0
	}
	m.TotalMarkup = m.CallMarkup + m.MessageMarkup
	m.TotalRevenue = m.TotalCallCost + m.TotalMessageCost + m.TotalMarkup
	return nil
}

// MonthlyUsageSummary is the per-month roll-up used for invoicing.
type MonthlyUsageSummary struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	CustomerID       string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_monthly_customer_month" json:"customer"`
	Month            string    `gorm:"type:varchar(7);not null;uniqueIndex:idx_monthly_customer_month;index" json:"month"`
	TotalCalls       int64     `json:"total_calls"`
	TotalCallMinutes float64   `json:"total_call_minutes"`
	TotalMessages    int64     `json:"total_messages"`
	BaseFee          float64   `json:"base_fee"`
	CallCharges      float64   `json:"call_charges"`
	MessageCharges   float64   `json:"message_charges"`
	UsageCharges     float64   `json:"usage_charges"`
	TotalAmount      float64   `json:"total_amount"`
	InvoiceGenerated bool      `gorm:"index" json:"invoice_generated"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MonthlyUsageSummary) TableName() string {
	return "monthly_usage_summaries"
}

func (s *MonthlyUsageSummary) BeforeSave(tx *gorm.DB) error {
	if !monthPattern.MatchString(s.Month) {
		return invalid("month must be in YYYY-MM format (e.g., 2025-01), got %q", s.Month)
	}
	s.TotalAmount = s.BaseFee + s.UsageCharges
	return nil
}

// CustomerInvoice is the monthly bill for a customer.
type CustomerInvoice struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	CustomerID         string     `gorm:"type:varchar(36);not null;index" json:"customer"`
	InvoicePeriodStart string     `gorm:"type:varchar(10);not null" json:"invoice_period_start"`
	InvoicePeriodEnd   string     `gorm:"type:varchar(10);not null" json:"invoice_period_end"`
	BaseFee            float64    `json:"base_fee"`
	CallCharges        float64    `json:"call_charges"`
	MessageCharges     float64    `json:"message_charges"`
	TotalCalls         int64      `json:"total_calls"`
	TotalMessages      int64      `json:"total_messages"`
	TotalAmount        float64    `json:"total_amount"`
	InvoiceStatus      string     `gorm:"type:varchar(20);default:'Draft';index" json:"invoice_status"`
	PaymentDate        *time.Time `json:"payment_date"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CustomerInvoice) TableName() string {
	return "customer_invoices"
}

func (i *CustomerInvoice) BeforeSave(tx *gorm.DB) error {
	// Both are YYYY-MM-DD so lexical order is date order.
	if i.InvoicePeriodEnd < i.InvoicePeriodStart {
		return invalid("period end date must be after start date")
	}
	if i.InvoiceStatus == InvoiceStatusPaid && i.PaymentDate == nil {
		return invalid("payment date is required for paid invoices")
	}
	i.TotalAmount = i.BaseFee + i.CallCharges + i.MessageCharges
	return nil
}

// EmbeddedSignupSession tracks one Meta embedded signup attempt.
type EmbeddedSignupSession struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	CustomerID   string     `gorm:"type:varchar(36);not null;index" json:"customer"`
	SessionID    string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"session_id"`
	Status       string     `gorm:"type:varchar(20);index" json:"status"`
	SignupURL    string     `gorm:"type:text" json:"signup_url"`
	Code         string     `gorm:"type:text" json:"-"`
	ErrorMessage string     `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

func (EmbeddedSignupSession) TableName() string {
	return "embedded_signup_sessions"
}

func (s *EmbeddedSignupSession) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return nil
}

// All lists every model for migrations and data copies, parents first.
func All() []interface{} {
	return []interface{}{
		&SystemSetting{},
		&SubscriptionPlan{},
		&Customer{},
		&DailyUsageMetrics{},
		&MonthlyUsageSummary{},
		&CustomerInvoice{},
		&EmbeddedSignupSession{},
	}
}
