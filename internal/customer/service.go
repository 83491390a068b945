package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsapp-provider/internal/models"
	"whatsapp-provider/internal/plans"
	"whatsapp-provider/internal/secure"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	plans *plans.Service
	now   func() time.Time
}

func NewService(db *gorm.DB, planService *plans.Service) *Service {
	return &Service{db: db, plans: planService, now: time.Now}
}

// WithClock replaces the clock used for notes and last_sync.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type RegisterInput struct {
	CustomerName     string `json:"customer_name"`
	CompanyEmail     string `json:"company_email"`
	SiteURL          string `json:"site_url"`
	SubscriptionPlan string `json:"subscription_plan"`
}

// Credentials are returned once; only the secret hash is stored.
type Credentials struct {
	CustomerID        string `json:"customer_id"`
	OAuthClientID     string `json:"oauth_client_id"`
	OAuthClientSecret string `json:"oauth_client_secret"`
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Credentials, error) {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CompanyEmail = strings.TrimSpace(in.CompanyEmail)
	in.SiteURL = strings.TrimSpace(in.SiteURL)
	if in.CustomerName == "" || in.CompanyEmail == "" || in.SiteURL == "" {
		return nil, ErrMissingFields
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Customer{}).Where("company_email = ?", in.CompanyEmail).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrCustomerExists
	}

	var plan *string
	if in.SubscriptionPlan != "" {
		exists, err := s.plans.Exists(ctx, in.SubscriptionPlan)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, plans.ErrPlanNotFound
		}
		plan = &in.SubscriptionPlan
	}

	clientID, err := secure.Token(24)
	if err != nil {
		return nil, err
	}
	secret, hash, err := newSecret()
	if err != nil {
		return nil, err
	}

	c := &models.Customer{
		ID:                    uuid.NewString(),
		CustomerName:          in.CustomerName,
		CompanyEmail:          in.CompanyEmail,
		SiteURL:               in.SiteURL,
		Status:                models.CustomerStatusPending,
		OAuthClientID:         clientID,
		OAuthClientSecretHash: hash,
		SubscriptionPlan:      plan,
		BillingCycle:          "Monthly",
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, createError(err)
	}

	logrus.WithField("customer_id", c.ID).Info("Customer registered")
	return &Credentials{CustomerID: c.ID, OAuthClientID: clientID, OAuthClientSecret: secret}, nil
}

// createError maps a failed insert: rule violations are the caller's fault,
// a unique index hit means the email was taken after the pre-check.
func createError(err error) error {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return fmt.Errorf("%w: %v", ErrInvalidCustomer, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrCustomerExists
	default:
		return fmt.Errorf("create customer: %w", err)
	}
}

func newSecret() (secret, hash string, err error) {
	secret, err = secure.Token(32)
	if err != nil {
		return "", "", err
	}
	raw, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return secret, string(raw), nil
}

// CheckSecret reports whether secret matches the stored hash.
func CheckSecret(c *models.Customer, secret string) bool {
	if c.OAuthClientSecretHash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.OAuthClientSecretHash), []byte(secret)) == nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Customer, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *Service) GetByClientID(ctx context.Context, clientID string) (*models.Customer, error) {
	return s.first(ctx, "oauth_client_id = ?", clientID)
}

// FindActiveByWaba returns the Active customer owning wabaID.
func (s *Service) FindActiveByWaba(ctx context.Context, wabaID string) (*models.Customer, error) {
	return s.first(ctx, "waba_id = ? AND status = ?", wabaID, models.CustomerStatusActive)
}

func (s *Service) first(ctx context.Context, query string, args ...interface{}) (*models.Customer, error) {
	var c models.Customer
	err := s.db.WithContext(ctx).Where(query, args...).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListActive returns Active customers, oldest first.
func (s *Service) ListActive(ctx context.Context) ([]models.Customer, error) {
	var out []models.Customer
	err := s.db.WithContext(ctx).Where("status = ?", models.CustomerStatusActive).Order("created_at").Find(&out).Error
	return out, err
}

// Plan returns the customer's subscription plan, or nil when none is assigned.
func (s *Service) Plan(ctx context.Context, c *models.Customer) (*models.SubscriptionPlan, error) {
	if c.SubscriptionPlan == nil || *c.SubscriptionPlan == "" {
		return nil, nil
	}
	plan, err := s.plans.Get(ctx, *c.SubscriptionPlan)
	if errors.Is(err, plans.ErrPlanNotFound) {
		return nil, nil
	}
	return plan, err
}

// FeatureEnabled resolves a feature: the per-customer override wins, then the plan.
// Customers without a plan may message and call but not record.
func FeatureEnabled(c *models.Customer, plan *models.SubscriptionPlan, feature string) bool {
	var override *bool
	switch feature {
	case models.FeatureCalling:
		override = c.CallingEnabled
	case models.FeatureMessaging:
		override = c.MessagingEnabled
	case models.FeatureCallRecording:
		override = c.RecordingEnabled
	}
	if override != nil {
		return *override
	}
	if plan == nil {
		return feature != models.FeatureCallRecording
	}
	return plan.HasFeature(feature)
}

type FeatureInput struct {
	CallingEnabled   *bool `json:"calling_enabled"`
	MessagingEnabled *bool `json:"messaging_enabled"`
	RecordingEnabled *bool `json:"recording_enabled"`
}

func (s *Service) UpdateFeatures(ctx context.Context, id string, in FeatureInput) (*models.Customer, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: customer_id", ErrMissingFields)
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.CallingEnabled != nil {
		c.CallingEnabled = in.CallingEnabled
	}
	if in.MessagingEnabled != nil {
		c.MessagingEnabled = in.MessagingEnabled
	}
	if in.RecordingEnabled != nil {
		c.RecordingEnabled = in.RecordingEnabled
	}
	c.AddNote(s.now(), "Features updated")
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Activate(ctx context.Context, id string) (*models.Customer, error) {
	return s.transition(ctx, id, triggerActivate, "Account activated")
}

func (s *Service) Suspend(ctx context.Context, id, reason string) (*models.Customer, error) {
	return s.transition(ctx, id, triggerSuspend, "Account suspended: "+reason)
}

func (s *Service) Cancel(ctx context.Context, id, reason string) (*models.Customer, error) {
	return s.transition(ctx, id, triggerCancel, "Account cancelled: "+reason)
}

func (s *Service) transition(ctx context.Context, id, trigger, note string) (*models.Customer, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: customer_id", ErrMissingFields)
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(c, trigger, note); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"customer_id": c.ID, "status": c.Status}).Info("Customer status changed")
	return c, nil
}

func (s *Service) apply(c *models.Customer, trigger, note string) error {
	status, err := nextStatus(c.Status, trigger)
	if err != nil {
		return err
	}
	now := s.now()
	c.Status = status
	if status == models.CustomerStatusActive {
		c.LastSync = &now
	}
	c.AddNote(now, note)
	return nil
}

// RegenerateSecret issues a new client secret and returns it once.
func (s *Service) RegenerateSecret(ctx context.Context, id string) (*Credentials, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	secret, hash, err := newSecret()
	if err != nil {
		return nil, err
	}
	c.OAuthClientSecretHash = hash
	c.AddNote(s.now(), "OAuth client secret regenerated")
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return nil, err
	}
	return &Credentials{CustomerID: c.ID, OAuthClientID: c.OAuthClientID, OAuthClientSecret: secret}, nil
}

type BalanceInput struct {
	Amount float64 `json:"amount"`
	// Set replaces the balance instead of adding to it.
	Set bool `json:"set"`
}

func (s *Service) SetBalance(ctx context.Context, id string, in BalanceInput) (*models.Customer, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Set {
		c.CurrentBalance = in.Amount
	} else {
		c.CurrentBalance += in.Amount
	}
	c.AddNote(s.now(), fmt.Sprintf("Balance set to %.2f", c.CurrentBalance))
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// WABAConnection is what the provider keeps about a connected account: references only.
type WABAConnection struct {
	BusinessID    string
	WabaID        string
	PhoneNumberID string
}

// ConnectWABA stores the WABA references after embedded signup and activates a
// Pending customer.
func (s *Service) ConnectWABA(ctx context.Context, id string, conn WABAConnection) (*models.Customer, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.MetaBusinessID = conn.BusinessID
	c.WabaID = conn.WabaID
	c.PhoneNumberID = conn.PhoneNumberID
	c.EmbeddedSignupCompleted = true
	if c.Status == models.CustomerStatusPending {
		if err := s.apply(c, triggerActivate, "Account activated after embedded signup"); err != nil {
			return nil, err
		}
	}
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}
