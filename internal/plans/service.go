package plans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"whatsapp-provider/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrPlanNotFound = errors.New("subscription plan not found")
	ErrPlanExists   = errors.New("subscription plan already exists")
	ErrInvalidPlan  = errors.New("invalid subscription plan")
)

// Defaults are seeded into an empty plans table.
var Defaults = []models.SubscriptionPlan{
	{
		PlanName:                "Starter",
		BaseMonthlyFee:          29,
		CallMarkupPercentage:    35,
		MessageMarkupPercentage: 30,
		FeaturesJSON:            `["calling","messaging","basic_analytics"]`,
	},
	{
		PlanName:                "Professional",
		BaseMonthlyFee:          99,
		CallMarkupPercentage:    30,
		MessageMarkupPercentage: 25,
		FeaturesJSON:            `["calling","messaging","advanced_analytics","call_recording"]`,
	},
	{
		PlanName:                "Enterprise",
		BaseMonthlyFee:          299,
		CallMarkupPercentage:    25,
		MessageMarkupPercentage: 20,
		FeaturesJSON:            `["calling","messaging","advanced_analytics","call_recording","priority_support"]`,
	},
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// PlanInput is the admin payload for creating or updating a plan.
type PlanInput struct {
	PlanName                string   `json:"plan_name"`
	BaseMonthlyFee          *float64 `json:"base_monthly_fee"`
	CallMarkupPercentage    *float64 `json:"call_markup_percentage"`
	MessageMarkupPercentage *float64 `json:"message_markup_percentage"`
	Features                []string `json:"features"`
}

func (s *Service) EnsureDefaults(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.SubscriptionPlan{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	plans := make([]models.SubscriptionPlan, len(Defaults))
	copy(plans, Defaults)
	if err := s.db.WithContext(ctx).Create(&plans).Error; err != nil {
		return fmt.Errorf("seed default plans: %w", err)
	}
	logrus.WithField("count", len(plans)).Info("Seeded default subscription plans")
	return nil
}

func (s *Service) List(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	err := s.db.WithContext(ctx).Order("base_monthly_fee").Find(&plans).Error
	return plans, err
}

func (s *Service) Get(ctx context.Context, name string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := s.db.WithContext(ctx).Where("plan_name = ?", name).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// Exists reports whether a plan with this name is defined.
func (s *Service) Exists(ctx context.Context, name string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.SubscriptionPlan{}).Where("plan_name = ?", name).Count(&count).Error
	return count > 0, err
}

func (s *Service) Create(ctx context.Context, in PlanInput) (*models.SubscriptionPlan, error) {
	if in.PlanName == "" {
		return nil, fmt.Errorf("%w: plan_name is required", ErrInvalidPlan)
	}
	exists, err := s.Exists(ctx, in.PlanName)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrPlanExists
	}

	plan := &models.SubscriptionPlan{
		PlanName:                in.PlanName,
		CallMarkupPercentage:    models.DefaultCallMarkupPercentage,
		MessageMarkupPercentage: models.DefaultMessageMarkupPercentage,
		BaseMonthlyFee:          models.DefaultBaseFee,
	}
	if err := apply(plan, in); err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Create(plan).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrPlanExists
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Service) Update(ctx context.Context, name string, in PlanInput) (*models.SubscriptionPlan, error) {
	plan, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := apply(plan, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(plan).Error; err != nil {
		return nil, err
	}
	return plan, nil
}

func apply(plan *models.SubscriptionPlan, in PlanInput) error {
	if in.BaseMonthlyFee != nil {
		plan.BaseMonthlyFee = *in.BaseMonthlyFee
	}
	if in.CallMarkupPercentage != nil {
		plan.CallMarkupPercentage = *in.CallMarkupPercentage
	}
	if in.MessageMarkupPercentage != nil {
		plan.MessageMarkupPercentage = *in.MessageMarkupPercentage
	}
	if in.Features != nil {
		raw, err := json.Marshal(in.Features)
		if err != nil {
			return err
		}
		plan.FeaturesJSON = string(raw)
	}
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return nil
}
