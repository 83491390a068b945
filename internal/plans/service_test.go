package plans

import (
	"context"
	"testing"

	"whatsapp-provider/internal/database/dbtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestEnsureDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewService(dbtest.New(t))

	require.NoError(t, s.EnsureDefaults(ctx))
	require.NoError(t, s.EnsureDefaults(ctx))

	plans, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "Starter", plans[0].PlanName)
	assert.Equal(t, "Enterprise", plans[2].PlanName)

	pro, err := s.Get(ctx, "Professional")
	require.NoError(t, err)
	assert.True(t, pro.HasFeature("call_recording"))
	assert.False(t, pro.HasFeature("priority_support"))
	assert.Equal(t, 25.0, pro.MessageMarkupPercentage)
}

func TestCreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewService(dbtest.New(t))

	plan, err := s.Create(ctx, PlanInput{PlanName: "Custom", BaseMonthlyFee: ptr(49), Features: []string{"messaging"}})
	require.NoError(t, err)
	assert.Equal(t, 35.0, plan.CallMarkupPercentage)
	assert.Equal(t, []string{"messaging"}, plan.Features())

	_, err = s.Create(ctx, PlanInput{PlanName: "Custom"})
	assert.ErrorIs(t, err, ErrPlanExists)

	updated, err := s.Update(ctx, "Custom", PlanInput{CallMarkupPercentage: ptr(10)})
	require.NoError(t, err)
	assert.Equal(t, 10.0, updated.CallMarkupPercentage)
	assert.Equal(t, 49.0, updated.BaseMonthlyFee)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	s := NewService(dbtest.New(t))

	tests := []struct {
		name string
		in   PlanInput
	}{
		{"missing name", PlanInput{}},
		{"negative fee", PlanInput{PlanName: "A", BaseMonthlyFee: ptr(-1)}},
		{"call markup above 100", PlanInput{PlanName: "B", CallMarkupPercentage: ptr(101)}},
		{"negative message markup", PlanInput{PlanName: "C", MessageMarkupPercentage: ptr(-5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, tt.in)
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}

	_, err := s.Update(ctx, "missing", PlanInput{})
	assert.ErrorIs(t, err, ErrPlanNotFound)
}
