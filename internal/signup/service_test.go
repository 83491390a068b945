package signup

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"whatsapp-provider/internal/customer"
	"whatsapp-provider/internal/database/dbtest"
	"whatsapp-provider/internal/models"
	"whatsapp-provider/internal/plans"
	"whatsapp-provider/internal/whatsapp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMeta struct {
	exchangeFn func(ctx context.Context, code, redirectURI string) (*whatsapp.TokenResponse, error)
	detailsFn  func(ctx context.Context, accessToken string) (*whatsapp.WABADetails, error)
}

func (f *fakeMeta) ExchangeCode(ctx context.Context, code, redirectURI string) (*whatsapp.TokenResponse, error) {
	return f.exchangeFn(ctx, code, redirectURI)
}

func (f *fakeMeta) FetchWABADetails(ctx context.Context, accessToken string) (*whatsapp.WABADetails, error) {
	return f.detailsFn(ctx, accessToken)
}

const callbackURL = "https://provider.test/signup/callback"

type harness struct {
	svc       *Service
	customers *customer.Service
	meta      *fakeMeta
	clock     time.Time
	id        string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.New(t)
	customers := customer.NewService(db, plans.NewService(db))
	creds, err := customers.Register(context.Background(), customer.RegisterInput{
		CustomerName: "Acme",
		CompanyEmail: "ops@acme.test",
		SiteURL:      "https://acme.example.com",
	})
	require.NoError(t, err)

	h := &harness{customers: customers, clock: time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC), id: creds.CustomerID}
	h.meta = &fakeMeta{
		exchangeFn: func(_ context.Context, code, redirectURI string) (*whatsapp.TokenResponse, error) {
			assert.Equal(t, "meta-code", code)
			assert.Equal(t, callbackURL, redirectURI)
			return &whatsapp.TokenResponse{AccessToken: "EAAB-token"}, nil
		},
		detailsFn: func(_ context.Context, token string) (*whatsapp.WABADetails, error) {
			assert.Equal(t, "EAAB-token", token)
			return &whatsapp.WABADetails{BusinessID: "biz-1", WabaID: "waba-1", PhoneNumberID: "pn-1", PhoneNumber: "+44 20 7183 8750"}, nil
		},
	}
	h.svc = NewService(db, h.meta, customers, Options{
		Enabled:         true,
		AppID:           "app-123",
		ConfigurationID: "cfg-9",
		APIVersion:      "v21.0",
		DialogBaseURL:   "https://www.facebook.com",
		CallbackURL:     callbackURL,
	}).WithClock(func() time.Time { return h.clock })
	return h
}

func TestInitiate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.svc.Initiate(ctx, h.id)
	require.NoError(t, err)
	assert.Len(t, res.SessionID, 43)

	u, err := url.Parse(res.SignupURL)
	require.NoError(t, err)
	assert.Equal(t, "www.facebook.com", u.Host)
	assert.Equal(t, "/v21.0/dialog/oauth", u.Path)
	q := u.Query()
	assert.Equal(t, "app-123", q.Get("client_id"))
	assert.Equal(t, "cfg-9", q.Get("config_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "true", q.Get("override_default_response_type"))
	assert.Equal(t, callbackURL, q.Get("redirect_uri"))
	assert.Equal(t, res.SessionID, q.Get("state"))
	assert.Equal(t, "whatsapp_business_management,whatsapp_business_messaging", q.Get("scope"))

	st, err := h.svc.Status(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SignupStatusInitiated, st.Status)
	assert.Nil(t, st.CompletedAt)

	_, err = h.svc.Initiate(ctx, "missing")
	assert.ErrorIs(t, err, customer.ErrCustomerNotFound)

	h.svc.opts.Enabled = false
	_, err = h.svc.Initiate(ctx, h.id)
	assert.ErrorIs(t, err, ErrProviderDisabled)
}

func TestCallbackCompletesSignup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res, err := h.svc.Initiate(ctx, h.id)
	require.NoError(t, err)

	creds, err := h.svc.Callback(ctx, CallbackInput{Code: "meta-code", State: res.SessionID})
	require.NoError(t, err)
	assert.Equal(t, &WABACredentials{
		WabaID:        "waba-1",
		PhoneNumberID: "pn-1",
		PhoneNumber:   "+44 20 7183 8750",
		BusinessID:    "biz-1",
		AccessToken:   "EAAB-token",
	}, creds)

	c, err := h.customers.Get(ctx, h.id)
	require.NoError(t, err)
	assert.Equal(t, "waba-1", c.WabaID)
	assert.True(t, c.EmbeddedSignupCompleted)
	assert.Equal(t, models.CustomerStatusActive, c.Status)

	st, err := h.svc.Status(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SignupStatusCompleted, st.Status)
	require.NotNil(t, st.CompletedAt)

	_, err = h.svc.Callback(ctx, CallbackInput{Code: "meta-code", State: res.SessionID})
	assert.ErrorIs(t, err, ErrInvalidSession, "a completed session cannot be replayed")
}

func TestCallbackFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Callback(ctx, CallbackInput{State: "x"})
	assert.ErrorIs(t, err, ErrMissingParameters)
	_, err = h.svc.Callback(ctx, CallbackInput{Code: "c", State: "unknown"})
	assert.ErrorIs(t, err, ErrInvalidSession)

	t.Run("denied by user", func(t *testing.T) {
		res, err := h.svc.Initiate(ctx, h.id)
		require.NoError(t, err)

		_, err = h.svc.Callback(ctx, CallbackInput{State: res.SessionID, Error: "access_denied", ErrorDescription: "Permissions error"})
		var denied *DeniedError
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, "Permissions error", denied.Reason)

		st, err := h.svc.Status(ctx, res.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.SignupStatusFailed, st.Status)
		assert.Equal(t, "Permissions error", st.ErrorMessage)
	})

	t.Run("code exchange fails", func(t *testing.T) {
		res, err := h.svc.Initiate(ctx, h.id)
		require.NoError(t, err)
		h.meta.exchangeFn = func(context.Context, string, string) (*whatsapp.TokenResponse, error) {
			return nil, &whatsapp.APIError{StatusCode: 400, Message: "Invalid verification code format."}
		}

		_, err = h.svc.Callback(ctx, CallbackInput{Code: "bad", State: res.SessionID})
		assert.ErrorIs(t, err, ErrOAuthFailed)

		st, err := h.svc.Status(ctx, res.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.SignupStatusFailed, st.Status)
		assert.Contains(t, st.ErrorMessage, "Invalid verification code format.")
	})

	t.Run("expired session", func(t *testing.T) {
		res, err := h.svc.Initiate(ctx, h.id)
		require.NoError(t, err)
		h.clock = h.clock.Add(25 * time.Hour)
		_, err = h.svc.Callback(ctx, CallbackInput{Code: "meta-code", State: res.SessionID})
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	_, err = h.svc.Status(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeniedErrorWithoutDescription(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Callback(context.Background(), CallbackInput{Error: "access_denied"})
	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "access_denied", denied.Error())
}
