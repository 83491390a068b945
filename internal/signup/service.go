// Package signup runs Meta embedded signup for customers. The business
// access token obtained at the end is handed back to the caller and never
// stored; only WABA references are saved on the customer.
package signup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"whatsapp-provider/internal/customer"
	"whatsapp-provider/internal/models"
	"whatsapp-provider/internal/secure"
	"whatsapp-provider/internal/whatsapp"

	"github.com/qmuntal/stateless"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const scopes = "whatsapp_business_management,whatsapp_business_messaging"

var (
	ErrMissingParameters = errors.New(models.ErrMsgMissingParameters)
	ErrProviderDisabled  = errors.New("WhatsApp Provider is not enabled")
	ErrInvalidSession    = errors.New("Invalid or expired signup session")
	ErrSessionNotFound   = errors.New("Session not found")
	ErrOAuthFailed       = errors.New(models.ErrMsgOAuthFailed)
)

// DeniedError is returned when Meta redirects back with an error instead of a code.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return e.Reason
}

type Meta interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*whatsapp.TokenResponse, error)
	FetchWABADetails(ctx context.Context, accessToken string) (*whatsapp.WABADetails, error)
}

type Customers interface {
	Get(ctx context.Context, id string) (*models.Customer, error)
	ConnectWABA(ctx context.Context, id string, conn customer.WABAConnection) (*models.Customer, error)
}

type Options struct {
	Enabled         bool
	AppID           string
	ConfigurationID string
	APIVersion      string
	DialogBaseURL   string
	// CallbackURL is where Meta redirects after signup; it is also the
	// redirect_uri for the code exchange.
	CallbackURL string
}

type Service struct {
	db        *gorm.DB
	meta      Meta
	customers Customers
	opts      Options
	now       func() time.Time
	log       *logrus.Entry
}

func NewService(db *gorm.DB, meta Meta, customers Customers, opts Options) *Service {
	return &Service{
		db:        db,
		meta:      meta,
		customers: customers,
		opts:      opts,
		now:       time.Now,
		log:       logrus.WithField("module", "signup"),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

const (
	triggerCallback = "callback"
	triggerComplete = "complete"
	triggerFail     = "fail"
)

// advance moves a session through its lifecycle:
//
//	initiated   -> in_progress | failed
//	in_progress -> completed | failed
func advance(sess *models.EmbeddedSignupSession, trigger string) error {
	machine := stateless.NewStateMachine(sess.Status)
	machine.Configure(models.SignupStatusInitiated).
		Permit(triggerCallback, models.SignupStatusInProgress).
		Permit(triggerFail, models.SignupStatusFailed)
	machine.Configure(models.SignupStatusInProgress).
		Permit(triggerComplete, models.SignupStatusCompleted).
		Permit(triggerFail, models.SignupStatusFailed)
	machine.Configure(models.SignupStatusCompleted)
	machine.Configure(models.SignupStatusFailed)

	if err := machine.Fire(trigger); err != nil {
		return fmt.Errorf("signup session %s: %w", sess.SessionID, err)
	}
	sess.Status = machine.MustState().(string)
	return nil
}

type Initiated struct {
	SignupURL string `json:"signup_url"`
	SessionID string `json:"session_id"`
}

// Initiate opens a signup session for the customer and returns the Meta dialog URL.
func (s *Service) Initiate(ctx context.Context, customerID string) (*Initiated, error) {
	if customerID == "" {
		return nil, ErrMissingParameters
	}
	if _, err := s.customers.Get(ctx, customerID); err != nil {
		return nil, err
	}
	if !s.opts.Enabled {
		return nil, ErrProviderDisabled
	}

	sessionID, err := secure.Token(32)
	if err != nil {
		return nil, err
	}
	sess := models.EmbeddedSignupSession{
		CustomerID: customerID,
		SessionID:  sessionID,
		Status:     models.SignupStatusInitiated,
		SignupURL:  s.signupURL(sessionID),
		CreatedAt:  s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		return nil, fmt.Errorf("create signup session: %w", err)
	}
	s.log.WithField("customer_id", customerID).Info("Embedded signup initiated")
	return &Initiated{SignupURL: sess.SignupURL, SessionID: sessionID}, nil
}

func (s *Service) signupURL(sessionID string) string {
	q := url.Values{}
	q.Set("client_id", s.opts.AppID)
	q.Set("config_id", s.opts.ConfigurationID)
	q.Set("response_type", "code")
	q.Set("override_default_response_type", "true")
	q.Set("redirect_uri", s.opts.CallbackURL)
	q.Set("state", sessionID)
	q.Set("scope", scopes)
	return fmt.Sprintf("%s/%s/dialog/oauth?%s", strings.TrimRight(s.opts.DialogBaseURL, "/"), s.opts.APIVersion, q.Encode())
}

// CallbackInput is the query Meta redirects back with. State carries the session id.
type CallbackInput struct {
	Code             string `form:"code"`
	State            string `form:"state"`
	Error            string `form:"error"`
	ErrorDescription string `form:"error_description"`
}

type WABACredentials struct {
	WabaID        string `json:"waba_id"`
	PhoneNumberID string `json:"phone_number_id"`
	PhoneNumber   string `json:"phone_number"`
	BusinessID    string `json:"business_id"`
	AccessToken   string `json:"access_token"`
}

// Callback finishes a signup: it exchanges the code, resolves the WABA,
// stores its references on the customer and returns the credentials.
func (s *Service) Callback(ctx context.Context, in CallbackInput) (*WABACredentials, error) {
	if in.Error != "" {
		reason := in.ErrorDescription
		if reason == "" {
			reason = in.Error
		}
		s.denied(ctx, in.State, reason)
		return nil, &DeniedError{Reason: reason}
	}
	if in.Code == "" || in.State == "" {
		return nil, ErrMissingParameters
	}

	sess, err := s.find(ctx, in.State)
	if err != nil {
		return nil, err
	}
	if sess == nil || s.expired(sess) {
		return nil, ErrInvalidSession
	}
	if err := advance(sess, triggerCallback); err != nil {
		return nil, ErrInvalidSession
	}
	sess.Code = in.Code
	if err := s.db.WithContext(ctx).Save(sess).Error; err != nil {
		return nil, err
	}

	creds, err := s.connect(ctx, sess)
	if err != nil {
		s.log.WithError(err).WithField("customer_id", sess.CustomerID).Error("Embedded signup callback failed")
		s.fail(ctx, sess, err.Error())
		return nil, ErrOAuthFailed
	}

	now := s.now()
	if err := advance(sess, triggerComplete); err != nil {
		return nil, err
	}
	sess.CompletedAt = &now
	if err := s.db.WithContext(ctx).Save(sess).Error; err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"customer_id": sess.CustomerID,
		"waba_id":     creds.WabaID,
	}).Info("Embedded signup completed")
	return creds, nil
}

func (s *Service) connect(ctx context.Context, sess *models.EmbeddedSignupSession) (*WABACredentials, error) {
	token, err := s.meta.ExchangeCode(ctx, sess.Code, s.opts.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	details, err := s.meta.FetchWABADetails(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch waba details: %w", err)
	}
	_, err = s.customers.ConnectWABA(ctx, sess.CustomerID, customer.WABAConnection{
		BusinessID:    details.BusinessID,
		WabaID:        details.WabaID,
		PhoneNumberID: details.PhoneNumberID,
	})
	if err != nil {
		return nil, fmt.Errorf("connect waba: %w", err)
	}
	return &WABACredentials{
		WabaID:        details.WabaID,
		PhoneNumberID: details.PhoneNumberID,
		PhoneNumber:   details.PhoneNumber,
		BusinessID:    details.BusinessID,
		AccessToken:   token.AccessToken,
	}, nil
}

func (s *Service) denied(ctx context.Context, sessionID, reason string) {
	s.log.WithField("reason", reason).Warn("Embedded signup denied")
	if sessionID == "" {
		return
	}
	sess, err := s.find(ctx, sessionID)
	if err != nil || sess == nil {
		return
	}
	s.fail(ctx, sess, reason)
}

func (s *Service) fail(ctx context.Context, sess *models.EmbeddedSignupSession, reason string) {
	if err := advance(sess, triggerFail); err != nil {
		return
	}
	sess.ErrorMessage = reason
	if err := s.db.WithContext(ctx).Save(sess).Error; err != nil {
		s.log.WithError(err).WithField("session_id", sess.SessionID).Error("Failed to mark signup session failed")
	}
}

func (s *Service) find(ctx context.Context, sessionID string) (*models.EmbeddedSignupSession, error) {
	var sess models.EmbeddedSignupSession
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Service) expired(sess *models.EmbeddedSignupSession) bool {
	return s.now().Sub(sess.CreatedAt) > models.SignupSessionCleanup
}

type Status struct {
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

func (s *Service) Status(ctx context.Context, sessionID string) (*Status, error) {
	if sessionID == "" {
		return nil, ErrMissingParameters
	}
	sess, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return &Status{
		Status:       sess.Status,
		ErrorMessage: sess.ErrorMessage,
		CreatedAt:    sess.CreatedAt,
		CompletedAt:  sess.CompletedAt,
	}, nil
}
