// Package calls brokers WhatsApp Business Calling: permission requests go
// to Meta, media goes through a Janus gateway session. Live call sessions
// are held in memory only.
package calls

import (
	"context"
	"errors"
	"strings"
	"time"

	"whatsapp-provider/internal/cache"
	"whatsapp-provider/internal/customer"
	"whatsapp-provider/internal/janus"
	"whatsapp-provider/internal/metrics"
	"whatsapp-provider/internal/models"
	"whatsapp-provider/internal/secure"
	"whatsapp-provider/internal/whatsapp"

	"github.com/nyaruka/phonenumbers"
	"github.com/sirupsen/logrus"
)

const (
	StatusInitiating = "initiating"
	StatusNotFound   = "not_found"

	// DefaultSessionTTL bounds how long a call session is remembered.
	DefaultSessionTTL = time.Hour
)

var (
	ErrMissingParameters = errors.New(models.ErrMsgMissingParameters)
	ErrMissingSessionID  = errors.New("Missing call_session_id")
	ErrRestrictedRegion  = errors.New(models.MsgCallingUnavailable)
	ErrFeatureDisabled   = errors.New(models.MsgFeatureNotEnabled)
	ErrGateway           = errors.New(models.ErrMsgJanusConnection)
	ErrSessionNotFound   = errors.New("Session not found or expired")
	ErrSessionForbidden  = errors.New("Session does not belong to this customer")
)

// DefaultSTUNServers are used when none are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type Sender interface {
	SendMessage(ctx context.Context, phoneNumberID, accessToken string, msg whatsapp.GenericMessage) (string, error)
}

type Recorder interface {
	RecordCall(ctx context.Context, customerID string, minutes, cost, markup float64) error
}

type PlanLookup interface {
	Plan(ctx context.Context, c *models.Customer) (*models.SubscriptionPlan, error)
}

// Session is the in-memory state of one call.
type Session struct {
	CustomerID string
	Janus      janus.Handle
	StartedAt  time.Time
	Status     string
}

type ICEServer struct {
	URLs       string `json:"urls"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

type Options struct {
	STUNServers    []string
	TURNURL        string
	TURNUsername   string
	TURNCredential string
	SessionTTL     time.Duration
}

type Service struct {
	sender   Sender
	gateway  janus.Gateway
	recorder Recorder
	plans    PlanLookup
	sessions *cache.Store[Session]
	ice      []ICEServer
	now      func() time.Time
	log      *logrus.Entry
}

func NewService(sender Sender, gateway janus.Gateway, recorder Recorder, plans PlanLookup, opts Options) *Service {
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Service{
		sender:   sender,
		gateway:  gateway,
		recorder: recorder,
		plans:    plans,
		sessions: cache.New[Session](ttl),
		ice:      iceServers(opts),
		now:      time.Now,
		log:      logrus.WithField("module", "calls"),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.sessions.WithClock(now)
	return s
}

func iceServers(opts Options) []ICEServer {
	stun := opts.STUNServers
	if len(stun) == 0 {
		stun = DefaultSTUNServers
	}
	servers := make([]ICEServer, 0, len(stun)+1)
	for _, u := range stun {
		servers = append(servers, ICEServer{URLs: u})
	}
	if opts.TURNURL != "" {
		servers = append(servers, ICEServer{
			URLs:       opts.TURNURL,
			Username:   opts.TURNUsername,
			Credential: opts.TURNCredential,
		})
	}
	return servers
}

// Region returns the ISO region of an E.164 number, or "" when it cannot be parsed.
func Region(number string) string {
	number = strings.TrimSpace(number)
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	parsed, err := phonenumbers.Parse(number, "")
	if err != nil {
		return ""
	}
	return phonenumbers.GetRegionCodeForNumber(parsed)
}

// Restricted reports whether calling is unavailable for the number's region.
func Restricted(number string) bool {
	region := Region(number)
	for _, r := range models.CallingRestrictedRegions {
		if r == region {
			return true
		}
	}
	return false
}

type PermissionInput struct {
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"access_token"`
	To            string `json:"to"`
	UseTemplate   bool   `json:"use_template"`
}

// RequestPermission asks the recipient to allow calls. The template form is
// for recipients outside the conversation window. Whether permission was
// granted is tracked by the customer app.
func (s *Service) RequestPermission(ctx context.Context, c *models.Customer, in PermissionInput) (string, error) {
	if in.PhoneNumberID == "" || in.AccessToken == "" || in.To == "" {
		return "", ErrMissingParameters
	}
	if err := s.allow(ctx, c); err != nil {
		return "", err
	}
	if Restricted(in.To) {
		return "", ErrRestrictedRegion
	}

	msg := whatsapp.NewCallPermissionRequest(in.To)
	if in.UseTemplate {
		msg = whatsapp.NewCallPermissionTemplate(in.To)
	}
	id, err := s.sender.SendMessage(ctx, in.PhoneNumberID, in.AccessToken, msg)
	if err != nil {
		s.log.WithError(err).WithField("customer_id", c.ID).Warn("Call permission request rejected")
		return "", err
	}
	return id, nil
}

type InitiateInput struct {
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"access_token"`
	To            string `json:"to"`
	FromNumber    string `json:"from_number"`
}

type Initiated struct {
	CallSessionID  string      `json:"call_session_id"`
	JanusSessionID uint64      `json:"janus_session_id"`
	JanusHandleID  uint64      `json:"janus_handle_id"`
	JanusWSURL     string      `json:"janus_ws_url"`
	ICEServers     []ICEServer `json:"ice_servers"`
}

// Initiate opens a Janus session for a new call and returns what the
// browser needs to join it.
func (s *Service) Initiate(ctx context.Context, c *models.Customer, in InitiateInput) (*Initiated, error) {
	if in.PhoneNumberID == "" || in.AccessToken == "" || in.To == "" || in.FromNumber == "" {
		return nil, ErrMissingParameters
	}
	if err := s.allow(ctx, c); err != nil {
		return nil, err
	}
	if Restricted(in.To) {
		return nil, ErrRestrictedRegion
	}

	id, err := secure.Token(24)
	if err != nil {
		return nil, err
	}
	handle, err := s.gateway.Open(ctx)
	if err != nil {
		s.log.WithError(err).WithField("customer_id", c.ID).Error("Janus session creation failed")
		return nil, ErrGateway
	}

	s.sessions.Set(id, Session{
		CustomerID: c.ID,
		Janus:      handle,
		StartedAt:  s.now().UTC(),
		Status:     StatusInitiating,
	})
	s.log.WithFields(logrus.Fields{
		"customer_id":      c.ID,
		"janus_session_id": handle.SessionID,
	}).Info("Call session initiated")

	return &Initiated{
		CallSessionID:  id,
		JanusSessionID: handle.SessionID,
		JanusHandleID:  handle.HandleID,
		JanusWSURL:     s.gateway.URL(),
		ICEServers:     s.ice,
	}, nil
}

type EndInput struct {
	CallSessionID   string `json:"call_session_id"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type Cost struct {
	BaseCost float64 `json:"base_cost"`
	Markup   float64 `json:"markup"`
	Total    float64 `json:"-"`
}

type Ended struct {
	DurationSeconds int64   `json:"duration_seconds"`
	Cost            float64 `json:"cost"`
	Breakdown       Cost    `json:"breakdown"`
}

// End closes the Janus session, prices the call and records it.
func (s *Service) End(ctx context.Context, c *models.Customer, in EndInput) (*Ended, error) {
	if in.CallSessionID == "" {
		return nil, ErrMissingSessionID
	}
	sess, ok := s.sessions.Get(in.CallSessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.CustomerID != c.ID {
		return nil, ErrSessionForbidden
	}
	if _, ok := s.sessions.Take(in.CallSessionID); !ok {
		return nil, ErrSessionNotFound
	}

	if err := s.gateway.Close(ctx, sess.Janus); err != nil {
		s.log.WithError(err).WithField("janus_session_id", sess.Janus.SessionID).Warn("Janus cleanup failed")
	}

	duration := in.DurationSeconds
	if duration < 0 {
		duration = 0
	}
	plan, err := s.plans.Plan(ctx, c)
	if err != nil {
		return nil, err
	}
	cost := Price(duration, plan)
	minutes := float64(duration) / 60

	if err := s.recorder.RecordCall(ctx, c.ID, minutes, cost.BaseCost, cost.Markup); err != nil {
		s.log.WithError(err).WithField("customer_id", c.ID).Error("Failed to record call usage")
	}

	return &Ended{DurationSeconds: duration, Cost: cost.Total, Breakdown: cost}, nil
}

// Price computes the cost of a call: Meta's per-minute rate plus the plan's
// call markup, each rounded to four decimals.
func Price(durationSeconds int64, plan *models.SubscriptionPlan) Cost {
	pct := models.DefaultCallMarkupPercentage
	if plan != nil {
		pct = plan.CallMarkupPercentage
	}
	base := float64(durationSeconds) / 60 * models.BaseCallRatePerMinute
	markup := base * pct / 100
	return Cost{
		BaseCost: metrics.Round(base, 4),
		Markup:   metrics.Round(markup, 4),
		Total:    metrics.Round(base+markup, 4),
	}
}

type SessionStatus struct {
	Status    string `json:"status"`
	StartedAt string `json:"started_at,omitempty"`
}

// Status reports a call session. Sessions of other customers read as not found.
func (s *Service) Status(c *models.Customer, callSessionID string) (*SessionStatus, error) {
	if callSessionID == "" {
		return nil, ErrMissingSessionID
	}
	sess, ok := s.sessions.Get(callSessionID)
	if !ok || sess.CustomerID != c.ID {
		return &SessionStatus{Status: StatusNotFound}, nil
	}
	return &SessionStatus{Status: sess.Status, StartedAt: sess.StartedAt.Format(time.RFC3339)}, nil
}

// Reap forgets expired call sessions and closes their Janus sessions.
func (s *Service) Reap(ctx context.Context) int {
	expired := s.sessions.SweepExpired()
	for id, sess := range expired {
		if err := s.gateway.Close(ctx, sess.Janus); err != nil {
			s.log.WithError(err).WithField("call_session_id", id).Warn("Janus cleanup of expired call failed")
		}
	}
	return len(expired)
}

func (s *Service) allow(ctx context.Context, c *models.Customer) error {
	plan, err := s.plans.Plan(ctx, c)
	if err != nil {
		return err
	}
	if !customer.FeatureEnabled(c, plan, models.FeatureCalling) {
		return ErrFeatureDisabled
	}
	return nil
}
