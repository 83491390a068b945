// Package messages proxies outbound WhatsApp messages to Meta on behalf of
// customers. Message content is forwarded and never stored; only the count
// and cost land in the daily metrics.
package messages

import (
	"context"
	"errors"
	"strings"

	"whatsapp-provider/internal/customer"
	"whatsapp-provider/internal/metrics"
	"whatsapp-provider/internal/models"
	"whatsapp-provider/internal/whatsapp"

	"github.com/sirupsen/logrus"
)

const DefaultTemplateLanguage = "en_US"

var (
	ErrMissingParameters = errors.New(models.ErrMsgMissingParameters)
	ErrInvalidMediaType  = errors.New("Invalid media_type")
	ErrFeatureDisabled   = errors.New(models.MsgFeatureNotEnabled)
)

// Sender delivers a message through the Graph API.
type Sender interface {
	SendMessage(ctx context.Context, phoneNumberID, accessToken string, msg whatsapp.GenericMessage) (string, error)
}

type Recorder interface {
	RecordMessage(ctx context.Context, customerID string, cost, markup float64) error
}

type PlanLookup interface {
	Plan(ctx context.Context, c *models.Customer) (*models.SubscriptionPlan, error)
}

type Service struct {
	sender   Sender
	recorder Recorder
	plans    PlanLookup
	log      *logrus.Entry
}

func NewService(sender Sender, recorder Recorder, plans PlanLookup) *Service {
	return &Service{
		sender:   sender,
		recorder: recorder,
		plans:    plans,
		log:      logrus.WithField("module", "messages"),
	}
}

// Target identifies the sending number. The access token is used for the
// single request and dropped.
type Target struct {
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"access_token"`
	To            string `json:"to"`
}

func (t Target) complete() bool {
	return t.PhoneNumberID != "" && t.AccessToken != "" && t.To != ""
}

type TemplateInput struct {
	Target
	TemplateName       string        `json:"template_name"`
	TemplateLanguage   string        `json:"template_language"`
	TemplateComponents []interface{} `json:"template_components"`
}

type TextInput struct {
	Target
	Text string `json:"text"`
}

type MediaInput struct {
	Target
	MediaType string `json:"media_type"`
	MediaURL  string `json:"media_url"`
	Caption   string `json:"caption"`
	Filename  string `json:"filename"`
}

// Result is returned for an accepted message.
type Result struct {
	MessageID string  `json:"message_id"`
	Cost      float64 `json:"cost"`
}

// SendTemplate sends an approved template. Templates are the billable
// message type: Meta's base rate plus the plan's message markup.
func (s *Service) SendTemplate(ctx context.Context, c *models.Customer, in TemplateInput) (*Result, error) {
	if !in.complete() || in.TemplateName == "" {
		return nil, ErrMissingParameters
	}
	plan, err := s.allow(ctx, c)
	if err != nil {
		return nil, err
	}
	lang := strings.TrimSpace(in.TemplateLanguage)
	if lang == "" {
		lang = DefaultTemplateLanguage
	}

	msg := whatsapp.NewTemplate(in.To, in.TemplateName, lang, in.TemplateComponents)
	markupPct := models.DefaultMessageMarkupPercentage
	if plan != nil {
		markupPct = plan.MessageMarkupPercentage
	}
	cost := models.BaseMessageCost
	markup := metrics.Round(cost*markupPct/100, 4)
	return s.send(ctx, c, in.Target, msg, "template", cost, markup)
}

// SendText sends a free-form message inside the conversation window, which Meta does not bill.
func (s *Service) SendText(ctx context.Context, c *models.Customer, in TextInput) (*Result, error) {
	if !in.complete() || in.Text == "" {
		return nil, ErrMissingParameters
	}
	if _, err := s.allow(ctx, c); err != nil {
		return nil, err
	}
	return s.send(ctx, c, in.Target, whatsapp.NewText(in.To, in.Text), "text", 0, 0)
}

func (s *Service) SendMedia(ctx context.Context, c *models.Customer, in MediaInput) (*Result, error) {
	if !in.complete() || in.MediaType == "" || in.MediaURL == "" {
		return nil, ErrMissingParameters
	}
	if !whatsapp.IsMediaType(in.MediaType) {
		return nil, ErrInvalidMediaType
	}
	if _, err := s.allow(ctx, c); err != nil {
		return nil, err
	}
	msg := whatsapp.NewMedia(in.To, in.MediaType, in.MediaURL, in.Caption, in.Filename)
	return s.send(ctx, c, in.Target, msg, "media", 0, 0)
}

func (s *Service) allow(ctx context.Context, c *models.Customer) (*models.SubscriptionPlan, error) {
	plan, err := s.plans.Plan(ctx, c)
	if err != nil {
		return nil, err
	}
	if !customer.FeatureEnabled(c, plan, models.FeatureMessaging) {
		return nil, ErrFeatureDisabled
	}
	return plan, nil
}

func (s *Service) send(ctx context.Context, c *models.Customer, t Target, msg whatsapp.GenericMessage, kind string, cost, markup float64) (*Result, error) {
	id, err := s.sender.SendMessage(ctx, t.PhoneNumberID, t.AccessToken, msg)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"customer_id":  c.ID,
			"message_type": kind,
		}).Warn("Meta rejected message")
		return nil, err
	}

	// The message is already out; a metrics failure must not turn it into an error.
	if err := s.recorder.RecordMessage(ctx, c.ID, cost, markup); err != nil {
		s.log.WithError(err).WithField("customer_id", c.ID).Error("Failed to record message usage")
	}

	s.log.WithFields(logrus.Fields{
		"customer_id":  c.ID,
		"message_type": kind,
	}).Info("Message sent")
	return &Result{MessageID: id, Cost: metrics.Round(cost+markup, 4)}, nil
}
