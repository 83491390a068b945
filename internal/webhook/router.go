package webhook

import (
	"context"
	"encoding/json"
	"errors"

	"whatsapp-provider/internal/customer"
	"whatsapp-provider/internal/models"
	wa "whatsapp-provider/pkg/models"

	"github.com/sirupsen/logrus"
)

type Customers interface {
	FindActiveByWaba(ctx context.Context, wabaID string) (*models.Customer, error)
}

// Queue accepts deliveries for asynchronous sending.
type Queue interface {
	Enqueue(d Delivery) bool
}

// Router resolves webhook entries to customers and queues one delivery per event.
// Nothing is persisted.
type Router struct {
	customers Customers
	queue     Queue
	path      string
	log       *logrus.Entry
}

func NewRouter(customers Customers, queue Queue, webhookPath string) *Router {
	return &Router{
		customers: customers,
		queue:     queue,
		path:      webhookPath,
		log:       logrus.WithField("module", "webhook"),
	}
}

// Route forwards every event in payload and returns how many were queued.
func (r *Router) Route(ctx context.Context, payload *wa.WebhookPayload) int {
	queued := 0
	for _, entry := range payload.Entry {
		if entry.ID == "" {
			continue
		}
		c, err := r.customer(ctx, entry.ID)
		if err != nil || c == nil {
			continue
		}
		for _, change := range entry.Changes {
			for _, event := range Events(change) {
				if r.Forward(c, event) {
					queued++
				}
			}
		}
	}
	return queued
}

// RouteCallStatus forwards a flat call status report to the WABA's customer.
func (r *Router) RouteCallStatus(ctx context.Context, report wa.CallStatusReport) bool {
	c, err := r.customer(ctx, report.WabaID)
	if err != nil || c == nil {
		return false
	}
	return r.Forward(c, wa.CallStatusEvent{
		Type:      models.EventCallStatus,
		CallID:    report.CallID,
		Status:    report.Status,
		Timestamp: report.Timestamp,
		Duration:  report.Duration,
	})
}

func (r *Router) customer(ctx context.Context, wabaID string) (*models.Customer, error) {
	c, err := r.customers.FindActiveByWaba(ctx, wabaID)
	if errors.Is(err, customer.ErrCustomerNotFound) {
		r.log.WithField("waba_id", wabaID).Warn("No active customer for WABA")
		return nil, nil
	}
	if err != nil {
		r.log.WithError(err).WithField("waba_id", wabaID).Error("Customer lookup failed")
		return nil, err
	}
	return c, nil
}

// Forward encodes event and queues it for the customer's webhook endpoint.
func (r *Router) Forward(c *models.Customer, event interface{}) bool {
	entry := r.log.WithField("customer_id", c.ID)
	if c.SiteURL == "" {
		entry.Warn("Customer has no site URL configured")
		return false
	}
	body, err := json.Marshal(event)
	if err != nil {
		entry.WithError(err).Error("Failed to encode webhook event")
		return false
	}
	return r.queue.Enqueue(Delivery{CustomerID: c.ID, URL: c.SiteURL + r.path, Body: body})
}

// Events splits one change into the events sent to customer apps:
// statuses first, then inbound messages, then call permission replies.
func Events(change wa.WebhookChange) []interface{} {
	var events []interface{}
	v := change.Value

	switch change.Field {
	case "messages":
		for _, st := range v.Statuses {
			errs := st.Errors
			if errs == nil {
				errs = []wa.StatusError{}
			}
			events = append(events, wa.MessageStatusEvent{
				Type:        models.EventMessageStatus,
				MessageID:   st.ID,
				Status:      st.Status,
				Timestamp:   st.Timestamp,
				RecipientID: st.RecipientID,
				Errors:      errs,
			})
		}
		for _, msg := range v.Messages {
			ev := wa.InboundMessageEvent{
				Type:        models.EventInboundMessage,
				MessageID:   msg.ID,
				From:        msg.From,
				Timestamp:   msg.Timestamp,
				MessageType: msg.Type,
			}
			if msg.Type == "text" && msg.Text != nil {
				body := msg.Text.Body
				ev.Text = &body
			}
			events = append(events, ev)
		}
		for _, msg := range v.Messages {
			if msg.Type != "interactive" || msg.Interactive == nil || msg.Interactive.Type != "call_permission_reply" {
				continue
			}
			ev := wa.CallPermissionReplyEvent{
				Type:      models.EventCallPermissionReply,
				From:      msg.From,
				Timestamp: msg.Timestamp,
			}
			if reply := msg.Interactive.CallPermissionReply; reply != nil {
				ev.Response = reply.Response
				ev.Expiration = reply.ExpirationTimestamp
			}
			events = append(events, ev)
		}
	case "calls":
		for _, call := range v.Calls {
			status := call.Status
			if status == "" {
				status = call.Event
			}
			events = append(events, wa.CallStatusEvent{
				Type:      models.EventCallStatus,
				CallID:    call.ID,
				From:      call.From,
				To:        call.To,
				Event:     call.Event,
				Status:    status,
				Direction: call.Direction,
				Timestamp: call.Timestamp,
				Duration:  call.Duration,
			})
		}
	}
	return events
}
