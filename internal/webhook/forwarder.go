package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"whatsapp-provider/internal/config"
	"whatsapp-provider/internal/secure"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const SignatureHeader = "X-Walue-Signature"

// Delivery is one encoded event bound for a customer app.
type Delivery struct {
	CustomerID string
	URL        string
	Body       []byte
}

// Forwarder posts deliveries to customer apps from a bounded queue.
// Deliveries that do not fit in the queue are dropped.
type Forwarder struct {
	client  *resty.Client
	secret  string
	queue   chan Delivery
	workers int
	wg      sync.WaitGroup
	log     *logrus.Entry
}

// NewForwarder signs every body with secret, the webhook verify token.
func NewForwarder(cfg config.ForwardConfig, secret string) *Forwarder {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &Forwarder{
		client:  client,
		secret:  secret,
		queue:   make(chan Delivery, size),
		workers: workers,
		log:     logrus.WithField("module", "forwarder"),
	}
}

// Start launches the workers. They exit when ctx is cancelled.
func (f *Forwarder) Start(ctx context.Context) {
	for i := 0; i < f.workers; i++ {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-f.queue:
					if err := f.Deliver(ctx, d); err != nil {
						f.log.WithError(err).WithField("customer_id", d.CustomerID).Warn("Webhook forwarding failed")
					}
				}
			}
		}()
	}
	f.log.WithField("workers", f.workers).Info("Webhook forwarder started")
}

// Wait blocks until every worker has returned.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

func (f *Forwarder) Enqueue(d Delivery) bool {
	select {
	case f.queue <- d:
		return true
	default:
		f.log.WithField("customer_id", d.CustomerID).Error("Webhook queue full, dropping event")
		return false
	}
}

// Deliver posts one body synchronously. Only a 200 counts as delivered.
func (f *Forwarder) Deliver(ctx context.Context, d Delivery) error {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(SignatureHeader, secure.SignatureHeader(f.secret, d.Body)).
		SetBody(d.Body).
		Post(d.URL)
	if err != nil {
		return fmt.Errorf("post %s: %w", d.URL, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("post %s: status %d", d.URL, resp.StatusCode())
	}
	return nil
}
