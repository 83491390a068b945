package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whatsapp-provider/internal/config"
	"whatsapp-provider/internal/customer"
	"whatsapp-provider/internal/models"
	"whatsapp-provider/internal/secure"
	wa "whatsapp-provider/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	appSecret   = "app-secret"
	verifyToken = "verify-me"
	hookPath    = "/api/method/walue_whatsapp_client.api.webhooks.receive"
)

type fakeCustomers map[string]*models.Customer

func (f fakeCustomers) FindActiveByWaba(_ context.Context, wabaID string) (*models.Customer, error) {
	if c, ok := f[wabaID]; ok {
		return c, nil
	}
	return nil, customer.ErrCustomerNotFound
}

type captureQueue struct {
	deliveries []Delivery
}

func (q *captureQueue) Enqueue(d Delivery) bool {
	q.deliveries = append(q.deliveries, d)
	return true
}

func (q *captureQueue) events(t *testing.T) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, d := range q.deliveries {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(d.Body, &m))
		out = append(out, m)
	}
	return out
}

func newTestRouter() (*Router, *captureQueue) {
	q := &captureQueue{}
	customers := fakeCustomers{
		"waba-1": {ID: "c1", SiteURL: "https://acme.example.com"},
		"waba-2": {ID: "c2"},
	}
	return NewRouter(customers, q, hookPath), q
}

const messagesPayload = `{
  "object": "whatsapp_business_account",
  "entry": [
    {"id": "waba-1", "changes": [{"field": "messages", "value": {
      "messaging_product": "whatsapp",
      "metadata": {"display_phone_number": "15550001111", "phone_number_id": "pn-1"},
      "statuses": [{"id": "wamid.1", "status": "delivered", "timestamp": "1700000000", "recipient_id": "447700900123"}],
      "messages": [
        {"from": "447700900123", "id": "wamid.2", "timestamp": "1700000001", "type": "text", "text": {"body": "hello"}},
        {"from": "447700900123", "id": "wamid.3", "timestamp": "1700000002", "type": "interactive",
         "interactive": {"type": "call_permission_reply", "call_permission_reply": {"response": "accept", "expiration_timestamp": 1700604800}}}
      ]
    }}]},
    {"id": "waba-unknown", "changes": [{"field": "messages", "value": {"statuses": [{"id": "wamid.9", "status": "sent"}]}}]}
  ]
}`

func TestEventsOrderAndShape(t *testing.T) {
	r, q := newTestRouter()
	var payload wa.WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(messagesPayload), &payload))

	assert.Equal(t, 4, r.Route(context.Background(), &payload))
	events := q.events(t)
	require.Len(t, events, 4)

	assert.Equal(t, "message_status", events[0]["type"])
	assert.Equal(t, "wamid.1", events[0]["message_id"])
	assert.Equal(t, []interface{}{}, events[0]["errors"])

	assert.Equal(t, "inbound_message", events[1]["type"])
	assert.Equal(t, "hello", events[1]["text"])

	assert.Equal(t, "inbound_message", events[2]["type"])
	assert.Equal(t, "interactive", events[2]["message_type"])
	assert.Nil(t, events[2]["text"])

	assert.Equal(t, "call_permission_reply", events[3]["type"])
	assert.Equal(t, "accept", events[3]["response"])
	assert.EqualValues(t, 1700604800, events[3]["expiration"])

	for _, d := range q.deliveries {
		assert.Equal(t, "c1", d.CustomerID)
		assert.Equal(t, "https://acme.example.com"+hookPath, d.URL)
	}
}

func TestCallsChangeAndMissingSiteURL(t *testing.T) {
	r, q := newTestRouter()
	payload := wa.WebhookPayload{Entry: []wa.WebhookEntry{
		{ID: "waba-1", Changes: []wa.WebhookChange{{Field: "calls", Value: wa.ChangeValue{
			Calls: []wa.CallUpdate{{ID: "call-1", From: "1555", To: "4477", Event: "terminate", Status: "COMPLETED", Duration: 42}},
		}}}},
		{ID: "waba-2", Changes: []wa.WebhookChange{{Field: "calls", Value: wa.ChangeValue{
			Calls: []wa.CallUpdate{{ID: "call-2", Event: "connect"}},
		}}}},
	}}

	assert.Equal(t, 1, r.Route(context.Background(), &payload))
	events := q.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "call_status", events[0]["type"])
	assert.Equal(t, "COMPLETED", events[0]["status"])
	assert.EqualValues(t, 42, events[0]["duration"])

	evs := Events(wa.WebhookChange{Field: "calls", Value: wa.ChangeValue{Calls: []wa.CallUpdate{{ID: "x", Event: "connect"}}}})
	require.Len(t, evs, 1)
	assert.Equal(t, "connect", evs[0].(wa.CallStatusEvent).Status)
	assert.Empty(t, Events(wa.WebhookChange{Field: "account_update"}))
}

func newTestEngine(h *Handler) *gin.Engine {
	r := gin.New()
	r.GET("/webhooks/meta", h.VerifyWebhook)
	r.POST("/webhooks/meta", h.HandleMessage)
	r.POST("/webhooks/call-status", h.HandleCallStatus)
	return r
}

func TestVerifyWebhook(t *testing.T) {
	router, _ := newTestRouter()
	engine := newTestEngine(NewHandler(router, verifyToken, appSecret))

	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"success", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1", http.StatusForbidden, ""},
		{"missing params", "hub.challenge=1", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/meta?"+tt.query, nil))
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
				assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
			}
		})
	}
}

func signedRequest(path, body, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(MetaSignatureHeader, secure.SignatureHeader(secret, []byte(body)))
	}
	return req
}

func TestHandleMessage(t *testing.T) {
	router, q := newTestRouter()
	engine := newTestEngine(NewHandler(router, verifyToken, appSecret))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, signedRequest("/webhooks/meta", messagesPayload, appSecret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Len(t, q.deliveries, 4)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, signedRequest("/webhooks/meta", messagesPayload, "other-secret"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, signedRequest("/webhooks/meta", messagesPayload, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, signedRequest("/webhooks/meta", "{not json", appSecret))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"status":"error","message":"Invalid payload"}`, w.Body.String())

	assert.Len(t, q.deliveries, 4)
}

func TestHandleCallStatus(t *testing.T) {
	router, q := newTestRouter()
	engine := newTestEngine(NewHandler(router, verifyToken, appSecret))

	flat := `{"waba_id":"waba-1","call_id":"call-9","status":"ended","timestamp":"1700000100","duration":65}`
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, signedRequest("/webhooks/call-status", flat, appSecret))
	assert.Equal(t, http.StatusOK, w.Code)

	envelope := `{"object":"whatsapp_business_account","entry":[{"id":"waba-1","changes":[{"field":"calls","value":{"calls":[{"id":"call-10","event":"connect"}]}}]}]}`
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, signedRequest("/webhooks/call-status", envelope, appSecret))
	assert.Equal(t, http.StatusOK, w.Code)

	events := q.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, "call-9", events[0]["call_id"])
	assert.Equal(t, "ended", events[0]["status"])
	assert.Equal(t, "call-10", events[1]["call_id"])

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, signedRequest("/webhooks/call-status", flat, "bad"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestForwarderDeliver(t *testing.T) {
	body := []byte(`{"type":"message_status","message_id":"wamid.1"}`)
	received := make(chan *http.Request, 1)
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		got = b
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewForwarder(config.ForwardConfig{Timeout: 2 * time.Second, Workers: 1, QueueSize: 4}, verifyToken)
	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)
	require.True(t, f.Enqueue(Delivery{CustomerID: "c1", URL: srv.URL + hookPath, Body: body}))

	select {
	case r := <-received:
		assert.Equal(t, hookPath, r.URL.Path)
		assert.Equal(t, secure.SignatureHeader(verifyToken, body), r.Header.Get(SignatureHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	case <-time.After(5 * time.Second):
		t.Fatal("delivery not received")
	}
	cancel()
	f.Wait()
	assert.True(t, bytes.Equal(body, got))
}

func TestForwarderDeliverFailures(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewForwarder(config.ForwardConfig{Timeout: time.Second, RetryCount: 2}, verifyToken)
	err := f.Deliver(context.Background(), Delivery{URL: srv.URL, Body: []byte(`{}`)})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)

	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	assert.Error(t, f.Deliver(context.Background(), Delivery{URL: notFound.URL, Body: []byte(`{}`)}))
}

func TestForwarderDropsWhenQueueFull(t *testing.T) {
	f := NewForwarder(config.ForwardConfig{QueueSize: 1}, verifyToken)
	assert.True(t, f.Enqueue(Delivery{CustomerID: "c1"}))
	assert.False(t, f.Enqueue(Delivery{CustomerID: "c1"}))
}
