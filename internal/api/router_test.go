package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"whatsapp-provider/internal/billing"
	"whatsapp-provider/internal/calls"
	"whatsapp-provider/internal/config"
	"whatsapp-provider/internal/customer"
	"whatsapp-provider/internal/database/dbtest"
	"whatsapp-provider/internal/janus"
	"whatsapp-provider/internal/messages"
	"whatsapp-provider/internal/metrics"
	"whatsapp-provider/internal/oauth"
	"whatsapp-provider/internal/plans"
	"whatsapp-provider/internal/signup"
	"whatsapp-provider/internal/webhook"
	"whatsapp-provider/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminKey = "admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGateway struct{}

func (fakeGateway) Open(context.Context) (janus.Handle, error) {
	return janus.Handle{SessionID: 7, HandleID: 8}, nil
}

func (fakeGateway) Close(context.Context, janus.Handle) error { return nil }

func (fakeGateway) URL() string { return "wss://janus.test/ws" }

type noMail struct{}

func (noMail) Send(context.Context, string, string, string) error { return nil }

type testServer struct {
	router *gin.Engine

	mu sync.Mutex
	// metaStatus and metaBody are what the fake Graph API answers with.
	metaStatus int
	metaBody   string
}

func (ts *testServer) setMeta(status int, body string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.metaStatus, ts.metaBody = status, body
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{metaStatus: http.StatusOK, metaBody: `{"messages":[{"id":"wamid.42"}]}`}

	meta := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		status, body := ts.metaStatus, ts.metaBody
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(meta.Close)

	db := dbtest.New(t)
	ctx := context.Background()
	planService := plans.NewService(db)
	require.NoError(t, planService.EnsureDefaults(ctx))
	customers := customer.NewService(db, planService)
	metricsService := metrics.NewService(db, customers)
	client := whatsapp.NewClient(config.MetaConfig{
		APIVersion:   "v21.0",
		GraphBaseURL: meta.URL,
		Timeout:      5 * time.Second,
	})
	forwarder := webhook.NewForwarder(config.ForwardConfig{Workers: 1, QueueSize: 10}, "verify")

	ts.router = NewRouter(Services{
		DB: db,
		OAuth: oauth.NewService(customers, oauth.Options{
			Secret:        "signing-secret",
			AccessExpiry:  time.Hour,
			RefreshExpiry: 24 * time.Hour,
			CodeTTL:       10 * time.Minute,
		}),
		Customers: customers,
		Plans:     planService,
		Messages:  messages.NewService(client, metricsService, customers),
		Calls:     calls.NewService(client, fakeGateway{}, metricsService, customers, calls.Options{}),
		Metrics:   metricsService,
		Signup: signup.NewService(db, client, customers, signup.Options{
			Enabled:       true,
			AppID:         "app-id",
			APIVersion:    "v21.0",
			DialogBaseURL: "https://www.facebook.test",
			CallbackURL:   "https://provider.test/signup/callback",
		}),
		Billing:  billing.NewService(db, customers, noMail{}),
		Webhooks: webhook.NewHandler(webhook.NewRouter(customers, forwarder, "/webhook"), "verify", "app-secret"),
		AdminKey: adminKey,
	})
	return ts
}

type request struct {
	method, path, body string
	header             map[string]string
}

func (ts *testServer) do(t *testing.T, r request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(r.method, r.path, strings.NewReader(r.body))
	if r.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func (ts *testServer) admin(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	return ts.do(t, request{method: method, path: path, body: body, header: map[string]string{"X-Admin-Key": adminKey}})
}

func (ts *testServer) bearer(t *testing.T, token, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	return ts.do(t, request{method: method, path: path, body: body, header: map[string]string{"Authorization": "Bearer " + token}})
}

// onboard registers and activates a Starter customer and logs it in through
// the authorization code flow.
func (ts *testServer) onboard(t *testing.T) (customerID, accessToken string) {
	t.Helper()
	w, body := ts.admin(t, http.MethodPost, "/admin/customers", `{
		"customer_name": "Acme",
		"company_email": "ops@acme.test",
		"site_url": "https://acme.test",
		"subscription_plan": "Starter"
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	customerID = body["customer_id"].(string)
	clientID := body["oauth_client_id"].(string)
	secret := body["oauth_client_secret"].(string)

	w, _ = ts.admin(t, http.MethodPost, "/admin/customers/"+customerID+"/activate", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	q := url.Values{
		"client_id":     {clientID},
		"redirect_uri":  {"https://acme.test/oauth/cb"},
		"response_type": {"code"},
		"state":         {"s1"},
	}
	w, _ = ts.do(t, request{method: http.MethodGet, path: "/oauth/authorize?" + q.Encode()})
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "s1", location.Query().Get("state"))

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"client_secret": {secret},
		"code":          {location.Query().Get("code")},
		"redirect_uri":  {"https://acme.test/oauth/cb"},
	}
	w, body = ts.do(t, request{
		method: http.MethodPost,
		path:   "/oauth/token",
		body:   form.Encode(),
		header: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Bearer", body["token_type"])
	return customerID, body["access_token"].(string)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w, body := ts.do(t, request{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestAdminRequiresKey(t *testing.T) {
	ts := newTestServer(t)
	w, _ := ts.do(t, request{method: http.MethodGet, path: "/admin/plans"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := ts.admin(t, http.MethodGet, "/admin/plans", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["plans"], 3)
}

func TestCustomerInfo(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.onboard(t)

	w, body := ts.bearer(t, token, http.MethodGet, "/api/customer/info", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, id, body["customer_id"])
	assert.Equal(t, "Active", body["status"])
	assert.Equal(t, false, body["waba_connected"])
	plan := body["subscription_plan"].(map[string]interface{})
	assert.Equal(t, "Starter", plan["name"])
	assert.EqualValues(t, 29, plan["base_fee"])

	w, _ = ts.bearer(t, "not-a-token", http.MethodGet, "/api/customer/info", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOAuthErrors(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, request{method: http.MethodGet, path: "/oauth/authorize?client_id=x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, request{method: http.MethodGet, path: "/oauth/authorize?client_id=x&redirect_uri=https://a.test&response_type=code"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := ts.do(t, request{
		method: http.MethodPost,
		path:   "/oauth/token",
		body:   `{"grant_type":"authorization_code","client_id":"x","client_secret":"y","code":"z"}`,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_client", body["error"])
}

func TestSendText(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.onboard(t)
	payload := `{"phone_number_id":"123","access_token":"waba","to":"+442071838750","text":"hi"}`

	w, body := ts.bearer(t, token, http.MethodPost, "/api/messages/text", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "wamid.42", body["message_id"])
	assert.EqualValues(t, 0, body["cost"])

	ts.setMeta(http.StatusBadRequest, `{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`)
	w, body = ts.bearer(t, token, http.MethodPost, "/api/messages/text", payload)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Invalid parameter", body["error"])

	w, body = ts.bearer(t, token, http.MethodPost, "/api/messages/text", `{"to":"+442071838750"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required parameters", body["error"])
}

func TestSuspendedCustomerCannotSend(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.onboard(t)

	w, body := ts.admin(t, http.MethodPost, "/admin/customers/"+id+"/suspend", `{"reason":"unpaid"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Customer "+id+" suspended", body["message"])

	w, _ = ts.bearer(t, token, http.MethodPost, "/api/messages/text",
		`{"phone_number_id":"123","access_token":"waba","to":"+442071838750","text":"hi"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = ts.bearer(t, token, http.MethodGet, "/api/customer/info", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Suspended", body["status"])

	w, _ = ts.admin(t, http.MethodPost, "/admin/customers/"+id+"/suspend", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCallLifecycle(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.onboard(t)

	w, body := ts.bearer(t, token, http.MethodPost, "/api/calls/initiate",
		`{"phone_number_id":"123","access_token":"waba","to":"+14155552671","from_number":"+919876543210"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, true, body["restricted"])

	w, body = ts.bearer(t, token, http.MethodPost, "/api/calls/initiate",
		`{"phone_number_id":"123","access_token":"waba","to":"+442071838750","from_number":"+919876543210"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sessionID := body["call_session_id"].(string)
	assert.EqualValues(t, 7, body["janus_session_id"])
	assert.Equal(t, "wss://janus.test/ws", body["janus_ws_url"])

	w, body = ts.bearer(t, token, http.MethodGet, "/api/calls/status?call_session_id="+sessionID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, calls.StatusInitiating, body["status"])

	w, body = ts.bearer(t, token, http.MethodPost, "/api/calls/end",
		`{"call_session_id":"`+sessionID+`","duration_seconds":120}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.InDelta(t, 0.081, body["cost"].(float64), 1e-9)

	w, _ = ts.bearer(t, token, http.MethodPost, "/api/calls/end", `{"call_session_id":"`+sessionID+`"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.bearer(t, token, http.MethodGet, "/api/calls/status", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = ts.bearer(t, token, http.MethodGet, "/api/metrics/billing", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["current_month_calls"])
}

func TestReportUsage(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.onboard(t)

	w, _ := ts.admin(t, http.MethodPost, "/admin/customers/"+id+"/balance", `{"amount":10}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, body := ts.bearer(t, token, http.MethodPost, "/api/metrics/usage",
		`{"usage_type":"message","count":3,"cost":8}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "warning", body["quota_status"])
	assert.Len(t, body["alerts"], 1)

	w, _ = ts.bearer(t, token, http.MethodPost, "/api/metrics/usage", `{"usage_type":"fax","count":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.bearer(t, token, http.MethodPost, "/api/metrics/usage", `{"usage_type":"message","count":1,"cost":-8}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = ts.bearer(t, token, http.MethodGet, "/api/metrics/summary?period=today", "")
	require.Equal(t, http.StatusOK, w.Code)
	summary := body["summary"].(map[string]interface{})
	assert.EqualValues(t, 3, summary["total_messages"])
}

func TestSignupAdmin(t *testing.T) {
	ts := newTestServer(t)
	id, _ := ts.onboard(t)

	w, body := ts.admin(t, http.MethodPost, "/admin/signup", `{"customer_id":"`+id+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sessionID := body["session_id"].(string)
	assert.Contains(t, body["signup_url"], "state="+sessionID)

	w, body = ts.admin(t, http.MethodGet, "/admin/signup/"+sessionID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "initiated", body["status"])

	w, body = ts.do(t, request{method: http.MethodGet, path: "/signup/callback?error=access_denied&error_description=User+cancelled&state=" + sessionID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "User cancelled", body["error"])

	w, _ = ts.admin(t, http.MethodGet, "/admin/signup/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.admin(t, http.MethodPost, "/admin/signup", `{"customer_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBillingJobsAndInvoices(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.admin(t, http.MethodPost, "/admin/jobs/aggregate", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])

	w, _ = ts.admin(t, http.MethodPost, "/admin/jobs/aggregate", `{"month":"March"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = ts.admin(t, http.MethodPost, "/admin/jobs/cleanup", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["metrics_deleted"])

	w, body = ts.admin(t, http.MethodPost, "/admin/jobs/invoice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["invoices"])

	w, body = ts.admin(t, http.MethodGet, "/admin/invoices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, body["invoices"])

	w, _ = ts.admin(t, http.MethodPost, "/admin/invoices/99/status", `{"status":"Paid"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.admin(t, http.MethodPost, "/admin/invoices/99/status", `{"status":"Lost"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlanAdmin(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.admin(t, http.MethodPost, "/admin/plans", `{"plan_name":"Growth","base_monthly_fee":59,"features":["messaging"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Growth", body["plan"].(map[string]interface{})["plan_name"])

	w, _ = ts.admin(t, http.MethodPost, "/admin/plans", `{"plan_name":"Growth"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = ts.admin(t, http.MethodPut, "/admin/plans/Growth", `{"call_markup_percentage":15}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 15, body["plan"].(map[string]interface{})["call_markup_percentage"])

	w, _ = ts.admin(t, http.MethodGet, "/admin/plans/Nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
