package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"whatsapp-provider/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	From struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"from"`
	Subject          string `json:"subject"`
	Personalizations []struct {
		To []struct {
			Email string `json:"email"`
		} `json:"to"`
	} `json:"personalizations"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

func TestSend(t *testing.T) {
	var got sentMail
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := New(config.MailConfig{SendGridAPIKey: "SG.key", FromEmail: "billing@provider.test", FromName: "Billing"}).WithHost(srv.URL)
	require.NoError(t, m.Send(context.Background(), "ops@acme.test", "Invoice for March 2025", "Dear Acme"))

	assert.Equal(t, "Bearer SG.key", auth)
	assert.Equal(t, "/v3/mail/send", path)
	assert.Equal(t, "billing@provider.test", got.From.Email)
	assert.Equal(t, "Billing", got.From.Name)
	assert.Equal(t, "Invoice for March 2025", got.Subject)
	require.Len(t, got.Personalizations, 1)
	require.Len(t, got.Personalizations[0].To, 1)
	assert.Equal(t, "ops@acme.test", got.Personalizations[0].To[0].Email)
	require.Len(t, got.Content, 1)
	assert.Equal(t, "text/plain", got.Content[0].Type)
	assert.Equal(t, "Dear Acme", got.Content[0].Value)
}

func TestSendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"message":"bad from"}]}`))
	}))
	defer srv.Close()

	m := New(config.MailConfig{SendGridAPIKey: "SG.key"}).WithHost(srv.URL)
	assert.Error(t, m.Send(context.Background(), "ops@acme.test", "s", "b"))
}

func TestSendWithoutKeyIsNoop(t *testing.T) {
	m := New(config.MailConfig{})
	assert.False(t, m.Enabled())
	assert.NoError(t, m.Send(context.Background(), "ops@acme.test", "s", "b"))
}
