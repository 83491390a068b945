package secure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	a, err := Token(32)
	require.NoError(t, err)
	b, err := Token(32)
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=")
}

func TestVerifySignatureHeader(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	header := SignatureHeader("app-secret", body)

	assert.True(t, VerifySignatureHeader("app-secret", header, body))
	assert.False(t, VerifySignatureHeader("other", header, body))
	assert.False(t, VerifySignatureHeader("app-secret", header, []byte("tampered")))
	assert.False(t, VerifySignatureHeader("app-secret", Sign("app-secret", body), body), "prefix required")
	assert.False(t, VerifySignatureHeader("", header, body))
	assert.False(t, VerifySignatureHeader("app-secret", "sha256=", body))
}
