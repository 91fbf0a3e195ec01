package validator

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTenantID(t *testing.T) {
	valid := []string{"T1", "tenant-42", "acme.prod_1", strings.Repeat("a", 64)}
	for _, id := range valid {
		assert.NoError(t, ValidateTenantID(id), id)
	}

	invalid := []string{"", ".", "..", "a/b", "../etc", "tenant 1", strings.Repeat("a", 65)}
	for _, id := range invalid {
		assert.Error(t, ValidateTenantID(id), id)
	}
}

func TestValidateRecipient(t *testing.T) {
	assert.NoError(t, ValidateRecipient("6281234567890"))
	assert.NoError(t, ValidateRecipient("+62 812-3456-7890"))
	assert.NoError(t, ValidateRecipient("6281234567890@s.whatsapp.net"))
	assert.NoError(t, ValidateRecipient("120363025246125486@g.us"))

	assert.Error(t, ValidateRecipient(""))
	assert.Error(t, ValidateRecipient("12345"))
	assert.Error(t, ValidateRecipient("@s.whatsapp.net"))
	assert.Error(t, ValidateRecipient("abc"))
}

func TestValidateWebhookURL(t *testing.T) {
	assert.NoError(t, ValidateWebhookURL(""))
	assert.NoError(t, ValidateWebhookURL("https://backend.example.com/hooks/wa"))
	assert.NoError(t, ValidateWebhookURL("http://localhost:9000/cb"))

	assert.Error(t, ValidateWebhookURL("ftp://example.com"))
	assert.Error(t, ValidateWebhookURL("/relative/path"))
	assert.Error(t, ValidateWebhookURL("http://"))
}

func TestValidateJSON(t *testing.T) {
	type body struct {
		TenantID string `json:"tenantId"`
	}

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"tenantId":"T1"}`))
	var b body
	require.NoError(t, ValidateJSON(req, &b))
	assert.Equal(t, "T1", b.TenantID)

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"tenantId":"T1","extra":true}`))
	assert.Error(t, ValidateJSON(req, &b), "unknown fields are rejected")

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{`))
	assert.Error(t, ValidateJSON(req, &b))
}
