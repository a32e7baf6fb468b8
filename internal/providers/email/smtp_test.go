package email

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderContactMessageEscapesHTML(t *testing.T) {
	body, subject, err := Render(TemplateContactMessage, map[string]any{
		"name":    "Ada",
		"email":   "ada@example.com",
		"message": "<script>alert(1)</script>",
	})
	require.NoError(t, err)
	assert.Equal(t, "New ContextSwitch contact message", subject)
	assert.Contains(t, body, "ada@example.com")
	assert.NotContains(t, body, "<script>")
}

func TestRenderSubjectOverride(t *testing.T) {
	_, subject, err := Render(TemplatePlanActivated, map[string]any{"plan": "pro", "monthly_limit": "500", "subject": "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", subject)
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, _, err := Render("nope", nil)
	require.Error(t, err)
}

func TestSMTPSendBuildsMessage(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.example.com", Port: 587, From: "no-reply@example.com"})
	var gotAddr string
	var gotMsg []byte
	p.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		assert.Nil(t, a)
		return nil
	}

	err := p.SendTemplate(context.Background(), []string{"ops@example.com"}, TemplatePaymentFailed, map[string]any{"plan": "pro"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	msg := string(gotMsg)
	assert.True(t, strings.HasPrefix(msg, "From: no-reply@example.com\r\n"))
	assert.Contains(t, msg, "Subject: Your ContextSwitch payment failed\r\n")
}

func TestSendRequiresRecipients(t *testing.T) {
	err := NewSMTP(Config{}).Send(context.Background(), nil, "s", "b")
	require.ErrorIs(t, err, ErrNoRecipients)
}
