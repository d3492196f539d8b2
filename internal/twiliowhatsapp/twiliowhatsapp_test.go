package twiliowhatsapp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	require.NoError(t, mock.SendMessage(ctx, "12345", "Hello Test"))
	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, SentMessage{To: "12345", Body: "Hello Test"}, sent[0])

	mock.Err = assert.AnError
	assert.ErrorIs(t, mock.SendMessage(ctx, "12345", "again"), assert.AnError)
	assert.Len(t, mock.Sent(), 1)
}

func TestWhatsAppAddress(t *testing.T) {
	assert.Equal(t, "whatsapp:+15550001", WhatsAppAddress("+15550001"))
	assert.Equal(t, "whatsapp:+15550001", WhatsAppAddress("whatsapp:+15550001"))
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	_, err := NewClient()
	assert.Error(t, err)

	_, err = NewClient(WithAccountSID("AC123"), WithAuthToken("token"))
	assert.ErrorContains(t, err, "fromWhats")

	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token"), WithFromWhats("+15550000"))
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+15550000", c.fromWhats)
}

func TestWebhookValidator_RejectsBadSignature(t *testing.T) {
	v := NewWebhookValidator("secret")
	params := map[string]string{"From": "whatsapp:+15550001", "Body": "/checkin"}
	assert.False(t, v.Validate("https://example.com/webhook/twilio", params, "not-a-signature"))
}
