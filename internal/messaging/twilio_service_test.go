package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/BTreeMap/GoalPipe/internal/twiliowhatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Service = (*TwilioService)(nil)

func postWebhook(svc *TwilioService, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rec := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, req)
	return rec
}

func nextEvent(t *testing.T, svc Service) models.Event {
	t.Helper()
	select {
	case ev := <-svc.Events():
		return ev
	default:
		t.Fatal("expected an event, got none")
		return models.Event{}
	}
}

func TestTwilioService_SendMessage(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(client)

	require.NoError(t, svc.SendMessage(context.Background(), "+1 (555) 000-1234", "hello"))
	sent := client.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "+15550001234", sent[0].To)

	receipt := <-svc.Receipts()
	assert.Equal(t, "15550001234", receipt.To)
	assert.Equal(t, models.MessageStatusSent, receipt.Status)

	assert.ErrorIs(t, svc.SendMessage(context.Background(), "", "hello"), models.ErrEmptyRecipient)
	var recipientErr *RecipientError
	assert.ErrorAs(t, svc.SendMessage(context.Background(), "12", "hello"), &recipientErr)

	require.NoError(t, svc.Stop())
	assert.ErrorIs(t, svc.SendMessage(context.Background(), "15550001234", "hello"), ErrServiceStopped)
}

func TestTwilioWebhook_Events(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	rec := postWebhook(svc, url.Values{"From": {"whatsapp:+15550001234"}, "Body": {"/setgoals Read Run"}}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	ev := nextEvent(t, svc)
	assert.Equal(t, models.EventCommand, ev.Kind)
	assert.Equal(t, "setgoals", ev.Name)
	assert.Equal(t, []string{"Read", "Run"}, ev.Args)
	assert.Equal(t, "15550001234", ev.ChatID)
	assert.Equal(t, "15550001234", ev.UserID)

	postWebhook(svc, url.Values{"From": {"whatsapp:+15550001234"}, "Body": {"07:30"}}, "")
	ev = nextEvent(t, svc)
	assert.Equal(t, models.EventText, ev.Kind)
	assert.Equal(t, "07:30", ev.Body)

	postWebhook(svc, url.Values{"From": {"whatsapp:+15550001234"}, "Body": {"checkin:0"}}, "")
	ev = nextEvent(t, svc)
	assert.Equal(t, models.EventButton, ev.Kind)
	assert.Equal(t, "checkin:0", ev.Token)
	assert.True(t, ev.Typed)

	postWebhook(svc, url.Values{"From": {"whatsapp:+15550001234"}, "Body": {"Keep"}, "ButtonPayload": {"menu:keep"}}, "")
	ev = nextEvent(t, svc)
	assert.Equal(t, models.EventButton, ev.Kind)
	assert.Equal(t, "menu:keep", ev.Token)
	assert.False(t, ev.Typed, "native button payload")
}

func TestTwilioWebhook_MissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	assert.Equal(t, http.StatusBadRequest, postWebhook(svc, url.Values{"Body": {"hi"}}, "").Code)
	assert.Equal(t, http.StatusBadRequest, postWebhook(svc, url.Values{"From": {"whatsapp:+15550001234"}}, "").Code)
	assert.Empty(t, svc.Events())
}

func TestTwilioWebhook_StatusCallback(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	rec := postWebhook(svc, url.Values{"MessageStatus": {"delivered"}, "To": {"whatsapp:+15550001234"}}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	receipt := <-svc.Receipts()
	assert.Equal(t, models.MessageStatusDelivered, receipt.Status)
	assert.Equal(t, "15550001234", receipt.To)
	assert.Empty(t, svc.Events())

	rec = postWebhook(svc, url.Values{"MessageStatus": {"queued"}, "To": {"whatsapp:+15550001234"}}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, svc.Receipts())
}

func TestTwilioWebhook_StoppedService(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())

	rec := postWebhook(svc, url.Values{"From": {"whatsapp:+15550001234"}, "Body": {"hi"}}, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// sign computes X-Twilio-Signature: base64 HMAC-SHA1 over the URL followed by the
// sorted parameter names and values.
func sign(token, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(u)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioWebhook_SignatureValidation(t *testing.T) {
	const publicURL = "https://goals.example.com/webhook/twilio"
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(),
		WithSignatureValidation(twiliowhatsapp.NewWebhookValidator("secret"), publicURL))
	form := url.Values{"From": {"whatsapp:+15550001234"}, "Body": {"/help"}}

	assert.Equal(t, http.StatusForbidden, postWebhook(svc, form, "").Code)
	assert.Equal(t, http.StatusForbidden, postWebhook(svc, form, sign("wrong", publicURL, form)).Code)
	assert.Empty(t, svc.Events())

	assert.Equal(t, http.StatusOK, postWebhook(svc, form, sign("secret", publicURL, form)).Code)
	assert.Equal(t, "help", nextEvent(t, svc).Name)
}
