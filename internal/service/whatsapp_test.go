package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

func whatsAppBody(t *testing.T, id, jid, text string, fromMe bool) []byte {
	t.Helper()
	var ev WhatsAppEvent
	ev.Event = "messages.upsert"
	ev.Instance = "ovos"
	ev.Data.Key.ID = id
	ev.Data.Key.RemoteJID = jid
	ev.Data.Key.FromMe = fromMe
	ev.Data.Message.Conversation = text
	ev.Data.PushName = "Maria"
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return body
}

func newWhatsApp(env *testEnv, secret string) *WhatsAppService {
	return NewWhatsAppService(secret, env.orders, env.access, logging.Nop())
}

func TestWhatsApp_Signature(t *testing.T) {
	env := newTestEnv(t)
	body := whatsAppBody(t, "m1", "24999990000@s.whatsapp.net", "quero ovos", false)

	_, err := newWhatsApp(env, "").HandleWebhook(context.Background(), body, SignBody(testSecret, body))
	assert.ErrorIs(t, err, ErrWebhookNotConfigured)

	svc := newWhatsApp(env, testSecret)
	_, err = svc.HandleWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = svc.HandleWebhook(context.Background(), body, SignBody("other", body))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = ' '
	_, err = svc.HandleWebhook(context.Background(), tampered, SignBody(testSecret, body))
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	orders, _, err := env.orders.List(context.Background(), &models.OrderListFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestWhatsApp_CreatesDraftOrderOnce(t *testing.T) {
	env := newTestEnv(t)
	svc := newWhatsApp(env, testSecret)
	body := whatsAppBody(t, "msg-1", "24999990000@s.whatsapp.net", "Oi, quero 2 dúzias de ovos", false)

	res, err := svc.HandleWebhook(context.Background(), body, SignBody(testSecret, body))
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotEmpty(t, res.OrderID)

	order, err := env.orders.GetByID(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "u1", order.UserID)
	assert.Equal(t, models.OrderStatusWhatsAppPending, order.Status)
	assert.Equal(t, models.PaymentMethodCash, order.PaymentMethod)
	assert.True(t, order.Total.IsZero())
	require.Len(t, order.Items, 1)
	assert.Contains(t, order.Items[0].Note, "quero 2 dúzias")

	again, err := svc.HandleWebhook(context.Background(), body, SignBody(testSecret, body))
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Empty(t, again.OrderID)

	orders, _, err := env.orders.List(context.Background(), &models.OrderListFilter{})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Zero(t, env.notifier.count())
}

func TestWhatsApp_IgnoredMessages(t *testing.T) {
	env := newTestEnv(t)
	svc := newWhatsApp(env, testSecret)

	tests := []struct {
		name string
		body []byte
	}{
		{"from me", whatsAppBody(t, "a", "24999990000@s.whatsapp.net", "quero ovos", true)},
		{"no keyword", whatsAppBody(t, "b", "24999990000@s.whatsapp.net", "bom dia", false)},
		{"unknown phone", whatsAppBody(t, "c", "21988887777@s.whatsapp.net", "quero ovos", false)},
		{"short phone", whatsAppBody(t, "d", "123@s.whatsapp.net", "quero ovos", false)},
		{"too long", whatsAppBody(t, "e", "24999990000@s.whatsapp.net", "ovos "+strings.Repeat("x", 5000), false)},
		{"other event", []byte(`{"event":"connection.update","data":{}}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.HandleWebhook(context.Background(), tt.body, SignBody(testSecret, tt.body))
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Empty(t, res.OrderID)
		})
	}

	orders, _, err := env.orders.List(context.Background(), &models.OrderListFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestIsOrderMessage(t *testing.T) {
	assert.True(t, IsOrderMessage("Quero fazer um PEDIDO"))
	assert.True(t, IsOrderMessage("uma dúzia por favor"))
	assert.False(t, IsOrderMessage("olá"))
}
