package bot

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vip-bot/internal/models"
	"vip-bot/internal/payment"
	"vip-bot/pkg/logger"
)

func TestNotifyModerators(t *testing.T) {
	api := &fakeClient{failChat: map[int64]bool{2: true}}
	n := NewNotifier(api, []int64{1, 2, 3}, logger.Nop())

	p := models.Payment{ID: "pay-1", OwnerID: 42, Amount: decimal.NewFromInt(500), Currency: "RUB", ScreenshotURL: "https://cdn/x.jpg"}
	err := n.NotifyModerators(context.Background(), p, payment.Classify("500 успешно"))
	require.Error(t, err, "failure for chat 2 is reported")

	require.Len(t, api.sent, 2)
	assert.Equal(t, int64(1), api.sent[0].chatID)
	assert.Equal(t, int64(3), api.sent[1].chatID)
	for _, s := range api.sent {
		assert.Contains(t, s.text, "<code>pay-1</code>")
		assert.Contains(t, s.text, "80%")
		assert.Equal(t, []string{"mod_approve:pay-1", "mod_reject:pay-1", "mod_details:pay-1"}, s.buttons)
	}
}

func TestNotifyModeratorsNoneConfigured(t *testing.T) {
	api := &fakeClient{}
	n := NewNotifier(api, nil, logger.Nop())

	require.NoError(t, n.NotifyModerators(context.Background(), models.Payment{ID: "p"}, payment.Verdict{}))
	assert.Empty(t, api.sent)
}

func TestNotifyOwner(t *testing.T) {
	api := &fakeClient{}
	n := NewNotifier(api, nil, logger.Nop())

	g := models.Grant{PaymentID: "p", AccessLink: "https://t.me/+x", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, n.NotifyGranted(context.Background(), 42, g))
	assert.Equal(t, int64(42), api.last().chatID)
	assert.Equal(t, []string{"https://t.me/+x"}, api.last().buttons)

	require.NoError(t, n.NotifyRejected(context.Background(), 42, "p", "Скриншот не прошел проверку"))
	assert.Contains(t, api.last().text, "Скриншот не прошел проверку")
	assert.Equal(t, []string{cbPay}, api.last().buttons)

	api.failChat = map[int64]bool{42: true}
	assert.Error(t, n.NotifyGranted(context.Background(), 42, g))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, textNotFound, userMessage(payment.ErrNotFound, "@s"))
	assert.Equal(t, textExpired, userMessage(payment.ErrExpired, "@s"))
	assert.Contains(t, userMessage(payment.ErrUnknownStatus, "@help"), "@help")
	assert.Equal(t, textTemporary, userMessage(errBoom, "@s"))

	assert.True(t, retryable(errBoom))
	assert.False(t, retryable(payment.ErrNotOwner))
}
