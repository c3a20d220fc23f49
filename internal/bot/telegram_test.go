package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vip-bot/internal/cache"
	"vip-bot/internal/models"
	"vip-bot/internal/payment"
	"vip-bot/pkg/logger"
)

const (
	userID      int64 = 1001
	moderatorID int64 = 9001
)

type testBot struct {
	bot     *TelegramBot
	api     *fakeClient
	service *fakeService
	cache   *cache.Memory
}

func newTestBot(t *testing.T, checkout Checkout) *testBot {
	t.Helper()
	api := &fakeClient{}
	svc := newFakeService()
	mem := cache.NewMemory()

	b := NewTelegramBot(Deps{
		API:      api,
		Self:     tgbotapi.User{ID: 77, UserName: "vip_test_bot"},
		Service:  svc,
		Cache:    mem,
		Checkout: checkout,
	}, Config{
		Amount:     decimal.NewFromInt(500),
		Currency:   "RUB",
		Moderators: []int64{moderatorID},
	}, logger.Nop())

	return &testBot{bot: b, api: api, service: svc, cache: mem}
}

func command(from int64, text string) tgbotapi.Update {
	name := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		Text:      text,
		Chat:      &tgbotapi.Chat{ID: from},
		From:      &tgbotapi.User{ID: from, FirstName: "Анна", UserName: "anna"},
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func callback(from int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: from, FirstName: "Анна"},
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 5, Chat: &tgbotapi.Chat{ID: from}},
	}}
}

func photo(from int64) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 2,
		Chat:      &tgbotapi.Chat{ID: from},
		From:      &tgbotapi.User{ID: from},
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90},
			{FileID: "large", Width: 1280},
		},
	}}
}

func TestStartRegistersOwner(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.bot.handleUpdate(context.Background(), command(userID, "/start"))

	require.Len(t, tb.service.registered, 1)
	assert.Equal(t, userID, tb.service.registered[0].ID)

	msg := tb.api.last()
	assert.Equal(t, userID, msg.chatID)
	assert.Contains(t, msg.text, "Привет, Анна")
	assert.Contains(t, msg.buttons, cbPay)
}

func TestStartCheckoutReturn(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.bot.handleUpdate(context.Background(), command(userID, "/start payment_success"))

	assert.Empty(t, tb.service.registered)
	assert.Equal(t, textCheckoutSuccess, tb.api.last().text)
}

func TestPayCreatesPaymentWithCheckout(t *testing.T) {
	checkout := &fakeCheckout{}
	tb := newTestBot(t, checkout)
	tb.bot.handleUpdate(context.Background(), callback(userID, cbPay))

	msg := tb.api.last()
	assert.True(t, msg.edit)
	assert.Contains(t, msg.text, "pay-1")
	assert.Contains(t, msg.buttons, "payment_done:pay-1")
	assert.Contains(t, msg.buttons, "https://checkout.stripe.com/c/cs_1")
	assert.Equal(t, 1, checkout.calls)
}

func TestPaymentDoneRequestsScreenshot(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.service.payments["pay-1"] = &models.Payment{ID: "pay-1", OwnerID: userID, Status: models.StatusPending}

	tb.bot.handleUpdate(context.Background(), callback(userID, "payment_done:pay-1"))

	assert.Contains(t, tb.api.last().text, "Нужен скриншот оплаты")
	id, ok, err := tb.cache.TakeAwaiting(context.Background(), tb.bot.chatKey(userID, userID))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pay-1", id)
}

func TestPaymentDoneStatuses(t *testing.T) {
	expires := time.Now().Add(24 * time.Hour)
	tests := []struct {
		name    string
		payment *models.Payment
		err     error
		want    string
	}{
		{"verified", &models.Payment{ID: "p", OwnerID: userID, Status: models.StatusVerified, AccessLink: "https://t.me/+abc", ExpiresAt: &expires}, nil, "https://t.me/+abc"},
		{"verified without link", &models.Payment{ID: "p", OwnerID: userID, Status: models.StatusVerified}, nil, "Нажмите «Проверить снова»"},
		{"rejected", &models.Payment{ID: "p", OwnerID: userID, Status: models.StatusRejected, RejectionReason: "плохое фото"}, nil, "плохое фото"},
		{"review", &models.Payment{ID: "p", OwnerID: userID, Status: models.StatusNeedsManualReview}, nil, "Платеж на проверке"},
		{"pending with screenshot", &models.Payment{ID: "p", OwnerID: userID, Status: models.StatusPending, ScreenshotURL: "u"}, nil, "Платеж на проверке"},
		{"expired", &models.Payment{ID: "p", OwnerID: userID, Status: models.StatusExpired}, nil, "Платеж истек"},
		{"other owner", &models.Payment{ID: "p", OwnerID: 5, Status: models.StatusPending}, nil, "Платеж не найден"},
		{"unknown", &models.Payment{ID: "p", OwnerID: userID, Status: "refunded"}, payment.ErrUnknownStatus, "Неизвестный статус платежа:</b> refunded"},
		{"store down", &models.Payment{ID: "p"}, errBoom, "Ошибка при проверке платежа"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBot(t, nil)
			tb.service.payments["p"] = tt.payment
			tb.service.statusErr = tt.err

			tb.bot.handleUpdate(context.Background(), callback(userID, "payment_done:p"))
			assert.Contains(t, tb.api.last().text, tt.want)
		})
	}
}

func TestScreenshotFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	tb := newTestBot(t, nil)
	tb.api.fileURL = srv.URL + "/file/large.jpg"
	expires := time.Now().Add(30 * 24 * time.Hour)
	tb.service.submitRes = &payment.ScreenshotResult{
		Grant: &models.Grant{PaymentID: "pay-1", AccessLink: "https://t.me/+granted", ExpiresAt: expires},
	}

	ctx := context.Background()
	require.NoError(t, tb.cache.SetAwaiting(ctx, tb.bot.chatKey(userID, userID), "pay-1", time.Hour))
	tb.bot.handleUpdate(ctx, photo(userID))

	require.Len(t, tb.service.submitted, 1)
	in := tb.service.submitted[0]
	assert.Equal(t, "pay-1", in.PaymentID)
	assert.Equal(t, userID, in.OwnerID)
	assert.Equal(t, []byte("jpeg-bytes"), in.Image)
	assert.Equal(t, "image/jpeg", in.ContentType)

	msg := tb.api.last()
	assert.Contains(t, msg.text, "автоматически подтверждена")
	assert.Contains(t, msg.buttons, "https://t.me/+granted")

	_, ok, _ := tb.cache.TakeAwaiting(ctx, tb.bot.chatKey(userID, userID))
	assert.False(t, ok, "flag is consumed")
}

func TestScreenshotManualReviewAndRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("img"))
	}))
	defer srv.Close()

	tb := newTestBot(t, nil)
	tb.api.fileURL = srv.URL
	ctx := context.Background()
	key := tb.bot.chatKey(userID, userID)

	tb.service.submitErr = errBoom
	require.NoError(t, tb.cache.SetAwaiting(ctx, key, "pay-1", time.Hour))
	tb.bot.handleUpdate(ctx, photo(userID))
	assert.Equal(t, textTemporary, tb.api.last().text)

	tb.service.submitErr = nil
	tb.service.submitRes = &payment.ScreenshotResult{Payment: &models.Payment{ID: "pay-1"}}
	tb.bot.handleUpdate(ctx, photo(userID))
	assert.Equal(t, textScreenshotReceived, tb.api.last().text)
	assert.Len(t, tb.service.submitted, 2)
}

func TestScreenshotNotAwaited(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.bot.handleUpdate(context.Background(), photo(userID))

	assert.Equal(t, textNoAwaiting, tb.api.last().text)
	assert.Empty(t, tb.service.submitted)
}

func TestTextWhileAwaitingKeepsFlag(t *testing.T) {
	tb := newTestBot(t, nil)
	ctx := context.Background()
	key := tb.bot.chatKey(userID, userID)
	require.NoError(t, tb.cache.SetAwaiting(ctx, key, "pay-1", time.Hour))

	tb.bot.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		Text: "вот", Chat: &tgbotapi.Chat{ID: userID}, From: &tgbotapi.User{ID: userID},
	}})

	assert.Equal(t, textSendImage, tb.api.last().text)
	id, ok, err := tb.cache.TakeAwaiting(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pay-1", id)
}

func TestModerationRequiresModerator(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.service.payments["pay-1"] = &models.Payment{ID: "pay-1", OwnerID: userID, Status: models.StatusNeedsManualReview}

	tb.bot.handleUpdate(context.Background(), callback(userID, "mod_approve:pay-1"))

	assert.Empty(t, tb.service.approved)
	assert.Equal(t, []string{textNotModerator}, tb.api.answers)
}

func TestModeratorApproveAndReject(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.service.payments["pay-1"] = &models.Payment{ID: "pay-1", OwnerID: userID, Status: models.StatusNeedsManualReview}
	tb.service.payments["pay-2"] = &models.Payment{ID: "pay-2", OwnerID: userID, Status: models.StatusNeedsManualReview}

	tb.bot.handleUpdate(context.Background(), callback(moderatorID, "mod_approve:pay-1"))
	assert.Equal(t, []string{"pay-1"}, tb.service.approved)
	assert.Contains(t, tb.api.last().text, "Платеж pay-1 подтвержден")

	tb.bot.handleUpdate(context.Background(), callback(moderatorID, "mod_reject:pay-2"))
	assert.Equal(t, []string{"pay-2:" + payment.DefaultRejectReason}, tb.service.rejected)
	assert.Contains(t, tb.api.last().text, "Платеж pay-2 отклонен")

	tb.bot.handleUpdate(context.Background(), callback(moderatorID, "mod_approve:missing"))
	assert.Equal(t, "❌ Платеж не найден", tb.api.answers[len(tb.api.answers)-1])
}

func TestModeratorDetails(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.service.payments["pay-1"] = &models.Payment{
		ID: "pay-1", OwnerID: userID, Status: models.StatusNeedsManualReview,
		Amount: decimal.NewFromInt(500), Currency: "RUB", Confidence: 40, ExtractedText: "Перевод <500>",
	}

	tb.bot.handleUpdate(context.Background(), callback(moderatorID, "mod_details:pay-1"))

	msg := tb.api.last()
	assert.Equal(t, moderatorID, msg.chatID)
	assert.Contains(t, msg.text, "Перевод &lt;500&gt;")
	assert.Contains(t, msg.buttons, "mod_approve:pay-1")
}

func TestProfile(t *testing.T) {
	tb := newTestBot(t, nil)
	until := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	tb.service.access = models.AccessStatus{HasAccess: true, ExpiresAt: &until}
	tb.service.history = []models.Payment{{ID: "p", Amount: decimal.NewFromInt(500), Currency: "RUB", Status: models.StatusVerified}}

	tb.bot.handleUpdate(context.Background(), callback(userID, cbProfile))

	msg := tb.api.last()
	assert.Contains(t, msg.text, "VIP доступ активен")
	assert.Contains(t, msg.text, "500 RUB")
}

func TestStopWaitsForHandlers(t *testing.T) {
	tb := newTestBot(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, tb.bot.Stop(ctx))
	assert.True(t, tb.api.stopped)
}

func TestUpdatesHandledBeforeStop(t *testing.T) {
	tb := newTestBot(t, nil)
	updates := make(chan tgbotapi.Update, 1)
	updates <- command(userID, "/start")
	close(updates)

	tb.bot.handleUpdates(context.Background(), updates)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tb.bot.Stop(ctx))
	assert.Contains(t, tb.api.last().text, "VIP")
}

func TestUpdatesAfterStopAreDropped(t *testing.T) {
	tb := newTestBot(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tb.bot.Stop(ctx))

	updates := make(chan tgbotapi.Update, 1)
	updates <- command(userID, "/start")
	close(updates)
	tb.bot.handleUpdates(context.Background(), updates)

	require.NoError(t, tb.bot.Stop(ctx))
	assert.Empty(t, tb.api.sent)
	assert.Empty(t, tb.service.registered)
}

func TestParseCallback(t *testing.T) {
	action, id := parseCallback("payment_done:abc-1")
	assert.Equal(t, cbPaymentDone, action)
	assert.Equal(t, "abc-1", id)

	action, id = parseCallback("pay")
	assert.Equal(t, cbPay, action)
	assert.Empty(t, id)
}
