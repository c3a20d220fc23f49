package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vip-bot/internal/cache"
	"vip-bot/internal/models"
	"vip-bot/internal/payment"
)

func ownerOf(u *tgbotapi.User) payment.Owner {
	return payment.Owner{ID: u.ID, Username: u.UserName, FirstName: u.FirstName}
}

func (t *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	user := message.From

	t.logger.Infow("Handling command", "command", message.Command(), "user_id", user.ID)

	switch message.Command() {
	case "start":
		switch message.CommandArguments() {
		case "payment_success":
			t.send(chatID, textCheckoutSuccess, nil)
			return
		case "payment_cancel":
			t.send(chatID, textCheckoutCancel, nil)
			return
		}

		if err := t.service.RegisterOwner(ctx, ownerOf(user)); err != nil {
			t.logger.Errorw("Failed to register user", "user_id", user.ID, "error", err)
		}
		t.send(chatID, welcomeText(user.FirstName, t.price()), welcomeKeyboard(t.price()))

	case "help":
		t.send(chatID, infoText(t.price(), t.accessDays(), t.cfg.SupportContact), infoKeyboard())

	case "profile":
		t.send(chatID, t.profile(ctx, user.ID), tgbotapi.NewInlineKeyboardMarkup(backButton(cbBackToStart)))

	default:
		t.send(chatID, textUnknownCommand, nil)
	}
}

// handleMessage consumes a screenshot when the user was asked for one.
func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID
	key := t.chatKey(chatID, userID)

	paymentID, awaiting, err := t.cache.TakeAwaiting(ctx, key)
	if err != nil {
		t.logger.Errorw("Failed to read screenshot state", "user_id", userID, "error", err)
		t.send(chatID, textTemporary, nil)
		return
	}
	if !awaiting {
		if hasImage(message) {
			t.send(chatID, textNoAwaiting, tgbotapi.NewInlineKeyboardMarkup(backButton(cbBackToStart)))
			return
		}
		t.send(chatID, "Пожалуйста, используйте /start для начала работы с ботом.", nil)
		return
	}

	fileID, contentType, fileName, ok := imageOf(message)
	if !ok {
		t.keepAwaiting(ctx, key, paymentID)
		t.send(chatID, textSendImage, tgbotapi.NewInlineKeyboardMarkup(backButton(cbBackToStart)))
		return
	}

	image, err := t.download(ctx, fileID)
	if err != nil {
		t.logger.Errorw("Failed to download screenshot", "payment_id", paymentID, "error", err)
		t.keepAwaiting(ctx, key, paymentID)
		t.send(chatID, "❌ Ошибка при обработке скриншота. Попробуйте еще раз.", tgbotapi.NewInlineKeyboardMarkup(backButton(cbBackToStart)))
		return
	}

	res, err := t.service.SubmitScreenshot(ctx, payment.ScreenshotInput{
		PaymentID:   paymentID,
		OwnerID:     userID,
		Image:       image,
		ContentType: contentType,
		FileName:    fileName,
	})
	if err != nil {
		t.logger.Errorw("Failed to process screenshot", "payment_id", paymentID, "user_id", userID, "error", err)
		if retryable(err) {
			t.keepAwaiting(ctx, key, paymentID)
		}
		if errors.Is(err, payment.ErrExpired) {
			t.send(chatID, textExpired, newPaymentKeyboard(true))
			return
		}
		t.send(chatID, userMessage(err, t.cfg.SupportContact), tgbotapi.NewInlineKeyboardMarkup(backButton(cbBackToStart)))
		return
	}

	if res.Grant != nil {
		t.send(chatID, grantedText("Оплата автоматически подтверждена!", *res.Grant), grantedKeyboard(res.Grant.AccessLink, true))
		return
	}
	t.send(chatID, textScreenshotReceived, tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Проверить статус", withID(cbPaymentDone, paymentID))),
		backButton(cbBackToStart),
	))
}

// keepAwaiting marks the chat as waiting for a screenshot of paymentID.
func (t *TelegramBot) keepAwaiting(ctx context.Context, key cache.ChatKey, paymentID string) {
	if err := t.cache.SetAwaiting(ctx, key, paymentID, t.cfg.ScreenshotWaitTTL); err != nil {
		t.logger.Errorw("Failed to save screenshot state", "key", key.String(), "payment_id", paymentID, "error", err)
	}
}

func hasImage(m *tgbotapi.Message) bool {
	_, _, _, ok := imageOf(m)
	return ok
}

// imageOf returns the largest photo of the message, or an image sent as a document.
func imageOf(m *tgbotapi.Message) (fileID, contentType, fileName string, ok bool) {
	if n := len(m.Photo); n > 0 {
		return m.Photo[n-1].FileID, "image/jpeg", "", true
	}
	if d := m.Document; d != nil && strings.HasPrefix(d.MimeType, "image/") {
		return d.FileID, d.MimeType, d.FileName, true
	}
	return "", "", "", false
}

func (t *TelegramBot) handleCallbackQuery(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil {
		return
	}
	action, id := parseCallback(cq.Data)
	t.logger.Infow("Received callback query", "user_id", cq.From.ID, "action", action, "payment_id", id)

	switch action {
	case cbPay:
		t.answer(cq, "")
		t.handlePay(ctx, cq)
	case cbPaymentDone:
		t.answer(cq, "")
		t.handlePaymentDone(ctx, cq, id)
	case cbInfo:
		t.answer(cq, "")
		kb := infoKeyboard()
		t.edit(cq, infoText(t.price(), t.accessDays(), t.cfg.SupportContact), &kb)
	case cbInstructions:
		t.answer(cq, "")
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💳 Оплатить доступ", cbPay)),
			backButton(cbBackToStart),
		)
		t.edit(cq, instructionsText(t.price(), t.windowHours()), &kb)
	case cbProfile:
		t.answer(cq, "")
		kb := tgbotapi.NewInlineKeyboardMarkup(backButton(cbBackToStart))
		t.edit(cq, t.profile(ctx, cq.From.ID), &kb)
	case cbBackToStart:
		t.answer(cq, "")
		if cq.Message != nil {
			if err := t.cache.ClearAwaiting(ctx, t.chatKey(cq.Message.Chat.ID, cq.From.ID)); err != nil {
				t.logger.Warnw("Failed to clear screenshot state", "user_id", cq.From.ID, "error", err)
			}
		}
		kb := welcomeKeyboard(t.price())
		t.edit(cq, welcomeText(cq.From.FirstName, t.price()), &kb)
	case cbModApprove, cbModReject, cbModDetails:
		t.handleModeration(ctx, cq, action, id)
	default:
		t.answer(cq, "")
	}
}

func (t *TelegramBot) handlePay(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	owner := ownerOf(cq.From)
	p, err := t.service.CreatePayment(ctx, owner)
	if err != nil {
		t.logger.Errorw("Error creating payment", "user_id", owner.ID, "error", err)
		kb := tgbotapi.NewInlineKeyboardMarkup(backButton(cbBackToStart))
		t.edit(cq, textPaymentError, &kb)
		return
	}

	var checkoutURL string
	if t.checkout != nil && t.checkout.Enabled() {
		successURL := fmt.Sprintf("https://t.me/%s?start=payment_success", t.self.UserName)
		cancelURL := fmt.Sprintf("https://t.me/%s?start=payment_cancel", t.self.UserName)
		_, checkoutURL, err = t.checkout.CreateCheckoutSession(owner.ID, p.ID, successURL, cancelURL)
		if err != nil {
			t.logger.Warnw("Failed to create Stripe session", "payment_id", p.ID, "error", err)
			checkoutURL = ""
		}
	}

	kb := paymentKeyboard(p.ID, checkoutURL)
	t.edit(cq, paymentText(p, t.cfg.Requisites, t.windowHours()), &kb)
}

func (t *TelegramBot) handlePaymentDone(ctx context.Context, cq *tgbotapi.CallbackQuery, paymentID string) {
	back := tgbotapi.NewInlineKeyboardMarkup(backButton(cbBackToStart))
	if paymentID == "" {
		t.edit(cq, textNotFound, &back)
		return
	}

	p, err := t.service.CheckStatus(ctx, paymentID)
	switch {
	case errors.Is(err, payment.ErrUnknownStatus) && p != nil:
		t.edit(cq, unknownStatusText(p.Status, t.cfg.SupportContact), &back)
		return
	case errors.Is(err, payment.ErrNotFound):
		t.edit(cq, textNotFound, &back)
		return
	case err != nil:
		t.logger.Errorw("Error verifying payment", "payment_id", paymentID, "error", err)
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Попробовать снова", withID(cbPaymentDone, paymentID))),
			backButton(cbBackToStart),
		)
		t.edit(cq, technicalErrorText(paymentID), &kb)
		return
	}

	if p.OwnerID != cq.From.ID {
		t.edit(cq, textNotFound, &back)
		return
	}

	switch p.Status {
	case models.StatusVerified, models.StatusAutoVerified:
		if p.AccessLink == "" || p.ExpiresAt == nil {
			kb := checkAgainKeyboard(p.ID, cbBackToStart)
			t.edit(cq, textLinkPending, &kb)
			return
		}
		kb := grantedKeyboard(p.AccessLink, true)
		t.edit(cq, grantedText("Оплата уже подтверждена!", models.Grant{
			PaymentID:  p.ID,
			AccessLink: p.AccessLink,
			ExpiresAt:  *p.ExpiresAt,
		}), &kb)

	case models.StatusRejected:
		kb := newPaymentKeyboard(true)
		t.edit(cq, rejectedText(p.RejectionReason), &kb)

	case models.StatusNeedsManualReview:
		kb := checkAgainKeyboard(p.ID, cbBackToStart)
		t.edit(cq, textOnReview, &kb)

	case models.StatusPending:
		if p.ScreenshotURL != "" {
			kb := checkAgainKeyboard(p.ID, cbBackToStart)
			t.edit(cq, textOnReview, &kb)
			return
		}
		if cq.Message != nil {
			t.keepAwaiting(ctx, t.chatKey(cq.Message.Chat.ID, cq.From.ID), p.ID)
		}
		kb := checkAgainKeyboard(p.ID, cbPay)
		t.edit(cq, requestScreenshotText(t.price()), &kb)

	case models.StatusExpired:
		kb := newPaymentKeyboard(true)
		t.edit(cq, textExpired, &kb)

	default:
		t.edit(cq, unknownStatusText(p.Status, t.cfg.SupportContact), &back)
	}
}

func (t *TelegramBot) handleModeration(ctx context.Context, cq *tgbotapi.CallbackQuery, action, paymentID string) {
	moderatorID := cq.From.ID
	if !t.isModerator(moderatorID) {
		t.logger.Warnw("Moderation attempt by non-moderator", "user_id", moderatorID, "action", action, "payment_id", paymentID)
		t.answer(cq, textNotModerator)
		return
	}
	if paymentID == "" {
		t.answer(cq, "❌ Платеж не найден")
		return
	}

	switch action {
	case cbModApprove:
		p, err := t.service.Approve(ctx, paymentID, moderatorID)
		if err != nil {
			t.logger.Errorw("Error approving payment", "payment_id", paymentID, "error", err)
			t.answer(cq, moderationError(err, "❌ Ошибка при подтверждении"))
			return
		}
		t.edit(cq, moderatorDoneText(true, p, t.now()), nil)
		t.answer(cq, "✅ Платеж подтвержден")

	case cbModReject:
		p, err := t.service.Reject(ctx, paymentID, moderatorID, payment.DefaultRejectReason)
		if err != nil {
			t.logger.Errorw("Error rejecting payment", "payment_id", paymentID, "error", err)
			t.answer(cq, moderationError(err, "❌ Ошибка при отклонении"))
			return
		}
		t.edit(cq, moderatorDoneText(false, p, t.now()), nil)
		t.answer(cq, "❌ Платеж отклонен")

	case cbModDetails:
		p, err := t.service.CheckStatus(ctx, paymentID)
		if err != nil && p == nil {
			t.answer(cq, moderationError(err, "❌ Ошибка при загрузке платежа"))
			return
		}
		t.answer(cq, "")
		chatID := moderatorID
		if cq.Message != nil {
			chatID = cq.Message.Chat.ID
		}
		t.send(chatID, detailsText(p), moderatorKeyboard(p.ID))
	}
}

func moderationError(err error, fallback string) string {
	switch {
	case errors.Is(err, payment.ErrNotFound):
		return "❌ Платеж не найден"
	case errors.Is(err, payment.ErrExpired):
		return "⏰ Платеж истек"
	case errors.Is(err, payment.ErrInvalidTransition):
		return "ℹ️ Платеж уже обработан"
	default:
		return fallback
	}
}

func (t *TelegramBot) profile(ctx context.Context, userID int64) string {
	access, err := t.service.CheckAccess(ctx, userID)
	if err != nil {
		t.logger.Errorw("Failed to check access", "user_id", userID, "error", err)
		return textTemporary
	}
	history, err := t.service.History(ctx, userID, historyLimit)
	if err != nil {
		t.logger.Errorw("Failed to load payment history", "user_id", userID, "error", err)
		return textTemporary
	}
	return profileText(access, history)
}

func (t *TelegramBot) accessDays() int {
	return int(t.cfg.AccessTTL.Hours() / 24)
}

func (t *TelegramBot) windowHours() int {
	return int(t.cfg.Window.Hours())
}
