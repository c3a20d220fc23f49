package bot

import (
	"errors"

	"vip-bot/internal/payment"
)

// userMessage turns a service error into the text shown in chat.
func userMessage(err error, support string) string {
	switch {
	case errors.Is(err, payment.ErrNotFound):
		return textNotFound
	case errors.Is(err, payment.ErrExpired):
		return textExpired
	case errors.Is(err, payment.ErrNotOwner):
		return "❌ Этот платеж оформлен другим пользователем."
	case errors.Is(err, payment.ErrNoImage):
		return textSendImage
	case errors.Is(err, payment.ErrInvalidTransition):
		return "ℹ️ Платеж уже обработан. Проверьте его статус."
	case errors.Is(err, payment.ErrUnknownStatus):
		return "❓ Неизвестный статус платежа. Обратитесь в поддержку: " + support
	case errors.Is(err, payment.ErrValidation):
		return "❌ Некорректный запрос. Начните заново с /start."
	default:
		return textTemporary
	}
}

// retryable reports whether the user may resend the screenshot for the same payment.
func retryable(err error) bool {
	switch {
	case errors.Is(err, payment.ErrNotFound),
		errors.Is(err, payment.ErrExpired),
		errors.Is(err, payment.ErrNotOwner),
		errors.Is(err, payment.ErrInvalidTransition),
		errors.Is(err, payment.ErrUnknownStatus):
		return false
	}
	return true
}
