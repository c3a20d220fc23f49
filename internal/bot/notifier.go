package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vip-bot/internal/models"
	"vip-bot/internal/payment"
	"vip-bot/pkg/logger"
)

// Notifier delivers payment decisions to users and review requests to moderators.
type Notifier struct {
	api        Client
	moderators []int64
	logger     *logger.Logger
	now        func() time.Time
}

var _ payment.Notifier = (*Notifier)(nil)

func NewNotifier(api Client, moderators []int64, logger *logger.Logger) *Notifier {
	return &Notifier{
		api:        api,
		moderators: moderators,
		logger:     logger,
		now:        time.Now,
	}
}

// NotifyModerators sends the review request to every moderator chat. Delivery to the
// remaining chats continues when one of them fails.
func (n *Notifier) NotifyModerators(ctx context.Context, p models.Payment, v payment.Verdict) error {
	if len(n.moderators) == 0 {
		n.logger.Warnw("No moderator chat IDs configured", "payment_id", p.ID)
		return nil
	}

	text := moderatorText(p, v, n.now())
	var errs []error
	for _, chatID := range n.moderators {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.ReplyMarkup = moderatorKeyboard(p.ID)
		if _, err := n.api.Send(msg); err != nil {
			n.logger.Errorw("Failed to notify moderator", "chat_id", chatID, "payment_id", p.ID, "error", err)
			errs = append(errs, fmt.Errorf("moderator %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) NotifyGranted(ctx context.Context, ownerID int64, g models.Grant) error {
	msg := tgbotapi.NewMessage(ownerID, grantedText("Оплата подтверждена!", g))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = grantedKeyboard(g.AccessLink, false)
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send access link: %w", err)
	}
	return nil
}

func (n *Notifier) NotifyRejected(ctx context.Context, ownerID int64, paymentID, reason string) error {
	msg := tgbotapi.NewMessage(ownerID, rejectedText(reason))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = newPaymentKeyboard(false)
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send rejection for payment %s: %w", paymentID, err)
	}
	return nil
}
