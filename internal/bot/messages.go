package bot

import (
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"vip-bot/internal/models"
	"vip-bot/internal/payment"
)

const (
	cbPay          = "pay"
	cbInfo         = "info"
	cbProfile      = "profile"
	cbInstructions = "instructions"
	cbBackToStart  = "back_to_start"
	cbPaymentDone  = "payment_done"
	cbModApprove   = "mod_approve"
	cbModReject    = "mod_reject"
	cbModDetails   = "mod_details"

	dateLayout = "02.01.2006 15:04"
)

const defaultRequisites = "• СберБанк: <code>+7 (XXX) XXX-XX-XX</code>\n" +
	"• Тинькофф: <code>+7 (XXX) XXX-XX-XX</code>\n" +
	"• ЮMoney: <code>XXXXXXXXXXXXXX</code>"

func withID(action, id string) string {
	return action + ":" + id
}

// parseCallback splits "action:id" callback data.
func parseCallback(data string) (string, string) {
	action, id, _ := strings.Cut(data, ":")
	return action, strings.TrimSpace(id)
}

func formatAmount(d decimal.Decimal) string {
	if d.IsInteger() {
		return d.String()
	}
	return d.StringFixed(2)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "нет"
	}
	return t.Local().Format(dateLayout)
}

func backButton(data string) []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔙 Назад", data))
}

func welcomeText(firstName string, price string) string {
	name := html.EscapeString(firstName)
	if name == "" {
		name = "друг"
	}
	return fmt.Sprintf("👋 Привет, %s!\n\n"+
		"🎯 Добро пожаловать в VIP бот!\n\n"+
		"💎 Получите доступ к эксклюзивному контенту всего за %s.\n\n"+
		"🔥 Что вас ждет:\n"+
		"• Закрытый VIP чат\n"+
		"• Эксклюзивные материалы\n"+
		"• Прямое общение с экспертами\n"+
		"• Приоритетная поддержка\n\n"+
		"💳 Готовы присоединиться?", name, price)
}

func welcomeKeyboard(price string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💳 Оплатить доступ ("+price+")", cbPay)),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Подробнее", cbInfo),
			tgbotapi.NewInlineKeyboardButtonData("👤 Профиль", cbProfile),
		),
	)
}

func infoText(price string, accessDays int, support string) string {
	return fmt.Sprintf("ℹ️ <b>Подробная информация</b>\n\n"+
		"💎 <b>VIP доступ включает:</b>\n"+
		"• Закрытый Telegram чат с экспертами\n"+
		"• Эксклюзивные материалы и гайды\n"+
		"• Ежедневные аналитические обзоры\n"+
		"• Приоритетная техническая поддержка\n"+
		"• Доступ к архиву материалов\n\n"+
		"💰 <b>Стоимость:</b> %s\n"+
		"⏰ <b>Срок действия:</b> %d дней\n\n"+
		"📞 <b>Поддержка:</b> %s", price, accessDays, html.EscapeString(support))
}

func infoKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💳 Оплатить доступ", cbPay)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📖 Как оплатить", cbInstructions)),
		backButton(cbBackToStart),
	)
}

func instructionsText(price string, windowHours int) string {
	return fmt.Sprintf("📖 <b>Как оплатить</b>\n\n"+
		"1. Нажмите «Оплатить доступ» и переведите %s по реквизитам.\n"+
		"2. Сделайте скриншот подтверждения оплаты.\n"+
		"3. Нажмите «Я оплатил» и отправьте скриншот в чат.\n\n"+
		"💡 Скриншот должен содержать:\n"+
		"• Сумму платежа (%s)\n"+
		"• Дату и время\n"+
		"• Статус «Успешно» или «Выполнено»\n\n"+
		"⏰ На оплату отводится %d ч.", price, price, windowHours)
}

func paymentText(p *models.Payment, requisites string, windowHours int) string {
	if strings.TrimSpace(requisites) == "" {
		requisites = defaultRequisites
	}
	return fmt.Sprintf("💳 <b>Оплата VIP доступа</b>\n\n"+
		"💰 <b>Сумма:</b> %s %s\n"+
		"🆔 <b>ID платежа:</b> <code>%s</code>\n\n"+
		"📱 <b>Способы оплаты:</b>\n%s\n\n"+
		"📸 <b>После оплаты:</b>\n"+
		"1. Сделайте скриншот подтверждения\n"+
		"2. Нажмите 'Я оплатил'\n"+
		"3. Отправьте скриншот в чат\n\n"+
		"⏰ <b>Время на оплату:</b> %d часа",
		formatAmount(p.Amount), p.Currency, p.ID, requisites, windowHours)
}

func paymentKeyboard(paymentID, checkoutURL string) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ Я оплатил", withID(cbPaymentDone, paymentID))),
	}
	if checkoutURL != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("💳 Оплатить картой", checkoutURL)))
	}
	rows = append(rows, backButton(cbBackToStart))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func grantedText(title string, g models.Grant) string {
	return fmt.Sprintf("✅ <b>%s</b>\n\n"+
		"🎉 Поздравляем! Вы получили VIP доступ.\n\n"+
		"🔗 <b>Ваша ссылка для входа:</b>\n%s\n\n"+
		"📅 <b>Действует до:</b> %s\n\n"+
		"💎 Добро пожаловать в VIP клуб!", title, g.AccessLink, formatTime(&g.ExpiresAt))
}

func grantedKeyboard(link string, withBack bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🎯 Войти в VIP чат", link)),
	}
	if withBack {
		rows = append(rows, backButton(cbBackToStart))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func rejectedText(reason string) string {
	if reason == "" {
		reason = "Неизвестная причина"
	}
	return fmt.Sprintf("❌ <b>Платеж отклонен</b>\n\n"+
		"📝 <b>Причина:</b> %s\n\n"+
		"Пожалуйста, попробуйте оплатить снова или обратитесь в поддержку.", html.EscapeString(reason))
}

func newPaymentKeyboard(withBack bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💳 Новый платеж", cbPay)),
	}
	if withBack {
		rows = append(rows, backButton(cbBackToStart))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

const (
	textOnReview = "⏳ <b>Платеж на проверке</b>\n\n" +
		"📸 Скриншот получен и передан на проверку модераторам.\n\n" +
		"⏰ Обычно проверка занимает до 30 минут.\n\n" +
		"Мы уведомим вас о результате."

	textScreenshotReceived = "📸 <b>Скриншот получен!</b>\n\n" +
		"⏳ Ваш платеж отправлен на проверку модераторам.\n\n" +
		"⏰ Обычно проверка занимает до 30 минут.\n\n" +
		"Мы уведомим вас о результате."

	textExpired = "⏰ <b>Платеж истек</b>\n\n" +
		"Время на оплату истекло. Пожалуйста, создайте новый платеж."

	textNotFound = "❌ <b>Платеж не найден</b>\n\n" +
		"Возможно, платеж был удален или ID неверный."

	textSendImage = "❌ Пожалуйста, отправьте изображение (скриншот) подтверждения оплаты."

	textNoAwaiting = "📸 Чтобы отправить скриншот, сначала создайте платеж и нажмите «Я оплатил»."

	textPaymentError = "❌ Ошибка при создании платежа. Попробуйте позже."

	textTemporary = "⚠️ Сервис временно недоступен. Попробуйте позже."

	textCheckoutSuccess = "Спасибо за оплату! Доступ будет выдан автоматически, как только платежная система подтвердит платеж."

	textCheckoutCancel = "Оплата была отменена. Вы можете попробовать снова, используя /start."

	textUnknownCommand = "Неизвестная команда. Используйте /start для начала работы."

	textNotModerator = "⛔ Недостаточно прав"
	textLinkPending  = "✅ <b>Оплата подтверждена!</b>\n\nСсылка для входа еще готовится. Нажмите «Проверить снова» через минуту."
)

func requestScreenshotText(price string) string {
	return "📸 <b>Нужен скриншот оплаты</b>\n\n" +
		"Пожалуйста, отправьте скриншот подтверждения оплаты в этот чат.\n\n" +
		"💡 Скриншот должен содержать:\n" +
		"• Сумму платежа (" + price + ")\n" +
		"• Дату и время\n" +
		"• Статус 'Успешно' или 'Выполнено'"
}

func checkAgainKeyboard(paymentID, back string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Проверить снова", withID(cbPaymentDone, paymentID))),
		backButton(back),
	)
}

func unknownStatusText(status models.Status, support string) string {
	return fmt.Sprintf("❓ <b>Неизвестный статус платежа:</b> %s\n\n"+
		"Обратитесь в поддержку для решения проблемы: %s",
		html.EscapeString(string(status)), html.EscapeString(support))
}

func technicalErrorText(paymentID string) string {
	return "❌ <b>Ошибка при проверке платежа</b>\n\n" +
		"Произошла техническая ошибка. Попробуйте позже или обратитесь в поддержку.\n\n" +
		"🆔 <b>ID платежа:</b> <code>" + html.EscapeString(paymentID) + "</code>"
}

var statusTitles = map[models.Status]string{
	models.StatusPending:           "⏳ ожидает оплаты",
	models.StatusNeedsManualReview: "🔍 на проверке",
	models.StatusAutoVerified:      "✅ подтвержден",
	models.StatusVerified:          "✅ подтвержден",
	models.StatusRejected:          "❌ отклонен",
	models.StatusExpired:           "⏰ истек",
}

func statusTitle(s models.Status) string {
	if t, ok := statusTitles[s]; ok {
		return t
	}
	return string(s)
}

func profileText(access models.AccessStatus, history []models.Payment) string {
	var b strings.Builder
	b.WriteString("👤 <b>Ваш профиль</b>\n\n")
	if access.HasAccess {
		fmt.Fprintf(&b, "💎 VIP доступ активен до %s\n\n", formatTime(access.ExpiresAt))
	} else {
		b.WriteString("🔒 VIP доступ не активен\n\n")
	}

	if len(history) == 0 {
		b.WriteString("Платежей пока нет.")
		return b.String()
	}
	b.WriteString("🧾 <b>Последние платежи:</b>\n")
	for _, p := range history {
		created := p.CreatedAt
		fmt.Fprintf(&b, "• %s: %s %s, %s\n", formatTime(&created), formatAmount(p.Amount), p.Currency, statusTitle(p.Status))
	}
	return b.String()
}

func moderatorText(p models.Payment, v payment.Verdict, now time.Time) string {
	screenshot := p.ScreenshotURL
	if screenshot == "" {
		screenshot = "нет"
	}
	return fmt.Sprintf("🔔 <b>Новый платеж на проверку</b>\n\n"+
		"🆔 <b>Payment ID:</b> <code>%s</code>\n"+
		"👤 <b>User ID:</b> <code>%d</code>\n"+
		"💰 <b>Сумма:</b> %s %s\n"+
		"📊 <b>Уверенность:</b> %d%% (сумма %s, статус %s, дата %s)\n\n"+
		"📸 <b>Скриншот:</b> %s\n\n"+
		"⏰ <b>Время:</b> %s",
		p.ID, p.OwnerID, formatAmount(p.Amount), p.Currency,
		v.Confidence, mark(v.FoundAmount), mark(v.FoundSuccess), mark(v.FoundDate),
		html.EscapeString(screenshot), now.Local().Format(dateLayout))
}

func mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

func moderatorKeyboard(paymentID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", withID(cbModApprove, paymentID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", withID(cbModReject, paymentID)),
		),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📝 Детали", withID(cbModDetails, paymentID))),
	)
}

func detailsText(p *models.Payment) string {
	extracted := strings.TrimSpace(p.ExtractedText)
	if extracted == "" {
		extracted = "нет"
	}
	if len([]rune(extracted)) > 500 {
		extracted = string([]rune(extracted)[:500]) + "…"
	}
	created := p.CreatedAt
	return fmt.Sprintf("📝 <b>Детали платежа</b> <code>%s</code>\n\n"+
		"👤 <b>User ID:</b> <code>%d</code>\n"+
		"💰 <b>Сумма:</b> %s %s\n"+
		"💳 <b>Метод:</b> %s\n"+
		"📌 <b>Статус:</b> %s\n"+
		"📊 <b>Уверенность:</b> %d%%\n"+
		"🕒 <b>Создан:</b> %s\n"+
		"📸 <b>Скриншот:</b> %s\n\n"+
		"🔤 <b>Распознанный текст:</b>\n%s",
		p.ID, p.OwnerID, formatAmount(p.Amount), p.Currency, html.EscapeString(p.Method),
		statusTitle(p.Status), p.Confidence, formatTime(&created),
		html.EscapeString(orDash(p.ScreenshotURL)), html.EscapeString(extracted))
}

func orDash(s string) string {
	if s == "" {
		return "нет"
	}
	return s
}

func moderatorDoneText(approved bool, p *models.Payment, now time.Time) string {
	if approved {
		return fmt.Sprintf("✅ <b>Платеж %s подтвержден</b>\n\n👤 Пользователь %d получил доступ.\n⏰ %s",
			p.ID, p.OwnerID, now.Local().Format(dateLayout))
	}
	return fmt.Sprintf("❌ <b>Платеж %s отклонен</b>\n\n👤 Пользователь %d уведомлен.\n⏰ %s",
		p.ID, p.OwnerID, now.Local().Format(dateLayout))
}
