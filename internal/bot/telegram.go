package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"vip-bot/internal/cache"
	"vip-bot/internal/models"
	"vip-bot/internal/payment"
	"vip-bot/pkg/logger"
)

const (
	updateTimeout    = 60 * time.Second
	maxImageBytes    = 10 << 20
	defaultWaitTTL   = time.Hour
	historyLimit     = 5
	defaultSupport   = "@support_username"
	defaultAccessTTL = 30 * 24 * time.Hour
)

// Client is the part of the Bot API the bot uses. *tgbotapi.BotAPI satisfies it.
type Client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// PaymentService is what the chat front end needs from the payment domain.
type PaymentService interface {
	RegisterOwner(ctx context.Context, owner payment.Owner) error
	CreatePayment(ctx context.Context, owner payment.Owner) (*models.Payment, error)
	CheckStatus(ctx context.Context, paymentID string) (*models.Payment, error)
	History(ctx context.Context, ownerID int64, limit int) ([]models.Payment, error)
	CheckAccess(ctx context.Context, ownerID int64) (models.AccessStatus, error)
	SubmitScreenshot(ctx context.Context, in payment.ScreenshotInput) (*payment.ScreenshotResult, error)
	Approve(ctx context.Context, paymentID string, moderatorID int64) (*models.Payment, error)
	Reject(ctx context.Context, paymentID string, moderatorID int64, reason string) (*models.Payment, error)
}

// Checkout opens card payments. Optional.
type Checkout interface {
	Enabled() bool
	CreateCheckoutSession(ownerID int64, paymentID, successURL, cancelURL string) (string, string, error)
}

type Config struct {
	Amount            decimal.Decimal
	Currency          string
	Window            time.Duration
	AccessTTL         time.Duration
	ScreenshotWaitTTL time.Duration
	SupportContact    string
	Requisites        string
	Moderators        []int64
}

type Deps struct {
	API      Client
	Self     tgbotapi.User
	Service  PaymentService
	Cache    cache.Cache
	Checkout Checkout
	// HTTPClient downloads screenshots from the file API.
	HTTPClient *http.Client
}

type TelegramBot struct {
	api        Client
	self       tgbotapi.User
	service    PaymentService
	cache      cache.Cache
	checkout   Checkout
	httpClient *http.Client
	cfg        Config
	moderators map[int64]bool
	logger     *logger.Logger

	// stopping is set by Stop under mu; no update is tracked in wg after that.
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup

	now func() time.Time
}

func NewTelegramBot(deps Deps, cfg Config, logger *logger.Logger) *TelegramBot {
	if cfg.ScreenshotWaitTTL <= 0 {
		cfg.ScreenshotWaitTTL = defaultWaitTTL
	}
	if cfg.Window <= 0 {
		cfg.Window = payment.DefaultWindow
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.SupportContact == "" {
		cfg.SupportContact = defaultSupport
	}
	if cfg.Currency == "" {
		cfg.Currency = "RUB"
	}
	if cfg.Amount.IsZero() {
		cfg.Amount = decimal.NewFromInt(500)
	}

	moderators := make(map[int64]bool, len(cfg.Moderators))
	for _, id := range cfg.Moderators {
		moderators[id] = true
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &TelegramBot{
		api:        deps.API,
		self:       deps.Self,
		service:    deps.Service,
		cache:      deps.Cache,
		checkout:   deps.Checkout,
		httpClient: httpClient,
		cfg:        cfg,
		moderators: moderators,
		logger:     logger,
		now:        time.Now,
	}
}

// Start removes any webhook and begins receiving updates via long polling.
func (t *TelegramBot) Start(ctx context.Context) error {
	t.logger.Info("Removing any existing webhook")
	_, err := t.api.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: false,
	})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := t.api.GetUpdatesChan(updateConfig)
	t.logger.Infow("Started receiving Telegram updates", "username", t.self.UserName)

	go t.handleUpdates(ctx, updates)
	return nil
}

func (t *TelegramBot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		if !t.track() {
			t.logger.Debugw("Dropping update received during shutdown", "update_id", update.UpdateID)
			continue
		}
		go func(update tgbotapi.Update) {
			defer t.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.logger.Errorw("Recovered from panic while processing update", "update_id", update.UpdateID, "error", r)
				}
			}()

			uctx, cancel := context.WithTimeout(ctx, updateTimeout)
			defer cancel()
			t.handleUpdate(uctx, update)
		}(update)
	}
}

// track registers an in-flight update unless the bot is stopping.
func (t *TelegramBot) track() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopping {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *TelegramBot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		msg := update.Message
		t.logger.Debugw("Received message", "chat_id", msg.Chat.ID, "from", msg.From.ID)
		if msg.IsCommand() {
			t.handleCommand(ctx, msg)
			return
		}
		t.handleMessage(ctx, msg)
	case update.CallbackQuery != nil:
		t.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

// Stop stops polling and waits for in-flight updates until ctx ends.
func (t *TelegramBot) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.stopping = true
	t.mu.Unlock()

	t.api.StopReceivingUpdates()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (t *TelegramBot) isModerator(userID int64) bool {
	return t.moderators[userID]
}

func (t *TelegramBot) price() string {
	if t.cfg.Currency == "RUB" {
		return formatAmount(t.cfg.Amount) + "₽"
	}
	return formatAmount(t.cfg.Amount) + " " + t.cfg.Currency
}

func (t *TelegramBot) chatKey(chatID, userID int64) cache.ChatKey {
	return cache.ChatKey{BotID: t.self.ID, ChatID: chatID, UserID: userID}
}

func (t *TelegramBot) send(chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Errorw("Failed to send message", "chat_id", chatID, "error", err)
	}
}

// edit replaces the text of the message a callback came from, falling back to a new
// message when the callback carries none.
func (t *TelegramBot) edit(cq *tgbotapi.CallbackQuery, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	if cq.Message == nil {
		var m interface{}
		if markup != nil {
			m = *markup
		}
		t.send(cq.From.ID, text, m)
		return
	}

	var cfg tgbotapi.EditMessageTextConfig
	if markup != nil {
		cfg = tgbotapi.NewEditMessageTextAndMarkup(cq.Message.Chat.ID, cq.Message.MessageID, text, *markup)
	} else {
		cfg = tgbotapi.NewEditMessageText(cq.Message.Chat.ID, cq.Message.MessageID, text)
	}
	cfg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.api.Send(cfg); err != nil {
		t.logger.Errorw("Failed to edit message", "chat_id", cq.Message.Chat.ID, "error", err)
	}
}

func (t *TelegramBot) answer(cq *tgbotapi.CallbackQuery, text string) {
	if _, err := t.api.Request(tgbotapi.NewCallback(cq.ID, text)); err != nil {
		t.logger.Warnw("Failed to answer callback", "callback_id", cq.ID, "error", err)
	}
}

// download fetches a file from the Bot API file storage.
func (t *TelegramBot) download(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxImageBytes)
	}
	return data, nil
}
