package bot

import (
	"context"
	"errors"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vip-bot/internal/models"
	"vip-bot/internal/payment"
)

var errBoom = errors.New("boom")

type sent struct {
	chatID  int64
	text    string
	edit    bool
	buttons []string
}

type fakeClient struct {
	mu       sync.Mutex
	sent     []sent
	answers  []string
	fileURL  string
	failChat map[int64]bool
	stopped  bool
}

func buttonsOf(markup interface{}) []string {
	var kb *tgbotapi.InlineKeyboardMarkup
	switch m := markup.(type) {
	case tgbotapi.InlineKeyboardMarkup:
		kb = &m
	case *tgbotapi.InlineKeyboardMarkup:
		kb = m
	}
	if kb == nil {
		return nil
	}
	var out []string
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			switch {
			case b.CallbackData != nil:
				out = append(out, *b.CallbackData)
			case b.URL != nil:
				out = append(out, *b.URL)
			}
		}
	}
	return out
}

func (f *fakeClient) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		if f.failChat[m.ChatID] {
			return tgbotapi.Message{}, errBoom
		}
		f.sent = append(f.sent, sent{chatID: m.ChatID, text: m.Text, buttons: buttonsOf(m.ReplyMarkup)})
	case tgbotapi.EditMessageTextConfig:
		f.sent = append(f.sent, sent{chatID: m.ChatID, text: m.Text, edit: true, buttons: buttonsOf(m.ReplyMarkup)})
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeClient) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.answers = append(f.answers, cb.Text)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeClient) GetFileDirectURL(string) (string, error) {
	if f.fileURL == "" {
		return "", errBoom
	}
	return f.fileURL, nil
}

func (f *fakeClient) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeClient) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeClient) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sent{}
	}
	return f.sent[len(f.sent)-1]
}

type fakeService struct {
	mu         sync.Mutex
	registered []payment.Owner
	payments   map[string]*models.Payment
	statusErr  error
	submitted  []payment.ScreenshotInput
	submitRes  *payment.ScreenshotResult
	submitErr  error
	approved   []string
	rejected   []string
	access     models.AccessStatus
	history    []models.Payment
}

func newFakeService() *fakeService {
	return &fakeService{payments: make(map[string]*models.Payment)}
}

func (f *fakeService) RegisterOwner(_ context.Context, owner payment.Owner) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, owner)
	return nil
}

func (f *fakeService) CreatePayment(_ context.Context, owner payment.Owner) (*models.Payment, error) {
	p := &models.Payment{ID: "pay-1", OwnerID: owner.ID, Currency: "RUB", Status: models.StatusPending}
	f.mu.Lock()
	f.payments[p.ID] = p
	f.mu.Unlock()
	return p, nil
}

func (f *fakeService) CheckStatus(_ context.Context, id string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if f.statusErr != nil {
		return p, f.statusErr
	}
	if !ok {
		return nil, payment.ErrNotFound
	}
	return p, nil
}

func (f *fakeService) History(context.Context, int64, int) ([]models.Payment, error) {
	return f.history, nil
}

func (f *fakeService) CheckAccess(context.Context, int64) (models.AccessStatus, error) {
	return f.access, nil
}

func (f *fakeService) SubmitScreenshot(_ context.Context, in payment.ScreenshotInput) (*payment.ScreenshotResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, in)
	return f.submitRes, f.submitErr
}

func (f *fakeService) Approve(_ context.Context, id string, _ int64) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	f.approved = append(f.approved, id)
	p.Status = models.StatusVerified
	return p, nil
}

func (f *fakeService) Reject(_ context.Context, id string, _ int64, reason string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	f.rejected = append(f.rejected, id+":"+reason)
	p.Status = models.StatusRejected
	return p, nil
}

type fakeCheckout struct {
	calls int
}

func (f *fakeCheckout) Enabled() bool { return true }

func (f *fakeCheckout) CreateCheckoutSession(ownerID int64, paymentID, successURL, cancelURL string) (string, string, error) {
	f.calls++
	return "cs_1", "https://checkout.stripe.com/c/cs_1", nil
}
