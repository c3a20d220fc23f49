package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"

	"vip-bot/internal/models"
)

const (
	stripeSucceeded = "payment_intent.succeeded"
	stripeFailed    = "payment_intent.payment_failed"
)

type Stripe struct {
	secret string
}

func NewStripe(webhookSecret string) *Stripe {
	return &Stripe{secret: webhookSecret}
}

func (s *Stripe) Name() string { return models.MethodStripe }

func (s *Stripe) Verify(body []byte, header http.Header) error {
	if s.secret == "" {
		return ErrNotConfigured
	}
	sig := header.Get("Stripe-Signature")
	if sig == "" {
		return fmt.Errorf("%w: missing Stripe-Signature header", ErrInvalidSignature)
	}
	if err := webhook.ValidatePayload(body, sig, s.secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (s *Stripe) Normalize(body []byte) (models.ProviderEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return models.ProviderEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ev := models.ProviderEvent{
		Provider:  s.Name(),
		EventType: event.Type,
		Outcome:   models.OutcomeIgnored,
	}
	switch event.Type {
	case stripeSucceeded:
		ev.Outcome = models.OutcomeSucceeded
	case stripeFailed:
		ev.Outcome = models.OutcomeFailed
	default:
		return ev, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return models.ProviderEvent{}, fmt.Errorf("%w: event without data object", ErrMalformedPayload)
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return models.ProviderEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ev.ExternalID = intent.ID
	ev.Amount = decimal.New(intent.Amount, -2)
	ev.Currency = strings.ToUpper(string(intent.Currency))
	ev.OwnerID = OwnerFromMetadata(intent.Metadata)
	if ev.OwnerID == 0 {
		ev.OwnerID = OwnerFromText(intent.Description)
	}
	return ev, nil
}
