// internal/payment/stripe.go
package payment

import (
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
)

// StripeClient opens card checkout sessions. The Telegram id travels in the payment
// intent metadata and description so the webhook can attribute the payment.
type StripeClient struct {
	secretKey string
	priceID   string
	newFn     func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewStripeClient(secretKey, priceID string) *StripeClient {
	stripe.Key = secretKey

	return &StripeClient{
		secretKey: secretKey,
		priceID:   priceID,
		newFn:     session.New,
	}
}

// Enabled reports whether card checkout is configured.
func (s *StripeClient) Enabled() bool {
	return s != nil && s.secretKey != "" && s.priceID != ""
}

// CreateCheckoutSession returns the session id and the URL to send the user to.
func (s *StripeClient) CreateCheckoutSession(ownerID int64, paymentID, successURL, cancelURL string) (string, string, error) {
	if !s.Enabled() {
		return "", "", fmt.Errorf("stripe checkout is not configured")
	}
	if stripe.Key != s.secretKey {
		stripe.Key = s.secretKey
	}

	owner := strconv.FormatInt(ownerID, 10)
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(owner),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Description: stripe.String("VIP access TG:" + owner),
		},
	}
	params.PaymentIntentData.AddMetadata("telegram_id", owner)
	params.PaymentIntentData.AddMetadata("payment_id", paymentID)
	params.AddMetadata("telegram_id", owner)

	sess, err := s.newFn(params)
	if err != nil {
		return "", "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	return sess.ID, sess.URL, nil
}
