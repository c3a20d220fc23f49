package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"vip-bot/internal/models"
)

const qiwiSignatureHeader = "X-Api-Signature-SHA256"

type qiwiNotification struct {
	Payment struct {
		PaymentID string `json:"paymentId"`
		Status    struct {
			Value string `json:"value"`
		} `json:"status"`
		Amount struct {
			Value    decimal.Decimal `json:"value"`
			Currency string          `json:"currency"`
		} `json:"amount"`
		Comment string `json:"comment"`
	} `json:"payment"`
}

// Qiwi signs the raw body with HMAC-SHA256 under the webhook key.
type Qiwi struct {
	key string
}

func NewQiwi(webhookKey string) *Qiwi {
	return &Qiwi{key: webhookKey}
}

func (q *Qiwi) Name() string { return models.MethodQiwi }

func (q *Qiwi) Verify(body []byte, header http.Header) error {
	if q.key == "" {
		return ErrNotConfigured
	}
	got, err := hex.DecodeString(strings.TrimSpace(header.Get(qiwiSignatureHeader)))
	if err != nil || len(got) == 0 {
		return fmt.Errorf("%w: missing or malformed %s", ErrInvalidSignature, qiwiSignatureHeader)
	}
	if !hmac.Equal(got, q.sign(body)) {
		return fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
	}
	return nil
}

func (q *Qiwi) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(q.key))
	mac.Write(body)
	return mac.Sum(nil)
}

func (q *Qiwi) Normalize(body []byte) (models.ProviderEvent, error) {
	var n qiwiNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return models.ProviderEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	status := strings.ToUpper(n.Payment.Status.Value)
	ev := models.ProviderEvent{
		Provider:  q.Name(),
		EventType: status,
		Outcome:   models.OutcomeIgnored,
	}
	switch status {
	case "SUCCESS":
		ev.Outcome = models.OutcomeSucceeded
	case "DECLINED", "REJECTED":
		ev.Outcome = models.OutcomeFailed
	default:
		return ev, nil
	}

	ev.ExternalID = n.Payment.PaymentID
	ev.Amount = n.Payment.Amount.Value
	ev.Currency = strings.ToUpper(n.Payment.Amount.Currency)
	if ev.Currency == "" {
		ev.Currency = "RUB"
	}
	ev.OwnerID = OwnerFromText(n.Payment.Comment)
	return ev, nil
}
