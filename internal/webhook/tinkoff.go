package webhook

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"vip-bot/internal/models"
)

// Tinkoff carries its signature in the body: Token is the SHA-256 of the root scalar
// values, with Password added, concatenated in key order.
type Tinkoff struct {
	password string
}

func NewTinkoff(terminalPassword string) *Tinkoff {
	return &Tinkoff{password: terminalPassword}
}

func (t *Tinkoff) Name() string { return models.MethodTinkoff }

func (t *Tinkoff) Verify(body []byte, _ http.Header) error {
	if t.password == "" {
		return ErrNotConfigured
	}
	fields, err := decodeTinkoff(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	token, _ := fields["Token"].(string)
	if token == "" {
		return fmt.Errorf("%w: missing Token", ErrInvalidSignature)
	}
	want := TinkoffToken(fields, t.password)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(token)), []byte(want)) != 1 {
		return fmt.Errorf("%w: token mismatch", ErrInvalidSignature)
	}
	return nil
}

// TinkoffToken computes the notification token for the given root fields.
func TinkoffToken(fields map[string]interface{}, password string) string {
	values := map[string]string{"Password": password}
	for k, v := range fields {
		if k == "Token" {
			continue
		}
		switch x := v.(type) {
		case string:
			values[k] = x
		case json.Number:
			values[k] = x.String()
		case bool:
			values[k] = strconv.FormatBool(x)
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(values[k])
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func (t *Tinkoff) Normalize(body []byte) (models.ProviderEvent, error) {
	fields, err := decodeTinkoff(body)
	if err != nil {
		return models.ProviderEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	status, _ := fields["Status"].(string)
	ev := models.ProviderEvent{
		Provider:  t.Name(),
		EventType: status,
		Outcome:   models.OutcomeIgnored,
		Currency:  "RUB",
	}
	switch status {
	case "CONFIRMED":
		ev.Outcome = models.OutcomeSucceeded
	case "REJECTED", "CANCELED":
		ev.Outcome = models.OutcomeFailed
	default:
		return ev, nil
	}

	ev.ExternalID = scalarString(fields["PaymentId"])
	if raw := scalarString(fields["Amount"]); raw != "" {
		kopecks, err := decimal.NewFromString(raw)
		if err != nil {
			return models.ProviderEvent{}, fmt.Errorf("%w: amount %q", ErrMalformedPayload, raw)
		}
		ev.Amount = kopecks.Shift(-2)
	}
	desc, _ := fields["Description"].(string)
	ev.OwnerID = OwnerFromText(desc)
	return ev, nil
}

func decodeTinkoff(body []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func scalarString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	}
	return ""
}
