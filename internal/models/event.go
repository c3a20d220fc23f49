// internal/models/event.go
package models

import (
	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeIgnored   Outcome = "ignored"
)

// ProviderEvent is a payment provider notification in provider-independent form.
// OwnerID is zero when the payload carried no recognizable Telegram id.
type ProviderEvent struct {
	Provider   string          `json:"provider"`
	Outcome    Outcome         `json:"outcome"`
	EventType  string          `json:"event_type"`
	ExternalID string          `json:"external_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	OwnerID    int64           `json:"owner_id,omitempty"`
}

// DedupeKey identifies a delivery for retry suppression.
func (e ProviderEvent) DedupeKey() string {
	return e.Provider + ":" + e.ExternalID + ":" + string(e.Outcome)
}
