// internal/models/payment.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusNeedsManualReview Status = "needs_manual_review"
	StatusAutoVerified      Status = "auto_verified"
	StatusVerified          Status = "verified"
	StatusRejected          Status = "rejected"
	StatusExpired           Status = "expired"
)

// Valid reports whether s is one of the modeled statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusNeedsManualReview, StatusAutoVerified,
		StatusVerified, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Open reports whether the payment still waits for a decision.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusNeedsManualReview
}

func (s Status) Succeeded() bool {
	return s == StatusVerified || s == StatusAutoVerified
}

func (s Status) Failed() bool {
	return s == StatusRejected || s == StatusExpired
}

const (
	MethodManual   = "manual"
	MethodStripe   = "stripe"
	MethodYooKassa = "yookassa"
	MethodQiwi     = "qiwi"
	MethodTinkoff  = "tinkoff"
)

type Payment struct {
	ID              string          `json:"id"`
	OwnerID         int64           `json:"telegram_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Method          string          `json:"payment_method"`
	ExternalID      string          `json:"external_id,omitempty"`
	Status          Status          `json:"status"`
	ScreenshotURL   string          `json:"screenshot_url,omitempty"`
	Confidence      int             `json:"confidence,omitempty"`
	ExtractedText   string          `json:"extracted_text,omitempty"`
	AccessLink      string          `json:"access_link,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HasGrant reports whether an access link was already issued for the payment.
func (p *Payment) HasGrant() bool {
	return p.AccessLink != "" && p.Status.Succeeded()
}

// PaymentUpdate lists the columns a single write may change. Nil fields are left untouched.
type PaymentUpdate struct {
	Status          *Status
	ScreenshotURL   *string
	Confidence      *int
	ExtractedText   *string
	AccessLink      *string
	ExpiresAt       *time.Time
	RejectionReason *string
	ExternalID      *string
}

type Grant struct {
	PaymentID  string    `json:"payment_id"`
	AccessLink string    `json:"access_link"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type AccessStatus struct {
	HasAccess bool       `json:"has_access"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
