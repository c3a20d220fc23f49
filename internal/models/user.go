// internal/models/user.go
package models

import (
	"time"
)

type Profile struct {
	OwnerID   int64      `json:"telegram_id"`
	Username  string     `json:"username,omitempty"`
	FirstName string     `json:"first_name,omitempty"`
	VIPUntil  *time.Time `json:"vip_until,omitempty"`
}

type UserAction struct {
	OwnerID int64                  `json:"telegram_id"`
	Action  string                 `json:"action"`
	Details map[string]interface{} `json:"details"`
}

const (
	ActionBotStart          = "bot_start"
	ActionPaymentCreated    = "payment_created"
	ActionScreenshotUpload  = "screenshot_uploaded"
	ActionAutoVerified      = "payment_auto_verified"
	ActionManualReview      = "payment_manual_review"
	ActionModeratorApproved = "payment_moderator_approved"
	ActionModeratorRejected = "payment_moderator_rejected"
	ActionPaymentExpired    = "payment_expired"
	ActionWebhookProcessed  = "webhook_payment_processed"
	ActionWebhookFailed     = "webhook_payment_failed"
	ActionWebhookConflict   = "webhook_payment_conflict"
	ActionAccessRestored    = "access_link_restored"
)
