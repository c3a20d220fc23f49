package payment

import (
	"fmt"
	"time"

	"vip-bot/internal/models"
)

// DefaultWindow is how long a payment may stay undecided.
const DefaultWindow = 24 * time.Hour

type Event string

const (
	EventScreenshotLow  Event = "screenshot_low_confidence"
	EventScreenshotHigh Event = "screenshot_high_confidence"
	EventApproved       Event = "moderator_approved"
	EventRejected       Event = "moderator_rejected"
	EventProviderOK     Event = "provider_succeeded"
	EventProviderFailed Event = "provider_failed"
	EventWindowElapsed  Event = "window_elapsed"
)

var transitions = map[models.Status]map[Event]models.Status{
	models.StatusPending: {
		EventScreenshotLow:  models.StatusNeedsManualReview,
		EventScreenshotHigh: models.StatusVerified,
		EventApproved:       models.StatusVerified,
		EventRejected:       models.StatusRejected,
		EventProviderOK:     models.StatusVerified,
		EventProviderFailed: models.StatusRejected,
		EventWindowElapsed:  models.StatusExpired,
	},
	models.StatusNeedsManualReview: {
		EventScreenshotLow:  models.StatusNeedsManualReview,
		EventScreenshotHigh: models.StatusVerified,
		EventApproved:       models.StatusVerified,
		EventRejected:       models.StatusRejected,
		EventProviderOK:     models.StatusVerified,
		EventProviderFailed: models.StatusRejected,
		EventWindowElapsed:  models.StatusExpired,
	},
	models.StatusAutoVerified: {
		EventApproved:      models.StatusVerified,
		EventProviderOK:    models.StatusVerified,
		EventWindowElapsed: models.StatusExpired,
	},
	models.StatusVerified: {
		EventProviderOK:    models.StatusVerified,
		EventWindowElapsed: models.StatusExpired,
	},
	models.StatusRejected: {
		EventWindowElapsed: models.StatusExpired,
	},
	models.StatusExpired: {
		EventWindowElapsed: models.StatusExpired,
	},
}

// Transition returns the status a payment moves to when ev happens in status from.
func Transition(from models.Status, ev Event) (models.Status, error) {
	next, ok := transitions[from]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, from)
	}
	to, ok := next[ev]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return to, nil
}

// EvaluateExpiry reports the status a record should be read as at now. The bool is
// true when that differs from status and the caller should persist it.
//
// Succeeded records that already carry an access link never expire through the window;
// their lifetime is governed by the grant itself.
func EvaluateExpiry(now, createdAt time.Time, status models.Status, hasLink bool, window time.Duration) (models.Status, bool) {
	if window <= 0 {
		window = DefaultWindow
	}
	if now.Sub(createdAt) <= window {
		return status, false
	}
	if status.Succeeded() && hasLink {
		return status, false
	}
	if status == models.StatusExpired {
		return status, false
	}
	return models.StatusExpired, true
}
