package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vip-bot/internal/models"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from models.Status
		ev   Event
		want models.Status
	}{
		{models.StatusPending, EventScreenshotLow, models.StatusNeedsManualReview},
		{models.StatusPending, EventScreenshotHigh, models.StatusVerified},
		{models.StatusPending, EventProviderOK, models.StatusVerified},
		{models.StatusPending, EventProviderFailed, models.StatusRejected},
		{models.StatusPending, EventWindowElapsed, models.StatusExpired},
		{models.StatusNeedsManualReview, EventApproved, models.StatusVerified},
		{models.StatusNeedsManualReview, EventRejected, models.StatusRejected},
		{models.StatusAutoVerified, EventApproved, models.StatusVerified},
		{models.StatusVerified, EventProviderOK, models.StatusVerified},
		{models.StatusRejected, EventWindowElapsed, models.StatusExpired},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			got, err := Transition(tt.from, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransitionRejectsTerminal(t *testing.T) {
	for _, ev := range []Event{EventApproved, EventScreenshotHigh, EventProviderOK, EventRejected} {
		_, err := Transition(models.StatusRejected, ev)
		assert.ErrorIs(t, err, ErrInvalidTransition, ev)

		_, err = Transition(models.StatusExpired, ev)
		assert.ErrorIs(t, err, ErrInvalidTransition, ev)
	}

	_, err := Transition(models.StatusVerified, EventRejected)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionUnknownStatus(t *testing.T) {
	_, err := Transition(models.Status("refunded"), EventApproved)
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestEvaluateExpiry(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	inside := created.Add(23 * time.Hour)
	outside := created.Add(25 * time.Hour)

	tests := []struct {
		name     string
		now      time.Time
		status   models.Status
		hasLink  bool
		want     models.Status
		wantFlip bool
	}{
		{"pending inside window", inside, models.StatusPending, false, models.StatusPending, false},
		{"pending past window", outside, models.StatusPending, false, models.StatusExpired, true},
		{"review past window", outside, models.StatusNeedsManualReview, false, models.StatusExpired, true},
		{"rejected past window", outside, models.StatusRejected, false, models.StatusExpired, true},
		{"verified with link", outside, models.StatusVerified, true, models.StatusVerified, false},
		{"auto verified with link", outside, models.StatusAutoVerified, true, models.StatusAutoVerified, false},
		{"verified without link", outside, models.StatusVerified, false, models.StatusExpired, true},
		{"already expired", outside, models.StatusExpired, false, models.StatusExpired, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, flipped := EvaluateExpiry(tt.now, created, tt.status, tt.hasLink, 24*time.Hour)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantFlip, flipped)
		})
	}
}

func TestEvaluateExpiryDefaultWindow(t *testing.T) {
	created := time.Now()
	got, flipped := EvaluateExpiry(created.Add(DefaultWindow+time.Minute), created, models.StatusPending, false, 0)
	assert.True(t, flipped)
	assert.Equal(t, models.StatusExpired, got)
}
