package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"vip-bot/internal/models"
)

type ApplyAction string

const (
	ApplyGranted        ApplyAction = "granted"
	ApplyAlreadyGranted ApplyAction = "already_granted"
	ApplyRejected       ApplyAction = "rejected"
	ApplyIgnored        ApplyAction = "ignored"
	ApplyDuplicate      ApplyAction = "duplicate"
	ApplyUnmatched      ApplyAction = "unmatched"
	ApplyConflict       ApplyAction = "conflict"
)

type ApplyResult struct {
	Action  ApplyAction
	Payment *models.Payment
	Grant   *models.Grant
}

// ApplyEvent moves the payment a provider notification refers to. Repeated deliveries
// of the same event are acknowledged without side effects.
func (s *Service) ApplyEvent(ctx context.Context, ev models.ProviderEvent) (*ApplyResult, error) {
	if ev.Outcome == models.OutcomeIgnored {
		return &ApplyResult{Action: ApplyIgnored}, nil
	}
	if strings.TrimSpace(ev.ExternalID) == "" {
		return nil, fmt.Errorf("%w: event without payment id", ErrValidation)
	}

	key := ev.DedupeKey()
	if s.deduper != nil {
		claimed, err := s.deduper.Claim(ctx, key, s.cfg.DedupeTTL)
		if err != nil {
			s.logger.Warnw("Dedupe unavailable, processing event anyway", "key", key, "error", err)
		} else if !claimed {
			s.logger.Infow("Duplicate webhook event", "key", key)
			return &ApplyResult{Action: ApplyDuplicate}, nil
		}
	}

	var (
		res *ApplyResult
		err error
	)
	switch ev.Outcome {
	case models.OutcomeSucceeded:
		res, err = s.applySuccess(ctx, ev)
	case models.OutcomeFailed:
		res, err = s.applyFailure(ctx, ev)
	default:
		err = fmt.Errorf("%w: outcome %q", ErrValidation, ev.Outcome)
	}

	if err != nil && s.deduper != nil {
		if rerr := s.deduper.Release(ctx, key); rerr != nil {
			s.logger.Warnw("Failed to release dedupe key", "key", key, "error", rerr)
		}
	}
	return res, err
}

func (s *Service) applySuccess(ctx context.Context, ev models.ProviderEvent) (*ApplyResult, error) {
	p, err := s.locate(ctx, ev)
	if err != nil {
		return nil, err
	}

	if p == nil {
		if ev.OwnerID == 0 {
			s.logger.Warnw("Successful payment without a known owner", "provider", ev.Provider, "external_id", ev.ExternalID)
			return &ApplyResult{Action: ApplyUnmatched}, nil
		}
		if err := s.upsertProfile(ctx, Owner{ID: ev.OwnerID}); err != nil {
			return nil, err
		}
		now := s.now().UTC()
		p = &models.Payment{
			ID:         uuid.NewString(),
			OwnerID:    ev.OwnerID,
			Amount:     ev.Amount,
			Currency:   ev.Currency,
			Method:     ev.Provider,
			ExternalID: ev.ExternalID,
			Status:     models.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.store.CreatePayment(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to create payment for webhook: %w", err)
		}
		s.logAction(ctx, p.OwnerID, models.ActionPaymentCreated, map[string]interface{}{
			"payment_id": p.ID,
			"provider":   ev.Provider,
		})
	}

	if p.HasGrant() {
		return &ApplyResult{Action: ApplyAlreadyGranted, Payment: p}, nil
	}
	if _, err := Transition(p.Status, EventProviderOK); err != nil {
		if errors.Is(err, ErrUnknownStatus) {
			return nil, err
		}
		s.logAction(ctx, p.OwnerID, models.ActionWebhookConflict, map[string]interface{}{
			"payment_id":  p.ID,
			"provider":    ev.Provider,
			"external_id": ev.ExternalID,
			"status":      string(p.Status),
		})
		s.logger.Warnw("Successful payment for a closed record", "payment_id", p.ID, "status", p.Status)
		return &ApplyResult{Action: ApplyConflict, Payment: p}, nil
	}

	if p.ExternalID == "" {
		externalID := ev.ExternalID
		if err := s.store.UpdatePayment(ctx, p.ID, models.PaymentUpdate{ExternalID: &externalID}); err != nil {
			return nil, fmt.Errorf("failed to attach external id: %w", err)
		}
		p.ExternalID = externalID
	}

	grant, err := s.grant(ctx, p)
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, p.OwnerID, models.ActionWebhookProcessed, map[string]interface{}{
		"payment_id":  p.ID,
		"provider":    ev.Provider,
		"external_id": ev.ExternalID,
		"amount":      ev.Amount.StringFixed(2),
	})
	if s.notifier != nil {
		if err := s.notifier.NotifyGranted(ctx, p.OwnerID, grant); err != nil {
			s.logger.Errorw("Failed to notify user about access", "owner_id", p.OwnerID, "error", err)
		}
	}
	s.logger.Infow("Webhook payment granted", "payment_id", p.ID, "provider", ev.Provider)
	return &ApplyResult{Action: ApplyGranted, Payment: p, Grant: &grant}, nil
}

func (s *Service) applyFailure(ctx context.Context, ev models.ProviderEvent) (*ApplyResult, error) {
	p, err := s.locate(ctx, ev)
	if err != nil {
		return nil, err
	}
	if p == nil {
		s.logAction(ctx, ev.OwnerID, models.ActionWebhookFailed, map[string]interface{}{
			"provider":    ev.Provider,
			"external_id": ev.ExternalID,
		})
		return &ApplyResult{Action: ApplyUnmatched}, nil
	}

	next, err := Transition(p.Status, EventProviderFailed)
	if err != nil {
		if errors.Is(err, ErrUnknownStatus) {
			return nil, err
		}
		return &ApplyResult{Action: ApplyIgnored, Payment: p}, nil
	}

	reason := defaultProviderReason
	if ev.EventType != "" {
		reason += " (" + ev.EventType + ")"
	}
	applied, err := s.store.RejectPayment(ctx, p.ID, p.Status, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to reject payment %s: %w", p.ID, err)
	}
	if !applied {
		return &ApplyResult{Action: ApplyIgnored, Payment: p}, nil
	}
	p.Status = next
	p.RejectionReason = reason

	s.logAction(ctx, p.OwnerID, models.ActionWebhookFailed, map[string]interface{}{
		"payment_id":  p.ID,
		"provider":    ev.Provider,
		"external_id": ev.ExternalID,
	})
	if s.notifier != nil {
		if err := s.notifier.NotifyRejected(ctx, p.OwnerID, p.ID, reason); err != nil {
			s.logger.Errorw("Failed to notify user about rejection", "owner_id", p.OwnerID, "error", err)
		}
	}
	return &ApplyResult{Action: ApplyRejected, Payment: p}, nil
}

// locate finds the payment an event refers to: by provider id first, then by the
// owner's open payment of the same amount. It returns nil when nothing matches.
func (s *Service) locate(ctx context.Context, ev models.ProviderEvent) (*models.Payment, error) {
	p, err := s.store.FindByExternalID(ctx, ev.Provider, ev.ExternalID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up payment by external id: %w", err)
	}
	if ev.OwnerID == 0 {
		return nil, nil
	}

	p, err = s.store.FindOpenPayment(ctx, ev.OwnerID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up open payment: %w", err)
	}
	if !p.Amount.Equal(ev.Amount) || (p.ExternalID != "" && p.ExternalID != ev.ExternalID) {
		return nil, nil
	}
	return p, nil
}
