package payment

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"vip-bot/internal/models"
	"vip-bot/pkg/logger"
)

const (
	DefaultRejectReason   = "Скриншот не прошел проверку"
	defaultProviderReason = "Платеж отклонен платежной системой"
	defaultDedupeTTL      = 24 * time.Hour
)

// GrantRequest asks the store to mark a payment verified and attach an access link.
// A payment that already carries a link keeps it.
type GrantRequest struct {
	PaymentID  string
	AccessLink string
	ExpiresAt  time.Time
}

// Store persists payments, profiles and the audit trail.
// Lookups return ErrNotFound when nothing matches.
type Store interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	FindByExternalID(ctx context.Context, method, externalID string) (*models.Payment, error)
	// FindOpenPayment returns the newest pending or needs_manual_review payment of the owner.
	FindOpenPayment(ctx context.Context, ownerID int64) (*models.Payment, error)
	ListOwnerPayments(ctx context.Context, ownerID int64, limit int) ([]models.Payment, error)
	UpdatePayment(ctx context.Context, id string, upd models.PaymentUpdate) error
	// ExpirePayment and RejectPayment only write when the stored status still equals from.
	ExpirePayment(ctx context.Context, id string, from models.Status) (bool, error)
	RejectPayment(ctx context.Context, id string, from models.Status, reason string) (bool, error)
	VerifyAndGrant(ctx context.Context, req GrantRequest) (models.Grant, error)
	CheckAccess(ctx context.Context, ownerID int64) (models.AccessStatus, error)
	UpsertProfile(ctx context.Context, p models.Profile) error
	LogAction(ctx context.Context, a models.UserAction) error
}

type Notifier interface {
	NotifyModerators(ctx context.Context, p models.Payment, v Verdict) error
	NotifyGranted(ctx context.Context, ownerID int64, g models.Grant) error
	NotifyRejected(ctx context.Context, ownerID int64, paymentID, reason string) error
}

// Storage keeps screenshot images and returns a URL moderators can open.
type Storage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Extractor reads the text off an image.
type Extractor interface {
	ExtractText(ctx context.Context, image []byte, contentType string) (string, error)
}

// Deduper suppresses repeated webhook deliveries.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type LinkIssuer interface {
	Issue() (string, time.Time, error)
}

type Config struct {
	Amount                decimal.Decimal
	Currency              string
	Window                time.Duration
	AutoApproveConfidence int
	DedupeTTL             time.Duration
}

type Service struct {
	store     Store
	notifier  Notifier
	storage   Storage
	extractor Extractor
	deduper   Deduper
	links     LinkIssuer
	cfg       Config
	logger    *logger.Logger
	now       func() time.Time
}

type Deps struct {
	Store     Store
	Notifier  Notifier
	Storage   Storage
	Extractor Extractor
	Deduper   Deduper
	Links     LinkIssuer
}

func NewService(deps Deps, cfg Config, log *logger.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "RUB"
	}
	if cfg.Amount.IsZero() {
		cfg.Amount = decimal.NewFromInt(500)
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.AutoApproveConfidence <= 0 {
		cfg.AutoApproveConfidence = AutoApproveConfidence
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = defaultDedupeTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:     deps.Store,
		notifier:  deps.Notifier,
		storage:   deps.Storage,
		extractor: deps.Extractor,
		deduper:   deps.Deduper,
		links:     deps.Links,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

// Owner is the Telegram user a payment is made for.
type Owner struct {
	ID        int64
	Username  string
	FirstName string
}

// RegisterOwner records the profile and a bot_start action.
func (s *Service) RegisterOwner(ctx context.Context, owner Owner) error {
	if err := s.upsertProfile(ctx, owner); err != nil {
		return err
	}
	s.logAction(ctx, owner.ID, models.ActionBotStart, map[string]interface{}{
		"username": owner.Username,
	})
	return nil
}

// CreatePayment returns the owner's open payment, creating a pending one when there is none.
func (s *Service) CreatePayment(ctx context.Context, owner Owner) (*models.Payment, error) {
	if owner.ID == 0 {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if err := s.upsertProfile(ctx, owner); err != nil {
		return nil, err
	}

	open, err := s.store.FindOpenPayment(ctx, owner.ID)
	switch {
	case err == nil:
		status, flipped := EvaluateExpiry(s.now(), open.CreatedAt, open.Status, open.AccessLink != "", s.cfg.Window)
		if !flipped {
			return open, nil
		}
		if _, err := s.store.ExpirePayment(ctx, open.ID, open.Status); err != nil {
			return nil, fmt.Errorf("failed to expire payment %s: %w", open.ID, err)
		}
		s.logAction(ctx, owner.ID, models.ActionPaymentExpired, map[string]interface{}{
			"payment_id": open.ID,
			"from":       string(open.Status),
			"to":         string(status),
		})
	case errors.Is(err, ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to look up open payment: %w", err)
	}

	now := s.now().UTC()
	p := &models.Payment{
		ID:        uuid.NewString(),
		OwnerID:   owner.ID,
		Amount:    s.cfg.Amount,
		Currency:  s.cfg.Currency,
		Method:    models.MethodManual,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	s.logAction(ctx, owner.ID, models.ActionPaymentCreated, map[string]interface{}{
		"payment_id": p.ID,
		"amount":     p.Amount.StringFixed(2),
	})
	s.logger.Infow("Payment created", "payment_id", p.ID, "owner_id", owner.ID)
	return p, nil
}

// CheckStatus reads a payment and expires it when its window has passed. A succeeded
// payment that is still missing its access link gets one here.
func (s *Service) CheckStatus(ctx context.Context, paymentID string) (*models.Payment, error) {
	p, err := s.load(ctx, paymentID)
	if err != nil {
		return p, err
	}
	if p.Status.Succeeded() && !p.HasGrant() {
		s.restoreGrant(ctx, p)
	}
	return p, nil
}

// load is CheckStatus without the link repair.
func (s *Service) load(ctx context.Context, paymentID string) (*models.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrValidation)
	}
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.Status.Valid() {
		return p, fmt.Errorf("%w: %q", ErrUnknownStatus, p.Status)
	}

	status, flipped := EvaluateExpiry(s.now(), p.CreatedAt, p.Status, p.AccessLink != "", s.cfg.Window)
	if !flipped {
		return p, nil
	}

	applied, err := s.store.ExpirePayment(ctx, p.ID, p.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to expire payment %s: %w", p.ID, err)
	}
	if !applied {
		// Someone else moved the record since it was read.
		return s.store.GetPayment(ctx, paymentID)
	}

	s.logAction(ctx, p.OwnerID, models.ActionPaymentExpired, map[string]interface{}{
		"payment_id": p.ID,
		"from":       string(p.Status),
	})
	p.Status = status
	return p, nil
}

// History lists the owner's latest payments, newest first.
func (s *Service) History(ctx context.Context, ownerID int64, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.store.ListOwnerPayments(ctx, ownerID, limit)
}

func (s *Service) CheckAccess(ctx context.Context, ownerID int64) (models.AccessStatus, error) {
	status, err := s.store.CheckAccess(ctx, ownerID)
	if err != nil {
		return models.AccessStatus{}, fmt.Errorf("failed to check access: %w", err)
	}
	return status, nil
}

type ScreenshotInput struct {
	PaymentID   string
	OwnerID     int64
	Image       []byte
	ContentType string
	FileName    string
}

type ScreenshotResult struct {
	Payment *models.Payment
	Verdict Verdict
	Grant   *models.Grant
}

// SubmitScreenshot stores the proof of payment, scores it and either grants access or
// queues the payment for a moderator.
func (s *Service) SubmitScreenshot(ctx context.Context, in ScreenshotInput) (*ScreenshotResult, error) {
	if len(in.Image) == 0 {
		return nil, ErrNoImage
	}

	p, err := s.CheckStatus(ctx, in.PaymentID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != in.OwnerID {
		return nil, ErrNotOwner
	}
	if p.Status == models.StatusExpired {
		return nil, ErrExpired
	}
	if p.HasGrant() && p.ExpiresAt != nil {
		g := models.Grant{PaymentID: p.ID, AccessLink: p.AccessLink, ExpiresAt: *p.ExpiresAt}
		return &ScreenshotResult{Payment: p, Grant: &g}, nil
	}
	if _, err := Transition(p.Status, EventScreenshotLow); err != nil {
		return nil, err
	}

	key := screenshotKey(p, in.FileName, in.ContentType, s.now())
	url, err := s.storage.Upload(ctx, key, in.Image, in.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload screenshot: %w", err)
	}

	var text string
	if s.extractor != nil {
		text, err = s.extractor.ExtractText(ctx, in.Image, in.ContentType)
		if err != nil {
			s.logger.Warnw("Text extraction failed, sending to manual review", "payment_id", p.ID, "error", err)
			text = ""
		}
	}
	verdict := Classify(text)

	upd := models.PaymentUpdate{
		ScreenshotURL: &url,
		Confidence:    &verdict.Confidence,
		ExtractedText: &text,
	}
	p.ScreenshotURL, p.Confidence, p.ExtractedText = url, verdict.Confidence, text

	s.logAction(ctx, p.OwnerID, models.ActionScreenshotUpload, map[string]interface{}{
		"payment_id": p.ID,
		"confidence": verdict.Confidence,
	})

	if verdict.AutoApprove(s.cfg.AutoApproveConfidence) {
		if _, err := Transition(p.Status, EventScreenshotHigh); err != nil {
			return nil, err
		}
		if err := s.store.UpdatePayment(ctx, p.ID, upd); err != nil {
			return nil, fmt.Errorf("failed to save screenshot details: %w", err)
		}
		grant, err := s.grant(ctx, p)
		if err != nil {
			return nil, err
		}
		s.logAction(ctx, p.OwnerID, models.ActionAutoVerified, map[string]interface{}{
			"payment_id": p.ID,
			"confidence": verdict.Confidence,
		})
		s.logger.Infow("Payment auto verified", "payment_id", p.ID, "confidence", verdict.Confidence)
		return &ScreenshotResult{Payment: p, Verdict: verdict, Grant: &grant}, nil
	}

	next, err := Transition(p.Status, EventScreenshotLow)
	if err != nil {
		return nil, err
	}
	upd.Status = &next
	if err := s.store.UpdatePayment(ctx, p.ID, upd); err != nil {
		return nil, fmt.Errorf("failed to save screenshot details: %w", err)
	}
	p.Status = next

	if s.notifier != nil {
		if err := s.notifier.NotifyModerators(ctx, *p, verdict); err != nil {
			s.logger.Errorw("Failed to notify moderators", "payment_id", p.ID, "error", err)
		}
	}
	s.logAction(ctx, p.OwnerID, models.ActionManualReview, map[string]interface{}{
		"payment_id": p.ID,
		"confidence": verdict.Confidence,
	})
	s.logger.Infow("Payment sent to manual review", "payment_id", p.ID, "confidence", verdict.Confidence)
	return &ScreenshotResult{Payment: p, Verdict: verdict}, nil
}

// Approve grants access on a moderator's decision and notifies the owner.
func (s *Service) Approve(ctx context.Context, paymentID string, moderatorID int64) (*models.Payment, error) {
	p, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.HasGrant() {
		return p, nil
	}
	if p.Status == models.StatusExpired {
		return p, ErrExpired
	}
	// A verified payment without a link only needs the grant finished.
	if !p.Status.Succeeded() {
		if _, err := Transition(p.Status, EventApproved); err != nil {
			return p, err
		}
	}

	grant, err := s.grant(ctx, p)
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, p.OwnerID, models.ActionModeratorApproved, map[string]interface{}{
		"payment_id":   p.ID,
		"moderator_id": moderatorID,
	})
	if s.notifier != nil {
		if err := s.notifier.NotifyGranted(ctx, p.OwnerID, grant); err != nil {
			s.logger.Errorw("Failed to notify user about access", "owner_id", p.OwnerID, "error", err)
		}
	}
	s.logger.Infow("Payment approved", "payment_id", p.ID, "moderator_id", moderatorID)
	return p, nil
}

// Reject closes the payment with a reason and notifies the owner.
func (s *Service) Reject(ctx context.Context, paymentID string, moderatorID int64, reason string) (*models.Payment, error) {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultRejectReason
	}
	p, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status == models.StatusExpired {
		return p, ErrExpired
	}
	next, err := Transition(p.Status, EventRejected)
	if err != nil {
		return p, err
	}

	applied, err := s.store.RejectPayment(ctx, p.ID, p.Status, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to reject payment %s: %w", p.ID, err)
	}
	if !applied {
		return p, fmt.Errorf("%w: payment %s changed concurrently", ErrInvalidTransition, p.ID)
	}
	p.Status = next
	p.RejectionReason = reason

	s.logAction(ctx, p.OwnerID, models.ActionModeratorRejected, map[string]interface{}{
		"payment_id":   p.ID,
		"moderator_id": moderatorID,
		"reason":       reason,
	})
	if s.notifier != nil {
		if err := s.notifier.NotifyRejected(ctx, p.OwnerID, p.ID, reason); err != nil {
			s.logger.Errorw("Failed to notify user about rejection", "owner_id", p.OwnerID, "error", err)
		}
	}
	s.logger.Infow("Payment rejected", "payment_id", p.ID, "moderator_id", moderatorID)
	return p, nil
}

// grant issues a link for p (or reuses the stored one) and records it on p.
func (s *Service) grant(ctx context.Context, p *models.Payment) (models.Grant, error) {
	req := GrantRequest{PaymentID: p.ID}
	if p.HasGrant() && p.ExpiresAt != nil {
		req.AccessLink, req.ExpiresAt = p.AccessLink, *p.ExpiresAt
	} else {
		link, expires, err := s.links.Issue()
		if err != nil {
			return models.Grant{}, err
		}
		req.AccessLink, req.ExpiresAt = link, expires
	}

	g, err := s.store.VerifyAndGrant(ctx, req)
	if err != nil {
		return models.Grant{}, fmt.Errorf("failed to grant access for payment %s: %w", p.ID, err)
	}
	p.Status = models.StatusVerified
	p.AccessLink = g.AccessLink
	expires := g.ExpiresAt
	p.ExpiresAt = &expires
	return g, nil
}

// restoreGrant finishes a grant that failed after the payment was marked verified.
// Failures are logged and retried on the next read.
func (s *Service) restoreGrant(ctx context.Context, p *models.Payment) {
	g, err := s.grant(ctx, p)
	if err != nil {
		s.logger.Warnw("Failed to restore access link", "payment_id", p.ID, "error", err)
		return
	}
	s.logAction(ctx, p.OwnerID, models.ActionAccessRestored, map[string]interface{}{
		"payment_id": p.ID,
		"expires_at": g.ExpiresAt,
	})
	s.logger.Infow("Access link restored", "payment_id", p.ID)
}

func (s *Service) upsertProfile(ctx context.Context, owner Owner) error {
	err := s.store.UpsertProfile(ctx, models.Profile{
		OwnerID:   owner.ID,
		Username:  owner.Username,
		FirstName: owner.FirstName,
	})
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// logAction appends to the audit trail. Failures are logged and otherwise ignored.
func (s *Service) logAction(ctx context.Context, ownerID int64, action string, details map[string]interface{}) {
	if ownerID == 0 {
		return
	}
	err := s.store.LogAction(ctx, models.UserAction{OwnerID: ownerID, Action: action, Details: details})
	if err != nil {
		s.logger.Warnw("Failed to log user action", "action", action, "owner_id", ownerID, "error", err)
	}
}

func screenshotKey(p *models.Payment, fileName, contentType string, at time.Time) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		switch contentType {
		case "image/png":
			ext = ".png"
		case "image/webp":
			ext = ".webp"
		default:
			ext = ".jpg"
		}
	}
	return fmt.Sprintf("screenshots/%d/%s_%d%s", p.OwnerID, p.ID, at.Unix(), ext)
}
