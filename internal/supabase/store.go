package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"vip-bot/internal/models"
	"vip-bot/internal/payment"
)

const (
	tablePayments = "payments"
	tableProfiles = "profiles"
	tableActions  = "user_actions"

	rpcVerify      = "rpc/verify_payment_and_grant_access"
	rpcCheckAccess = "rpc/check_vip_access"
)

// Store implements payment.Store on top of the REST API.
type Store struct {
	client *Client
}

func NewStore(client *Client) *Store {
	return &Store{client: client}
}

var _ payment.Store = (*Store)(nil)

type paymentInsert struct {
	ID         string          `json:"id"`
	OwnerID    int64           `json:"telegram_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Method     string          `json:"payment_method"`
	ExternalID *string         `json:"external_id"`
	Status     models.Status   `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	in := paymentInsert{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Method:    p.Method,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.ExternalID != "" {
		in.ExternalID = &p.ExternalID
	}

	var rows []models.Payment
	if err := s.client.restJSON(ctx, "create payment", http.MethodPost, tablePayments, nil, preferRepresentation, in, &rows); err != nil {
		return err
	}
	if len(rows) > 0 {
		*p = rows[0]
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	return s.findOne(ctx, "get payment", url.Values{
		"id":     {"eq." + id},
		"select": {"*"},
	})
}

func (s *Store) FindByExternalID(ctx context.Context, method, externalID string) (*models.Payment, error) {
	return s.findOne(ctx, "find payment by external id", url.Values{
		"payment_method": {"eq." + method},
		"external_id":    {"eq." + externalID},
		"order":          {"created_at.desc"},
		"limit":          {"1"},
	})
}

func (s *Store) FindOpenPayment(ctx context.Context, ownerID int64) (*models.Payment, error) {
	return s.findOne(ctx, "find open payment", url.Values{
		"telegram_id": {"eq." + strconv.FormatInt(ownerID, 10)},
		"status":      {"in.(" + string(models.StatusPending) + "," + string(models.StatusNeedsManualReview) + ")"},
		"order":       {"created_at.desc"},
		"limit":       {"1"},
	})
}

func (s *Store) ListOwnerPayments(ctx context.Context, ownerID int64, limit int) ([]models.Payment, error) {
	q := url.Values{
		"telegram_id": {"eq." + strconv.FormatInt(ownerID, 10)},
		"order":       {"created_at.desc"},
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var rows []models.Payment
	if err := s.client.restJSON(ctx, "list payments", http.MethodGet, tablePayments, q, "", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) findOne(ctx context.Context, op string, q url.Values) (*models.Payment, error) {
	var rows []models.Payment
	if err := s.client.restJSON(ctx, op, http.MethodGet, tablePayments, q, "", nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, payment.ErrNotFound
	}
	return &rows[0], nil
}

func (s *Store) UpdatePayment(ctx context.Context, id string, upd models.PaymentUpdate) error {
	n, err := s.patch(ctx, "update payment", url.Values{"id": {"eq." + id}}, updateBody(upd))
	if err != nil {
		return err
	}
	if n == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func (s *Store) ExpirePayment(ctx context.Context, id string, from models.Status) (bool, error) {
	n, err := s.patch(ctx, "expire payment", url.Values{
		"id":     {"eq." + id},
		"status": {"eq." + string(from)},
	}, map[string]interface{}{"status": models.StatusExpired})
	return n > 0, err
}

func (s *Store) RejectPayment(ctx context.Context, id string, from models.Status, reason string) (bool, error) {
	n, err := s.patch(ctx, "reject payment", url.Values{
		"id":     {"eq." + id},
		"status": {"eq." + string(from)},
	}, map[string]interface{}{
		"status":           models.StatusRejected,
		"rejection_reason": reason,
	})
	return n > 0, err
}

// patch applies body to the matching rows and returns how many changed.
func (s *Store) patch(ctx context.Context, op string, q url.Values, body map[string]interface{}) (int, error) {
	body["updated_at"] = time.Now().UTC()
	q.Set("select", "id")
	var rows []struct {
		ID string `json:"id"`
	}
	if err := s.client.restJSON(ctx, op, http.MethodPatch, tablePayments, q, preferRepresentation, body, &rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func updateBody(upd models.PaymentUpdate) map[string]interface{} {
	body := make(map[string]interface{})
	if upd.Status != nil {
		body["status"] = *upd.Status
	}
	if upd.ScreenshotURL != nil {
		body["screenshot_url"] = *upd.ScreenshotURL
	}
	if upd.Confidence != nil {
		body["confidence"] = *upd.Confidence
	}
	if upd.ExtractedText != nil {
		body["extracted_text"] = *upd.ExtractedText
	}
	if upd.AccessLink != nil {
		body["access_link"] = *upd.AccessLink
	}
	if upd.ExpiresAt != nil {
		body["expires_at"] = upd.ExpiresAt.UTC()
	}
	if upd.RejectionReason != nil {
		body["rejection_reason"] = *upd.RejectionReason
	}
	if upd.ExternalID != nil {
		body["external_id"] = *upd.ExternalID
	}
	return body
}

type verifyResult struct {
	Success    bool       `json:"success"`
	Status     string     `json:"status"`
	Error      string     `json:"error"`
	AccessLink string     `json:"access_link"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// VerifyAndGrant marks the payment verified and attaches the link in a single procedure
// call. The procedure also extends the owner's vip_until and returns the link the
// payment ends up with, which is the stored one when it already had a link.
func (s *Store) VerifyAndGrant(ctx context.Context, req payment.GrantRequest) (models.Grant, error) {
	var res verifyResult
	err := s.client.restJSON(ctx, "verify payment", http.MethodPost, rpcVerify, nil, "", map[string]interface{}{
		"payment_id":  req.PaymentID,
		"verified":    true,
		"access_link": req.AccessLink,
		"expires_at":  req.ExpiresAt.UTC(),
	}, &res)
	if err != nil {
		return models.Grant{}, err
	}
	if !res.Success {
		switch res.Error {
		case "not_found":
			return models.Grant{}, payment.ErrNotFound
		case "invalid_status":
			return models.Grant{}, fmt.Errorf("%w: payment is %s", payment.ErrInvalidTransition, res.Status)
		default:
			return models.Grant{}, fmt.Errorf("verify payment: %s", res.Error)
		}
	}
	if res.AccessLink == "" || res.ExpiresAt == nil {
		return models.Grant{}, errors.New("payment verified without an access link")
	}
	return models.Grant{PaymentID: req.PaymentID, AccessLink: res.AccessLink, ExpiresAt: *res.ExpiresAt}, nil
}

func (s *Store) CheckAccess(ctx context.Context, ownerID int64) (models.AccessStatus, error) {
	var res models.AccessStatus
	err := s.client.restJSON(ctx, "check vip access", http.MethodPost, rpcCheckAccess, nil, "", map[string]interface{}{
		"user_telegram_id": ownerID,
	}, &res)
	if err != nil {
		return models.AccessStatus{}, err
	}
	return res, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p models.Profile) error {
	body := map[string]interface{}{"telegram_id": p.OwnerID}
	if p.Username != "" {
		body["username"] = p.Username
	}
	if p.FirstName != "" {
		body["first_name"] = p.FirstName
	}
	return s.client.restJSON(ctx, "upsert profile", http.MethodPost, tableProfiles, url.Values{
		"on_conflict": {"telegram_id"},
	}, "resolution=merge-duplicates,"+preferMinimal, body, nil)
}

func (s *Store) LogAction(ctx context.Context, a models.UserAction) error {
	if a.Details == nil {
		a.Details = map[string]interface{}{}
	}
	return s.client.restJSON(ctx, "log user action", http.MethodPost, tableActions, nil, preferMinimal, a, nil)
}
