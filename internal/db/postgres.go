package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"vip-bot/config"
	"vip-bot/internal/models"
	"vip-bot/internal/payment"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

var _ payment.Store = (*PostgresDB)(nil)

func connString(cfg config.DBConfig) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.MaxOpenConns,
	)
}

func NewPostgresDB(cfg config.DBConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(connString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	if cfg.ConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnLifetime
	}
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

const paymentColumns = `
	id::text, telegram_id, amount::text, currency, payment_method,
	COALESCE(external_id, ''), status, COALESCE(screenshot_url, ''),
	COALESCE(confidence, 0), COALESCE(extracted_text, ''), COALESCE(access_link, ''),
	expires_at, COALESCE(rejection_reason, ''), created_at, updated_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var (
		p      models.Payment
		amount string
		status string
	)
	err := row.Scan(
		&p.ID, &p.OwnerID, &amount, &p.Currency, &p.Method,
		&p.ExternalID, &status, &p.ScreenshotURL,
		&p.Confidence, &p.ExtractedText, &p.AccessLink,
		&p.ExpiresAt, &p.RejectionReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	p.Status = models.Status(status)
	return &p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (db *PostgresDB) CreatePayment(ctx context.Context, p *models.Payment) error {
	query := `
        INSERT INTO payments (id, telegram_id, amount, currency, payment_method, external_id, status, created_at, updated_at)
        VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)
        RETURNING ` + paymentColumns

	created, err := scanPayment(db.pool.QueryRow(ctx, query,
		p.ID, p.OwnerID, p.Amount.String(), p.Currency, p.Method,
		nullable(p.ExternalID), string(p.Status), p.CreatedAt, p.UpdatedAt,
	))
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	*p = *created
	return nil
}

func (db *PostgresDB) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) FindByExternalID(ctx context.Context, method, externalID string) (*models.Payment, error) {
	query := `
        SELECT ` + paymentColumns + `
        FROM payments
        WHERE payment_method = $1 AND external_id = $2
        ORDER BY created_at DESC
        LIMIT 1`
	return scanPayment(db.pool.QueryRow(ctx, query, method, externalID))
}

func (db *PostgresDB) FindOpenPayment(ctx context.Context, ownerID int64) (*models.Payment, error) {
	query := `
        SELECT ` + paymentColumns + `
        FROM payments
        WHERE telegram_id = $1 AND status IN ($2, $3)
        ORDER BY created_at DESC
        LIMIT 1`
	return scanPayment(db.pool.QueryRow(ctx, query, ownerID,
		string(models.StatusPending), string(models.StatusNeedsManualReview)))
}

func (db *PostgresDB) ListOwnerPayments(ctx context.Context, ownerID int64, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
        SELECT ` + paymentColumns + `
        FROM payments
        WHERE telegram_id = $1
        ORDER BY created_at DESC
        LIMIT $2`

	rows, err := db.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdatePayment writes only the non-nil fields of upd.
func (db *PostgresDB) UpdatePayment(ctx context.Context, id string, upd models.PaymentUpdate) error {
	query := `
        UPDATE payments SET
            status           = COALESCE($2, status),
            screenshot_url   = COALESCE($3, screenshot_url),
            confidence       = COALESCE($4, confidence),
            extracted_text   = COALESCE($5, extracted_text),
            access_link      = COALESCE($6, access_link),
            expires_at       = COALESCE($7, expires_at),
            rejection_reason = COALESCE($8, rejection_reason),
            external_id      = COALESCE($9, external_id),
            updated_at       = NOW()
        WHERE id = $1`

	var status *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}
	tag, err := db.pool.Exec(ctx, query, id,
		status, upd.ScreenshotURL, upd.Confidence, upd.ExtractedText,
		upd.AccessLink, upd.ExpiresAt, upd.RejectionReason, upd.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func (db *PostgresDB) ExpirePayment(ctx context.Context, id string, from models.Status) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
        UPDATE payments SET status = $3, updated_at = NOW()
        WHERE id = $1 AND status = $2`,
		id, string(from), string(models.StatusExpired))
	if err != nil {
		return false, fmt.Errorf("failed to expire payment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (db *PostgresDB) RejectPayment(ctx context.Context, id string, from models.Status, reason string) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
        UPDATE payments SET status = $3, rejection_reason = $4, updated_at = NOW()
        WHERE id = $1 AND status = $2`,
		id, string(from), string(models.StatusRejected), reason)
	if err != nil {
		return false, fmt.Errorf("failed to reject payment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// VerifyAndGrant locks the payment row, marks it verified, attaches the link once
// and extends the owner's profile, all in one transaction.
func (db *PostgresDB) VerifyAndGrant(ctx context.Context, req payment.GrantRequest) (models.Grant, error) {
	var grant models.Grant
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var (
			ownerID int64
			status  string
			link    *string
			expires *time.Time
		)
		err := tx.QueryRow(ctx, `
            SELECT telegram_id, status, access_link, expires_at
            FROM payments WHERE id = $1 FOR UPDATE`, req.PaymentID,
		).Scan(&ownerID, &status, &link, &expires)
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.ErrNotFound
		}
		if err != nil {
			return err
		}

		current := models.Status(status)
		if !current.Open() && !current.Succeeded() {
			return fmt.Errorf("%w: payment is %s", payment.ErrInvalidTransition, current)
		}

		if link != nil && *link != "" && expires != nil {
			grant = models.Grant{PaymentID: req.PaymentID, AccessLink: *link, ExpiresAt: *expires}
			if current.Succeeded() {
				return nil
			}
		} else {
			grant = models.Grant{PaymentID: req.PaymentID, AccessLink: req.AccessLink, ExpiresAt: req.ExpiresAt}
		}

		if _, err := tx.Exec(ctx, `
            UPDATE payments
            SET status = $2, access_link = $3, expires_at = $4, updated_at = NOW()
            WHERE id = $1`,
			req.PaymentID, string(models.StatusVerified), grant.AccessLink, grant.ExpiresAt,
		); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
            INSERT INTO profiles (telegram_id, vip_until) VALUES ($1, $2)
            ON CONFLICT (telegram_id) DO UPDATE
            SET vip_until = GREATEST(COALESCE(profiles.vip_until, $2), $2), updated_at = NOW()`,
			ownerID, grant.ExpiresAt)
		return err
	})
	if err != nil {
		return models.Grant{}, err
	}
	return grant, nil
}

func (db *PostgresDB) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (db *PostgresDB) CheckAccess(ctx context.Context, ownerID int64) (models.AccessStatus, error) {
	var until *time.Time
	err := db.pool.QueryRow(ctx, `
        SELECT MAX(expires_at) FROM payments
        WHERE telegram_id = $1 AND status IN ($2, $3) AND expires_at > NOW()`,
		ownerID, string(models.StatusVerified), string(models.StatusAutoVerified),
	).Scan(&until)
	if err != nil {
		return models.AccessStatus{}, fmt.Errorf("failed to check access: %w", err)
	}
	return models.AccessStatus{HasAccess: until != nil, ExpiresAt: until}, nil
}

func (db *PostgresDB) UpsertProfile(ctx context.Context, p models.Profile) error {
	_, err := db.pool.Exec(ctx, `
        INSERT INTO profiles (telegram_id, username, first_name)
        VALUES ($1, $2, $3)
        ON CONFLICT (telegram_id) DO UPDATE
        SET username = COALESCE($2, profiles.username),
            first_name = COALESCE($3, profiles.first_name),
            updated_at = NOW()`,
		p.OwnerID, nullable(p.Username), nullable(p.FirstName))
	return err
}

func (db *PostgresDB) LogAction(ctx context.Context, a models.UserAction) error {
	details := a.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode action details: %w", err)
	}
	_, err = db.pool.Exec(ctx, `
        INSERT INTO user_actions (telegram_id, action, details)
        VALUES ($1, $2, $3::jsonb)`,
		a.OwnerID, a.Action, string(raw))
	return err
}
