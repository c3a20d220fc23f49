package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vip-bot/config"
	"vip-bot/internal/models"
	"vip-bot/internal/payment"
)

func TestConnString(t *testing.T) {
	got := connString(config.DBConfig{
		Host: "db", Port: "5432", User: "bot", Password: "secret",
		DBName: "vip", SSLMode: "disable", MaxOpenConns: 7,
	})
	assert.Equal(t, "host=db port=5432 user=bot password=secret dbname=vip sslmode=disable pool_max_conns=7", got)
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(""))
	require.NotNil(t, nullable("x"))
	assert.Equal(t, "x", *nullable("x"))
}

// newTestDB connects to the database named by VIPBOT_TEST_DB_HOST. The schema from
// migrations/ must already be applied.
func newTestDB(t *testing.T) *PostgresDB {
	t.Helper()
	host := os.Getenv("VIPBOT_TEST_DB_HOST")
	if host == "" {
		t.Skip("VIPBOT_TEST_DB_HOST not set")
	}
	db, err := NewPostgresDB(config.DBConfig{
		Host:         host,
		Port:         envOr("VIPBOT_TEST_DB_PORT", "5432"),
		User:         envOr("VIPBOT_TEST_DB_USER", "postgres"),
		Password:     os.Getenv("VIPBOT_TEST_DB_PASSWORD"),
		DBName:       envOr("VIPBOT_TEST_DB_NAME", "postgres"),
		SSLMode:      "disable",
		MaxOpenConns: 4,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPaymentLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	owner := time.Now().UnixNano() % 1_000_000_000

	require.NoError(t, db.UpsertProfile(ctx, models.Profile{OwnerID: owner, Username: "tester"}))

	now := time.Now().UTC().Truncate(time.Second)
	p := &models.Payment{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Amount:    decimal.RequireFromString("500.00"),
		Currency:  "RUB",
		Method:    models.MethodManual,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.CreatePayment(ctx, p))

	open, err := db.FindOpenPayment(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, p.ID, open.ID)
	assert.True(t, decimal.NewFromInt(500).Equal(open.Amount))

	review := models.StatusNeedsManualReview
	confidence := 60
	require.NoError(t, db.UpdatePayment(ctx, p.ID, models.PaymentUpdate{Status: &review, Confidence: &confidence}))

	applied, err := db.ExpirePayment(ctx, p.ID, models.StatusPending)
	require.NoError(t, err)
	assert.False(t, applied, "status already moved on")

	expires := now.Add(30 * 24 * time.Hour)
	grant, err := db.VerifyAndGrant(ctx, payment.GrantRequest{PaymentID: p.ID, AccessLink: "https://t.me/+a", ExpiresAt: expires})
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+a", grant.AccessLink)

	again, err := db.VerifyAndGrant(ctx, payment.GrantRequest{PaymentID: p.ID, AccessLink: "https://t.me/+b", ExpiresAt: expires})
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+a", again.AccessLink)

	access, err := db.CheckAccess(ctx, owner)
	require.NoError(t, err)
	assert.True(t, access.HasAccess)

	_, err = db.FindOpenPayment(ctx, owner)
	assert.ErrorIs(t, err, payment.ErrNotFound)

	history, err := db.ListOwnerPayments(ctx, owner, 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusVerified, history[0].Status)

	require.NoError(t, db.LogAction(ctx, models.UserAction{OwnerID: owner, Action: models.ActionModeratorApproved}))
}

func TestVerifyRejectedPayment(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := &models.Payment{
		ID:        uuid.NewString(),
		OwnerID:   time.Now().UnixNano() % 1_000_000_000,
		Amount:    decimal.NewFromInt(500),
		Currency:  "RUB",
		Method:    models.MethodManual,
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.CreatePayment(ctx, p))

	applied, err := db.RejectPayment(ctx, p.ID, models.StatusPending, "bad")
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = db.VerifyAndGrant(ctx, payment.GrantRequest{PaymentID: p.ID, AccessLink: "x", ExpiresAt: time.Now()})
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)

	_, err = db.GetPayment(ctx, uuid.NewString())
	assert.ErrorIs(t, err, payment.ErrNotFound)
}
