package payment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"vip-bot/internal/models"
)

type memStore struct {
	mu       sync.Mutex
	payments map[string]*models.Payment
	profiles map[int64]models.Profile
	actions  []models.UserAction

	// failLinks makes that many VerifyAndGrant calls mark the payment verified and then
	// fail before the link is stored.
	failLinks int
}

func newMemStore() *memStore {
	return &memStore{
		payments: make(map[string]*models.Payment),
		profiles: make(map[int64]models.Profile),
	}
}

func (m *memStore) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *memStore) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) FindByExternalID(_ context.Context, method, externalID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.Method == method && p.ExternalID == externalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) FindOpenPayment(_ context.Context, ownerID int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.Payment
	for _, p := range m.payments {
		if p.OwnerID != ownerID || !p.Status.Open() {
			continue
		}
		if found == nil || p.CreatedAt.After(found.CreatedAt) {
			found = p
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (m *memStore) ListOwnerPayments(_ context.Context, ownerID int64, limit int) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdatePayment(_ context.Context, id string, upd models.PaymentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.ScreenshotURL != nil {
		p.ScreenshotURL = *upd.ScreenshotURL
	}
	if upd.Confidence != nil {
		p.Confidence = *upd.Confidence
	}
	if upd.ExtractedText != nil {
		p.ExtractedText = *upd.ExtractedText
	}
	if upd.AccessLink != nil {
		p.AccessLink = *upd.AccessLink
	}
	if upd.ExpiresAt != nil {
		t := *upd.ExpiresAt
		p.ExpiresAt = &t
	}
	if upd.RejectionReason != nil {
		p.RejectionReason = *upd.RejectionReason
	}
	if upd.ExternalID != nil {
		p.ExternalID = *upd.ExternalID
	}
	return nil
}

func (m *memStore) ExpirePayment(_ context.Context, id string, from models.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = models.StatusExpired
	return true, nil
}

func (m *memStore) RejectPayment(_ context.Context, id string, from models.Status, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = models.StatusRejected
	p.RejectionReason = reason
	return true, nil
}

func (m *memStore) VerifyAndGrant(_ context.Context, req GrantRequest) (models.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[req.PaymentID]
	if !ok {
		return models.Grant{}, ErrNotFound
	}
	if p.HasGrant() && p.ExpiresAt != nil {
		return models.Grant{PaymentID: p.ID, AccessLink: p.AccessLink, ExpiresAt: *p.ExpiresAt}, nil
	}
	if p.Status.Failed() {
		return models.Grant{}, ErrInvalidTransition
	}
	p.Status = models.StatusVerified
	if m.failLinks > 0 {
		m.failLinks--
		return models.Grant{}, errBoom
	}
	p.AccessLink = req.AccessLink
	expires := req.ExpiresAt
	p.ExpiresAt = &expires
	return models.Grant{PaymentID: p.ID, AccessLink: req.AccessLink, ExpiresAt: req.ExpiresAt}, nil
}

func (m *memStore) CheckAccess(_ context.Context, ownerID int64) (models.AccessStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *time.Time
	for _, p := range m.payments {
		if p.OwnerID == ownerID && p.HasGrant() && p.ExpiresAt != nil && p.ExpiresAt.After(time.Now()) {
			if best == nil || p.ExpiresAt.After(*best) {
				best = p.ExpiresAt
			}
		}
	}
	return models.AccessStatus{HasAccess: best != nil, ExpiresAt: best}, nil
}

func (m *memStore) UpsertProfile(_ context.Context, p models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.OwnerID] = p
	return nil
}

func (m *memStore) LogAction(_ context.Context, a models.UserAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, a)
	return nil
}

func (m *memStore) actionNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.actions))
	for _, a := range m.actions {
		names = append(names, a.Action)
	}
	return names
}

func (m *memStore) get(id string) models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.payments[id]
}

type fakeNotifier struct {
	moderators []models.Payment
	granted    []models.Grant
	rejected   []string
}

func (f *fakeNotifier) NotifyModerators(_ context.Context, p models.Payment, _ Verdict) error {
	f.moderators = append(f.moderators, p)
	return nil
}

func (f *fakeNotifier) NotifyGranted(_ context.Context, _ int64, g models.Grant) error {
	f.granted = append(f.granted, g)
	return nil
}

func (f *fakeNotifier) NotifyRejected(_ context.Context, _ int64, _ string, reason string) error {
	f.rejected = append(f.rejected, reason)
	return nil
}

type fakeStorage struct {
	keys []string
	err  error
}

func (f *fakeStorage) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://files.example.com/" + key, nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) ExtractText(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

type memDeduper struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (d *memDeduper) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.keys == nil {
		d.keys = make(map[string]bool)
	}
	if d.keys[key] {
		return false, nil
	}
	d.keys[key] = true
	return true, nil
}

func (d *memDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}

type seqLinks struct {
	n   int
	now time.Time
}

func (s *seqLinks) Issue() (string, time.Time, error) {
	s.n++
	return "https://t.me/+link" + string(rune('A'+s.n-1)), s.now.Add(30 * 24 * time.Hour), nil
}

var errBoom = errors.New("boom")
