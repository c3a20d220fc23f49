// Package webhook verifies payment provider notifications and turns them into
// provider-independent events.
package webhook

import (
	"errors"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"vip-bot/internal/models"
)

var (
	ErrUnknownProvider  = errors.New("unknown payment provider")
	ErrNotConfigured    = errors.New("payment provider is not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Provider is one payment system's webhook dialect.
type Provider interface {
	Name() string
	// Verify authenticates the raw request. Providers without a configured secret
	// return ErrNotConfigured.
	Verify(body []byte, header http.Header) error
	Normalize(body []byte) (models.ProviderEvent, error)
}

// SourceVerifier is implemented by providers that can also authenticate a request by
// the address it came from. The handler calls it instead of Verify.
type SourceVerifier interface {
	VerifySource(remoteAddr string, body []byte, header http.Header) error
}

// Registry maps provider names to adapters.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var ownerTag = regexp.MustCompile(`(?:TG|User):(\d+)`)

// OwnerFromText finds a "TG:<id>" or "User:<id>" tag in free text.
func OwnerFromText(s string) int64 {
	m := ownerTag.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// OwnerFromMetadata reads telegram_id, falling back to user_id.
func OwnerFromMetadata(md map[string]string) int64 {
	for _, key := range []string{"telegram_id", "user_id"} {
		v := strings.TrimSpace(md[key])
		if v == "" {
			continue
		}
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			return id
		}
	}
	return 0
}
