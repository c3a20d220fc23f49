// internal/access/link.go
package access

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://t.me/+"
	DefaultTTL     = 30 * 24 * time.Hour
	tokenBytes     = 32
)

// Generator issues invite links to the restricted chat.
type Generator struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewGenerator(baseURL string, ttl time.Duration) *Generator {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Generator{baseURL: baseURL, ttl: ttl, now: time.Now}
}

// Issue returns a fresh link and the moment it stops granting access.
func (g *Generator) Issue() (string, time.Time, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return g.baseURL + token, g.now().UTC().Add(g.ttl), nil
}

func (g *Generator) TTL() time.Duration {
	return g.ttl
}
