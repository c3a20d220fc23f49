package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/shopspring/decimal"

	"vip-bot/internal/models"
)

type yooKassaNotification struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value    decimal.Decimal `json:"value"`
			Currency string          `json:"currency"`
		} `json:"amount"`
		Description string            `json:"description"`
		Metadata    map[string]string `json:"metadata"`
	} `json:"object"`
}

// yooKassaNetworks are the addresses YooKassa sends notifications from.
var yooKassaNetworks = []netip.Prefix{
	netip.MustParsePrefix("185.71.76.0/27"),
	netip.MustParsePrefix("185.71.77.0/27"),
	netip.MustParsePrefix("77.75.153.0/25"),
	netip.MustParsePrefix("77.75.156.11/32"),
	netip.MustParsePrefix("77.75.156.35/32"),
	netip.MustParsePrefix("77.75.154.128/25"),
	netip.MustParsePrefix("2a02:5180::/32"),
}

// YooKassa notifications carry no signature. They are accepted from YooKassa's
// published networks, or with HTTP Basic credentials shop_id:secret_key when a proxy
// in front of the bot adds them.
type YooKassa struct {
	shopID    string
	secretKey string
}

func NewYooKassa(shopID, secretKey string) *YooKassa {
	return &YooKassa{shopID: shopID, secretKey: secretKey}
}

func (y *YooKassa) Name() string { return models.MethodYooKassa }

func (y *YooKassa) Verify(_ []byte, header http.Header) error {
	if y.shopID == "" || y.secretKey == "" {
		return ErrNotConfigured
	}
	user, pass, ok := (&http.Request{Header: header}).BasicAuth()
	if !ok {
		return fmt.Errorf("%w: missing basic credentials", ErrInvalidSignature)
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(y.shopID)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(y.secretKey)) == 1
	if !userOK || !passOK {
		return fmt.Errorf("%w: credentials mismatch", ErrInvalidSignature)
	}
	return nil
}

// VerifySource checks Basic credentials when the request has an Authorization header and
// the sender address otherwise.
func (y *YooKassa) VerifySource(remoteAddr string, body []byte, header http.Header) error {
	if y.shopID == "" || y.secretKey == "" {
		return ErrNotConfigured
	}
	if header.Get("Authorization") != "" {
		return y.Verify(body, header)
	}
	addr, ok := parseRemoteAddr(remoteAddr)
	if !ok {
		return fmt.Errorf("%w: bad remote address %q", ErrInvalidSignature, remoteAddr)
	}
	for _, network := range yooKassaNetworks {
		if network.Contains(addr) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not a yookassa address", ErrInvalidSignature, addr)
}

func parseRemoteAddr(remoteAddr string) (netip.Addr, bool) {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func (y *YooKassa) Normalize(body []byte) (models.ProviderEvent, error) {
	var n yooKassaNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return models.ProviderEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ev := models.ProviderEvent{
		Provider:  y.Name(),
		EventType: n.Event,
		Outcome:   models.OutcomeIgnored,
	}
	switch n.Event {
	case "payment.succeeded":
		ev.Outcome = models.OutcomeSucceeded
	case "payment.canceled":
		ev.Outcome = models.OutcomeFailed
	default:
		return ev, nil
	}

	ev.ExternalID = n.Object.ID
	ev.Amount = n.Object.Amount.Value
	ev.Currency = strings.ToUpper(n.Object.Amount.Currency)
	if ev.Currency == "" {
		ev.Currency = "RUB"
	}
	ev.OwnerID = OwnerFromMetadata(n.Object.Metadata)
	if ev.OwnerID == 0 {
		ev.OwnerID = OwnerFromText(n.Object.Description)
	}
	return ev, nil
}
