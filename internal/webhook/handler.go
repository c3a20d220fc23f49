package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vip-bot/internal/models"
	"vip-bot/internal/payment"
	"vip-bot/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Applier consumes normalized events.
type Applier interface {
	ApplyEvent(ctx context.Context, ev models.ProviderEvent) (*payment.ApplyResult, error)
}

type Handler struct {
	registry *Registry
	applier  Applier
	logger   *logger.Logger
}

func NewHandler(registry *Registry, applier Applier, log *logger.Logger) *Handler {
	return &Handler{registry: registry, applier: applier, logger: log}
}

type response struct {
	Status string `json:"status,omitempty"`
	Action string `json:"action,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ServeHTTP handles POST /webhook/{provider}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, err := h.registry.Get(name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: "Unknown provider"})
		return
	}
	log := h.logger.With("provider", provider.Name())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warnw("Failed to read webhook body", "error", err)
		writeJSON(w, http.StatusBadRequest, response{Error: "Failed to read request body"})
		return
	}

	if err := verify(provider, r, body); err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			writeJSON(w, http.StatusBadRequest, response{Error: "Invalid JSON"})
			return
		}
		if errors.Is(err, ErrNotConfigured) {
			log.Errorw("Webhook received for unconfigured provider")
		} else {
			log.Warnw("Invalid webhook signature", "error", err)
		}
		writeJSON(w, http.StatusUnauthorized, response{Error: "Invalid signature"})
		return
	}

	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, response{Error: "Invalid JSON"})
		return
	}
	ev, err := provider.Normalize(body)
	if err != nil {
		log.Warnw("Failed to normalize webhook", "error", err)
		writeJSON(w, http.StatusBadRequest, response{Error: "Invalid payload"})
		return
	}

	if ev.Outcome == models.OutcomeIgnored {
		log.Debugw("Ignoring webhook event", "event_type", ev.EventType)
		writeJSON(w, http.StatusOK, response{Status: "ok", Action: string(payment.ApplyIgnored)})
		return
	}

	res, err := h.applier.ApplyEvent(r.Context(), ev)
	if err != nil {
		if errors.Is(err, payment.ErrValidation) {
			log.Warnw("Rejected webhook event", "event_type", ev.EventType, "error", err)
			writeJSON(w, http.StatusBadRequest, response{Error: "Invalid payload"})
			return
		}
		log.Errorw("Failed to process webhook", "event_type", ev.EventType, "external_id", ev.ExternalID, "error", err)
		writeJSON(w, http.StatusInternalServerError, response{Error: "Processing failed"})
		return
	}

	log.Infow("Webhook processed", "event_type", ev.EventType, "external_id", ev.ExternalID, "action", res.Action)
	writeJSON(w, http.StatusOK, response{Status: "ok", Action: string(res.Action)})
}

func verify(p Provider, r *http.Request, body []byte) error {
	if sv, ok := p.(SourceVerifier); ok {
		return sv.VerifySource(r.RemoteAddr, body, r.Header)
	}
	return p.Verify(body, r.Header)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
