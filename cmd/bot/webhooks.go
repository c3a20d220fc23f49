package main

import (
	"net/http"

	"vip-bot/config"
	"vip-bot/internal/webhook"
	"vip-bot/pkg/logger"
)

// newRegistry registers every provider. Providers without a secret stay registered
// and answer 401.
func newRegistry(cfg *config.Config) *webhook.Registry {
	return webhook.NewRegistry(
		webhook.NewStripe(cfg.Stripe.WebhookKey),
		webhook.NewYooKassa(cfg.YooKassa.ShopID, cfg.YooKassa.SecretKey),
		webhook.NewQiwi(cfg.Qiwi.WebhookKey),
		webhook.NewTinkoff(cfg.Tinkoff.TerminalPassword),
	)
}

func newWebhookHandler(registry *webhook.Registry, applier webhook.Applier, l *logger.Logger) http.Handler {
	return webhook.NewHandler(registry, applier, l.With("component", "webhook"))
}
