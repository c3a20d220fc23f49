// Package cache holds short-lived bot state: which chats are expected to send a
// payment screenshot, and which webhook deliveries were already handled.
package cache

import (
	"context"
	"fmt"
	"time"
)

const keyPrefix = "vipbot"

// ChatKey scopes conversation state to one bot, chat and user.
type ChatKey struct {
	BotID  int64
	ChatID int64
	UserID int64
}

func (k ChatKey) String() string {
	return fmt.Sprintf("%s:await:%d:%d:%d", keyPrefix, k.BotID, k.ChatID, k.UserID)
}

func dedupeKey(key string) string {
	return keyPrefix + ":dedupe:" + key
}

// Cache is implemented by Memory and Redis.
type Cache interface {
	// SetAwaiting remembers that the chat should send a screenshot for paymentID.
	SetAwaiting(ctx context.Context, key ChatKey, paymentID string, ttl time.Duration) error
	// TakeAwaiting returns and clears the awaited payment id.
	TakeAwaiting(ctx context.Context, key ChatKey) (string, bool, error)
	ClearAwaiting(ctx context.Context, key ChatKey) error
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Close() error
}
