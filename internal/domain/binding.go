package domain

import "time"

// ChannelKind identifies a delivery channel.
type ChannelKind string

// Supported delivery channels.
const (
	ChannelKindTelegram ChannelKind = "telegram"
	ChannelKindWebhook  ChannelKind = "webhook"
	ChannelKindEmail    ChannelKind = "email"
)

// ChannelBinding links a Subscriber to one destination on one channel
// kind. Binding rows are retained across re-subscriptions; the
// Subscriber record holds at most one active pointer per kind and only
// the active binding receives notifications.
type ChannelBinding struct {
	ID           int64
	SubscriberID int64
	Kind         ChannelKind
	Target       string // chat id, webhook URL or mailbox address
	CreatedAt    time.Time
}
