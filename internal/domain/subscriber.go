// Package domain contains the core types shared across the pipeline.
package domain

import "time"

// Subscriber is a portal account registered for grade notifications.
// It is created on the first successful login and never deleted; the
// stored secret is refreshed on every successful re-login because the
// remote portal is the source of truth for password validity.
type Subscriber struct {
	ID        int64
	AccountID string // external student id used against the portal
	Secret    string // portal password, encrypted at rest by the store
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credentials is the subset of Subscriber needed to log in.
type Credentials struct {
	SubscriberID int64
	AccountID    string
	Secret       string
}
