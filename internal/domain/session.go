package domain

import "time"

// Session is an opaque portal token owned by one Subscriber. Rows are
// insert-only; the only permitted mutation is flipping Expired from
// false to true. A Subscriber's "current" session is the most recently
// created non-expired row.
type Session struct {
	ID           int64
	SubscriberID int64
	Token        string
	Expired      bool
	CreatedAt    time.Time
}

// PollTarget pairs a subscriber with its current session token for the
// snapshot stage.
type PollTarget struct {
	SubscriberID int64
	SessionToken string
}
