// Package notify resolves a subscriber's active channel bindings and
// delivers channel-appropriate renderings of a grade change-set.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/tmsbridge/gradewatch/internal/domain"
	"github.com/tmsbridge/gradewatch/internal/pkg/ctxlog"
	"github.com/tmsbridge/gradewatch/internal/store"
)

// Message is a rendered notification ready for one channel. Telegram
// consumes Body as Markdown, email consumes Subject plus Body as HTML,
// webhooks consume Embeds.
type Message struct {
	Subject string
	Body    string
	Embeds  []Embed
}

// Embed is a structured webhook attachment.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// EmbedField is one name/value pair inside an Embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Sender delivers a rendered message to one destination of its kind.
type Sender interface {
	Kind() domain.ChannelKind
	Send(ctx context.Context, target string, msg Message) error
}

// Config contains dispatcher configuration.
type Config struct {
	// MaxConcurrent caps in-flight deliveries across all subscribers.
	MaxConcurrent int
	// SendTimeout bounds one delivery attempt.
	SendTimeout time.Duration
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 16,
		SendTimeout:   30 * time.Second,
	}
}

// Dispatcher fans a change-set out to a subscriber's active channels.
// Deliveries run under the dispatcher's own concurrency cap so a slow
// mail server cannot starve grade polling.
type Dispatcher struct {
	config   Config
	repo     store.Repository
	renderer *Renderer
	senders  map[domain.ChannelKind]Sender
	sem      chan struct{}
}

// NewDispatcher creates a dispatcher over the given senders.
func NewDispatcher(config Config, repo store.Repository, renderer *Renderer, senders ...Sender) *Dispatcher {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultConfig().SendTimeout
	}

	senderMap := make(map[domain.ChannelKind]Sender)
	for _, s := range senders {
		senderMap[s.Kind()] = s
	}
	return &Dispatcher{
		config:   config,
		repo:     repo,
		renderer: renderer,
		senders:  senderMap,
		sem:      make(chan struct{}, config.MaxConcurrent),
	}
}

// Notify looks up the subscriber's active bindings once, renders the
// change-set per channel and attempts every delivery concurrently.
// Failures are logged and counted, never returned: one channel's
// trouble must not reach the others or the calling stage. Notify
// returns only after every attempt has finished.
func (d *Dispatcher) Notify(ctx context.Context, subscriberID int64, changes domain.ChangeSet, snapshot domain.GradeTable) {
	logger := ctxlog.FromContext(ctx)

	bindings, err := d.repo.ActiveBindings(ctx, subscriberID)
	if err != nil {
		logger.Error("resolve bindings failed",
			"subscriber_id", subscriberID,
			"error", err,
		)
		return
	}
	if len(bindings) == 0 {
		return
	}

	report := BuildReport(subscriberID, changes, snapshot)

	var wg sync.WaitGroup
	for _, binding := range bindings {
		sender, ok := d.senders[binding.Kind]
		if !ok {
			logger.Warn("no sender for channel kind", "kind", binding.Kind)
			continue
		}

		msg, err := d.renderer.Render(binding.Kind, report)
		if err != nil {
			logger.Error("render failed",
				"subscriber_id", subscriberID,
				"kind", binding.Kind,
				"error", err,
			)
			recordSend(string(binding.Kind), "render_error")
			continue
		}

		wg.Add(1)
		go func(binding domain.ChannelBinding, msg Message) {
			defer wg.Done()
			d.deliver(ctx, sender, binding, msg)
		}(binding, msg)
	}
	wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, sender Sender, binding domain.ChannelBinding, msg Message) {
	logger := ctxlog.FromContext(ctx)

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		recordSend(string(binding.Kind), "cancelled")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("sender panic",
				"kind", binding.Kind,
				"panic", r,
			)
			recordSend(string(binding.Kind), "panic")
		}
	}()

	start := time.Now()
	err := sender.Send(sendCtx, binding.Target, msg)
	recordSendDuration(string(binding.Kind), time.Since(start))

	if err != nil {
		logger.Error("delivery failed",
			"subscriber_id", binding.SubscriberID,
			"kind", binding.Kind,
			"error", err,
		)
		recordSend(string(binding.Kind), "failure")
		return
	}

	logger.Debug("delivered",
		"subscriber_id", binding.SubscriberID,
		"kind", binding.Kind,
	)
	recordSend(string(binding.Kind), "success")
}
