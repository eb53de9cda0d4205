// Package webhook delivers notifications to Discord-style incoming
// webhooks.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/tmsbridge/gradewatch/internal/domain"
	"github.com/tmsbridge/gradewatch/internal/notify"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "Gradewatch"
)

// webhookPattern is the shape a stored webhook URL must match. A
// target that fails the check is rejected before any network attempt.
var webhookPattern = regexp.MustCompile(
	`^https://discord\.com/api/webhooks/(\d{17,20})/([-a-zA-Z0-9()@:%_+.~#?&=]+)$`,
)

// Config holds webhook sender configuration. The webhook URL itself
// lives in the channel binding target, so global config is minimal.
type Config struct {
	Username  string        // display username, default "Gradewatch"
	AvatarURL string        // avatar URL (optional)
	Timeout   time.Duration // request timeout
	// URLPattern overrides the accepted target shape. Defaults to the
	// Discord webhook URL pattern.
	URLPattern *regexp.Regexp
}

// Sender implements the webhook channel.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a webhook sender.
func NewSender(config Config) *Sender {
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.URLPattern == nil {
		config.URLPattern = webhookPattern
	}
	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Kind returns the channel kind.
func (s *Sender) Kind() domain.ChannelKind {
	return domain.ChannelKindWebhook
}

// IsWebhookURL reports whether url has the expected webhook shape.
func IsWebhookURL(url string) bool {
	return webhookPattern.MatchString(url)
}

// Send posts the message embeds to the webhook URL in target.
func (s *Sender) Send(ctx context.Context, target string, msg notify.Message) error {
	if !s.config.URLPattern.MatchString(target) {
		return &PermanentError{Message: "target is not a valid webhook URL"}
	}

	payload := webhookPayload{
		Username:  s.config.Username,
		AvatarURL: s.config.AvatarURL,
		Content:   msg.Body,
		Embeds:    msg.Embeds,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, target)
}

type webhookPayload struct {
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Content   string         `json:"content,omitempty"`
	Embeds    []notify.Embed `json:"embeds,omitempty"`
}

func (s *Sender) handleResponse(resp *http.Response, target string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		slog.Debug("webhook message sent", "webhook", maskWebhookURL(target))
		return nil

	case http.StatusBadRequest:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("bad request: %s", string(body)),
		}

	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid or deleted webhook",
		}

	case http.StatusTooManyRequests:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: "rate limited",
		}

	default:
		if resp.StatusCode >= 500 {
			return &RetryableError{
				Code:    resp.StatusCode,
				Message: fmt.Sprintf("server error: %s", string(body)),
			}
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// maskWebhookURL hides the token part of the URL for logging.
func maskWebhookURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}

// PermanentError indicates a failure that retrying cannot fix.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("webhook error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("webhook error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary failure.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("webhook error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("webhook error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
