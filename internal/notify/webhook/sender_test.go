package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmsbridge/gradewatch/internal/domain"
	"github.com/tmsbridge/gradewatch/internal/notify"
)

func TestNewSender_Defaults(t *testing.T) {
	sender := NewSender(Config{})

	assert.Equal(t, defaultUsername, sender.config.Username)
	assert.Equal(t, defaultTimeout, sender.config.Timeout)
	assert.NotNil(t, sender.config.URLPattern)
	assert.NotNil(t, sender.httpClient)
}

func TestSender_Kind(t *testing.T) {
	sender := NewSender(Config{})
	assert.Equal(t, domain.ChannelKindWebhook, sender.Kind())
}

func TestIsWebhookURL(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		valid bool
	}{
		{
			name:  "valid webhook",
			url:   "https://discord.com/api/webhooks/12345678901234567/aBcD-eFgH_iJkL",
			valid: true,
		},
		{
			name:  "wrong host",
			url:   "https://example.com/api/webhooks/12345678901234567/aBcD",
			valid: false,
		},
		{
			name:  "plain http",
			url:   "http://discord.com/api/webhooks/12345678901234567/aBcD",
			valid: false,
		},
		{
			name:  "short id",
			url:   "https://discord.com/api/webhooks/123/aBcD",
			valid: false,
		},
		{
			name:  "missing token",
			url:   "https://discord.com/api/webhooks/12345678901234567/",
			valid: false,
		},
		{
			name:  "not a url",
			url:   "chat-id-42",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsWebhookURL(tt.url))
		})
	}
}

func TestSender_Send_BadShapeNoNetwork(t *testing.T) {
	contacted := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contacted = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	// Default pattern only accepts the Discord shape, so the local
	// test URL must be rejected before any request goes out.
	sender := NewSender(Config{})
	err := sender.Send(context.Background(), server.URL, notify.Message{})

	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	assert.False(t, perm.IsRetryable())
	assert.False(t, contacted, "shape check must reject without a network attempt")
}

func TestSender_Send_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload webhookPayload
		err := json.NewDecoder(r.Body).Decode(&payload)
		require.NoError(t, err)
		assert.Equal(t, "Gradewatch", payload.Username)
		require.Len(t, payload.Embeds, 1)
		assert.Equal(t, "Calculus I (MA101)", payload.Embeds[0].Title)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewSender(Config{URLPattern: regexp.MustCompile(`^http://`)})
	err := sender.Send(context.Background(), server.URL, notify.Message{
		Embeds: []notify.Embed{
			{Title: "Calculus I (MA101)", Fields: []notify.EmbedField{{Name: "Final", Value: "90", Inline: true}}},
		},
	})

	assert.NoError(t, err)
}

func TestSender_Send_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"not found", http.StatusNotFound, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			sender := NewSender(Config{URLPattern: regexp.MustCompile(`^http://`)})
			err := sender.Send(context.Background(), server.URL, notify.Message{})

			require.Error(t, err)
			if tt.retryable {
				var re *RetryableError
				require.ErrorAs(t, err, &re)
				assert.True(t, re.IsRetryable())
			} else {
				var pe *PermanentError
				require.ErrorAs(t, err, &pe)
				assert.False(t, pe.IsRetryable())
			}
		})
	}
}

func TestSender_Send_ConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sender := NewSender(Config{
		URLPattern: regexp.MustCompile(`^http://`),
		Timeout:    2 * time.Second,
	})
	err := sender.Send(context.Background(), url, notify.Message{})

	var re *RetryableError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.IsRetryable())
}

func TestMaskWebhookURL(t *testing.T) {
	long := "https://discord.com/api/webhooks/12345678901234567/secretsecretsecret"
	masked := maskWebhookURL(long)
	assert.NotContains(t, masked, "secretsecretsecret")
	assert.Contains(t, masked, "...")

	short := "https://d.co/x"
	assert.Equal(t, short, maskWebhookURL(short))
}
