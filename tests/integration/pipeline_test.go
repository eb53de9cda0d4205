//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmsbridge/gradewatch/internal/bridge"
	"github.com/tmsbridge/gradewatch/internal/domain"
	"github.com/tmsbridge/gradewatch/internal/notify"
	"github.com/tmsbridge/gradewatch/internal/notify/email"
	"github.com/tmsbridge/gradewatch/internal/pipeline"
	"github.com/tmsbridge/gradewatch/internal/portal"
)

// fakePortal mimics the legacy portal: a form login answering with a
// redirect plus session cookie, and a cookie-authenticated JSON grades
// endpoint.
type fakePortal struct {
	mu       sync.Mutex
	accounts map[string]string         // account id -> password
	sessions map[string]bool           // token -> valid
	grades   map[string]map[string]any // course -> fields
	tokenSeq int
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		accounts: make(map[string]string),
		sessions: make(map[string]bool),
		grades:   make(map[string]map[string]any),
	}
}

func (p *fakePortal) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth.php", p.handleLogin)
	mux.HandleFunc("/api/resource/grades/latest", p.handleGrades)
	return mux
}

func (p *fakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	p.mu.Lock()
	defer p.mu.Unlock()

	password, ok := p.accounts[r.FormValue("username")]
	if !ok || password != r.FormValue("password") {
		w.WriteHeader(http.StatusOK)
		return
	}

	p.tokenSeq++
	token := fmt.Sprintf("sess-%04d", p.tokenSeq)
	p.sessions[token] = true

	http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: token, Path: "/"})
	w.Header().Set("Location", "/home")
	w.WriteHeader(http.StatusFound)
}

func (p *fakePortal) handleGrades(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cookie, err := r.Cookie("PHPSESSID")
	if err != nil || !p.sessions[cookie.Value] {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p.grades)
}

func (p *fakePortal) setGrade(course, field string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.grades[course] == nil {
		p.grades[course] = make(map[string]any)
	}
	p.grades[course][field] = value
}

func (p *fakePortal) expireAllSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for token := range p.sessions {
		p.sessions[token] = false
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, mailpitClient.DeleteAllMessages())

	fake := newFakePortal()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	bridgeClient := bridge.New(bridge.Config{Timeout: 10 * time.Second})
	defer func() { _ = bridgeClient.Close() }()

	portalClient := portal.NewClient(portal.DefaultConfig(server.URL), bridgeClient)

	emailSender, err := email.NewSender(email.Config{
		Enabled:     true,
		SMTPHost:    mailpitContainer.SMTPHost,
		SMTPPort:    mailpitContainer.SMTPPort,
		FromAddress: "Gradewatch <noreply@example.com>",
	})
	require.NoError(t, err)

	renderer, err := notify.NewRenderer()
	require.NoError(t, err)

	dispatcher := notify.NewDispatcher(notify.Config{}, testRepo, renderer, emailSender)
	pipe := pipeline.New(testRepo, portalClient, dispatcher)

	id, accountID := newSubscriber(t, "correct-horse")
	mailbox := fmt.Sprintf("%s@example.com", accountID)
	bindActive(t, id, domain.ChannelKindEmail, mailbox)
	fake.accounts[accountID] = "correct-horse"

	fake.setGrade("CS101", "courseName", "Intro to CS")
	fake.setGrade("CS101", "final", 80)

	// First cycle: log in and seed the baseline. No mail.
	require.NoError(t, pipe.Run(ctx))
	messages, err := mailpitClient.GetMessages()
	require.NoError(t, err)
	assert.Empty(t, messages, "baseline seeding must not notify")

	// A grade changed: exactly one mail.
	fake.setGrade("CS101", "final", 90)
	require.NoError(t, pipe.Run(ctx))

	messages, err = mailpitClient.WaitForMessages(1, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, mailbox, messages[0].To[0].Address)
	assert.Contains(t, messages[0].Subject, "Intro to CS")

	full, err := mailpitClient.GetMessageByID(messages[0].ID)
	require.NoError(t, err)
	assert.Contains(t, full.HTML, "90")

	// Unchanged rerun: still one mail.
	require.NoError(t, pipe.Run(ctx))
	messages, err = mailpitClient.GetMessages()
	require.NoError(t, err)
	assert.Len(t, messages, 1, "rerun without changes must not notify again")

	// The portal drops the session. The next cycle flips it to
	// expired, the one after re-authorizes and carries on without a
	// duplicate notification.
	fake.expireAllSessions()
	require.NoError(t, pipe.Run(ctx))
	require.NoError(t, pipe.Run(ctx))

	messages, err = mailpitClient.GetMessages()
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestPipeline_BadCredentialsIsolated(t *testing.T) {
	ctx := context.Background()

	fake := newFakePortal()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	bridgeClient := bridge.New(bridge.Config{Timeout: 10 * time.Second})
	defer func() { _ = bridgeClient.Close() }()

	portalClient := portal.NewClient(portal.DefaultConfig(server.URL), bridgeClient)

	renderer, err := notify.NewRenderer()
	require.NoError(t, err)
	dispatcher := notify.NewDispatcher(notify.Config{}, testRepo, renderer)
	pipe := pipeline.New(testRepo, portalClient, dispatcher)

	goodID, goodAccount := newSubscriber(t, "right")
	bindActive(t, goodID, domain.ChannelKindEmail, "good@example.com")
	fake.accounts[goodAccount] = "right"

	badID, badAccount := newSubscriber(t, "wrong")
	bindActive(t, badID, domain.ChannelKindEmail, "bad@example.com")
	fake.accounts[badAccount] = "not-wrong"

	require.NoError(t, pipe.Run(ctx))

	// Only the good account got a session.
	targets, err := testRepo.PollTargets(ctx)
	require.NoError(t, err)

	goodFound, badFound := false, false
	for _, target := range targets {
		switch target.SubscriberID {
		case goodID:
			goodFound = true
			assert.True(t, strings.HasPrefix(target.SessionToken, "sess-"))
		case badID:
			badFound = true
		}
	}
	assert.True(t, goodFound, "valid credentials should produce a session")
	assert.False(t, badFound, "rejected credentials should leave no session")
}
