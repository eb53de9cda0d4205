// Package portal is the narrow client for the legacy university
// portal: a form login that answers with a redirect plus session
// cookie, and a cookie-authenticated JSON grades endpoint.
package portal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tmsbridge/gradewatch/internal/bridge"
	"github.com/tmsbridge/gradewatch/internal/domain"
)

// Config contains portal client configuration.
type Config struct {
	BaseURL       string // e.g. "https://my.beu.edu.az/"
	LoginPath     string // relative to BaseURL
	GradesPath    string // relative to BaseURL
	SessionCookie string // cookie name carrying the session token
}

// DefaultConfig returns defaults matching the legacy portal layout.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		LoginPath:     "auth.php",
		GradesPath:    "api/resource/grades/latest",
		SessionCookie: "PHPSESSID",
	}
}

// Client issues portal calls through the bridge.
type Client struct {
	config Config
	bridge *bridge.Client
}

// NewClient creates a portal client. The base URL is normalized to end
// with a slash so relative paths join cleanly.
func NewClient(config Config, b *bridge.Client) *Client {
	if !strings.HasSuffix(config.BaseURL, "/") {
		config.BaseURL += "/"
	}
	return &Client{config: config, bridge: b}
}

// LoginResult is the outcome of one login attempt in a batch.
type LoginResult struct {
	SubscriberID int64
	AccountID    string
	Token        string
	Err          error
}

// FetchResult is the outcome of one grade fetch in a batch.
type FetchResult struct {
	SubscriberID int64
	Grades       domain.GradeTable
	Err          error
}

// Login authenticates one account. The portal answers a correct form
// login with a 302 carrying a fresh session cookie; a 200 page means
// the credentials were rejected.
func (c *Client) Login(ctx context.Context, accountID, secret string) (string, error) {
	resp, err := c.bridge.Do(ctx, c.loginRequest(accountID, secret))
	if err != nil {
		return "", err
	}
	return c.classifyLogin(resp)
}

// LoginBatch logs in all given accounts concurrently. Results come
// back per input, in input order; one bad credential never aborts the
// rest of the batch.
func (c *Client) LoginBatch(ctx context.Context, creds []domain.Credentials) []LoginResult {
	reqs := make([]bridge.Request, len(creds))
	for i, cred := range creds {
		reqs[i] = c.loginRequest(cred.AccountID, cred.Secret)
	}

	raw := c.bridge.DoBatch(ctx, reqs)

	results := make([]LoginResult, len(creds))
	for i, res := range raw {
		results[i] = LoginResult{
			SubscriberID: creds[i].SubscriberID,
			AccountID:    creds[i].AccountID,
		}
		if res.Err != nil {
			results[i].Err = res.Err
			continue
		}
		results[i].Token, results[i].Err = c.classifyLogin(res.Response)
	}
	return results
}

// FetchGrades fetches the current grade table for one session token.
func (c *Client) FetchGrades(ctx context.Context, token string) (domain.GradeTable, error) {
	resp, err := c.bridge.Do(ctx, c.gradesRequest(token))
	if err != nil {
		return nil, err
	}
	return c.classifyGrades(resp)
}

// FetchGradesBatch fetches grade tables for all targets concurrently,
// one result per input in input order.
func (c *Client) FetchGradesBatch(ctx context.Context, targets []domain.PollTarget) []FetchResult {
	reqs := make([]bridge.Request, len(targets))
	for i, t := range targets {
		reqs[i] = c.gradesRequest(t.SessionToken)
	}

	raw := c.bridge.DoBatch(ctx, reqs)

	results := make([]FetchResult, len(targets))
	for i, res := range raw {
		results[i] = FetchResult{SubscriberID: targets[i].SubscriberID}
		if res.Err != nil {
			results[i].Err = res.Err
			continue
		}
		results[i].Grades, results[i].Err = c.classifyGrades(res.Response)
	}
	return results
}

func (c *Client) loginRequest(accountID, secret string) bridge.Request {
	header := http.Header{}
	// The portal hands the session cookie back only when the login
	// request already presents one.
	header.Set("Cookie", fmt.Sprintf("%s=%s;", c.config.SessionCookie, newToken()))

	return bridge.Request{
		Method: http.MethodPost,
		URL:    c.config.BaseURL + c.config.LoginPath,
		Header: header,
		Form: url.Values{
			"username": {accountID},
			"password": {secret},
			"LogIn":    {""},
		},
	}
}

func (c *Client) gradesRequest(token string) bridge.Request {
	header := http.Header{}
	header.Set("Cookie", fmt.Sprintf("%s=%s;", c.config.SessionCookie, token))
	header.Set("Accept", "application/json")

	return bridge.Request{
		Method: http.MethodGet,
		URL:    c.config.BaseURL + c.config.GradesPath,
		Header: header,
	}
}

func (c *Client) classifyLogin(resp *bridge.Response) (string, error) {
	switch resp.StatusCode {
	case http.StatusOK:
		// A full login page instead of a redirect means rejection.
		return "", ErrBadCredentials
	case http.StatusFound, http.StatusSeeOther, http.StatusMovedPermanently:
		token := resp.Cookie(c.config.SessionCookie)
		if token == "" {
			return "", fmt.Errorf("%w: redirect without %s cookie", ErrBadGateway, c.config.SessionCookie)
		}
		return token, nil
	default:
		return "", fmt.Errorf("%w: login status %d", ErrBadGateway, resp.StatusCode)
	}
}

func (c *Client) classifyGrades(resp *bridge.Response) (domain.GradeTable, error) {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrSessionExpired
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: grades status %d", ErrBadGateway, resp.StatusCode)
	}

	var table domain.GradeTable
	if err := json.Unmarshal(resp.Body, &table); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return table, nil
}

// newToken generates the throwaway session id presented on login.
func newToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
