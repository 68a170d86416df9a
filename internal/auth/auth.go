// Package auth issues and caches the KIS access token and builds the
// request headers every trading endpoint requires.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"KisBridge/internal/response"
)

const (
	// RealURL is the production trading gateway.
	RealURL = "https://openapi.koreainvestment.com:9443"
	// VirtualURL is the paper-trading gateway.
	VirtualURL = "https://openapivts.koreainvestment.com:29443"
)

// Credentials identifies one KIS app and account.
type Credentials struct {
	AppKey    string
	AppSecret string
	// AccountNo is "account-productcode", e.g. "50000000-01".
	AccountNo string
	// IsReal selects the production gateway; false is paper trading.
	IsReal bool
}

// CANO is the account number half of AccountNo.
func (c Credentials) CANO() string {
	no, _, _ := strings.Cut(c.AccountNo, "-")
	return no
}

// ProductCode is the product-code half of AccountNo.
func (c Credentials) ProductCode() string {
	_, code, _ := strings.Cut(c.AccountNo, "-")
	return code
}

// Validate checks the account number shape before any network call.
func (c Credentials) Validate() error {
	if c.AppKey == "" || c.AppSecret == "" {
		return fmt.Errorf("app key and secret are required")
	}
	no, code, ok := strings.Cut(c.AccountNo, "-")
	if !ok || no == "" || code == "" {
		return fmt.Errorf("account_no must be \"number-productcode\", got %q", c.AccountNo)
	}
	return nil
}

// BaseURL returns the gateway for the account mode.
func (c Credentials) BaseURL() string {
	if c.IsReal {
		return RealURL
	}
	return VirtualURL
}

// token is the cached OAuth grant.
type token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	ExpiresAt   string `json:"access_token_token_expired"`

	expiresAt time.Time
}

func (t *token) expired(now time.Time) bool {
	return t == nil || !now.Before(t.expiresAt)
}

// Provider exchanges app credentials for access tokens and caches the
// current one in memory. Token issuance counts against the gateway rate
// limit like any other call, but is rare enough that the Provider does not
// go through the shared limiter.
type Provider struct {
	Creds  Credentials
	Client *http.Client

	mu  sync.Mutex
	tok *token

	now func() time.Time
	// baseURLOverride points issuance at a fixture server in tests.
	baseURLOverride string
}

// NewProvider creates a Provider with optional proxy support.
func NewProvider(creds Credentials, proxyURL string) *Provider {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Provider{
		Creds: creds,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		now: time.Now,
	}
}

// Token returns a valid access token, issuing a new one when the cached
// token is missing or expired.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.tok.expired(p.now()) {
		return p.tok.AccessToken, nil
	}

	tok, err := p.issue(ctx)
	if err != nil {
		return "", err
	}
	p.tok = tok
	return tok.AccessToken, nil
}

func (p *Provider) issue(ctx context.Context) (*token, error) {
	payload := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     p.Creds.AppKey,
		"appsecret":  p.Creds.AppSecret,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal token request: %w", err)
	}

	base := p.Creds.BaseURL()
	if p.baseURLOverride != "" {
		base = p.baseURLOverride
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		base+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &response.AuthError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	// The OAuth endpoints classify purely on status; no rt_cd here.
	if resp.StatusCode != http.StatusOK {
		env, envErr := response.New(resp.StatusCode, resp.Header, respBody)
		msg := string(respBody)
		if envErr == nil {
			msg = env.ErrMessage()
		}
		return nil, &response.AuthError{Status: resp.StatusCode, Message: msg}
	}

	var tok token
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, &response.AuthError{Status: resp.StatusCode, Message: "empty access token"}
	}
	tok.expiresAt = p.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if at, err := time.ParseInLocation("2006-01-02 15:04:05", tok.ExpiresAt, time.Local); err == nil {
		tok.expiresAt = at
	}
	return &tok, nil
}

// Headers builds the per-request header set: bearer authorization plus the
// app credentials. The caller adds the endpoint's tr_id.
func (p *Provider) Headers(ctx context.Context) (http.Header, error) {
	tok, err := p.Token(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("authorization", "Bearer "+tok)
	h.Set("appkey", p.Creds.AppKey)
	h.Set("appsecret", p.Creds.AppSecret)
	return h, nil
}
