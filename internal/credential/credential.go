// Package credential supplies OAuth access tokens to the calendar gateway.
//
// Every source is an oauth2.TokenSource injected into the gateway. A
// Connector asks the broker on each call; wrap it in a Source to reuse
// tokens until shortly before they expire. There is no package-level
// token state.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"habitcal/internal/clock"
	appLog "habitcal/internal/log"
)

// ErrNotConnected is returned when no usable access token can be obtained.
var ErrNotConnected = errors.New("calendar not connected")

// DefaultSkew is how long before expiry a Source fetches a fresh token.
const DefaultSkew = time.Minute

type staticSource string

// Static returns a source for a fixed token, e.g. one from the environment.
// A blank token yields ErrNotConnected on use.
func Static(token string) oauth2.TokenSource { return staticSource(token) }

func (s staticSource) Token() (*oauth2.Token, error) {
	if strings.TrimSpace(string(s)) == "" {
		return nil, ErrNotConnected
	}
	return &oauth2.Token{AccessToken: string(s), TokenType: "Bearer"}, nil
}

// Source reuses tokens from base until skew before their expiry.
type Source struct {
	base oauth2.TokenSource
	skew time.Duration

	mu sync.Mutex
	ts oauth2.TokenSource
}

// NewSource wraps base. A non-positive skew means DefaultSkew.
func NewSource(base oauth2.TokenSource, skew time.Duration) *Source {
	if skew <= 0 {
		skew = DefaultSkew
	}
	s := &Source{base: base, skew: skew}
	s.ts = oauth2.ReuseTokenSourceWithExpiry(nil, base, skew)
	return s
}

func (s *Source) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	ts := s.ts
	s.mu.Unlock()
	return ts.Token()
}

// Invalidate forgets the current token, e.g. after the calendar rejected it.
func (s *Source) Invalidate() {
	s.mu.Lock()
	s.ts = oauth2.ReuseTokenSourceWithExpiry(nil, s.base, s.skew)
	s.mu.Unlock()
}

// ConnectorConfig describes the connection broker that hands out calendar
// tokens.
type ConnectorConfig struct {
	// BaseURL is the broker root, e.g. "https://connectors.example.com".
	BaseURL string
	// ConnectorName selects the calendar connection, e.g. "google-calendar".
	ConnectorName string
	// Identity is sent verbatim in the X_REPLIT_TOKEN header.
	Identity string
}

// Connector fetches a token from the connection broker on every call.
type Connector struct {
	ctx    context.Context
	cfg    ConnectorConfig
	client *http.Client
	clock  clock.Clock
}

// NewConnector creates a Connector whose requests run under ctx. A nil
// client gets a 15s timeout client.
func NewConnector(ctx context.Context, cfg ConnectorConfig, client *http.Client, clk clock.Clock) *Connector {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.ConnectorName == "" {
		cfg.ConnectorName = "google-calendar"
	}
	return &Connector{ctx: ctx, cfg: cfg, client: client, clock: clk}
}

// Token asks the broker for the current access token. A token without
// expires_at is stamped as expiring now, so a Source never reuses it.
func (c *Connector) Token() (*oauth2.Token, error) {
	return c.fetch(c.ctx)
}

// connectionResponse mirrors the broker's JSON. Only the fields we read are
// declared.
type connectionResponse struct {
	Items []struct {
		Settings struct {
			AccessToken string `json:"access_token"`
			ExpiresAt   string `json:"expires_at"`
			OAuth       struct {
				Credentials struct {
					AccessToken string `json:"access_token"`
				} `json:"credentials"`
			} `json:"oauth"`
		} `json:"settings"`
	} `json:"items"`
}

func (c *Connector) fetch(ctx context.Context) (*oauth2.Token, error) {
	if c.cfg.Identity == "" {
		return nil, fmt.Errorf("%w: no connector identity configured", ErrNotConnected)
	}
	if c.cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: no connector base URL configured", ErrNotConnected)
	}

	q := url.Values{}
	q.Set("include_secrets", "true")
	q.Set("connector_names", c.cfg.ConnectorName)
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/v2/connection?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X_REPLIT_TOKEN", c.cfg.Identity)

	appLog.Debug("credential refresh start", "connector", c.cfg.ConnectorName)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: connector status %s", ErrNotConnected, resp.Status)
	}

	var body connectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode connector response: %v", ErrNotConnected, err)
	}
	if len(body.Items) == 0 {
		return nil, ErrNotConnected
	}

	s := body.Items[0].Settings
	access := s.AccessToken
	if access == "" {
		access = s.OAuth.Credentials.AccessToken
	}
	if access == "" {
		return nil, ErrNotConnected
	}

	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer", Expiry: c.clock.Now()}
	if s.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, s.ExpiresAt); err == nil {
			tok.Expiry = t
		} else {
			appLog.Error("credential: unparseable expires_at; token will not be reused", err)
		}
	}

	appLog.Info("credential refreshed", "connector", c.cfg.ConnectorName, "expires_at", tok.Expiry)
	return tok, nil
}

// IdentityFromEnv builds the broker identity from the deployment
// environment: "repl <REPL_IDENTITY>" or "depl <WEB_REPL_RENEWAL>".
func IdentityFromEnv(getenv func(string) string) string {
	if v := getenv("REPL_IDENTITY"); v != "" {
		return "repl " + v
	}
	if v := getenv("WEB_REPL_RENEWAL"); v != "" {
		return "depl " + v
	}
	return ""
}
