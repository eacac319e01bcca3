package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// DefaultTimeout bounds every gateway request.
const DefaultTimeout = 30 * time.Second

// TokenSource supplies the bearer credential attached to outbound requests.
type TokenSource interface {
	CurrentToken() (string, bool)
}

// Client is the single outbound gateway to the UrbanDrive backend. Every
// request reads the token source immediately before dispatch; every 401
// response fires the auth-expired handler. Navigation and store clearing are
// the subscriber's concern, not the transport's.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource

	mu            sync.RWMutex
	onAuthExpired func()
}

// NewClient creates a gateway client. A zero timeout falls back to
// DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:   u,
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
	}, nil
}

// OnAuthExpired registers the handler invoked when any call is rejected with
// a 401. Fires once per rejected response.
func (c *Client) OnAuthExpired(fn func()) {
	c.mu.Lock()
	c.onAuthExpired = fn
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", uuid.New().String())

	// Unconditional: no endpoint is exempt from credential injection
	if token, ok := c.tokens.CurrentToken(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.RLock()
		fn := c.onAuthExpired
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
		return newError(resp.StatusCode, payload)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newError(resp.StatusCode, payload)
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Login exchanges credentials for a token and user record.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Identity, error) {
	var out Identity
	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me fetches the identity behind the current token.
func (c *Client) Me(ctx context.Context) (*Identity, error) {
	var out Identity
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateReport submits a new incident report.
func (c *Client) CreateReport(ctx context.Context, req CreateReportRequest) (*Report, error) {
	var out Report
	if err := c.do(ctx, http.MethodPost, "/traffic/reportes", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListReports fetches the full active report collection.
func (c *Client) ListReports(ctx context.Context) ([]Report, error) {
	var out []Report
	if err := c.do(ctx, http.MethodGet, "/traffic/reportes", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NearbyReports fetches incidents within radiusKM of a point as GeoJSON.
func (c *Client) NearbyReports(ctx context.Context, lat, lng, radiusKM float64) (*FeatureCollection, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%g", lat))
	q.Set("lng", fmt.Sprintf("%g", lng))
	q.Set("radio", fmt.Sprintf("%g", radiusKM))
	var out FeatureCollection
	if err := c.do(ctx, http.MethodGet, "/traffic/reportes/cercanos", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateReport casts a social validation on another user's report.
func (c *Client) ValidateReport(ctx context.Context, reportID, userID int) (*ValidationResult, error) {
	var out ValidationResult
	path := fmt.Sprintf("/traffic/reportes/%d/validar", reportID)
	if err := c.do(ctx, http.MethodPost, path, nil, ValidateRequest{UserID: userID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile fetches the gamification snapshot for a user.
func (c *Client) Profile(ctx context.Context, userID int) (*Profile, error) {
	var out Profile
	path := fmt.Sprintf("/gamification/profile/%d", userID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Leaderboard fetches the top-XP ranking.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	var out leaderboardResponse
	if err := c.do(ctx, http.MethodGet, "/gamification/leaderboard", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Leaderboard, nil
}

// Classify asks the AI service for a severity estimate of a draft.
func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (*Classification, error) {
	var out Classification
	if err := c.do(ctx, http.MethodPost, "/ai/clasificar-incidente", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
