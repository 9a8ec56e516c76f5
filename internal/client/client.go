// Package client talks to the shorts-feed HTTP API.
package client

import (
	"bytes"
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

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/justestif/go-shorts-feed/internal/catalog"
	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/log"
	"github.com/justestif/go-shorts-feed/internal/session"
)

const (
	userAgent       = "shorts-feed-client/1.0"
	apiPrefix       = "/api/v1"
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 4 << 20

	// DefaultCatalogTTL is how long List serves the catalog from memory.
	DefaultCatalogTTL = time.Minute
)

// ErrRateLimited is returned when the server keeps answering 429 after retries.
var ErrRateLimited = fmt.Errorf("rate limit exceeded: %w", domain.ErrNetworkFailure)

// Config holds client configuration.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string

	// TokenSource supplies bearer tokens. Nil sends no Authorization header.
	TokenSource oauth2.TokenSource

	// Headers are added to every request. Used for header-based dev identity.
	Headers http.Header

	// HTTPClient overrides the default client with a 10s timeout.
	HTTPClient *http.Client

	// CatalogTTL overrides DefaultCatalogTTL. Negative disables caching.
	CatalogTTL time.Duration
}

// Client is an API client bound to one caller identity.
// It satisfies playback.Recorder, reconcile.Remote and catalog.Lister.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	headers     http.Header
	retryDelays []time.Duration
	logger      zerolog.Logger

	catalogTTL time.Duration
	cacheMu    sync.RWMutex
	cached     []catalog.Entry
	cachedAt   time.Time
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("base url: %w", domain.ErrInvalidArgument)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parsing base url: %w: %w", domain.ErrInvalidArgument, err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.TokenSource != nil {
		withAuth := *hc
		transport := hc.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		withAuth.Transport = &oauth2.Transport{Source: cfg.TokenSource, Base: transport}
		hc = &withAuth
	}

	ttl := cfg.CatalogTTL
	if ttl == 0 {
		ttl = DefaultCatalogTTL
	}

	return &Client{
		baseURL:     base,
		httpClient:  hc,
		headers:     cfg.Headers.Clone(),
		retryDelays: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		logger:      log.WithComponent("client"),
		catalogTTL:  ttl,
	}, nil
}

// envelope is the common part of every response body.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type (
	loginResponse struct {
		SessionID string             `json:"sessionId"`
		User      *domain.UserRecord `json:"user"`
	}

	meResponse struct {
		User  *domain.UserRecord `json:"user"`
		Stats session.Stats      `json:"stats"`
	}

	completeCycleResponse struct {
		domain.WatchState
		Completed bool `json:"completed"`
	}

	catalogResponse struct {
		Videos []catalog.Entry `json:"videos"`
	}
)

// Login opens a session and returns its id with the caller's record.
func (c *Client) Login(ctx context.Context) (string, *domain.UserRecord, error) {
	var resp loginResponse
	if err := c.doRequest(ctx, http.MethodPost, "/session/login", nil, &resp); err != nil {
		return "", nil, fmt.Errorf("login: %w", err)
	}
	return resp.SessionID, resp.User, nil
}

// Heartbeat records activity on sessionID. A zero at lets the server use its clock.
func (c *Client) Heartbeat(ctx context.Context, sessionID string, at time.Time) error {
	body := map[string]any{"sessionId": sessionID}
	if !at.IsZero() {
		body["lastActivity"] = at
	}
	if err := c.doRequest(ctx, http.MethodPost, "/session/heartbeat", body, nil); err != nil {
		return fmt.Errorf("heartbeat: %w", sessionErr(err))
	}
	return nil
}

// Logout closes sessionID.
func (c *Client) Logout(ctx context.Context, sessionID string) error {
	body := map[string]string{"sessionId": sessionID}
	if err := c.doRequest(ctx, http.MethodPost, "/session/logout", body, nil); err != nil {
		return fmt.Errorf("logout: %w", sessionErr(err))
	}
	return nil
}

// sessionErr classifies a not_found reply on a session route as ErrSessionNotFound.
func sessionErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrSessionNotFound) {
		return fmt.Errorf("%w: %w", domain.ErrSessionNotFound, err)
	}
	return err
}

// Me returns the caller's record and session stats.
func (c *Client) Me(ctx context.Context) (*domain.UserRecord, session.Stats, error) {
	var resp meResponse
	if err := c.doRequest(ctx, http.MethodGet, "/me", nil, &resp); err != nil {
		return nil, session.Stats{}, fmt.Errorf("fetching user: %w", err)
	}
	return resp.User, resp.Stats, nil
}

// Reactions returns the caller's reaction sets.
func (c *Client) Reactions(ctx context.Context) (domain.ReactionResult, error) {
	var res domain.ReactionResult
	if err := c.doRequest(ctx, http.MethodGet, "/reactions", nil, &res); err != nil {
		return domain.ReactionResult{}, fmt.Errorf("fetching reactions: %w", err)
	}
	return res, nil
}

// Do applies a reaction action to videoID.
func (c *Client) Do(ctx context.Context, action domain.Action, videoID string) (domain.ReactionResult, error) {
	if videoID == "" {
		return domain.ReactionResult{}, fmt.Errorf("%s: video id: %w", action, domain.ErrInvalidArgument)
	}
	method, kind, err := reactionRoute(action)
	if err != nil {
		return domain.ReactionResult{}, err
	}
	path := "/reactions/" + url.PathEscape(videoID) + "/" + kind

	var res domain.ReactionResult
	if err := c.doRequest(ctx, method, path, nil, &res); err != nil {
		return domain.ReactionResult{}, fmt.Errorf("%s %s: %w", action, videoID, err)
	}
	return res, nil
}

// reactionRoute maps an action to its HTTP method and path suffix.
func reactionRoute(a domain.Action) (method, kind string, err error) {
	switch a {
	case domain.ActionLike:
		return http.MethodPut, "like", nil
	case domain.ActionUnlike:
		return http.MethodDelete, "like", nil
	case domain.ActionDislike:
		return http.MethodPut, "dislike", nil
	case domain.ActionUndislike:
		return http.MethodDelete, "dislike", nil
	case domain.ActionFavorite:
		return http.MethodPut, "favorite", nil
	case domain.ActionUnfavorite:
		return http.MethodDelete, "favorite", nil
	case domain.ActionToggleFavorite:
		return http.MethodPost, "favorite", nil
	default:
		return "", "", fmt.Errorf("unknown action %q: %w", a, domain.ErrInvalidArgument)
	}
}

// Progress returns the full watch state.
func (c *Client) Progress(ctx context.Context) (domain.WatchState, error) {
	return c.progress(ctx, http.MethodGet, "/progress", nil)
}

// MarkWatched records that videoID was watched for duration seconds.
func (c *Client) MarkWatched(ctx context.Context, videoID string, duration int) (domain.WatchState, error) {
	return c.progress(ctx, http.MethodPost, "/progress/watched", map[string]any{
		"videoId":  videoID,
		"duration": duration,
	})
}

// UpdateLastVideo records the last video shown.
func (c *Client) UpdateLastVideo(ctx context.Context, videoID string) (domain.WatchState, error) {
	return c.progress(ctx, http.MethodPut, "/progress/last-video", map[string]string{"videoId": videoID})
}

// SaveSessionOrder persists the playback order.
func (c *Client) SaveSessionOrder(ctx context.Context, order []string) (domain.WatchState, error) {
	if order == nil {
		order = []string{}
	}
	return c.progress(ctx, http.MethodPut, "/progress/order", map[string][]string{"order": order})
}

// ResetProgress starts a new cycle.
func (c *Client) ResetProgress(ctx context.Context) (domain.WatchState, error) {
	return c.progress(ctx, http.MethodPost, "/progress/reset", nil)
}

// PruneDeleted drops progress for videos not in existing. A nil existing prunes against the server catalog.
func (c *Client) PruneDeleted(ctx context.Context, existing []string) (domain.WatchState, error) {
	var body any
	if existing != nil {
		body = map[string][]string{"existingVideos": existing}
	}
	return c.progress(ctx, http.MethodPost, "/progress/prune", body)
}

// CompleteCycle starts a new cycle if every catalog video has been watched.
func (c *Client) CompleteCycle(ctx context.Context) (domain.WatchState, bool, error) {
	var resp completeCycleResponse
	if err := c.doRequest(ctx, http.MethodPost, "/progress/complete-cycle", nil, &resp); err != nil {
		return domain.WatchState{}, false, fmt.Errorf("completing cycle: %w", err)
	}
	return resp.WatchState, resp.Completed, nil
}

func (c *Client) progress(ctx context.Context, method, path string, body any) (domain.WatchState, error) {
	var ws domain.WatchState
	if err := c.doRequest(ctx, method, path, body, &ws); err != nil {
		return domain.WatchState{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return ws, nil
}

// List returns the server catalog, cached for the configured TTL.
func (c *Client) List(ctx context.Context) ([]catalog.Entry, error) {
	if c.catalogTTL > 0 {
		c.cacheMu.RLock()
		if c.cached != nil && time.Since(c.cachedAt) < c.catalogTTL {
			out := append([]catalog.Entry(nil), c.cached...)
			c.cacheMu.RUnlock()
			return out, nil
		}
		c.cacheMu.RUnlock()
	}

	var resp catalogResponse
	if err := c.doRequest(ctx, http.MethodGet, "/catalog", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching catalog: %w", err)
	}
	if resp.Videos == nil {
		resp.Videos = []catalog.Entry{}
	}

	c.cacheMu.Lock()
	c.cached = resp.Videos
	c.cachedAt = time.Now()
	c.cacheMu.Unlock()

	return append([]catalog.Entry(nil), resp.Videos...), nil
}

// InvalidateCatalog drops the cached catalog.
func (c *Client) InvalidateCatalog() {
	c.cacheMu.Lock()
	c.cached = nil
	c.cacheMu.Unlock()
}

// doRequest performs an API call with retry on rate limit.
// Retries up to 3 times with exponential backoff (1s, 2s, 4s).
func (c *Client) doRequest(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= len(c.retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", domain.ErrNetworkFailure, ctx.Err())
			case <-time.After(c.retryDelays[attempt-1]):
			}
		}

		err := c.doSingleRequest(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRateLimited) {
			c.logger.Debug().Str("path", path).Int("attempt", attempt+1).Msg("rate limited")
			lastErr = err
			continue
		}
		return err
	}
	return lastErr
}

// doSingleRequest performs one HTTP request and decodes the envelope.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w: %w", domain.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w: %w", domain.ErrNetworkFailure, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrNetworkFailure)
		}
		return fmt.Errorf("parsing response (status %d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		return domain.FromCode(env.Error, env.Message)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}
