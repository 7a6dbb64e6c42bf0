package m2m

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ingest-service/internal/config"
	"ingest-service/internal/retry"
)

// Client talks to the catalog API. It owns the process's single session: an
// API key obtained by Login, attached to every call, refreshed at most once
// per call when the service rejects it, and released by Logout. All calls
// queue on a shared rate limiter, so concurrent callers respect the request
// quota cooperatively.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	retry   retry.Policy

	username string
	token    string

	pollInterval time.Duration
	pollCeiling  time.Duration
	pageSize     int

	mu     sync.Mutex
	apiKey string
}

// NewClient builds a client from configuration. No network traffic happens
// until Login.
func NewClient(cfg config.M2MConfig, log *zap.Logger) *Client {
	interval := cfg.RateInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/") + "/",
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		log:     log,
		retry: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BackoffBase: cfg.BackoffBase,
			BackoffCap:  cfg.BackoffCap,
		},
		username:     cfg.Username,
		token:        cfg.Token,
		pollInterval: cfg.PollInterval,
		pollCeiling:  cfg.PollCeiling,
		pageSize:     cfg.PageSize,
	}
}

// Login exchanges the credentials for an API key.
func (c *Client) Login(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var key string
	err := c.post(ctx, "login-token", loginTokenRequest{Username: c.username, Token: c.token}, &key, false)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return errors.Wrap(ErrAuthentication, apiErr.Message)
		}
		return errors.Wrap(err, "login failed")
	}
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
	c.log.Info("logged in to catalog service")
	return nil
}

// Logout invalidates the session. Safe to call when no session exists.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	key := c.apiKey
	c.mu.Unlock()
	if key == "" {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err := c.post(ctx, "logout", struct{}{}, nil, true)
	c.mu.Lock()
	c.apiKey = ""
	c.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "logout failed")
	}
	c.log.Info("logged out of catalog service")
	return nil
}

// Call posts one payload to one endpoint and decodes the data portion of the
// envelope into out. When the service rejects the session token the client
// re-authenticates once and replays the call once; any further rejection
// surfaces as an authentication error.
func (c *Client) Call(ctx context.Context, endpoint string, payload, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err := c.post(ctx, endpoint, payload, out, true)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Auth() {
		return err
	}

	c.log.Warn("session rejected, re-authenticating",
		zap.String("endpoint", endpoint), zap.String("code", apiErr.Code))
	if lerr := c.Login(ctx); lerr != nil {
		return lerr
	}
	if werr := c.limiter.Wait(ctx); werr != nil {
		return werr
	}
	err = c.post(ctx, endpoint, payload, out, true)
	if err != nil && errors.As(err, &apiErr) && apiErr.Auth() {
		return errors.Wrap(ErrAuthentication, apiErr.Message)
	}
	return err
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out interface{}, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &FatalError{Err: errors.Wrapf(err, "encoding %s payload", endpoint)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return &FatalError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if withAuth {
		c.mu.Lock()
		key := c.apiKey
		c.mu.Unlock()
		req.Header.Set("X-Auth-Token", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: errors.Wrapf(err, "%s request failed", endpoint)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Err: errors.Wrapf(err, "reading %s response", endpoint)}
	}

	if resp.StatusCode >= 500 {
		return &TransientError{Err: fmt.Errorf("%s returned http %d", endpoint, resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return errors.Wrapf(ErrRateLimited, "%s returned http %d", endpoint, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &FatalError{Err: fmt.Errorf("%s returned http %d", endpoint, resp.StatusCode)}
		}
		return &FatalError{Err: errors.Wrapf(err, "decoding %s response", endpoint)}
	}

	if env.ErrorCode != "" {
		apiErr := &APIError{Endpoint: endpoint, Code: env.ErrorCode, Message: env.ErrorMessage}
		if apiErr.RateLimit() {
			return errors.Wrap(ErrRateLimited, apiErr.Error())
		}
		return apiErr
	}
	if resp.StatusCode >= 400 {
		return &FatalError{Err: fmt.Errorf("%s returned http %d", endpoint, resp.StatusCode)}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &FatalError{Err: errors.Wrapf(err, "decoding %s data", endpoint)}
		}
	}
	return nil
}
