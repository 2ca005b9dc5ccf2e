// Package github is the forge adapter: installation tokens plus the handful
// of REST calls the bot makes on behalf of an installation.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hookbot/hookbot/internal/telemetry"
)

const DefaultBaseURL = "https://api.github.com"

// AssertionSource supplies the current app assertion. The credential
// manager satisfies it.
type AssertionSource interface {
	Assertion() (string, error)
}

type Client struct {
	baseURL    string
	assertions AssertionSource
	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	tokens map[int64]cachedToken
	mints  singleflight.Group
}

type cachedToken struct {
	token string
	expAt time.Time
}

// NewClient builds a client against baseURL (DefaultBaseURL when empty).
// A nil httpClient gets a 30 second timeout.
func NewClient(baseURL string, assertions AssertionSource, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		assertions: assertions,
		httpClient: httpClient,
		now:        time.Now,
		tokens:     make(map[int64]cachedToken),
	}
}

type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// installationToken returns a cached token for the installation, minting a
// new one when it is within a minute of expiry. The cache lock is never held
// across the network call; concurrent mints for one installation share a
// single request.
func (c *Client) installationToken(ctx context.Context, installationID int64) (string, error) {
	if tok, ok := c.cachedToken(installationID); ok {
		return tok, nil
	}

	v, err, _ := c.mints.Do(strconv.FormatInt(installationID, 10), func() (any, error) {
		if tok, ok := c.cachedToken(installationID); ok {
			return tok, nil
		}
		return c.mintToken(ctx, installationID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cachedToken(installationID int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[installationID]
	if !ok || !c.now().Before(tok.expAt.Add(-time.Minute)) {
		return "", false
	}
	return tok.token, true
}

func (c *Client) mintToken(ctx context.Context, installationID int64) (string, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.baseURL, installationID)
	resp, err := c.doApp(ctx, http.MethodPost, url)
	if err != nil {
		return "", fmt.Errorf("request installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		telemetry.IncGitHubAPIError("installation token", resp.StatusCode)
		return "", &APIError{Operation: "installation token", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tok installationTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.mu.Lock()
	c.tokens[installationID] = cachedToken{token: tok.Token, expAt: tok.ExpiresAt}
	c.mu.Unlock()
	return tok.Token, nil
}

// ForgetToken drops a cached token, e.g. after the installation is deleted.
func (c *Client) ForgetToken(installationID int64) {
	c.mu.Lock()
	delete(c.tokens, installationID)
	c.mu.Unlock()
}

// doApp issues a request authenticated as the app itself.
func (c *Client) doApp(ctx context.Context, method, url string) (*http.Response, error) {
	assertion, err := c.assertions.Assertion()
	if err != nil {
		return nil, fmt.Errorf("app assertion: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")
	return c.httpClient.Do(req)
}

// doAPI issues a request authenticated as the installation.
func (c *Client) doAPI(ctx context.Context, token, method, url string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// call performs one installation-scoped request and decodes a 2xx body into
// out (when non-nil). Writes are retried on 429/5xx and transport errors.
func (c *Client) call(ctx context.Context, installationID int64, operation, method, url string, body, out any) error {
	token, err := c.installationToken(ctx, installationID)
	if err != nil {
		return err
	}

	maxAttempts := 1
	if method != http.MethodGet {
		maxAttempts = 4
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.doAPI(ctx, token, method, url, body)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts && isRetryableError(err) {
				if !sleepWithBackoff(ctx, attempt, 0) {
					return ctx.Err()
				}
				continue
			}
			return err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			defer resp.Body.Close()
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode %s: %w", operation, err)
			}
			return nil
		}

		b, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%s HTTP %d and read body failed: %w", operation, resp.StatusCode, readErr)
		} else {
			telemetry.IncGitHubAPIError(operation, resp.StatusCode)
			lastErr = &APIError{Operation: operation, StatusCode: resp.StatusCode, Body: string(b)}
		}

		retryAfter := retryAfterDuration(resp)
		if attempt < maxAttempts && isRetryableStatus(resp.StatusCode) {
			if !sleepWithBackoff(ctx, attempt, retryAfter) {
				return ctx.Err()
			}
			continue
		}
		return lastErr
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%s failed", operation)
	}
	return lastErr
}

type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s HTTP %d: %s", e.Operation, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether err is a primary (403 with a rate limit
// message) or secondary (429) rate limit response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return apiErr.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(apiErr.Body), "rate limit")
}

func isRetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func retryAfterDuration(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
	}
	return 0
}

var backoffBase = 250 * time.Millisecond

func sleepWithBackoff(ctx context.Context, attempt int, retryAfter time.Duration) bool {
	max := 5 * time.Second
	backoff := backoffBase * time.Duration(1<<(attempt-1))
	if backoff > max {
		backoff = max
	}
	jitter := time.Duration(rand.Int63n(int64(backoffBase)/4 + 1))
	wait := backoff + jitter
	if retryAfter > wait {
		wait = retryAfter
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
