package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// SnapshotPath is appended to the base URL for both GET and PUT.
const SnapshotPath = "/snapshot"

// HTTPClient talks to a blob service such as the one served by Handler.
// It remembers the last ETag so unchanged snapshots come back as 304.
type HTTPClient struct {
	baseURL  string
	deviceID string
	timeout  time.Duration
	client   *http.Client
	now      func() time.Time

	mu     sync.Mutex
	etag   string
	cached []model.Event
}

// NewHTTPClient creates a client for baseURL (e.g. "https://example.com/famcal").
func NewHTTPClient(baseURL, deviceID string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		deviceID: deviceID,
		timeout:  timeout,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

func (c *HTTPClient) url() string {
	return c.baseURL + SnapshotPath
}

// FetchSnapshot returns the remote events, or false on not-found or any
// failure.
func (c *HTTPClient) FetchSnapshot(ctx context.Context) ([]model.Event, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(), nil)
	if err != nil {
		appLog.Error("remote fetch: build request failed", err, "url", redactURL(c.baseURL))
		return nil, false
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	etag := c.etag
	c.mu.Unlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		appLog.Warn("remote fetch failed", "url", redactURL(c.baseURL), "err", err.Error())
		return nil, false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			appLog.Warn("remote fetch: read body failed", "url", redactURL(c.baseURL), "err", err.Error())
			return nil, false
		}
		if len(bytes.TrimSpace(body)) == 0 {
			appLog.Warn("remote fetch: empty body", "url", redactURL(c.baseURL), "err", errEmptyBody.Error())
			return nil, false
		}
		env, err := decodeEnvelope(body)
		if err != nil {
			appLog.Warn("remote fetch: malformed snapshot", "url", redactURL(c.baseURL), "err", err.Error())
			return nil, false
		}

		c.mu.Lock()
		c.etag = resp.Header.Get("ETag")
		c.cached = env.Events
		c.mu.Unlock()

		appLog.Info("remote fetch success",
			"url", redactURL(c.baseURL),
			"count", len(env.Events),
			"device_id", env.DeviceID,
			"last_updated", env.LastUpdated.Format(time.RFC3339),
		)
		return copyEvents(env.Events), true

	case http.StatusNotModified:
		c.mu.Lock()
		cached := c.cached
		c.mu.Unlock()
		if cached == nil {
			appLog.Warn("remote fetch: 304 without cached snapshot", "url", redactURL(c.baseURL))
			return nil, false
		}
		appLog.Debug("remote fetch not modified; using cache", "url", redactURL(c.baseURL))
		return copyEvents(cached), true

	case http.StatusNotFound:
		appLog.Info("remote snapshot not found", "url", redactURL(c.baseURL))
		return nil, false

	default:
		appLog.Warn("remote fetch non-OK", "url", redactURL(c.baseURL), "status", resp.StatusCode)
		return nil, false
	}
}

// PushSnapshot PUTs the full collection.
func (c *HTTPClient) PushSnapshot(ctx context.Context, events []model.Event) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(newEnvelope(events, c.deviceID, c.now()))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New("remote push: " + resp.Status)
	}

	// Our own write is now the remote state; drop the conditional-GET cache
	// so the next fetch reads it back in full.
	c.mu.Lock()
	c.etag = ""
	c.cached = nil
	c.mu.Unlock()

	appLog.Debug("remote push success", "url", redactURL(c.baseURL), "count", len(events))
	return nil
}

func copyEvents(in []model.Event) []model.Event {
	out := make([]model.Event, len(in))
	copy(out, in)
	return out
}

// redactURL hides path and query of a URL for logging purposes.
//
//	https://example.com/path/to/blob?token=abcd -> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "remote://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + redactedSuffix
}
