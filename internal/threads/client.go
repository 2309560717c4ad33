// Package threads talks to the Threads Graph API: listing mentions of the
// monitored account, fetching full thread payloads, and publishing replies.
package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/civiclens/civiclens/internal/cache"
	"github.com/civiclens/civiclens/internal/model"
)

const (
	mentionFields = "id"
	threadFields  = "id,text,media_type,media_url,timestamp,username,location"

	// maxMentionPages caps how many paging links ListMentions follows.
	maxMentionPages = 10
)

// APIError is a non-2xx response from the Threads API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("threads api: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("threads api: status %d", e.StatusCode)
}

// Client fetches mention and thread data from the Threads Graph API.
type Client struct {
	baseURL  string
	userID   string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
	cache    cache.Cache
	cacheTTL time.Duration
	maxBody  int64
	log      zerolog.Logger
}

// Options carries the optional collaborators for a Client.
type Options struct {
	Cache    cache.Cache
	CacheTTL time.Duration
	Limiter  *rate.Limiter
}

// NewClient creates a Threads API client from the given configuration
func NewClient(cfg model.ThreadsConfig, opts Options, log zerolog.Logger) (*Client, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("threads user ID is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("threads access token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		userID:  cfg.UserID,
		token:   cfg.AccessToken,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: newProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy),
			},
		},
		limiter:  opts.Limiter,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		maxBody:  maxBody,
		log:      log,
	}, nil
}

// newProxyFunc creates a proxy function from explicit proxy URLs, falling
// back to environment variables when none are configured.
func newProxyFunc(httpProxy, httpsProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}

type mentionPage struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// ListMentions returns the IDs of threads mentioning the monitored account,
// following paging links up to a fixed cap.
func (c *Client) ListMentions(ctx context.Context) ([]string, error) {
	endpoint := fmt.Sprintf("%s/%s/mentions?%s", c.baseURL, url.PathEscape(c.userID), url.Values{
		"fields":       {mentionFields},
		"access_token": {c.token},
	}.Encode())

	var ids []string
	for page := 0; endpoint != "" && page < maxMentionPages; page++ {
		body, err := c.get(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("list mentions: %w", err)
		}

		var parsed mentionPage
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decode mentions: %w", err)
		}

		for _, m := range parsed.Data {
			if m.ID != "" {
				ids = append(ids, m.ID)
			}
		}
		endpoint = parsed.Paging.Next
	}

	return ids, nil
}

type threadPayload struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	MediaType string `json:"media_type"`
	MediaURL  string `json:"media_url"`
	Timestamp string `json:"timestamp"`
	Username  string `json:"username"`
	Location  *struct {
		Name        string `json:"name"`
		Coordinates *struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"coordinates"`
	} `json:"location"`
}

// GetThread fetches a single thread by ID, serving the raw payload from
// cache when available.
func (c *Client) GetThread(ctx context.Context, threadID string) (*model.Thread, error) {
	if c.cache != nil {
		if raw, ok := c.cache.Get(cache.Key(threadID)); ok {
			c.log.Debug().Str("thread_id", threadID).Msg("thread cache hit")
			return c.parseThread(raw)
		}
	}

	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(threadID), url.Values{
		"fields":       {threadFields},
		"access_token": {c.token},
	}.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", threadID, err)
	}

	thread, err := c.parseThread(body)
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", threadID, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(cache.Key(threadID), body, c.cacheTTL); err != nil {
			c.log.Warn().Err(err).Str("thread_id", threadID).Msg("cache write failed")
		}
	}

	return thread, nil
}

func (c *Client) parseThread(raw []byte) (*model.Thread, error) {
	var payload threadPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode thread: %w", err)
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("decode thread: missing id")
	}

	thread := &model.Thread{
		ID:        payload.ID,
		Username:  payload.Username,
		Text:      payload.Text,
		MediaType: model.ParseMediaType(payload.MediaType),
		MediaURL:  payload.MediaURL,
		Timestamp: c.parseTimestamp(payload.ID, payload.Timestamp),
		Raw:       json.RawMessage(raw),
	}
	if payload.Location != nil {
		thread.LocationName = payload.Location.Name
		if payload.Location.Coordinates != nil {
			thread.Location = &model.GeoPoint{
				Latitude:  payload.Location.Coordinates.Latitude,
				Longitude: payload.Location.Coordinates.Longitude,
			}
		}
	}

	return thread, nil
}

// parseTimestamp handles both RFC 3339 and the Graph API's compact offset
// format. A malformed timestamp degrades to the zero time with a warning.
func (c *Client) parseTimestamp(threadID, raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	c.log.Warn().Str("thread_id", threadID).Str("timestamp", raw).Msg("unparseable thread timestamp")
	return time.Time{}
}

// get performs a rate-limited GET and returns the body on 2xx, or an
// *APIError carrying the API's error message otherwise.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: apiErrorMessage(body)}
	}

	return body, nil
}

// apiErrorMessage extracts the error message from a Graph API error body.
func apiErrorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(body))
}
