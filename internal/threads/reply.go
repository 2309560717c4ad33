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

	"github.com/civiclens/civiclens/internal/model"
)

// IssuePlaceholder is substituted with the assigned issue ID when rendering
// the reply template.
const IssuePlaceholder = "{{issue}}"

// Stage identifies which step of the two-step publish flow failed.
type Stage string

const (
	StageCreate  Stage = "create"
	StagePublish Stage = "publish"
)

// DispatchError wraps a failure in the reply flow with the stage that
// produced it. A failure at StagePublish means a media container was
// created but never went live.
type DispatchError struct {
	Stage Stage
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("reply %s: %v", e.Stage, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Replier publishes acknowledgement replies through the Threads API.
// It is a pure dispatcher: persistence of the replied flag is the caller's
// concern.
type Replier struct {
	baseURL  string
	userID   string
	token    string
	template string
	http     *http.Client
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewReplier creates a reply dispatcher from the given configuration
func NewReplier(cfg model.ThreadsConfig, template string, limiter *rate.Limiter, log zerolog.Logger) (*Replier, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("threads user ID is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("threads access token is required")
	}
	if template == "" {
		template = model.DefaultConfig().Reply.Template
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Replier{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		userID:   cfg.UserID,
		token:    cfg.AccessToken,
		template: template,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: newProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy),
			},
		},
		limiter: limiter,
		log:     log,
	}, nil
}

// RenderReply expands the reply template for the given issue ID.
func (r *Replier) RenderReply(issueID string) string {
	return strings.ReplaceAll(r.template, IssuePlaceholder, issueID)
}

// SendReply posts an acknowledgement reply to the given thread. The flow is
// two API calls: create a text media container replying to the thread, then
// publish it. Returns the published media ID.
func (r *Replier) SendReply(ctx context.Context, threadID, issueID string) (string, error) {
	text := r.RenderReply(issueID)

	creationID, err := r.createContainer(ctx, threadID, text)
	if err != nil {
		return "", &DispatchError{Stage: StageCreate, Err: err}
	}

	mediaID, err := r.publishContainer(ctx, creationID)
	if err != nil {
		return "", &DispatchError{Stage: StagePublish, Err: err}
	}

	r.log.Info().
		Str("thread_id", threadID).
		Str("issue_id", issueID).
		Str("media_id", mediaID).
		Msg("reply published")

	return mediaID, nil
}

func (r *Replier) createContainer(ctx context.Context, threadID, text string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/threads", r.baseURL, url.PathEscape(r.userID))
	return r.post(ctx, endpoint, url.Values{
		"media_type":   {"TEXT"},
		"reply_to_id":  {threadID},
		"text":         {text},
		"access_token": {r.token},
	})
}

func (r *Replier) publishContainer(ctx context.Context, creationID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/threads_publish", r.baseURL, url.PathEscape(r.userID))
	return r.post(ctx, endpoint, url.Values{
		"creation_id":  {creationID},
		"access_token": {r.token},
	})
}

// post submits a form-encoded POST and returns the "id" field of the
// response body.
func (r *Replier) post(ctx context.Context, endpoint string, form url.Values) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Message: apiErrorMessage(body)}
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("response missing id")
	}

	return parsed.ID, nil
}
