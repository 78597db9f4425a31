package portainer

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stackdeck/stackdeck/internal/config"
)

// ErrUnreachable indicates the Portainer API could not be reached at the
// transport level. Callers must be able to tell this apart from an empty
// result.
var ErrUnreachable = errors.New("portainer unreachable")

// WebhookError is returned when a webhook call completes with a non-2xx
// response. It carries the remote status code and response body.
type WebhookError struct {
	StatusCode int
	Body       string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

// RemoteStack is a stack descriptor as reported by the Portainer API.
type RemoteStack struct {
	ID           uint
	Name         string
	Type         *int
	WebhookToken string
	CreatedAt    *time.Time
	UpdatedAt    *time.Time
}

// HasWebhook reports whether the remote stack has an update webhook configured.
func (s RemoteStack) HasWebhook() bool { return s.WebhookToken != "" }

// Indicator is the image status report for a single stack.
type Indicator struct {
	Status  string `json:"Status"`
	Message string `json:"Message"`
}

// Client talks to the Portainer REST API. It is stateless aside from the
// configured base URL, auth headers and TLS settings, and never retries on
// its own.
type Client struct {
	baseURL        string
	apiHeaders     http.Header
	webhookHeaders http.Header
	httpClient     *http.Client
	logger         *slog.Logger
}

const defaultTimeout = 30 * time.Second

// NewClient creates a Client from the Portainer connection settings.
// The API key header is attached when configured; the Cloudflare Access
// header pair is attached only when both credentials are present. Webhook
// calls carry only the Cloudflare pair, never the API key.
func NewClient(cfg *config.PortainerConfig, logger *slog.Logger) *Client {
	transport := http.DefaultTransport
	if !cfg.VerifySSL {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	apiHeaders := http.Header{"Accept": []string{"application/json"}}
	if cfg.APIKey != "" {
		apiHeaders.Set("X-API-Key", cfg.APIKey)
	}
	webhookHeaders := http.Header{}
	if cfg.CFAccessClientID != "" && cfg.CFAccessClientSecret != "" {
		for _, h := range []http.Header{apiHeaders, webhookHeaders} {
			h.Set("CF-Access-Client-Id", cfg.CFAccessClientID)
			h.Set("CF-Access-Client-Secret", cfg.CFAccessClientSecret)
		}
	}

	return &Client{
		baseURL:        cfg.URL,
		apiHeaders:     apiHeaders,
		webhookHeaders: webhookHeaders,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
		logger: logger,
	}
}

// rawStack mirrors the Portainer stack JSON. Portainer capitalizes its JSON
// keys; older versions expose the webhook token lowercase.
type rawStack struct {
	ID           uint   `json:"Id"`
	Name         string `json:"Name"`
	Type         *int   `json:"Type"`
	Webhook      string `json:"Webhook"`
	WebhookLower string `json:"webhook"`
	CreationDate *int64 `json:"CreationDate"`
	UpdateDate   *int64 `json:"UpdateDate"`
}

// ListStacks fetches all stacks known to Portainer. A transport failure
// surfaces as an error wrapping ErrUnreachable, never as an empty list.
func (c *Client) ListStacks(ctx context.Context) ([]RemoteStack, error) {
	url := c.baseURL + "/api/stacks"
	c.logger.Debug("fetching stacks", "url", url)

	body, err := c.get(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	var raw []rawStack
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode stack list: %w", err)
	}

	stacks := make([]RemoteStack, 0, len(raw))
	for _, r := range raw {
		if r.ID == 0 {
			c.logger.Warn("skipping malformed stack entry without id")
			continue
		}
		token := r.Webhook
		if token == "" {
			token = r.WebhookLower
		}
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("stack-%d", r.ID)
		}
		stacks = append(stacks, RemoteStack{
			ID:           r.ID,
			Name:         name,
			Type:         r.Type,
			WebhookToken: token,
			CreatedAt:    parseUnixTimestamp(r.CreationDate),
			UpdatedAt:    parseUnixTimestamp(r.UpdateDate),
		})
	}
	return stacks, nil
}

// ListWebhooks returns the webhook URLs configured for one remote stack.
func (c *Client) ListWebhooks(ctx context.Context, stackID uint) ([]string, error) {
	url := fmt.Sprintf("%s/api/stacks/%d", c.baseURL, stackID)

	body, err := c.get(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	var raw rawStack
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode stack %d: %w", stackID, err)
	}

	token := raw.Webhook
	if token == "" {
		token = raw.WebhookLower
	}
	if token == "" {
		return nil, nil
	}
	return []string{c.WebhookURL(token)}, nil
}

// WebhookURL builds the full webhook URL for a Portainer webhook token.
func (c *Client) WebhookURL(token string) string {
	return fmt.Sprintf("%s/api/stacks/webhooks/%s", c.baseURL, token)
}

// GetImageStatus fetches the image indicator for a stack. When refresh is
// true Portainer bypasses its own indicator cache and re-inspects images.
func (c *Client) GetImageStatus(ctx context.Context, stackID uint, refresh bool) (*Indicator, error) {
	url := fmt.Sprintf("%s/api/stacks/%d/images_status", c.baseURL, stackID)
	query := map[string]string{"refresh": "false"}
	if refresh {
		query["refresh"] = "true"
	}
	c.logger.Debug("fetching image status", "stack_id", stackID, "refresh", refresh)

	body, err := c.get(ctx, url, query)
	if err != nil {
		return nil, err
	}

	var ind Indicator
	if err := json.Unmarshal(body, &ind); err != nil {
		return nil, fmt.Errorf("decode indicator for stack %d: %w", stackID, err)
	}
	return &ind, nil
}

// TriggerWebhook fires a stack update webhook. Success is any 2xx response;
// anything else comes back as a *WebhookError. Retrying is the caller's
// policy.
func (c *Client) TriggerWebhook(ctx context.Context, webhookURL string) error {
	c.logger.Info("triggering webhook", "url", webhookURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	for k, v := range c.webhookHeaders {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.logger.Error("webhook call failed", "url", webhookURL, "status", resp.StatusCode)
	return &WebhookError{StatusCode: resp.StatusCode, Body: string(body)}
}

// get performs an authenticated GET and returns the response body, mapping
// transport errors to ErrUnreachable and non-2xx responses to plain errors.
func (c *Client) get(ctx context.Context, url string, query map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.apiHeaders {
		req.Header[k] = v
	}
	if len(query) > 0 {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: GET %s returned %d: %s", ErrUnreachable, url, resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// parseUnixTimestamp converts a Unix timestamp to UTC time. Zero and nil are
// treated as absent.
func parseUnixTimestamp(ts *int64) *time.Time {
	if ts == nil || *ts <= 0 {
		return nil
	}
	t := time.Unix(*ts, 0).UTC()
	return &t
}
