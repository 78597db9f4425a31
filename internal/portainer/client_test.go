package portainer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdeck/stackdeck/internal/config"
)

func newTestClient(t *testing.T, cfg config.PortainerConfig) *Client {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = "https://portainer.example"
	}
	c := NewClient(&cfg, slog.Default())
	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestListStacks(t *testing.T) {
	c := newTestClient(t, config.PortainerConfig{APIKey: "secret-key"})

	httpmock.RegisterResponder(http.MethodGet, "https://portainer.example/api/stacks",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "secret-key", req.Header.Get("X-API-Key"))
			return httpmock.NewStringResponse(http.StatusOK, `[
				{"Id": 3, "Name": "media", "Type": 2, "Webhook": "tok-3", "CreationDate": 1700000000},
				{"Id": 4, "Name": "", "webhook": "tok-4"},
				{"Name": "no-id"}
			]`), nil
		})

	stacks, err := c.ListStacks(context.Background())
	require.NoError(t, err)
	require.Len(t, stacks, 2, "malformed entries are skipped")

	assert.Equal(t, uint(3), stacks[0].ID)
	assert.Equal(t, "media", stacks[0].Name)
	assert.Equal(t, "tok-3", stacks[0].WebhookToken)
	require.NotNil(t, stacks[0].CreatedAt)
	assert.Equal(t, int64(1700000000), stacks[0].CreatedAt.Unix())

	// Lowercase webhook key and missing name fall back sensibly.
	assert.Equal(t, "stack-4", stacks[1].Name)
	assert.Equal(t, "tok-4", stacks[1].WebhookToken)
}

func TestListStacksUnreachable(t *testing.T) {
	c := newTestClient(t, config.PortainerConfig{})

	httpmock.RegisterResponder(http.MethodGet, "https://portainer.example/api/stacks",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	stacks, err := c.ListStacks(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Nil(t, stacks, "unreachable must not look like an empty list")
}

func TestListStacksServerError(t *testing.T) {
	c := newTestClient(t, config.PortainerConfig{})

	httpmock.RegisterResponder(http.MethodGet, "https://portainer.example/api/stacks",
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	_, err := c.ListStacks(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestGetImageStatusForwardsRefresh(t *testing.T) {
	c := newTestClient(t, config.PortainerConfig{})

	httpmock.RegisterResponder(http.MethodGet, "https://portainer.example/api/stacks/7/images_status",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "true", req.URL.Query().Get("refresh"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]string{
				"Status":  "outdated",
				"Message": "image sha changed",
			})
		})

	ind, err := c.GetImageStatus(context.Background(), 7, true)
	require.NoError(t, err)
	assert.Equal(t, "outdated", ind.Status)
	assert.Equal(t, "image sha changed", ind.Message)
}

func TestTriggerWebhook(t *testing.T) {
	c := newTestClient(t, config.PortainerConfig{
		APIKey:               "secret-key",
		CFAccessClientID:     "cf-id",
		CFAccessClientSecret: "cf-secret",
	})

	httpmock.RegisterResponder(http.MethodPost, "https://portainer.example/api/stacks/webhooks/tok",
		func(req *http.Request) (*http.Response, error) {
			// Webhook calls carry the Cloudflare pair but never the API key.
			assert.Equal(t, "cf-id", req.Header.Get("CF-Access-Client-Id"))
			assert.Equal(t, "cf-secret", req.Header.Get("CF-Access-Client-Secret"))
			assert.Empty(t, req.Header.Get("X-API-Key"))
			return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
		})

	err := c.TriggerWebhook(context.Background(), c.WebhookURL("tok"))
	assert.NoError(t, err)
}

func TestTriggerWebhookFailureCarriesStatus(t *testing.T) {
	c := newTestClient(t, config.PortainerConfig{})

	httpmock.RegisterResponder(http.MethodPost, "https://portainer.example/api/stacks/webhooks/tok",
		httpmock.NewStringResponder(http.StatusConflict, "deployment in progress"))

	err := c.TriggerWebhook(context.Background(), c.WebhookURL("tok"))
	require.Error(t, err)

	var whErr *WebhookError
	require.ErrorAs(t, err, &whErr)
	assert.Equal(t, http.StatusConflict, whErr.StatusCode)
	assert.Contains(t, whErr.Body, "deployment in progress")
}

func TestTriggerWebhookUnreachable(t *testing.T) {
	c := newTestClient(t, config.PortainerConfig{})

	httpmock.RegisterResponder(http.MethodPost, "https://portainer.example/api/stacks/webhooks/tok",
		httpmock.NewErrorResponder(errors.New("dial timeout")))

	err := c.TriggerWebhook(context.Background(), c.WebhookURL("tok"))
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestListWebhooks(t *testing.T) {
	c := newTestClient(t, config.PortainerConfig{})

	httpmock.RegisterResponder(http.MethodGet, "https://portainer.example/api/stacks/9",
		httpmock.NewStringResponder(http.StatusOK, `{"Id": 9, "Name": "db", "Webhook": "tok-9"}`))
	httpmock.RegisterResponder(http.MethodGet, "https://portainer.example/api/stacks/10",
		httpmock.NewStringResponder(http.StatusOK, `{"Id": 10, "Name": "bare"}`))

	hooks, err := c.ListWebhooks(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, "https://portainer.example/api/stacks/webhooks/tok-9", hooks[0])

	hooks, err = c.ListWebhooks(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, hooks)
}

func TestAuthHeadersOmittedWhenUnset(t *testing.T) {
	c := newTestClient(t, config.PortainerConfig{CFAccessClientID: "only-id"})

	httpmock.RegisterResponder(http.MethodGet, "https://portainer.example/api/stacks",
		func(req *http.Request) (*http.Response, error) {
			_, hasKey := req.Header["X-Api-Key"]
			_, hasCF := req.Header["Cf-Access-Client-Id"]
			assert.False(t, hasKey, "API key header must be omitted when unset")
			assert.False(t, hasCF, "CF headers must be omitted unless both are set")
			return httpmock.NewStringResponse(http.StatusOK, `[]`), nil
		})

	_, err := c.ListStacks(context.Background())
	assert.NoError(t, err)
}
