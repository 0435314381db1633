// Package upstream holds the pass-through HTTP integrations: the merchant
// config service and the Slack incoming webhook.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/you/sqlbridge/internal/failure"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxBodyBytes       = 1 << 20
)

// MerchantConfig is the merged result of the config service lookups. A
// failed lookup leaves its value nil and its *Error field set; sibling
// lookups are unaffected.
type MerchantConfig struct {
	PID                string          `json:"pid"`
	Config             json.RawMessage `json:"config,omitempty"`
	ConfigError        string          `json:"config_error,omitempty"`
	TriggerConfig      json.RawMessage `json:"trigger_config,omitempty"`
	TriggerConfigError string          `json:"trigger_config_error,omitempty"`
	Webhooks           json.RawMessage `json:"webhooks,omitempty"`
	WebhooksError      string          `json:"webhooks_error,omitempty"`

	webhooksRequested bool
}

// AllFailed reports whether no lookup produced a value.
func (m MerchantConfig) AllFailed() bool {
	if m.Config != nil || m.TriggerConfig != nil {
		return false
	}
	return !m.webhooksRequested || m.Webhooks == nil
}

type MerchantClient struct {
	BaseURL     string
	APIKey      string
	PlatformURL string
	HTTPClient  *http.Client
}

func (c *MerchantClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// FetchConfig looks up the backend config and trigger config for pid and,
// when includeWebhooks is set, the platform webhook list. The lookups run
// concurrently and each failure is recorded independently.
func (c *MerchantClient) FetchConfig(ctx context.Context, pid string, includeWebhooks bool) MerchantConfig {
	out := MerchantConfig{PID: pid, webhooksRequested: includeWebhooks}

	// plain Group: a failed lookup must not cancel its siblings
	var g errgroup.Group
	g.Go(func() error {
		out.Config, out.ConfigError = c.lookup(ctx, "config", c.BaseURL, "config", pid)
		return nil
	})
	g.Go(func() error {
		out.TriggerConfig, out.TriggerConfigError = c.lookup(ctx, "trigger config", c.BaseURL, "triggers", pid)
		return nil
	})
	if includeWebhooks {
		g.Go(func() error {
			out.Webhooks, out.WebhooksError = c.lookup(ctx, "webhooks", c.PlatformURL, "webhooks", pid)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *MerchantClient) lookup(ctx context.Context, what, base, path, pid string) (json.RawMessage, string) {
	body, err := c.get(ctx, what, base, path, pid)
	if err != nil {
		log.Warn().Err(err).Str("pid", pid).Str("lookup", what).Msg("merchant lookup failed")
		return nil, err.Error()
	}
	return body, ""
}

func (c *MerchantClient) get(ctx context.Context, what, base, path, pid string) (json.RawMessage, error) {
	op := "fetch " + what
	if strings.TrimSpace(base) == "" {
		return nil, failure.Newf(failure.Config, op, "no base URL configured")
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + path)
	if err != nil {
		return nil, failure.New(failure.Config, op, err)
	}
	q := u.Query()
	q.Set("pid", pid)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, failure.New(failure.UpstreamHTTP, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("x-api-key", c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, failure.New(failure.UpstreamHTTP, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, failure.New(failure.UpstreamHTTP, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, failure.HTTPStatus(op, resp.StatusCode, string(raw))
	}
	return embed(raw), nil
}

// embed returns raw unchanged when it is valid JSON and as a JSON string
// otherwise.
func embed(raw []byte) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(trimmed)
	return b
}

// JSON renders the merged config as indented JSON.
func (m MerchantConfig) JSON() (string, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode merchant config: %w", err)
	}
	return string(b), nil
}

// Err summarises the lookup failures when every lookup failed.
func (m MerchantConfig) Err() error {
	if !m.AllFailed() {
		return nil
	}
	var msgs []string
	for _, s := range []string{m.ConfigError, m.TriggerConfigError, m.WebhooksError} {
		if s != "" {
			msgs = append(msgs, s)
		}
	}
	return failure.New(failure.UpstreamHTTP, "fetch merchant config", errors.New(strings.Join(msgs, "; ")))
}
