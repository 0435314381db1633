package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/you/sqlbridge/internal/failure"
)

// SlackNotifier posts plain text messages to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	HTTPClient *http.Client
}

func (s *SlackNotifier) Send(ctx context.Context, message string) error {
	const op = "send slack alert"
	if strings.TrimSpace(s.WebhookURL) == "" {
		return failure.Newf(failure.Config, op, "SLACK_WEBHOOK_URL is not set")
	}
	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return failure.New(failure.InvalidArgument, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return failure.New(failure.UpstreamHTTP, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return failure.New(failure.UpstreamHTTP, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return failure.HTTPStatus(op, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
