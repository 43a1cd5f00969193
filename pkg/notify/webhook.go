package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// WebhookNotifier posts {"text": message} as JSON to a URL.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

type webhookPayload struct {
	Text string `json:"text"`
}

// NewWebhookNotifier creates a WebhookNotifier for url.
func NewWebhookNotifier(url string, httpClient *http.Client) *WebhookNotifier {
	return &WebhookNotifier{url: url, httpClient: httpClient}
}

// Name returns the sink name used in logs and metrics.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Send posts message to the webhook.
func (w *WebhookNotifier) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(webhookPayload{Text: message})
	if err != nil {
		return &NotifyError{Sink: w.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &NotifyError{Sink: w.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return &NotifyError{Sink: w.Name(), Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NotifyError{Sink: w.Name(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}
