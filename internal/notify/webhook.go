package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/resilience"
)

// Webhook POSTs each incident event as JSON.
type Webhook struct {
	url    string
	client *http.Client
	policy resilience.Policy
}

// NewWebhook creates a webhook publisher. A nil client gets a 10s timeout.
func NewWebhook(url string, client *http.Client, policy resilience.Policy) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, client: client, policy: policy.Named("webhook", "publish")}
}

func (w *Webhook) Publish(ctx context.Context, inc *model.Incident) error {
	body, err := json.Marshal(NewEvent(inc))
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	err = resilience.Retry(ctx, w.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return resilience.NewTransientError(err, 0)
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
			return resilience.HTTPStatusError("notify: webhook", resp.StatusCode, string(snippet))
		}
		return nil
	})
	return eris.Wrapf(err, "notify: webhook publish %s", inc.ID)
}

func (w *Webhook) Close() error { return nil }
