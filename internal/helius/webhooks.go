package helius

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Webhook admin client — idempotent upsert of the tracked-wallet webhook
// ---------------------------------------------------------------------------

const defaultAPIBase = "https://api.helius.xyz/v0"

// WebhookClient manages the enhanced-transaction webhook registration.
type WebhookClient struct {
	apiKey     string
	baseURL    string
	webhookURL string
	authHeader string
	httpClient *http.Client
}

// NewWebhookClient creates a webhook admin client. webhookURL is the public
// URL events are pushed to; authHeader is echoed back by the provider on
// every delivery.
func NewWebhookClient(apiKey, webhookURL, authHeader string) *WebhookClient {
	return &WebhookClient{
		apiKey:     apiKey,
		baseURL:    defaultAPIBase,
		webhookURL: webhookURL,
		authHeader: authHeader,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBaseURL overrides the API base (tests).
func (c *WebhookClient) SetBaseURL(u string) { c.baseURL = u }

type webhook struct {
	WebhookID        string   `json:"webhookID"`
	WebhookURL       string   `json:"webhookURL"`
	TransactionTypes []string `json:"transactionTypes"`
	AccountAddresses []string `json:"accountAddresses"`
	WebhookType      string   `json:"webhookType"`
	AuthHeader       string   `json:"authHeader,omitempty"`
}

// Upsert registers or updates the webhook so it watches exactly the given
// addresses. Returns the webhook id.
func (c *WebhookClient) Upsert(ctx context.Context, addresses []string) (string, error) {
	existing, err := c.list(ctx)
	if err != nil {
		return "", err
	}

	body := webhook{
		WebhookURL:       c.webhookURL,
		TransactionTypes: []string{"SWAP", "TRANSFER"},
		AccountAddresses: addresses,
		WebhookType:      "enhanced",
		AuthHeader:       c.authHeader,
	}

	for _, wh := range existing {
		if wh.WebhookURL == c.webhookURL {
			if err := c.edit(ctx, wh.WebhookID, body); err != nil {
				return "", err
			}
			log.Info().
				Str("webhook_id", wh.WebhookID).
				Int("addresses", len(addresses)).
				Msg("helius: webhook updated")
			return wh.WebhookID, nil
		}
	}

	id, err := c.create(ctx, body)
	if err != nil {
		return "", err
	}
	log.Info().
		Str("webhook_id", id).
		Int("addresses", len(addresses)).
		Msg("helius: webhook created")
	return id, nil
}

func (c *WebhookClient) list(ctx context.Context) ([]webhook, error) {
	var out []webhook
	if err := c.do(ctx, "GET", "/webhooks", nil, &out); err != nil {
		return nil, fmt.Errorf("helius: list webhooks: %w", err)
	}
	return out, nil
}

func (c *WebhookClient) create(ctx context.Context, wh webhook) (string, error) {
	var out webhook
	if err := c.do(ctx, "POST", "/webhooks", wh, &out); err != nil {
		return "", fmt.Errorf("helius: create webhook: %w", err)
	}
	return out.WebhookID, nil
}

func (c *WebhookClient) edit(ctx context.Context, id string, wh webhook) error {
	if err := c.do(ctx, "PUT", "/webhooks/"+id, wh, nil); err != nil {
		return fmt.Errorf("helius: edit webhook %s: %w", id, err)
	}
	return nil
}

func (c *WebhookClient) do(ctx context.Context, method, path string, in, out any) error {
	url := fmt.Sprintf("%s%s?api-key=%s", c.baseURL, path, c.apiKey)

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
