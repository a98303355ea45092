package postmark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mailwatch/internal/track"
)

const defaultBaseURL = "https://api.postmarkapp.com"

// Client is a minimal Postmark REST client covering webhook management
// and suppression removal.
type Client struct {
	baseURL     string
	serverToken string
	httpClient  *http.Client
}

func NewClient(baseURL, serverToken string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		serverToken: serverToken,
		httpClient:  httpClient,
	}
}

type Webhook struct {
	ID            int64           `json:"ID,omitempty"`
	URL           string          `json:"Url"`
	MessageStream string          `json:"MessageStream,omitempty"`
	Triggers      WebhookTriggers `json:"Triggers"`
}

type WebhookTriggers struct {
	Delivery           *TriggerEnabled      `json:"Delivery,omitempty"`
	Open               *TriggerEnabled      `json:"Open,omitempty"`
	Click              *TriggerEnabled      `json:"Click,omitempty"`
	Bounce             *TriggerIncludingRaw `json:"Bounce,omitempty"`
	SpamComplaint      *TriggerIncludingRaw `json:"SpamComplaint,omitempty"`
	SubscriptionChange *TriggerEnabled      `json:"SubscriptionChange,omitempty"`
}

type TriggerEnabled struct {
	Enabled bool `json:"Enabled"`
}

type TriggerIncludingRaw struct {
	Enabled        bool `json:"Enabled"`
	IncludeContent bool `json:"IncludeContent"`
}

func (c *Client) ListWebhooks(ctx context.Context, messageStream string) ([]Webhook, error) {
	path := "/webhooks"
	if strings.TrimSpace(messageStream) != "" {
		path += "?MessageStream=" + messageStream
	}
	var out struct {
		Webhooks []Webhook `json:"Webhooks"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Webhooks, nil
}

func (c *Client) CreateWebhook(ctx context.Context, hook Webhook) (Webhook, error) {
	var out Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks", hook, &out); err != nil {
		return Webhook{}, err
	}
	return out, nil
}

func (c *Client) UpdateWebhook(ctx context.Context, id int64, hook Webhook) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/webhooks/%d", id), hook, nil)
}

// DeleteSuppressions removes addresses from a message stream's
// suppression list. Postmark reports per-address status rather than
// failing the call.
func (c *Client) DeleteSuppressions(ctx context.Context, messageStream string, addresses ...string) ([]SuppressionStatus, error) {
	type suppression struct {
		EmailAddress string `json:"EmailAddress"`
	}
	body := struct {
		Suppressions []suppression `json:"Suppressions"`
	}{}
	for _, addr := range addresses {
		body.Suppressions = append(body.Suppressions, suppression{EmailAddress: addr})
	}
	var out struct {
		Suppressions []SuppressionStatus `json:"Suppressions"`
	}
	path := fmt.Sprintf("/message-streams/%s/suppressions/delete", messageStream)
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return out.Suppressions, nil
}

type SuppressionStatus struct {
	EmailAddress string `json:"EmailAddress"`
	Status       string `json:"Status"`
	Message      string `json:"Message"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &track.TransportError{Provider: "postmark", Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &track.TransportError{Provider: "postmark", Op: method + " " + path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &track.TransportError{
			Provider: "postmark",
			Op:       method + " " + path,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &track.TransportError{Provider: "postmark", Op: method + " " + path, Err: err}
	}
	return nil
}
