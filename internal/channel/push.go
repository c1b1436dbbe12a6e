package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PushConfig points the push channel at an HTTP push gateway.
type PushConfig struct {
	URL    string
	APIKey string
}

// Push fans a record out to the recipient's device tokens through a JSON
// gateway (FCM/APNs relay).
type Push struct {
	cfg        PushConfig
	httpClient *http.Client
}

func NewPush(cfg PushConfig) *Push {
	return &Push{cfg: cfg, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

type pushRequest struct {
	Tokens   []string       `json:"tokens"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data,omitempty"`
	Priority string         `json:"priority"`
}

func (p *Push) Send(ctx context.Context, d Delivery) (Result, error) {
	if d.Contact == nil || len(d.Contact.DeviceTokens) == 0 {
		return Result{}, ErrNoAddress
	}
	rec := d.Record
	body, err := json.Marshal(pushRequest{
		Tokens:   d.Contact.DeviceTokens,
		Title:    rec.Subject,
		Body:     rec.Message,
		Data:     rec.Data,
		Priority: string(rec.Priority),
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("push gateway request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("push gateway error %s: %s", resp.Status, string(respBody))
	}

	var out struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(respBody, &out)
	return Result{ProviderID: out.ID, SentAt: time.Now()}, nil
}
