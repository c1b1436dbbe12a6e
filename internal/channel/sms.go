package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioConfig configures the SMS channel. BaseURL is only overridden in tests.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
}

// SMS sends records through the Twilio Messages API.
type SMS struct {
	cfg        TwilioConfig
	httpClient *http.Client
}

func NewSMS(cfg TwilioConfig) *SMS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	return &SMS{cfg: cfg, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SMS) Send(ctx context.Context, d Delivery) (Result, error) {
	if d.Contact == nil || d.Contact.Phone == "" {
		return Result{}, ErrNoAddress
	}
	apiURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.AccountSID)

	form := url.Values{}
	form.Set("To", d.Contact.Phone)
	form.Set("From", s.cfg.FromNumber)
	form.Set("Body", d.Record.Message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("twilio error %s: %s", resp.Status, string(body))
	}

	var out struct {
		SID string `json:"sid"`
	}
	_ = json.Unmarshal(body, &out)
	return Result{ProviderID: out.SID, SentAt: time.Now()}, nil
}
