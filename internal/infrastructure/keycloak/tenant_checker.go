package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client talks to the Keycloak Admin REST API. Each realm is a tenant; a
// tenant is valid while its realm exists and is enabled. It implements
// auth.TenantChecker and application.RecipientResolver.
type Client struct {
	adminURL     string // e.g. "http://keycloak:8080"
	adminRealm   string // realm used for admin login, usually "master"
	clientID     string
	clientSecret string

	httpClient *http.Client

	// Answers are cached so a reconnect storm does not hammer Keycloak.
	mu        sync.RWMutex
	cacheTTL  time.Duration
	cacheData map[string]cacheEntry
	roleCache map[string]roleEntry

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

type cacheEntry struct {
	valid     bool
	expiresAt time.Time
}

type roleEntry struct {
	userIDs   []string
	expiresAt time.Time
}

// New creates a Client with the given cache TTL.
func New(adminURL, adminRealm, clientID, clientSecret string, cacheTTL time.Duration) *Client {
	return &Client{
		adminURL:     strings.TrimSuffix(adminURL, "/"),
		adminRealm:   adminRealm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		cacheTTL:     cacheTTL,
		cacheData:    make(map[string]cacheEntry),
		roleCache:    make(map[string]roleEntry),
	}
}

type realmRep struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

// IsValidTenant reports whether the tenant's realm exists and is enabled.
// The admin realm itself is never a tenant.
func (c *Client) IsValidTenant(ctx context.Context, tenantID string) (bool, error) {
	if tenantID == "" || tenantID == c.adminRealm {
		return false, nil
	}
	if valid, ok := c.fromCache(tenantID); ok {
		return valid, nil
	}

	token, err := c.adminToken(ctx)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.adminURL+"/admin/realms/"+url.PathEscape(tenantID), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("keycloak get realm(%s): %w", tenantID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		c.toCache(tenantID, false)
		return false, nil
	default:
		return false, fmt.Errorf("keycloak get realm(%s): status %d", tenantID, resp.StatusCode)
	}

	var realm realmRep
	if err := json.NewDecoder(resp.Body).Decode(&realm); err != nil {
		return false, err
	}
	c.toCache(tenantID, realm.Enabled)
	return realm.Enabled, nil
}

// adminToken returns a cached client-credentials token, refreshing it shortly before expiry.
func (c *Client) adminToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.adminURL, c.adminRealm)
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("keycloak admin token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("keycloak admin token: status %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("keycloak returned empty access_token")
	}

	ttl := time.Duration(tok.ExpiresIn)*time.Second - 10*time.Second
	if ttl < 0 {
		ttl = 0
	}
	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(ttl)
	return c.token, nil
}

func (c *Client) fromCache(key string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cacheData[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return false, false
	}
	return entry.valid, true
}

func (c *Client) toCache(key string, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheData[key] = cacheEntry{valid: valid, expiresAt: time.Now().Add(c.cacheTTL)}
}
