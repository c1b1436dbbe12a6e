package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type keycloakUser struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// UsersByRole returns enabled user IDs that hold roleName within the tenant's realm.
func (c *Client) UsersByRole(ctx context.Context, tenantID, roleName string) ([]string, error) {
	cacheKey := tenantID + "/" + roleName
	c.mu.RLock()
	entry, ok := c.roleCache[cacheKey]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.userIDs, nil
	}

	token, err := c.adminToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/admin/realms/%s/roles/%s/users",
		c.adminURL, url.PathEscape(tenantID), url.PathEscape(roleName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keycloak roles/%s/users: %w", roleName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keycloak roles/%s/users: status %d", roleName, resp.StatusCode)
	}

	var users []keycloakUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.Enabled {
			ids = append(ids, u.ID)
		}
	}

	c.mu.Lock()
	c.roleCache[cacheKey] = roleEntry{userIDs: ids, expiresAt: time.Now().Add(c.cacheTTL)}
	c.mu.Unlock()
	return ids, nil
}
