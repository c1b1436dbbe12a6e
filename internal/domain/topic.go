package domain

import (
	"fmt"
	"strings"
)

// Topic is a tenant-scoped routing key of the form {domain}:{tenantId}[:{scopeId}].
type Topic string

// Known topic domains.
const (
	DomainTenant        = "tenant"
	DomainUser          = "user"
	DomainInventory     = "inventory"
	DomainTransactions  = "transactions"
	DomainCustomers     = "customers"
	DomainNotifications = "notifications"
)

var subscribableDomains = map[string]bool{
	DomainInventory:     true,
	DomainTransactions:  true,
	DomainCustomers:     true,
	DomainNotifications: true,
}

// NewTopic builds a topic key. An empty scope yields the tenant-wide topic.
func NewTopic(domain, tenantID, scope string) Topic {
	if scope == "" {
		return Topic(domain + ":" + tenantID)
	}
	return Topic(domain + ":" + tenantID + ":" + scope)
}

// TenantRoom is the default topic every connection of a tenant joins.
func TenantRoom(tenantID string) Topic {
	return NewTopic(DomainTenant, tenantID, "")
}

// UserTopic is the personal topic of one user inside a tenant.
func UserTopic(tenantID, userID string) Topic {
	return NewTopic(DomainUser, tenantID, userID)
}

// ParseTopic validates a raw topic key.
func ParseTopic(raw string) (Topic, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
	}
	if len(parts) == 3 && parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
	}
	return Topic(raw), nil
}

func (t Topic) part(i int) string {
	parts := strings.SplitN(string(t), ":", 3)
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}

func (t Topic) Domain() string { return t.part(0) }
func (t Topic) Tenant() string { return t.part(1) }
func (t Topic) Scope() string  { return t.part(2) }

// Subscribable reports whether clients may join the topic explicitly.
// Tenant and user rooms are assigned by the server on registration.
func (t Topic) Subscribable() bool {
	return subscribableDomains[t.Domain()]
}

func (t Topic) String() string { return string(t) }
