// Package messages holds the user-facing (Vietnamese) titles and bodies of
// notifications raised from domain events.
package messages

import (
	"fmt"
	"strconv"
)

// ─── Inventory builders ──────────────────────────────────────────────────────

// LowStock picks the out-of-stock wording when nothing is left.
func LowStock(product, location string, qty, threshold int) (string, string) {
	if qty <= 0 {
		return OutOfStockTitle, fmt.Sprintf(OutOfStockBody, product, location)
	}
	return LowStockTitle, fmt.Sprintf(LowStockBody, product, location, qty, threshold)
}

// ─── Transaction builders ────────────────────────────────────────────────────

func LargeTransaction(reference string, amount float64, currency, location string) (string, string) {
	return LargeTransactionTitle, fmt.Sprintf(LargeTransactionBody, reference, formatAmount(amount), currency, location)
}

// formatAmount renders 1234567.5 as "1.234.567,5" (vi-VN grouping).
func formatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	intPart, frac := s, ""
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			intPart, frac = s[:i], s[i+1:]
			break
		}
	}
	neg := len(intPart) > 0 && intPart[0] == '-'
	if neg {
		intPart = intPart[1:]
	}
	var out []byte
	for i := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, intPart[i])
	}
	if neg {
		out = append([]byte{'-'}, out...)
	}
	if frac != "" {
		out = append(append(out, ','), frac...)
	}
	return string(out)
}

// ─── Customer builders ───────────────────────────────────────────────────────

func CustomerActivity(customer, activity string) (string, string) {
	return CustomerActivityTitle, fmt.Sprintf(CustomerActivityBody, customer, activity)
}

// ─── Tenant builders ─────────────────────────────────────────────────────────

func TenantStatusUpdated(tenantKey, status string) (string, string) {
	return TenantStatusUpdatedTitle, fmt.Sprintf(TenantStatusUpdatedBody, tenantKey, status)
}

func TenantDeleted(tenantKey string) (string, string) {
	return TenantDeletedTitle, fmt.Sprintf(TenantDeletedBody, tenantKey)
}
