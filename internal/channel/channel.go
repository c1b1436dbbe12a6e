// Package channel holds the per-medium senders used by the delivery worker.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vn.io.arda/realtime/internal/domain"
)

// Errors a sender can return that retrying will not fix.
var (
	ErrNoAddress = errors.New("recipient has no address for this channel")
	ErrDisabled  = errors.New("channel is not configured")
)

// Permanent reports whether err should fail the record without retrying.
func Permanent(err error) bool {
	return errors.Is(err, ErrNoAddress) || errors.Is(err, ErrDisabled)
}

// Delivery is one record plus the resolved addresses of its recipient.
// Contact may be nil for channels that do not need one.
type Delivery struct {
	Record  *domain.NotificationRecord
	Contact *domain.Contact
}

// Result describes what the provider accepted.
type Result struct {
	ProviderID string
	// Delivered is set when the channel knows the message reached the user,
	// not just the provider.
	Delivered bool
	SentAt    time.Time
}

// Sender delivers a record over one medium.
type Sender interface {
	Send(ctx context.Context, d Delivery) (Result, error)
}

// Set maps channels to their senders.
type Set map[domain.Channel]Sender

// Get returns the sender for c or a Disabled sender.
func (s Set) Get(c domain.Channel) Sender {
	if sender, ok := s[c]; ok && sender != nil {
		return sender
	}
	return Disabled{Channel: c}
}

// Disabled rejects every send; used for channels with no provider configured.
type Disabled struct {
	Channel domain.Channel
}

func (d Disabled) Send(context.Context, Delivery) (Result, error) {
	return Result{}, fmt.Errorf("%s: %w", d.Channel, ErrDisabled)
}
