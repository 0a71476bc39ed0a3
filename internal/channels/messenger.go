package channels

import (
	"context"

	"github.com/aatumaykin/chronobot/internal/tenant"
)

// Messenger is the outbound side of the messaging boundary. Every call is
// bounded by the transport's own timeout; errors are *DeliveryError.
type Messenger interface {
	// SendMessage sends content to chatID and returns the new message.
	SendMessage(ctx context.Context, chatID int64, content tenant.Content) (tenant.MessageRef, error)
	// DeleteMessage deletes a message; a missing message is ErrMessageNotFound.
	DeleteMessage(ctx context.Context, ref tenant.MessageRef) error
	// PinMessage pins a message without notifying members.
	PinMessage(ctx context.Context, ref tenant.MessageRef) error
}
