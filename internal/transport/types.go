package transport

import "context"

// Target identifies one outbound recipient (a Telegram chat).
type Target struct {
	ChatID int64
}

// Sender is the outbound side of the chat platform.
//
// Attachments are platform file references (file IDs). A nil error means the
// message was accepted by the platform; a *PermanentRejection means the
// target can never be reached again and should be deregistered.
type Sender interface {
	SendText(ctx context.Context, to Target, text string, attachments []string) error
}
