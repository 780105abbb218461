package core

import "context"

// Sender delivers outbound messages to the chat platform.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
	AnswerCallback(ctx context.Context, callbackID string) error
}
