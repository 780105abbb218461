package core

import "context"

// Receiver pulls raw updates from the platform until ctx is cancelled.
type Receiver interface {
	Start(ctx context.Context) error
}
