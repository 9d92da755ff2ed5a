package core

import "context"

// ShutdownFunc is a cleanup step executed during shutdown.
// The context carries the remaining shutdown deadline.
type ShutdownFunc func(ctx context.Context) error
