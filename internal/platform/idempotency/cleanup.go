package idempotency

import (
	"context"
	"time"
)

// RunCleanup deletes expired keys every interval until ctx is done.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, batch int, logger Logger) {
	if store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.CleanupExpired(ctx, now.UTC(), batch)
			if logger == nil {
				continue
			}
			if err != nil {
				logger.Printf("idempotency: cleanup failed: %v", err)
			} else if removed > 0 {
				logger.Printf("idempotency: removed %d expired keys", removed)
			}
		}
	}
}
