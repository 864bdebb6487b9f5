package session

import (
	"context"
	"time"

	"github.com/litimahmed/universal-hub/pkg/tokenstore"
)

// maintain wakes every interval and refreshes an access token that expired
// while nobody was using it.
func (c *Controller) maintain(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.tick(ctx)
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	access, ok := c.read(ctx, tokenstore.AccessKey)
	if !ok || !c.inspector.IsExpired(access) {
		return
	}
	if err := c.ValidateAndRefresh(ctx); err != nil {
		c.logger.Debug("background refresh failed", "error", err)
	}
}
