package client

import (
	"context"
	"errors"
	"time"

	"github.com/justestif/go-shorts-feed/internal/domain"
)

// DefaultHeartbeatInterval is used by KeepAlive when interval is not positive.
const DefaultHeartbeatInterval = 30 * time.Second

// KeepAlive sends a heartbeat for sessionID every interval until ctx is done.
// Failed heartbeats are logged and skipped. It returns early only when the
// server no longer knows the session or the caller is unauthorized.
func (c *Client) KeepAlive(ctx context.Context, sessionID string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := c.Heartbeat(ctx, sessionID, time.Now().UTC())
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnauthorized):
			return err
		default:
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("heartbeat failed")
		}
	}
}
