package hermes

import (
	"context"
	"log/slog"
	"time"
)

const (
	SubjectHeartbeat = "swarm.agent.scribe.heartbeat"

	DefaultHeartbeatInterval = 30 * time.Second
)

// Heartbeat publishes a liveness event every interval until ctx is done.
// Publish failures are logged and do not stop the loop.
func Heartbeat(ctx context.Context, pub Publisher, interval time.Duration, port int, logger *slog.Logger) error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	started := time.Now()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tick.C:
			err := pub.Publish(SubjectHeartbeat, map[string]any{
				"timestamp": now.UTC().Format(time.RFC3339),
				"port":      port,
				"uptime_s":  int64(now.Sub(started).Seconds()),
			})
			if err != nil {
				logger.Warn("failed to publish heartbeat", "error", err)
			}
		}
	}
}
