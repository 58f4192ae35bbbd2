package hub

import (
	"time"

	"github.com/safetyhub/internal/logger"
)

// publishStats is the periodic stats_update job.
func (h *Hub) publishStats() {
	h.gate.RLock()
	defer h.gate.RUnlock()
	h.broadcastStats()
}

func everySpec(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.String()
}

// cronLogger routes cron's own messages (recovered job panics) to our logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
