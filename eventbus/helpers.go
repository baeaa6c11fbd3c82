package eventbus

import (
	"context"
	"log/slog"

	"github.com/warp/qurban-ledger/engine"
)

// DropRate returns the fraction of deliveries dropped across all
// subscribers, 0 when nothing was delivered or dropped.
func DropRate(st Stats) float64 {
	total := st.TotalSent + st.TotalDropped
	if total == 0 {
		return 0
	}
	return float64(st.TotalDropped) / float64(total)
}

// LogEvents drains ch and logs every event until ch is closed or ctx is
// done. Run it in its own goroutine.
func LogEvents(ctx context.Context, logger *slog.Logger, ch <-chan engine.DomainEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			logger.Info("event", "topic", ev.Topic, "subject", ev.Subject, "at", ev.At)
		}
	}
}
