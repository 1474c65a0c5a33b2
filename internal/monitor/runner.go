// internal/monitor/runner.go
package monitor

import (
	"context"
	"time"
)

// Run starts the ticker loop and emits a Sample on out each interval.
// No overlap. No retries. A pending send is abandoned on cancellation.
func (m *Monitor) Run(ctx context.Context, out chan<- Sample) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case out <- m.PollOnce():
			case <-ctx.Done():
				return
			}
		}
	}
}
