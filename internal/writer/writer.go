// internal/writer/writer.go
package writer

import (
	"context"
	"errors"
	"sync"

	"github.com/tamzrod/camlink/internal/monitor"
)

// Exporter delivers samples to the status blocks of the planned sensors.
type Exporter struct {
	mu      sync.Mutex
	writers map[string]StatusWriter // by sensor id
	logger  Logger
}

// New builds the status writers of plan on cli.
func New(plan Plan, cli endpointClient) *Exporter {
	w := &Exporter{
		writers: make(map[string]StatusWriter, len(plan.Status)),
		logger:  noopLogger{},
	}
	for _, sp := range plan.Status {
		w.writers[sp.SensorID] = NewDeviceStatusWriter(sp, cli)
	}
	return w
}

// SetLogger sets the logger used by Run.
func (w *Exporter) SetLogger(l Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger = l
}

// Write delivers every reading whose sensor has a status slot. Sensors
// without one are skipped. Every writer is attempted; errors are joined.
func (w *Exporter) Write(s monitor.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for _, r := range s.Readings {
		sw, ok := w.writers[r.Status.ID]
		if !ok {
			continue
		}
		if err := sw.WriteStatus(r.Snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run writes every sample received on in until ctx is done or in closes.
// Failures are logged; the failed block is re-asserted on the next sample.
func (w *Exporter) Run(ctx context.Context, in <-chan monitor.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			if err := w.Write(s); err != nil {
				w.mu.Lock()
				l := w.logger
				w.mu.Unlock()
				l.Warn("status write failed", "err", err)
			}
		}
	}
}
