package questionnaire

import (
	"context"
	"time"

	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// Probe reports whether the completion flag is currently visible.
type Probe interface {
	Completed(ctx context.Context) (bool, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (bool, error)

func (f ProbeFunc) Completed(ctx context.Context) (bool, error) { return f(ctx) }

// Watcher polls a probe into a detector until completion is confirmed.
type Watcher struct {
	probe    Probe
	detector *Detector
	interval time.Duration
	logger   *logging.Logger
}

func NewWatcher(probe Probe, detector *Detector, interval time.Duration, logger *logging.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{probe: probe, detector: detector, interval: interval, logger: logger.With("questionnaire")}
}

// Watch blocks until the detector confirms or ctx is done. Probe errors
// are skipped without resetting the dwell.
func (w *Watcher) Watch(ctx context.Context) (State, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if w.poll(ctx) == Confirmed {
			return Confirmed, nil
		}
		select {
		case <-ctx.Done():
			return w.detector.State(), ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) poll(ctx context.Context) State {
	if w.detector.State() == Confirmed {
		return Confirmed
	}
	seen, err := w.probe.Completed(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("completion probe failed", "error", err)
		}
		return w.detector.State()
	}
	return w.detector.Observe(seen)
}
