package taskrun

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Watchdog force-stops a running container once its timeout elapses.
//
// The timer callback runs on its own goroutine and may race the main flow's
// Cancel, so the terminated flag is atomic, and the container client and
// logger it calls must tolerate concurrent use. Firing tolerates a
// container that already exited: the stop error is logged, not escalated,
// and the flag stays unset.
type Watchdog struct {
	timer    *time.Timer
	fired    atomic.Bool
	canceled atomic.Bool
	done     chan struct{}
}

// StartWatchdog arms a timer that force-stops containerID after timeout.
func StartWatchdog(client ContainerClient, containerID, name string, timeout time.Duration, logger *zap.Logger) *Watchdog {
	w := &Watchdog{done: make(chan struct{})}
	w.timer = time.AfterFunc(timeout, func() {
		defer close(w.done)
		logger.Info("terminating task on timeout", zap.String("task", name))
		if err := client.ForceStop(context.Background(), containerID); err != nil {
			logger.Warn("could not terminate task",
				zap.String("task", name), zap.Error(err))
			return
		}
		w.fired.Store(true)
		logger.Warn("terminated task on timeout", zap.String("task", name))
	})
	return w
}

// Cancel stops the timer, waiting out a callback already in flight so that
// a Fired read afterward sees the settled flag. Calling it again is
// harmless.
func (w *Watchdog) Cancel() {
	if w.canceled.Swap(true) {
		return
	}
	if !w.timer.Stop() {
		<-w.done
	}
}

// Fired reports whether the watchdog force-stopped the container.
func (w *Watchdog) Fired() bool {
	return w.fired.Load()
}
