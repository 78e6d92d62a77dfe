package tec

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nasa-jpl/tecsrv/internal/logging"
)

// WatchdogTimeout is the longest silence between Pet calls the event
// loop is allowed before the watchdog considers it stalled (§7: "a
// hardware fault that stalls the event loop for >1s is caught by the
// watchdog and forces a reset").
const WatchdogTimeout = time.Second

// Watchdog stands in for the hardware watchdog timer a bare-metal build
// of this firmware would arm: a background goroutine that checks the
// event loop is still petting it at least once a second, and forces a
// process exit if not, relying on a supervisor to restart the process as
// the idiomatic substitute for a hardware reset.
type Watchdog struct {
	lastPetNano int64
	log         *logging.Logger
	onStall     func()
}

// NewWatchdog creates a Watchdog and immediately records a first pet, so
// Run never fires before the caller's loop has had a chance to start.
func NewWatchdog(log *logging.Logger, onStall func()) *Watchdog {
	w := &Watchdog{log: log, onStall: onStall}
	w.Pet()
	return w
}

// Pet records that the event loop made forward progress. Called once per
// iteration of Server.Serve, the last step of the §4.9 loop body.
func (w *Watchdog) Pet() {
	atomic.StoreInt64(&w.lastPetNano, time.Now().UnixNano())
}

// Run polls for staleness until ctx is cancelled or a stall is detected,
// in which case onStall is invoked exactly once and Run returns.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(WatchdogTimeout / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, atomic.LoadInt64(&w.lastPetNano))
			if time.Since(last) > WatchdogTimeout {
				w.log.Fault("event loop stalled for over %v, forcing reset", WatchdogTimeout)
				w.onStall()
				return
			}
		}
	}
}
