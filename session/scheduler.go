package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRefreshInterval is the proactive renewal period used when the
// credential's lifetime is unknown: 80% of the common 15 minute access
// token lifetime, so renewal lands well before expiry.
const DefaultRefreshInterval = 12 * time.Minute

// ResumeSignal delivers "the process is in the foreground again" events,
// for renewing immediately after a laptop wakes or the process is
// continued. Subscribe returns the event channel and a cancel func that
// releases the subscription.
type ResumeSignal interface {
	Subscribe() (<-chan struct{}, func())
}

// Scheduler renews the credential proactively: every interval while
// enabled, and immediately on a resume event, which also restarts the
// interval from that moment. It triggers renewal through the shared
// Coordinator, so a scheduled renewal and a 401-driven one can never run
// concurrently.
type Scheduler struct {
	coord    *Coordinator
	resume   ResumeSignal
	interval time.Duration
	log      *slog.Logger

	mu   sync.Mutex
	stop chan struct{} // non-nil while enabled
	done chan struct{}
}

// NewScheduler returns a disabled Scheduler firing every interval once
// enabled. resume and logger may be nil; interval <= 0 selects
// DefaultRefreshInterval.
func NewScheduler(coord *Coordinator, resume ResumeSignal, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Scheduler{
		coord:    coord,
		resume:   resume,
		interval: interval,
		log:      ensureLogger(logger),
	}
}

// Interval reports the configured renewal period.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// SetEnabled starts or stops proactive renewal. Enabling arms a full
// interval; there is no immediate renewal on enable. The resume
// subscription is already live when SetEnabled(true) returns. Both
// directions are idempotent. Disabling waits for the scheduling loop to
// wind down, so once SetEnabled(false) returns this Scheduler triggers
// no further renewals; a renewal already in flight still runs to
// completion.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled == (s.stop != nil) {
		return
	}
	if enabled {
		// Subscribe before the loop spawns; resume events must not be
		// lost between enable returning and the first select.
		var resume <-chan struct{}
		cancel := func() {}
		if s.resume != nil {
			resume, cancel = s.resume.Subscribe()
		}
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.run(s.stop, s.done, resume, cancel)
		s.log.Debug("proactive renewal enabled", "interval", s.interval)
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
	s.log.Debug("proactive renewal disabled")
}

// Enabled reports whether the scheduler is currently running.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *Scheduler) run(stop, done chan struct{}, resume <-chan struct{}, cancelResume func()) {
	defer close(done)
	defer cancelResume()

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			s.trigger("interval")
		case <-resume:
			s.trigger("resume")
		}

		// Rearm a full interval from the moment the renewal finished.
		// After a resume trigger the timer may have fired meanwhile, so
		// drain it before the reset.
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.interval)
	}
}

// trigger runs one renewal. The outcome is deliberately not inspected:
// if this renewal failed, the next request-driven renewal will surface it.
func (s *Scheduler) trigger(reason string) {
	s.log.Debug("proactive renewal triggered", "reason", reason)
	s.coord.Refresh(context.Background())
}
