//go:build unix

package session

import (
	"os"
	"os/signal"
	"syscall"
)

// ProcessResume reports process continuation (SIGCONT) as a resume event:
// the closest process-level signal that the user is back after a suspend,
// a shell job-control stop, or a laptop sleep.
type ProcessResume struct{}

// Subscribe starts listening for SIGCONT. Events are delivered with
// capacity one and coalesced; the cancel func releases the signal handler.
func (ProcessResume) Subscribe() (<-chan struct{}, func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGCONT)

	events := make(chan struct{}, 1)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				select {
				case events <- struct{}{}:
				default:
				}
			case <-stop:
				return
			}
		}
	}()

	cancel := func() {
		signal.Stop(sigs)
		close(stop)
	}
	return events, cancel
}
