//go:build linux

package clock

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ITimer is a Source backed by the process interval timer: setitimer with
// ITIMER_REAL delivers SIGALRM, which is forwarded to the callback.
// Only one ITimer may run per process because the timer is process-wide.
type ITimer struct {
	mu     sync.Mutex
	sigCh  chan os.Signal
	doneCh chan struct{}
}

// NewITimer returns a stopped ITimer.
func NewITimer() *ITimer {
	return &ITimer{}
}

// Start implements Source.
func (t *ITimer) Start(interval time.Duration, fire func()) error {
	if interval <= 0 {
		return fmt.Errorf("itimer interval must be positive, got %s", interval)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sigCh != nil {
		return ErrRunning
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGALRM)

	tv := unix.NsecToTimeval(interval.Nanoseconds())
	if _, err := unix.Setitimer(unix.ItimerReal, unix.Itimerval{Interval: tv, Value: tv}); err != nil {
		signal.Stop(sigCh)
		return fmt.Errorf("setitimer: %w", err)
	}

	t.sigCh = sigCh
	t.doneCh = make(chan struct{})
	go func(sigCh chan os.Signal, doneCh chan struct{}) {
		defer close(doneCh)
		for range sigCh {
			fire()
		}
	}(sigCh, t.doneCh)
	return nil
}

// Stop implements Source. It disarms the timer before detaching the signal.
func (t *ITimer) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sigCh == nil {
		return nil
	}
	_, err := unix.Setitimer(unix.ItimerReal, unix.Itimerval{})
	signal.Stop(t.sigCh)
	close(t.sigCh)
	<-t.doneCh
	t.sigCh, t.doneCh = nil, nil
	if err != nil {
		return fmt.Errorf("disarm itimer: %w", err)
	}
	return nil
}
