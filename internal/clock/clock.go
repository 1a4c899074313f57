// Package clock provides the periodic interrupt sources that drive
// preemption.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRunning is returned when a source is started twice.
var ErrRunning = errors.New("clock already running")

// Kind names a clock implementation in configuration.
type Kind string

const (
	KindTicker Kind = "ticker"
	KindITimer Kind = "itimer"
	KindOff    Kind = "off"
)

// New returns the clock for kind. KindOff returns nil, meaning no preemption.
func New(kind Kind) (Source, error) {
	switch kind {
	case KindTicker, "":
		return NewTicker(), nil
	case KindITimer:
		return NewITimer(), nil
	case KindOff:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown clock kind %q (want ticker, itimer or off)", kind)
	}
}

// Source fires a callback periodically until stopped.
type Source interface {
	// Start begins calling fire every interval on a background goroutine.
	Start(interval time.Duration, fire func()) error

	// Stop halts the source and waits for the background goroutine to exit.
	Stop() error
}

// Ticker is a portable Source backed by time.Ticker.
type Ticker struct {
	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTicker returns a stopped Ticker.
func NewTicker() *Ticker {
	return &Ticker{}
}

// Start implements Source.
func (t *Ticker) Start(interval time.Duration, fire func()) error {
	if interval <= 0 {
		return fmt.Errorf("ticker interval must be positive, got %s", interval)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopCh != nil {
		return ErrRunning
	}
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})

	go func(stopCh, doneCh chan struct{}) {
		defer close(doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				fire()
			}
		}
	}(t.stopCh, t.doneCh)
	return nil
}

// Stop implements Source. Stopping a stopped Ticker is a no-op.
func (t *Ticker) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopCh == nil {
		return nil
	}
	close(t.stopCh)
	<-t.doneCh
	t.stopCh, t.doneCh = nil, nil
	return nil
}

// Manual is a Source that fires only when told to. Tests use it to place
// interrupts deterministically.
type Manual struct {
	mu   sync.Mutex
	fire func()
}

// NewManual returns a stopped Manual clock.
func NewManual() *Manual {
	return &Manual{}
}

// Start implements Source. The interval is ignored.
func (m *Manual) Start(_ time.Duration, fire func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fire != nil {
		return ErrRunning
	}
	m.fire = fire
	return nil
}

// Stop implements Source.
func (m *Manual) Stop() error {
	m.mu.Lock()
	m.fire = nil
	m.mu.Unlock()
	return nil
}

// Tick fires once. It reports false if the clock is not running.
func (m *Manual) Tick() bool {
	m.mu.Lock()
	fire := m.fire
	m.mu.Unlock()
	if fire == nil {
		return false
	}
	fire()
	return true
}
