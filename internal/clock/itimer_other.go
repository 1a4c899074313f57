//go:build !linux

package clock

import (
	"errors"
	"time"
)

// ErrUnsupported is returned by ITimer on platforms without setitimer support.
var ErrUnsupported = errors.New("itimer clock is only supported on linux")

// ITimer is unavailable on this platform; Start always fails.
type ITimer struct{}

// NewITimer returns an ITimer that cannot start.
func NewITimer() *ITimer {
	return &ITimer{}
}

// Start implements Source.
func (t *ITimer) Start(time.Duration, func()) error {
	return ErrUnsupported
}

// Stop implements Source.
func (t *ITimer) Stop() error {
	return nil
}
