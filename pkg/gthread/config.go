package gthread

import (
	"fmt"
	"time"
)

// DefaultStackSize is the per-task stack reservation used when none is configured.
const DefaultStackSize = 16 << 10

// Config holds runtime tunables.
type Config struct {
	// StackSize is the fixed size of every task's stack region. Stacks do
	// not grow.
	StackSize int

	// TickInterval is the preemption period. Zero disables preemption and
	// leaves scheduling purely cooperative.
	TickInterval time.Duration

	// MaxTasks bounds the number of live task records, including the main
	// task. Zero means unbounded.
	MaxTasks int

	// MaxStackMemory bounds the bytes reserved by all stacks, including the
	// cleanup context's. Zero means unbounded.
	MaxStackMemory int64
}

// DefaultConfig returns the reference configuration: 16 KiB stacks and a
// one second preemption tick.
func DefaultConfig() Config {
	return Config{
		StackSize:    DefaultStackSize,
		TickInterval: time.Second,
	}
}

// Validate checks the configuration for values the runtime cannot honour.
func (c Config) Validate() error {
	if c.StackSize <= 0 {
		return fmt.Errorf("stack size must be positive, got %d", c.StackSize)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("tick interval must not be negative, got %s", c.TickInterval)
	}
	if c.MaxTasks < 0 {
		return fmt.Errorf("max tasks must not be negative, got %d", c.MaxTasks)
	}
	if c.MaxStackMemory < 0 {
		return fmt.Errorf("max stack memory must not be negative, got %d", c.MaxStackMemory)
	}
	if c.MaxStackMemory > 0 && c.MaxStackMemory < 2*int64(c.StackSize) {
		return fmt.Errorf("max stack memory %d cannot fit the cleanup stack and one task stack of %d bytes",
			c.MaxStackMemory, c.StackSize)
	}
	return nil
}
