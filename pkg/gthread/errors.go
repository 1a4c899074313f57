package gthread

import (
	"errors"

	"github.com/me/gthreads/internal/uctx"
)

// Resource exhaustion. The operation had no effect.
var (
	ErrTaskLimit      = errors.New("task limit reached")
	ErrStackExhausted = uctx.ErrStackExhausted
)

// Misuse. The operation had no effect.
var (
	ErrInvalidHandle      = errors.New("invalid task handle")
	ErrNotAllocated       = errors.New("task is not in the allocated state")
	ErrNotStarted         = errors.New("task was never spawned")
	ErrJoinSelf           = errors.New("task cannot join itself")
	ErrNilEntry           = errors.New("nil entry point")
	ErrBusy               = errors.New("task is still live")
	ErrNotOwner           = errors.New("mutex is owned by another task")
	ErrNotLocked          = errors.New("mutex is not locked")
	ErrRecursiveLock      = errors.New("mutex is already owned by the calling task")
	ErrMutexUninitialized = errors.New("mutex used before InitMutex")
	ErrClosed             = errors.New("runtime is closed")
)

// deadlockMsg is the panic value when no task can ever run again.
const deadlockMsg = "gthread: all tasks are blocked (deadlock)"
