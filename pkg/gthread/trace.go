package gthread

import "time"

// EventKind classifies a scheduling event.
type EventKind string

const (
	EventStart   EventKind = "start"
	EventSpawn   EventKind = "spawn"
	EventSwitch  EventKind = "switch"
	EventPreempt EventKind = "preempt"
	EventBlock   EventKind = "block"
	EventWake    EventKind = "wake"
	EventExit    EventKind = "exit"
	EventJoin    EventKind = "join"
)

// Event is one scheduling decision. Task is the subject; Peer is the other
// task involved, if any (the outgoing task of a switch, the spawner, the
// joined task, the waker). IDs are arena indices; 0 means none.
type Event struct {
	Seq  uint64    `json:"seq"`
	At   time.Time `json:"at"`
	Kind EventKind `json:"kind"`
	Task int       `json:"task"`
	Peer int       `json:"peer"`
}

// Tracer receives scheduling events. Trace is called on the scheduler's
// logical thread, often with preemption masked, and must not block or call
// back into the runtime.
type Tracer interface {
	Trace(ev Event)
}

func (r *Runtime) emit(kind EventKind, task, peer int32) {
	if r.tracer == nil {
		return
	}
	r.tracer.Trace(Event{
		Seq:  r.seq.Add(1),
		At:   time.Now(),
		Kind: kind,
		Task: int(task),
		Peer: int(peer),
	})
}
