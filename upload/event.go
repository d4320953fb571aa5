package upload

import "sync"

// EventKind is the state an entry reached.
type EventKind int

const (
	// InProgress carries a transport progress percentage below 100.
	InProgress EventKind = iota
	// Failed is terminal: the primary transfer did not succeed.
	Failed
	// Completed is terminal: the primary transfer succeeded and the
	// derivatives were issued (or written, depending on the CompletionMode).
	Completed
	// Cancelled is terminal: the primary transfer was aborted.
	Cancelled
)

func (k EventKind) String() string {
	switch k {
	case InProgress:
		return "in_progress"
	case Failed:
		return "failed"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal ...
func (k EventKind) Terminal() bool {
	return k != InProgress
}

// Event is one state update of an entry.
type Event struct {
	Ref     string
	Kind    EventKind
	Percent int
	// Err is the primary failure for Failed, and the joined derivative
	// failures for Completed when derivatives are awaited.
	Err error
}

// EventHandler can be implemented by a Reporter to receive full events
// instead of the Progress/Error callbacks.
type EventHandler interface {
	HandleEvent(Event)
}

// deliver hands ev to r in the richest form r understands.
func deliver(r Reporter, ev Event) {
	if r == nil {
		return
	}
	if h, ok := r.(EventHandler); ok {
		h.HandleEvent(ev)
		return
	}
	switch ev.Kind {
	case InProgress:
		r.Progress(ev.Percent)
	case Completed:
		r.Progress(100)
	case Failed:
		r.Error()
	}
}

// EventReporter forwards the events of one entry to a channel. Progress
// events are dropped when the channel is full. Terminal events are never
// dropped: a standalone reporter blocks until the event is read, so the
// channel must be drained.
type EventReporter struct {
	ref    string
	events chan<- Event
	next   Reporter
	// pending, when set, tracks terminal sends that could not complete
	// immediately; they finish in the background instead of blocking.
	pending *sync.WaitGroup
}

// NewEventReporter returns a reporter for ref that writes to events and,
// when next is not nil, also calls next.
func NewEventReporter(ref string, events chan<- Event, next Reporter) *EventReporter {
	return &EventReporter{ref: ref, events: events, next: next}
}

// Progress ...
func (r *EventReporter) Progress(percent int) {
	kind := InProgress
	if percent >= 100 {
		kind = Completed
	}
	r.HandleEvent(Event{Ref: r.ref, Kind: kind, Percent: percent})
}

// Error ...
func (r *EventReporter) Error() {
	r.HandleEvent(Event{Ref: r.ref, Kind: Failed})
}

// HandleEvent ...
func (r *EventReporter) HandleEvent(ev Event) {
	if ev.Ref == "" {
		ev.Ref = r.ref
	}
	deliver(r.next, ev)

	select {
	case r.events <- ev:
		return
	default:
	}
	if !ev.Kind.Terminal() {
		return
	}
	if r.pending == nil {
		r.events <- ev
		return
	}
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		r.events <- ev
	}()
}
