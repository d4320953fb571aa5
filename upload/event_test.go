package upload

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeliver_Callbacks(t *testing.T) {
	var progress []int
	var errs int
	r := ReporterFuncs{
		OnProgress: func(p int) { progress = append(progress, p) },
		OnError:    func() { errs++ },
	}

	deliver(r, Event{Kind: InProgress, Percent: 42})
	deliver(r, Event{Kind: Cancelled})
	deliver(r, Event{Kind: Failed, Err: errors.New("boom")})
	deliver(r, Event{Kind: Completed, Percent: 100})
	deliver(nil, Event{Kind: Failed})

	assert.Equal(t, []int{42, 100}, progress)
	assert.Equal(t, 1, errs)
}

func TestEventReporter(t *testing.T) {
	events := make(chan Event, 1)
	var forwarded []int
	r := NewEventReporter("a.png", events, ReporterFuncs{OnProgress: func(p int) { forwarded = append(forwarded, p) }})

	r.Progress(10)
	// Channel is full, the tick is dropped but still forwarded.
	r.Progress(20)

	assert.Equal(t, Event{Ref: "a.png", Kind: InProgress, Percent: 10}, <-events)
	assert.Equal(t, []int{10, 20}, forwarded)

	r.Progress(100)
	assert.Equal(t, Event{Ref: "a.png", Kind: Completed, Percent: 100}, <-events)

	r.Error()
	assert.Equal(t, Event{Ref: "a.png", Kind: Failed}, <-events)
}

func TestEventKind(t *testing.T) {
	assert.False(t, InProgress.Terminal())
	assert.True(t, Failed.Terminal())
	assert.True(t, Completed.Terminal())
	assert.True(t, Cancelled.Terminal())
	assert.Equal(t, "cancelled", Cancelled.String())
}

func TestEventReporter_PendingTerminalDoesNotBlock(t *testing.T) {
	events := make(chan Event, 1)
	var pending sync.WaitGroup
	r := NewEventReporter("a.png", events, nil)
	r.pending = &pending

	r.Progress(10)
	returned := make(chan struct{})
	go func() {
		r.Progress(100)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal event blocked on a full channel")
	}

	assert.Equal(t, InProgress, (<-events).Kind)
	assert.Equal(t, Event{Ref: "a.png", Kind: Completed, Percent: 100}, <-events)
	pending.Wait()
}
