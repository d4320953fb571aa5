// Package pageload shows a progress indicator while a live navigation is
// in flight and marks live redirects and patches as page views.
package pageload

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Names of the dispatched navigation lifecycle events.
const (
	StartEventName = "phx:page-loading-start"
	StopEventName  = "phx:page-loading-stop"
)

// PageViewEventName is enqueued on the tracker for tracked navigations.
const PageViewEventName = "page_view"

// Phase ...
type Phase int

const (
	// Start is a navigation beginning.
	Start Phase = iota
	// Stop is a navigation ending.
	Stop
)

// Kind is the navigation type carried by the event detail.
type Kind string

const (
	// KindInitial is the first render after the socket joined.
	KindInitial Kind = "initial"
	// KindRedirect is a live redirect to another view.
	KindRedirect Kind = "redirect"
	// KindPatch is a live patch of the current view.
	KindPatch Kind = "patch"
	// KindElement is a loading state scoped to a single element.
	KindElement Kind = "element"
	// KindError is a navigation that ended in an error.
	KindError Kind = "error"
)

// IsPageView reports whether a finished navigation of this kind counts as a page view.
func (k Kind) IsPageView() bool {
	return k == KindRedirect || k == KindPatch
}

// Event is one navigation lifecycle signal.
type Event struct {
	Phase Phase
	Kind  Kind
	To    string
}

type eventDetail struct {
	Kind Kind   `json:"kind"`
	To   string `json:"to,omitempty"`
}

// ParseEvent builds an Event from a dispatched event name and its JSON detail.
func ParseEvent(name string, detail []byte) (Event, error) {
	var ev Event
	switch name {
	case StartEventName:
		ev.Phase = Start
	case StopEventName:
		ev.Phase = Stop
	default:
		return Event{}, fmt.Errorf("unknown page loading event %q", name)
	}

	if len(detail) == 0 {
		return ev, nil
	}
	var d eventDetail
	if err := json.Unmarshal(detail, &d); err != nil {
		return Event{}, fmt.Errorf("decode %s detail: %w", name, err)
	}
	ev.Kind = d.Kind
	ev.To = d.To
	return ev, nil
}

// Indicator is a visual loading bar.
type Indicator interface {
	Show()
	Hide()
}

// Listener connects navigation events to an Indicator.
type Listener struct {
	indicator Indicator
	tracker   analytics.Tracker
	logger    log.Logger
	pageViews atomic.Int64
}

// NewListener returns a listener for indicator. Page views are only sent
// when tracker is not nil.
func NewListener(indicator Indicator, tracker analytics.Tracker, logger log.Logger) *Listener {
	return &Listener{
		indicator: indicator,
		tracker:   tracker,
		logger:    logger,
	}
}

// Dispatch handles a single event.
func (l *Listener) Dispatch(ev Event) {
	switch ev.Phase {
	case Start:
		l.indicator.Show()
	case Stop:
		l.indicator.Hide()
		l.logger.Debugf("Page loading stopped: kind=%s to=%s", ev.Kind, ev.To)
		if ev.Kind.IsPageView() {
			l.pageView(ev)
		}
	}
}

func (l *Listener) pageView(ev Event) {
	l.pageViews.Add(1)
	if l.tracker == nil {
		return
	}
	l.tracker.Enqueue(PageViewEventName, analytics.Properties{
		"kind": string(ev.Kind),
		"to":   ev.To,
	})
}

// PageViews returns how many navigations counted as page views.
func (l *Listener) PageViews() int64 {
	return l.pageViews.Load()
}

// Run dispatches events until ctx is done or events is closed.
func (l *Listener) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			l.Dispatch(ev)
		}
	}
}
