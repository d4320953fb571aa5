package upload

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/opalnova/webassets/imgcdn"
	"github.com/opalnova/webassets/storage"
)

var errNoPrimaryDestination = errors.New("entry has no primary destination")

// transfer drives one entry: pending -> transferring -> failed, cancelled,
// or derivatives issued -> completed.
type transfer struct {
	c      *Coordinator
	entry  *Entry
	ref    string
	onDone func()

	mu          sync.Mutex
	lastPercent int
	settled     bool
	finished    bool
}

func newTransfer(c *Coordinator, entry *Entry, onDone func()) *transfer {
	return &transfer{
		c:           c,
		entry:       entry,
		ref:         entry.ref(),
		onDone:      onDone,
		lastPercent: -1,
	}
}

func (t *transfer) run(ctx context.Context) {
	if t.entry.Meta.Full == "" {
		t.fail(errNoPrimaryDestination)
		return
	}

	if err := t.c.acquire(ctx); err != nil {
		t.cancelled(err)
		return
	}

	t.c.logger.Debugf("Uploading %s to primary destination", t.ref)
	start := time.Now()
	err := t.c.writer.Put(ctx, storage.PutInput{
		URL:         t.entry.Meta.Full,
		Body:        t.entry.Data,
		ContentType: t.entry.ContentType,
		OnProgress:  t.progress,
	})
	t.c.release()
	t.settle()

	if err != nil {
		if ctx.Err() != nil {
			t.cancelled(ctx.Err())
			return
		}
		t.fail(err)
		return
	}

	took := time.Since(start)
	t.c.stats.Update(took, int64(len(t.entry.Data)))
	t.c.tracker.logPrimaryUploaded(took, len(t.entry.Data))
	t.c.logger.Donef("Uploaded %s (%s) in %s", t.ref,
		units.HumanSizeWithPrecision(float64(len(t.entry.Data)), 3), took.Round(time.Millisecond))

	t.deriveAndComplete()
}

// progress turns transport ticks into percentages. 100 is left to the
// completion report, and values never go backwards.
func (t *transfer) progress(sent, total int64) {
	if total <= 0 {
		return
	}
	percent := int(math.Round(float64(sent) / float64(total) * 100))

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled || percent >= 100 || percent <= t.lastPercent {
		return
	}
	t.lastPercent = percent
	deliver(t.entry.Reporter, Event{Ref: t.ref, Kind: InProgress, Percent: percent})
}

func (t *transfer) settle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settled = true
}

func (t *transfer) fail(err error) {
	t.c.logger.Errorf("Upload of %s failed: %s", t.ref, err)
	t.c.stats.Fail()
	t.c.tracker.logPrimaryFailed(failureReason(err))
	t.finish(Event{Kind: Failed, Err: err})
}

func (t *transfer) cancelled(err error) {
	t.c.logger.Infof("Upload of %s cancelled", t.ref)
	t.finish(Event{Kind: Cancelled, Err: err})
}

// finish delivers the terminal event. Later calls are ignored, and no
// progress is reported once it ran.
func (t *transfer) finish(ev Event) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.settled = true
	t.mu.Unlock()

	ev.Ref = t.ref
	if ev.Kind == Completed {
		ev.Percent = 100
	}
	deliver(t.entry.Reporter, ev)

	if t.onDone != nil {
		t.onDone()
	}
}

func (t *transfer) sourceURL() string {
	if t.entry.Meta.PublicURL != "" {
		return t.entry.Meta.PublicURL
	}
	return imgcdn.SourceURL(t.c.config.CDNBaseURL, t.entry.Name)
}

// deriveAndComplete starts the rendition writes and the completion report.
// Both run on the coordinator context: cancelling the entry no longer
// affects them.
func (t *transfer) deriveAndComplete() {
	source := t.sourceURL()

	var derivatives sync.WaitGroup
	var errsMu sync.Mutex
	var errs []error

	for _, r := range t.c.config.Renditions {
		dest := t.entry.Meta.Destination(r.Name)
		if dest == "" {
			t.c.logger.Debugf("No destination for %s rendition of %s, skipping", r.Name, t.ref)
			continue
		}

		derivatives.Add(1)
		t.c.wg.Add(1)
		go func(r imgcdn.Rendition, dest string) {
			defer t.c.wg.Done()
			defer derivatives.Done()
			if err := t.derive(t.c.ctx, source, r, dest); err != nil {
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
			}
		}(r, dest)
	}

	t.c.wg.Add(1)
	go func() {
		defer t.c.wg.Done()

		if t.c.config.CompletionMode == CompleteAfterDerivatives {
			derivatives.Wait()
			if err := t.c.ctx.Err(); err != nil {
				t.finish(Event{Kind: Cancelled, Err: err})
				return
			}
			errsMu.Lock()
			err := errors.Join(errs...)
			errsMu.Unlock()
			t.finish(Event{Kind: Completed, Err: err})
			return
		}

		timer := time.NewTimer(t.c.config.CompletionDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			t.finish(Event{Kind: Completed})
		case <-t.c.ctx.Done():
			t.finish(Event{Kind: Cancelled, Err: t.c.ctx.Err()})
		}
	}()
}

func (t *transfer) derive(ctx context.Context, source string, r imgcdn.Rendition, dest string) error {
	blob, err := t.c.cdn.Fetch(ctx, source, r)
	if err != nil {
		return t.derivativeFailed(r, err)
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = t.entry.ContentType
	}
	err = t.c.writer.Put(ctx, storage.PutInput{
		URL:         dest,
		Body:        blob.Data,
		ContentType: contentType,
	})
	if err != nil {
		return t.derivativeFailed(r, fmt.Errorf("write: %w", err))
	}

	t.c.logger.Debugf("Wrote %s rendition of %s (%s)", r.Name, t.ref,
		units.HumanSizeWithPrecision(float64(len(blob.Data)), 3))
	return nil
}

func (t *transfer) derivativeFailed(r imgcdn.Rendition, err error) error {
	t.c.logger.Warnf("The %s rendition of %s failed: %s", r.Name, t.ref, err)
	t.c.tracker.logDerivativeFailed(r.Name)
	return fmt.Errorf("%s rendition: %w", r.Name, err)
}

func failureReason(err error) string {
	var statusErr *storage.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("http_%d", statusErr.StatusCode)
	}
	if errors.Is(err, errNoPrimaryDestination) {
		return "no_destination"
	}
	return "transport"
}
