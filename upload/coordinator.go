// Package upload moves user-selected files to pre-signed storage
// destinations and derives resized renditions of them through an image CDN.
//
// For every entry the primary file is PUT to Meta.Full. Once that succeeds,
// each configured rendition is fetched from the CDN and PUT to its own
// destination. Only the primary transfer is observable by the caller:
// derivative failures are logged and otherwise dropped.
package upload

import (
	"context"
	"sync"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/opalnova/webassets/imgcdn"
	"github.com/opalnova/webassets/storage"
)

// Uploader takes a batch of entries and drives each of them to a terminal
// state in the background.
type Uploader interface {
	Upload(ctx context.Context, entries []*Entry, onViewError CancelRegistrar)
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithWriter replaces the destination writer. The default handles http and
// https pre-signed URLs.
func WithWriter(w storage.Writer) Option {
	return func(c *Coordinator) { c.writer = w }
}

// WithHTTPClient sets the client used for the default writer and the CDN.
func WithHTTPClient(client *retryablehttp.Client) Option {
	return func(c *Coordinator) { c.httpClient = client }
}

// WithTracker enables upload analytics.
func WithTracker(tracker analytics.Tracker) Option {
	return func(c *Coordinator) { c.tracker = uploadTracker{tracker: tracker} }
}

// Coordinator implements Uploader.
type Coordinator struct {
	config     Config
	logger     log.Logger
	httpClient *retryablehttp.Client
	writer     storage.Writer
	cdn        *imgcdn.Client
	tracker    uploadTracker
	stats      *Stats
	slots      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Coordinator. The config is expected to be valid, see Config.Validate.
func New(config Config, logger log.Logger, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		config: config,
		logger: logger,
		stats:  NewStats(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = storage.NewHTTPClient(config.RetryMax, logger)
	}
	if c.writer == nil {
		httpWriter := storage.NewHTTPWriter(c.httpClient, logger)
		mux := storage.NewMux()
		mux.Handle("http", httpWriter)
		mux.Handle("https", httpWriter)
		c.writer = mux
	}
	c.cdn = imgcdn.NewClient(c.httpClient, logger)

	if config.MaxConcurrentTransfers > 0 {
		c.slots = make(chan struct{}, config.MaxConcurrentTransfers)
	}

	return c
}

// Upload starts the transfer of every entry and returns immediately.
// onViewError, when not nil, receives one cancel function per entry.
// Cancelling ctx aborts the primary transfers that are still running.
func (c *Coordinator) Upload(ctx context.Context, entries []*Entry, onViewError CancelRegistrar) {
	c.upload(ctx, entries, onViewError, nil)
}

// UploadWithEvents is Upload with the progress of every entry also sent to
// the returned channel. The channel is closed once every entry reached a
// terminal event. Progress events are dropped when the reader falls behind;
// a reader that stops early never blocks Wait or Close.
func (c *Coordinator) UploadWithEvents(ctx context.Context, entries []*Entry, onViewError CancelRegistrar) <-chan Event {
	events := make(chan Event, 4*len(entries)+1)
	var batch sync.WaitGroup

	wrapped := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		e := *entry
		reporter := NewEventReporter(e.ref(), events, entry.Reporter)
		reporter.pending = &batch
		e.Reporter = reporter
		wrapped = append(wrapped, &e)
	}

	batch.Add(len(wrapped))
	c.upload(ctx, wrapped, onViewError, batch.Done)

	go func() {
		batch.Wait()
		close(events)
	}()

	return events
}

func (c *Coordinator) upload(ctx context.Context, entries []*Entry, onViewError CancelRegistrar, onDone func()) {
	for _, entry := range entries {
		if entry == nil {
			continue
		}

		entryCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(c.ctx, cancel)
		if onViewError != nil {
			onViewError(cancel)
		}

		t := newTransfer(c, entry, onDone)
		if !c.track() {
			c.logger.Warnf("Upload of %s rejected: coordinator is closed", entry.ref())
			stop()
			cancel()
			t.finish(Event{Kind: Cancelled, Err: context.Canceled})
			continue
		}

		c.logger.Debugf("Queued %s (%s)", entry.ref(), units.HumanSizeWithPrecision(float64(len(entry.Data)), 3))
		go func() {
			defer c.wg.Done()
			defer stop()
			defer cancel()
			t.run(entryCtx)
		}()
	}
}

// track registers one unit of background work unless the coordinator is closed.
func (c *Coordinator) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

// Wait blocks until every started transfer, derivative write and pending
// completion report finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close stops accepting uploads, aborts running transfers, derivative
// writes and pending completion reports, and waits for them to return.
// A summary of the transfers is logged once they settled.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	if c.stats.SucceededCount()+c.stats.FailedCount() > 0 {
		c.logger.Infof("Upload summary: %s", c.stats)
	}
	c.tracker.wait()
	c.httpClient.HTTPClient.CloseIdleConnections()
	return nil
}

// Stats returns the primary transfer statistics.
func (c *Coordinator) Stats() *Stats {
	return c.stats
}

func (c *Coordinator) acquire(ctx context.Context) error {
	if c.slots == nil {
		return nil
	}
	select {
	case c.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release() {
	if c.slots == nil {
		return
	}
	<-c.slots
}
