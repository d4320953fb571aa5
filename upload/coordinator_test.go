package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// backend plays primary storage, CDN and secondary storage at once:
// PUT /full/* is the primary destination, GET /cdn/* the image CDN and any
// other PUT a derivative destination.
type backend struct {
	server *httptest.Server

	primaryStatus   int
	cdnStatus       int
	derivativeDelay time.Duration
	onPrimary       func(r *http.Request)
	onCDN           func(r *http.Request)

	mu               sync.Mutex
	requests         []request
	primaryDoneAt    time.Time
	derivativeDoneAt time.Time
}

func newBackend(t *testing.T) *backend {
	b := &backend{primaryStatus: http.StatusOK, cdnStatus: http.StatusOK}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	b.requests = append(b.requests, request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
	b.mu.Unlock()

	switch {
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/full/"):
		if b.onPrimary != nil {
			b.onPrimary(r)
		}
		b.mu.Lock()
		b.primaryDoneAt = time.Now()
		b.mu.Unlock()
		w.WriteHeader(b.primaryStatus)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/cdn/"):
		if b.onCDN != nil {
			b.onCDN(r)
		}
		if b.cdnStatus != http.StatusOK {
			w.WriteHeader(b.cdnStatus)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = fmt.Fprintf(w, "rendition:%s", r.URL.RawQuery)
	case r.Method == http.MethodPut:
		time.Sleep(b.derivativeDelay)
		b.mu.Lock()
		b.derivativeDoneAt = time.Now()
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (b *backend) meta(name string) Meta {
	return Meta{
		Full:   b.server.URL + "/full/" + name,
		Medium: b.server.URL + "/med/" + name,
		Small:  b.server.URL + "/sm/" + name,
	}
}

func (b *backend) config() Config {
	config := DefaultConfig()
	config.CDNBaseURL = b.server.URL + "/cdn/opalnova"
	config.CompletionDelay = 50 * time.Millisecond
	return config
}

func (b *backend) recorded() []request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]request(nil), b.requests...)
}

func (b *backend) requestsTo(method, prefix string) []request {
	var matches []request
	for _, r := range b.recorded() {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			matches = append(matches, r)
		}
	}
	return matches
}

type recorder struct {
	mu          sync.Mutex
	progress    []int
	errors      int
	completedAt time.Time
}

func (r *recorder) Progress(percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, percent)
	if percent == 100 {
		r.completedAt = time.Now()
	}
}

func (r *recorder) Error() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
}

func (r *recorder) snapshot() ([]int, int, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress...), r.errors, r.completedAt
}

type cancels struct {
	mu  sync.Mutex
	fns []func()
}

func (c *cancels) register(cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, cancel)
}

func (c *cancels) call(i int) {
	c.mu.Lock()
	fn := c.fns[i]
	c.mu.Unlock()
	fn()
}

func (c *cancels) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fns)
}

func newEntry(b *backend, name string, data []byte) (*Entry, *recorder) {
	rec := &recorder{}
	return &Entry{
		Name:        name,
		ContentType: "image/png",
		Data:        data,
		Meta:        b.meta(name),
		Reporter:    rec,
	}, rec
}

func TestCoordinator_Upload_Success(t *testing.T) {
	b := newBackend(t)
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	entry, rec := newEntry(b, "a.png", []byte("original"))
	c.Upload(context.Background(), []*Entry{entry}, nil)
	c.Wait()

	progress, errs, completedAt := rec.snapshot()
	assert.Equal(t, 0, errs)
	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])

	primary := b.requestsTo(http.MethodPut, "/full/")
	require.Len(t, primary, 1)
	assert.Equal(t, []byte("original"), primary[0].Body)

	var queries []string
	for _, r := range b.requestsTo(http.MethodGet, "/cdn/opalnova/a.png") {
		queries = append(queries, r.Query)
	}
	assert.ElementsMatch(t, []string{"w=600", "w=300&h=200&fit=crop"}, queries)

	medium := b.requestsTo(http.MethodPut, "/med/a.png")
	require.Len(t, medium, 1)
	assert.Equal(t, "rendition:w=600", string(medium[0].Body))

	small := b.requestsTo(http.MethodPut, "/sm/a.png")
	require.Len(t, small, 1)
	assert.Equal(t, "rendition:w=300&h=200&fit=crop", string(small[0].Body))

	b.mu.Lock()
	primaryDoneAt := b.primaryDoneAt
	b.mu.Unlock()
	assert.GreaterOrEqual(t, completedAt.Sub(primaryDoneAt), 50*time.Millisecond)

	assert.Equal(t, int64(1), c.Stats().SucceededCount())
	assert.Equal(t, int64(len("original")), c.Stats().TotalBytes())
}

func TestCoordinator_Upload_CompletionDoesNotWaitForDerivatives(t *testing.T) {
	b := newBackend(t)
	b.derivativeDelay = 300 * time.Millisecond
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	entry, rec := newEntry(b, "a.png", []byte("original"))
	c.Upload(context.Background(), []*Entry{entry}, nil)
	c.Wait()

	_, _, completedAt := rec.snapshot()
	b.mu.Lock()
	derivativeDoneAt := b.derivativeDoneAt
	b.mu.Unlock()

	require.False(t, completedAt.IsZero())
	assert.True(t, completedAt.Before(derivativeDoneAt))
}

func TestCoordinator_Upload_PrimaryFailure(t *testing.T) {
	b := newBackend(t)
	b.primaryStatus = http.StatusInternalServerError
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	entry, rec := newEntry(b, "a.png", []byte("original"))
	c.Upload(context.Background(), []*Entry{entry}, nil)
	c.Wait()

	progress, errs, _ := rec.snapshot()
	assert.Equal(t, 1, errs)
	assert.NotContains(t, progress, 100)

	requests := b.recorded()
	require.Len(t, requests, 1)
	assert.Equal(t, "/full/a.png", requests[0].Path)
	assert.Equal(t, int64(1), c.Stats().FailedCount())
}

func TestCoordinator_Upload_TransportError(t *testing.T) {
	b := newBackend(t)
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	entry, rec := newEntry(b, "a.png", []byte("original"))
	entry.Meta.Full = "http://127.0.0.1:1/full/a.png"
	c.Upload(context.Background(), []*Entry{entry}, nil)
	c.Wait()

	_, errs, _ := rec.snapshot()
	assert.Equal(t, 1, errs)
	assert.Empty(t, b.recorded())
}

func TestCoordinator_Upload_MissingPrimaryDestination(t *testing.T) {
	b := newBackend(t)
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	entry, rec := newEntry(b, "a.png", []byte("original"))
	entry.Meta.Full = ""
	c.Upload(context.Background(), []*Entry{entry}, nil)
	c.Wait()

	_, errs, _ := rec.snapshot()
	assert.Equal(t, 1, errs)
	assert.Empty(t, b.recorded())
}

func TestCoordinator_Upload_CancelDuringPrimary(t *testing.T) {
	b := newBackend(t)
	entered := make(chan struct{})
	b.onPrimary = func(r *http.Request) {
		close(entered)
		<-r.Context().Done()
	}
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	hooks := &cancels{}
	entry, rec := newEntry(b, "a.png", []byte("original"))
	c.Upload(context.Background(), []*Entry{entry}, hooks.register)
	require.Equal(t, 1, hooks.count())

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("primary transfer never reached the server")
	}
	hooks.call(0)
	c.Wait()

	progress, errs, _ := rec.snapshot()
	assert.Equal(t, 0, errs)
	assert.NotContains(t, progress, 100)
	assert.Empty(t, b.requestsTo(http.MethodGet, "/cdn/"))
	assert.Empty(t, b.requestsTo(http.MethodPut, "/med/"))
	assert.Empty(t, b.requestsTo(http.MethodPut, "/sm/"))
}

func TestCoordinator_Upload_CancelAfterPrimarySuccess(t *testing.T) {
	b := newBackend(t)
	hooks := &cancels{}
	var once sync.Once
	b.onCDN = func(*http.Request) {
		once.Do(func() { hooks.call(0) })
	}
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	entry, rec := newEntry(b, "a.png", []byte("original"))
	c.Upload(context.Background(), []*Entry{entry}, hooks.register)
	c.Wait()

	progress, errs, _ := rec.snapshot()
	assert.Equal(t, 0, errs)
	assert.Contains(t, progress, 100)
	assert.Len(t, b.requestsTo(http.MethodPut, "/med/a.png"), 1)
	assert.Len(t, b.requestsTo(http.MethodPut, "/sm/a.png"), 1)
}

func TestCoordinator_Upload_EntriesAreIndependent(t *testing.T) {
	b := newBackend(t)
	b.onPrimary = func(r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "bad.png") {
			panic(http.ErrAbortHandler)
		}
	}
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	bad, badRec := newEntry(b, "bad.png", []byte("bad"))
	good, goodRec := newEntry(b, "good.png", []byte("good"))
	c.Upload(context.Background(), []*Entry{bad, good}, nil)
	c.Wait()

	_, badErrs, _ := badRec.snapshot()
	goodProgress, goodErrs, _ := goodRec.snapshot()
	assert.Equal(t, 1, badErrs)
	assert.Equal(t, 0, goodErrs)
	assert.Contains(t, goodProgress, 100)

	assert.Empty(t, b.requestsTo(http.MethodGet, "/cdn/opalnova/bad.png"))
	assert.Len(t, b.requestsTo(http.MethodGet, "/cdn/opalnova/good.png"), 2)
}

func TestCoordinator_Upload_ProgressStaysBelowHundred(t *testing.T) {
	b := newBackend(t)
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	entry, rec := newEntry(b, "big.png", bytes.Repeat([]byte("x"), 2*1024*1024))
	c.Upload(context.Background(), []*Entry{entry}, nil)
	c.Wait()

	progress, _, _ := rec.snapshot()
	require.GreaterOrEqual(t, len(progress), 2)
	ticks, final := progress[:len(progress)-1], progress[len(progress)-1]
	assert.Equal(t, 100, final)
	for i, p := range ticks {
		assert.Less(t, p, 100)
		if i > 0 {
			assert.Greater(t, p, ticks[i-1])
		}
	}
}

func TestCoordinator_Upload_PublicURLFromServer(t *testing.T) {
	b := newBackend(t)
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	entry, _ := newEntry(b, "a.png", []byte("original"))
	entry.Meta.PublicURL = b.server.URL + "/cdn/uploads/7f3a.png"
	c.Upload(context.Background(), []*Entry{entry}, nil)
	c.Wait()

	assert.Len(t, b.requestsTo(http.MethodGet, "/cdn/uploads/7f3a.png"), 2)
	assert.Empty(t, b.requestsTo(http.MethodGet, "/cdn/opalnova/"))
}

func TestCoordinator_Upload_DerivativeFailureIsSilent(t *testing.T) {
	b := newBackend(t)
	b.cdnStatus = http.StatusNotFound
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	entry, rec := newEntry(b, "a.png", []byte("original"))
	c.Upload(context.Background(), []*Entry{entry}, nil)
	c.Wait()

	progress, errs, _ := rec.snapshot()
	assert.Equal(t, 0, errs)
	assert.Contains(t, progress, 100)
	assert.Empty(t, b.requestsTo(http.MethodPut, "/med/"))
	assert.Empty(t, b.requestsTo(http.MethodPut, "/sm/"))
}

func TestCoordinator_Upload_MaxConcurrentTransfers(t *testing.T) {
	b := newBackend(t)
	var active, maxActive int32
	b.onPrimary = func(*http.Request) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}
	config := b.config()
	config.MaxConcurrentTransfers = 1
	c := New(config, log.NewLogger())
	defer c.Close()

	first, firstRec := newEntry(b, "one.png", []byte("1"))
	second, secondRec := newEntry(b, "two.png", []byte("2"))
	c.Upload(context.Background(), []*Entry{first, second}, nil)
	c.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	firstProgress, _, _ := firstRec.snapshot()
	secondProgress, _, _ := secondRec.snapshot()
	assert.Contains(t, firstProgress, 100)
	assert.Contains(t, secondProgress, 100)
}

func TestCoordinator_UploadWithEvents_AfterDerivatives(t *testing.T) {
	b := newBackend(t)
	b.derivativeDelay = 100 * time.Millisecond
	config := b.config()
	config.CompletionMode = CompleteAfterDerivatives
	c := New(config, log.NewLogger())
	defer c.Close()

	entry, rec := newEntry(b, "a.png", []byte("original"))
	events := c.UploadWithEvents(context.Background(), []*Entry{entry}, nil)

	var last Event
	for ev := range events {
		last = ev
	}
	completedAt := time.Now()

	assert.Equal(t, Completed, last.Kind)
	assert.Equal(t, "a.png", last.Ref)
	assert.Equal(t, 100, last.Percent)
	assert.NoError(t, last.Err)

	b.mu.Lock()
	derivativeDoneAt := b.derivativeDoneAt
	b.mu.Unlock()
	assert.False(t, completedAt.Before(derivativeDoneAt))

	progress, _, _ := rec.snapshot()
	assert.Contains(t, progress, 100)
}

func TestCoordinator_UploadWithEvents_DerivativeErrors(t *testing.T) {
	b := newBackend(t)
	b.cdnStatus = http.StatusBadGateway
	config := b.config()
	config.CompletionMode = CompleteAfterDerivatives
	c := New(config, log.NewLogger())
	defer c.Close()

	entry, _ := newEntry(b, "a.png", []byte("original"))
	var last Event
	for ev := range c.UploadWithEvents(context.Background(), []*Entry{entry}, nil) {
		last = ev
	}

	assert.Equal(t, Completed, last.Kind)
	require.Error(t, last.Err)
	assert.Contains(t, last.Err.Error(), "medium rendition")
	assert.Contains(t, last.Err.Error(), "small rendition")
}

func TestCoordinator_UploadWithEvents_Failure(t *testing.T) {
	b := newBackend(t)
	b.primaryStatus = http.StatusForbidden
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	entry, _ := newEntry(b, "a.png", []byte("original"))
	var kinds []EventKind
	var last Event
	for ev := range c.UploadWithEvents(context.Background(), []*Entry{entry}, nil) {
		kinds = append(kinds, ev.Kind)
		last = ev
	}

	assert.Equal(t, Failed, last.Kind)
	assert.Error(t, last.Err)
	assert.NotContains(t, kinds, Completed)
}

func TestCoordinator_UploadWithEvents_UnreadChannelDoesNotBlockWait(t *testing.T) {
	b := newBackend(t)
	c := New(b.config(), log.NewLogger())
	defer c.Close()

	entry, _ := newEntry(b, "big.png", bytes.Repeat([]byte("x"), 2<<20))
	events := c.UploadWithEvents(context.Background(), []*Entry{entry}, nil)

	waited := make(chan struct{})
	go func() {
		c.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait blocked on an unread event channel")
	}

	var last Event
	for ev := range events {
		last = ev
	}
	assert.Equal(t, Completed, last.Kind)
	assert.Equal(t, "big.png", last.Ref)
}

func TestCoordinator_Close_DropsPendingCompletion(t *testing.T) {
	b := newBackend(t)
	config := b.config()
	config.CompletionDelay = time.Hour
	c := New(config, log.NewLogger())

	entry, rec := newEntry(b, "a.png", []byte("original"))
	events := c.UploadWithEvents(context.Background(), []*Entry{entry}, nil)

	require.Eventually(t, func() bool {
		return len(b.requestsTo(http.MethodPut, "/full/")) == 1 && c.Stats().SucceededCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close())

	var last Event
	for ev := range events {
		last = ev
	}
	assert.Equal(t, Cancelled, last.Kind)

	progress, errs, _ := rec.snapshot()
	assert.Equal(t, 0, errs)
	assert.NotContains(t, progress, 100)
}

type summaryLogger struct {
	log.Logger
	mu    sync.Mutex
	infos []string
}

func (l *summaryLogger) Infof(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, fmt.Sprintf(format, v...))
}

func TestCoordinator_Close_LogsSummary(t *testing.T) {
	b := newBackend(t)
	b.primaryStatus = http.StatusForbidden
	logger := &summaryLogger{Logger: log.NewLogger()}
	c := New(b.config(), logger)

	entry, _ := newEntry(b, "a.png", []byte("original"))
	for range c.UploadWithEvents(context.Background(), []*Entry{entry}, nil) {
	}
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Equal(t, []string{"Upload summary: 0 succeeded (0B), 1 failed, average upload time: 0s"}, logger.infos)
}

func TestCoordinator_Close_NoSummaryWithoutTransfers(t *testing.T) {
	logger := &summaryLogger{Logger: log.NewLogger()}
	c := New(newBackend(t).config(), logger)
	require.NoError(t, c.Close())
	assert.Empty(t, logger.infos)
}

func TestCoordinator_Upload_AfterClose(t *testing.T) {
	b := newBackend(t)
	c := New(b.config(), log.NewLogger())
	require.NoError(t, c.Close())

	entry, rec := newEntry(b, "a.png", []byte("original"))
	var last Event
	for ev := range c.UploadWithEvents(context.Background(), []*Entry{entry}, nil) {
		last = ev
	}

	assert.Equal(t, Cancelled, last.Kind)
	_, errs, _ := rec.snapshot()
	assert.Equal(t, 0, errs)
	assert.Empty(t, b.recorded())
}
