// Package livesocket owns the realtime connection of a live page: it
// carries the CSRF token and connection params to the /live endpoint,
// frames channel messages and holds the uploader registry.
package livesocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/gorilla/websocket"
	"github.com/opalnova/webassets/upload"
)

var (
	// ErrNotConnected is returned by Push on a socket without a live connection.
	ErrNotConnected = errors.New("live socket is not connected")
	// ErrUnknownUploader is returned by Upload for an unregistered uploader name.
	ErrUnknownUploader = errors.New("unknown uploader")
)

const (
	phoenixTopic   = "phoenix"
	heartbeatEvent = "heartbeat"
	writeTimeout   = 10 * time.Second
)

// Socket is a single live connection. The zero value is not usable; create
// one with New and release it with Disconnect.
type Socket struct {
	cfg    Config
	logger log.Logger
	dialer *websocket.Dialer

	mu      sync.RWMutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	beats   sync.WaitGroup
	reads   sync.WaitGroup
	handler func(Message)

	writeMu sync.Mutex

	ref         atomic.Uint64
	debug       atomic.Bool
	latency     atomic.Int64
	dispatching atomic.Bool
}

// New returns a disconnected socket.
func New(cfg Config, logger log.Logger) *Socket {
	return &Socket{
		cfg:    cfg.withDefaults(),
		logger: logger,
		dialer: websocket.DefaultDialer,
	}
}

// Connect dials the endpoint and starts the read and heartbeat loops.
// Connecting a connected socket is a no-op.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	endpoint, err := s.cfg.EndpointURL()
	if err != nil {
		return err
	}

	conn, resp, err := s.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s%s: %w", s.cfg.URL, s.cfg.Path, err)
	}
	s.logger.Debugf("Live socket connected to %s%s", s.cfg.URL, s.cfg.Path)

	loopCtx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel

	s.reads.Add(1)
	go func() {
		defer s.reads.Done()
		s.readLoop(conn)
	}()
	s.beats.Add(1)
	go func() {
		defer s.beats.Done()
		s.heartbeat(loopCtx)
	}()

	return nil
}

// Connected ...
func (s *Socket) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// OnMessage sets the handler for every frame received from the server.
// Handlers run on the read loop and may call Disconnect.
func (s *Socket) OnMessage(fn func(Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// Push sends an event on topic and returns the ref assigned to it. With a
// simulated latency the frame is written later and write errors are only logged.
func (s *Socket) Push(topic, event string, payload interface{}) (string, error) {
	if !s.Connected() {
		return "", ErrNotConnected
	}

	msg := Message{
		Ref:   strconv.FormatUint(s.ref.Add(1), 10),
		Topic: topic,
		Event: event,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode %s payload: %w", event, err)
		}
		msg.Payload = raw
	}

	if latency := time.Duration(s.latency.Load()); latency > 0 {
		time.AfterFunc(latency, func() {
			if err := s.write(msg); err != nil {
				s.logger.Warnf("Delayed push %s/%s failed: %s", topic, event, err)
			}
		})
		return msg.Ref, nil
	}

	if err := s.write(msg); err != nil {
		return "", err
	}
	return msg.Ref, nil
}

func (s *Socket) write(msg Message) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	if s.debug.Load() {
		s.logger.Debugf("push: %s %s (%s)", msg.Topic, msg.Event, msg.Ref)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warnf("Dropping malformed frame: %s", err)
			continue
		}
		if s.debug.Load() {
			s.logger.Debugf("receive: %s %s (%s)", msg.Topic, msg.Event, msg.Ref)
		}

		s.mu.RLock()
		handler := s.handler
		s.mu.RUnlock()
		if handler != nil {
			s.dispatching.Store(true)
			handler(msg)
			s.dispatching.Store(false)
		}
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.cancel()
		s.cancel = nil
		s.logger.Warnf("Live socket connection lost")
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Socket) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Push(phoenixTopic, heartbeatEvent, struct{}{}); err != nil {
				s.logger.Warnf("Heartbeat failed: %s", err)
				return
			}
		}
	}
}

// Disconnect closes the connection and waits for the socket loops to exit.
// While a message handler runs it does not wait for the read loop, which
// returns once the handler does.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	if conn == nil {
		s.wait()
		return nil
	}
	cancel()

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	err := conn.Close()

	s.wait()
	s.logger.Debugf("Live socket disconnected")
	return err
}

func (s *Socket) wait() {
	s.beats.Wait()
	if !s.dispatching.Load() {
		s.reads.Wait()
	}
}

// Upload hands entries to the uploader registered under name.
func (s *Socket) Upload(ctx context.Context, name string, entries []*upload.Entry, onViewError upload.CancelRegistrar) error {
	uploader, ok := s.cfg.Uploaders[name]
	if !ok || uploader == nil {
		return fmt.Errorf("%w: %s", ErrUnknownUploader, name)
	}
	uploader.Upload(ctx, entries, onViewError)
	return nil
}

// EnableDebug logs every pushed and received frame.
func (s *Socket) EnableDebug() {
	s.debug.Store(true)
	s.logger.EnableDebugLog(true)
}

// EnableLatencySim delays every outgoing push by d.
func (s *Socket) EnableLatencySim(d time.Duration) {
	s.latency.Store(int64(d))
	s.logger.Warnf("Latency simulator enabled: pushes are delayed by %s", d)
}

// DisableLatencySim ...
func (s *Socket) DisableLatencySim() {
	s.latency.Store(0)
}
