// Package storage writes upload payloads to their destinations: pre-signed
// HTTP URLs handed out by the server, or s3:// locations written with
// credentials held by the process.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupportedScheme is returned by Mux when no writer handles a destination.
var ErrUnsupportedScheme = errors.New("unsupported destination scheme")

// ProgressFunc receives the number of payload bytes consumed by the transport.
type ProgressFunc func(sent, total int64)

// PutInput describes one write.
type PutInput struct {
	URL         string
	Body        []byte
	ContentType string
	// OnProgress is optional.
	OnProgress ProgressFunc
}

// Writer ...
type Writer interface {
	Put(ctx context.Context, in PutInput) error
}

// StatusError is returned when a destination answers with an unexpected status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Mux routes writes to a Writer based on the destination URL scheme.
type Mux struct {
	writers map[string]Writer
}

// NewMux ...
func NewMux() *Mux {
	return &Mux{writers: map[string]Writer{}}
}

// Handle registers w for the given scheme. Registering a scheme twice replaces the writer.
func (m *Mux) Handle(scheme string, w Writer) {
	m.writers[strings.ToLower(scheme)] = w
}

// Put ...
func (m *Mux) Put(ctx context.Context, in PutInput) error {
	u, err := url.Parse(in.URL)
	if err != nil {
		return fmt.Errorf("parse destination: %w", err)
	}
	w, ok := m.writers[strings.ToLower(u.Scheme)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return w.Put(ctx, in)
}
