package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPWriter_Put(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 512*1024)

	var gotMethod, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := log.NewLogger()
	writer := NewHTTPWriter(NewHTTPClient(0, logger), logger)

	var ticks int
	var lastSent, lastTotal int64
	err := writer.Put(context.Background(), PutInput{
		URL:         server.URL + "/full/a.png",
		Body:        payload,
		ContentType: "image/png",
		OnProgress: func(sent, total int64) {
			ticks++
			lastSent, lastTotal = sent, total
		},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "image/png", gotContentType)
	assert.Equal(t, payload, gotBody)
	assert.Greater(t, ticks, 1)
	assert.Equal(t, int64(len(payload)), lastSent)
	assert.Equal(t, int64(len(payload)), lastTotal)
}

func TestHTTPWriter_Put_StatusError(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	logger := log.NewLogger()
	writer := NewHTTPWriter(NewHTTPClient(0, logger), logger)

	err := writer.Put(context.Background(), PutInput{URL: server.URL, Body: []byte("data")})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "boom", statusErr.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestHTTPWriter_Put_Non200IsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	logger := log.NewLogger()
	writer := NewHTTPWriter(NewHTTPClient(0, logger), logger)

	err := writer.Put(context.Background(), PutInput{URL: server.URL, Body: []byte("data")})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNoContent, statusErr.StatusCode)
}

func TestHTTPWriter_Put_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	logger := log.NewLogger()
	writer := NewHTTPWriter(NewHTTPClient(0, logger), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := writer.Put(ctx, PutInput{URL: server.URL, Body: []byte("data")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
