package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/docker/go-units"
)

// Stats tracks primary transfer metrics for reporting.
type Stats struct {
	sum       time.Duration
	bytes     int64
	succeeded int64
	failed    int64
	mu        sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful primary transfer.
func (s *Stats) Update(d time.Duration, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.bytes += size
	s.succeeded++
}

// Fail records a failed primary transfer.
func (s *Stats) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

// Average returns the average duration of successful transfers.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.succeeded == 0 {
		return 0
	}
	return s.sum / time.Duration(s.succeeded)
}

// SucceededCount ...
func (s *Stats) SucceededCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.succeeded
}

// FailedCount ...
func (s *Stats) FailedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// TotalBytes returns the bytes of all successful transfers.
func (s *Stats) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// String summarizes the recorded transfers.
func (s *Stats) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avg time.Duration
	if s.succeeded > 0 {
		avg = s.sum / time.Duration(s.succeeded)
	}
	return fmt.Sprintf("%d succeeded (%s), %d failed, average upload time: %s",
		s.succeeded, units.HumanSizeWithPrecision(float64(s.bytes), 3), s.failed, avg.Round(time.Millisecond))
}
