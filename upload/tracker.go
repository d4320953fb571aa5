package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
)

// uploadTracker sends upload events to an analytics.Tracker. A nil tracker
// disables it.
type uploadTracker struct {
	tracker analytics.Tracker
}

func (t uploadTracker) logPrimaryUploaded(uploadTime time.Duration, size int) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue("upload_primary_completed", analytics.Properties{
		"upload_time_ms":    uploadTime.Milliseconds(),
		"upload_size_bytes": size,
	})
}

func (t uploadTracker) logPrimaryFailed(reason string) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue("upload_primary_failed", analytics.Properties{
		"reason": reason,
	})
}

func (t uploadTracker) logDerivativeFailed(rendition string) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue("upload_derivative_failed", analytics.Properties{
		"rendition": rendition,
	})
}

func (t uploadTracker) wait() {
	if t.tracker == nil {
		return
	}
	t.tracker.Wait()
}
