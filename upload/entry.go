package upload

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// Meta carries the destinations the server signed for one entry.
type Meta struct {
	Full   string `json:"full_string"`
	Medium string `json:"medium_string"`
	Small  string `json:"small_string"`
	// PublicURL is the CDN address of the primary object. When the server
	// leaves it empty, it is derived from the file name.
	PublicURL string `json:"public_url,omitempty"`
}

// Destination returns the signed destination of the named rendition.
func (m Meta) Destination(rendition string) string {
	switch rendition {
	case RenditionMedium:
		return m.Medium
	case RenditionSmall:
		return m.Small
	}
	return ""
}

// Entry is one selected file awaiting transfer.
type Entry struct {
	// Ref identifies the entry in events. Defaults to Name.
	Ref         string
	Name        string
	ContentType string
	Data        []byte
	Meta        Meta
	// Reporter may be nil.
	Reporter Reporter
}

// NewEntryFromFile reads path into an Entry named after the file.
func NewEntryFromFile(path string, meta Meta) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	name := filepath.Base(path)
	return &Entry{
		Ref:         name,
		Name:        name,
		ContentType: contentType,
		Data:        data,
		Meta:        meta,
	}, nil
}

func (e *Entry) ref() string {
	if e.Ref != "" {
		return e.Ref
	}
	return e.Name
}

// Reporter receives the progress of one entry, the way the upload widget
// expects it: Progress with 0-100, Error once on failure.
type Reporter interface {
	Progress(percent int)
	Error()
}

// ReporterFuncs adapts plain functions to a Reporter. Nil fields are skipped.
type ReporterFuncs struct {
	OnProgress func(percent int)
	OnError    func()
}

// Progress ...
func (f ReporterFuncs) Progress(percent int) {
	if f.OnProgress != nil {
		f.OnProgress(percent)
	}
}

// Error ...
func (f ReporterFuncs) Error() {
	if f.OnError != nil {
		f.OnError()
	}
}

// CancelRegistrar is called once per entry with a function that aborts the
// entry's primary transfer.
type CancelRegistrar func(cancel func())
