// Package report forwards generated report files (coverage and the like)
// to an external aggregation service over HTTP. Whether a sink failure
// fails the owning step is the caller's call, via fail_ci_if_error.
package report

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/vk/conveyorgo/internal/ctxlog"
)

// SinkError wraps any failure to deliver a report.
type SinkError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	return fmt.Sprintf("report sink: uploading %q: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *SinkError) Unwrap() error { return e.Err }

// Sink uploads report files to a fixed endpoint.
type Sink struct {
	client *http.Client
	url    string
}

// NewSink creates a sink targeting the given URL. A nil client uses a
// default one.
func NewSink(endpoint string, client *http.Client) *Sink {
	if client == nil {
		client = &http.Client{}
	}
	return &Sink{client: client, url: endpoint}
}

// Upload streams the report file to the sink endpoint with the given tags
// attached as query parameters.
func (s *Sink) Upload(ctx context.Context, path string, tags []string) error {
	logger := ctxlog.FromContext(ctx)
	if s.url == "" {
		return &SinkError{Path: path, Err: fmt.Errorf("no sink endpoint configured")}
	}

	file, err := os.Open(path)
	if err != nil {
		return &SinkError{Path: path, Err: err}
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return &SinkError{Path: path, Err: err}
	}

	target, err := url.Parse(s.url)
	if err != nil {
		return &SinkError{Path: path, Err: err}
	}
	query := target.Query()
	for _, tag := range tags {
		query.Add("tag", tag)
	}
	query.Set("name", filepath.Base(path))
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), file)
	if err != nil {
		return &SinkError{Path: path, Err: err}
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = stat.Size()

	resp, err := s.client.Do(req)
	if err != nil {
		return &SinkError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &SinkError{Path: path, Err: fmt.Errorf("sink responded with status %s", resp.Status)}
	}

	logger.Info("Report uploaded.", "path", path, "status", resp.Status)
	return nil
}
