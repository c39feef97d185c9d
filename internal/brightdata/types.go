// Package brightdata is a client for the Bright Data datasets API: it triggers
// collection jobs, reports their progress and downloads their snapshots.
package brightdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/snapcollect/collector/internal/poll"
)

// Input is one collection target. Extra carries dataset specific fields and is
// merged into the same JSON object as the named fields.
type Input struct {
	URL     string            `json:"url" yaml:"url" validate:"required,url"`
	Prompt  string            `json:"prompt,omitempty" yaml:"prompt"`
	Country string            `json:"country,omitempty" yaml:"country"`
	Extra   map[string]string `json:"-" yaml:",inline"`
}

func (in Input) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(in.Extra)+3)
	for k, v := range in.Extra {
		m[k] = v
	}
	m["url"] = in.URL
	if in.Prompt != "" {
		m["prompt"] = in.Prompt
	}
	if in.Country != "" {
		m["country"] = in.Country
	}
	return json.Marshal(m)
}

type triggerResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

type progressResponse struct {
	SnapshotID string `json:"snapshot_id"`
	DatasetID  string `json:"dataset_id"`
	Status     string `json:"status"`
	Progress   *struct {
		PagesCrawled   int `json:"pages_crawled"`
		PagesExtracted int `json:"pages_extracted"`
	} `json:"progress,omitempty"`
	Records int `json:"records"`
	Errors  int `json:"errors"`
}

func (r progressResponse) jobStatus() poll.JobStatus {
	s := poll.JobStatus{State: normalizeState(r.Status), Raw: r.Status}
	if r.Progress != nil {
		s.Progress.PagesCrawled = r.Progress.PagesCrawled
		s.Progress.PagesExtracted = r.Progress.PagesExtracted
	} else {
		s.Progress.PagesCrawled = r.Records + r.Errors
		s.Progress.PagesExtracted = r.Records
	}
	return s
}

// normalizeState maps the provider vocabulary onto the four poll states.
// Unknown values are treated as still running so that the attempt budget,
// not a guess, decides when to give up.
func normalizeState(raw string) poll.State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ready", "done", "completed":
		return poll.StateReady
	case "failed", "error", "cancelled", "canceled":
		return poll.StateFailed
	case "", "starting", "scheduled", "pending", "queued":
		return poll.StatePending
	default:
		return poll.StateRunning
	}
}

// APIError is returned for any non-success HTTP response. Body holds the raw
// response so it can be shown to the operator.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brightdata API error: status %d, endpoint %s: %s", e.StatusCode, e.Endpoint, e.Message())
}

// Message extracts a human readable message from the body when it is JSON.
func (e *APIError) Message() string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(e.Body), &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if e.Body == "" {
		return http.StatusText(e.StatusCode)
	}
	return e.Body
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrSnapshotNotReady is returned by Download while the snapshot is still
// being built.
var ErrSnapshotNotReady = errors.New("snapshot not ready")

// Retryable reports whether err is worth retrying. It is meant for
// poll.WithRetryable.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, ErrSnapshotNotReady)
}
