package collect

import (
	"fmt"

	"github.com/snapcollect/collector/internal/poll"
)

// TriggerError means the collection could not be started.
type TriggerError struct {
	DatasetID string
	Err       error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("trigger collection for dataset %s: %v", e.DatasetID, e.Err)
}

func (e *TriggerError) Unwrap() error { return e.Err }

// IncompleteError means polling ended without a ready snapshot: the job
// failed, the attempt budget ran out, or the run was cancelled. No download
// is attempted in any of these cases.
type IncompleteError struct {
	Handle    poll.Handle
	Attempts  int
	Status    poll.JobStatus
	Exhausted bool
	Cancelled bool
}

func (e *IncompleteError) Error() string {
	switch {
	case e.Cancelled:
		return fmt.Sprintf("collection %s cancelled after %d attempts, last status: %s", e.Handle, e.Attempts, e.lastStatus())
	case e.Exhausted:
		return fmt.Sprintf("collection %s did not complete after %d attempts, final status: %s", e.Handle, e.Attempts, e.lastStatus())
	default:
		return fmt.Sprintf("collection %s failed after %d attempts, final status: %s", e.Handle, e.Attempts, e.lastStatus())
	}
}

func (e *IncompleteError) lastStatus() string {
	if e.Status.State == "" {
		return "unknown"
	}
	if e.Status.Raw != "" && e.Status.Raw != string(e.Status.State) {
		return fmt.Sprintf("%s (%s)", e.Status.State, e.Status.Raw)
	}
	return string(e.Status.State)
}

// DownloadError means the snapshot was ready but could not be fetched or
// saved.
type DownloadError struct {
	Handle poll.Handle
	Err    error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download snapshot %s: %v", e.Handle, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }
