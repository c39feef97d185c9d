package poll

// State is the normalized lifecycle state of a remote collection job.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Terminal reports whether no further transition can happen after s.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// Handle identifies a triggered job. It is returned by a trigger call and
// passed unchanged to every status and result request.
type Handle string

func (h Handle) String() string { return string(h) }

type Progress struct {
	PagesCrawled   int `json:"pages_crawled"`
	PagesExtracted int `json:"pages_extracted"`
}

// JobStatus is a single observation of a job.
type JobStatus struct {
	State    State    `json:"state"`
	Raw      string   `json:"raw,omitempty"` // provider vocabulary, for logging
	Progress Progress `json:"progress"`
}
