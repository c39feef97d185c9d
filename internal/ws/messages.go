package ws

import (
	"time"
)

const (
	TypeAck       = "ack"
	TypeHeartbeat = "heartbeat"
	TypeProgress  = "progress"
	TypeCompleted = "completed"
	TypeFailed    = "failed"
	TypeQuit      = "quit"
)

type BaseMessage struct {
	Type string `json:"type"`
}

// Hub → Subscriber

type AckMessage struct {
	Type         string `json:"type"`
	SubscriberID string `json:"subscriber_id"`
	Message      string `json:"message"`
}

type ProgressMessage struct {
	Type           string    `json:"type"`
	RunID          string    `json:"run_id"`
	SnapshotID     string    `json:"snapshot_id"`
	Attempt        int       `json:"attempt"`
	MaxAttempts    int       `json:"max_attempts"`
	State          string    `json:"state"`
	RawStatus      string    `json:"raw_status,omitempty"`
	PagesCrawled   int       `json:"pages_crawled"`
	PagesExtracted int       `json:"pages_extracted"`
	Timestamp      time.Time `json:"timestamp"`
}

// FinishedMessage has Type TypeCompleted or TypeFailed.
type FinishedMessage struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	SnapshotID string    `json:"snapshot_id,omitempty"`
	State      string    `json:"state"`
	Attempts   int       `json:"attempts"`
	OutputPath string    `json:"output_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Both directions

type HeartbeatMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
