// Package watch follows the progress stream of a running collector server.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/snapcollect/collector/internal/ws"
)

const (
	reconnectDelay    = 5 * time.Second
	heartbeatInterval = 30 * time.Second
)

// errRunFinished ends the message loop once the watched run is done.
var errRunFinished = errors.New("run finished")

type Options struct {
	// RunID restricts output to one run and makes Run return once that run
	// has finished. Empty follows every run until cancelled.
	RunID string

	OnProgress func(ws.ProgressMessage)
	OnFinished func(ws.FinishedMessage)
}

type Watcher struct {
	url  string
	opts Options
	id   string
}

func New(url string, opts Options) *Watcher {
	if opts.OnProgress == nil {
		opts.OnProgress = logProgress
	}
	if opts.OnFinished == nil {
		opts.OnFinished = logFinished
	}
	return &Watcher{url: url, opts: opts}
}

// Run keeps a subscription open, reconnecting after failures, until ctx is
// done or the watched run finishes.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := w.connect(ctx)
		if errors.Is(err, errRunFinished) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("progress stream lost, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (w *Watcher) connect(ctx context.Context) error {
	log.Info().Str("url", w.url).Msg("connecting to progress stream")

	conn, _, err := websocket.Dial(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	var ack ws.AckMessage
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	w.id = ack.SubscriberID
	log.Info().Str("subscriber_id", w.id).Msg("subscribed")

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeat(hbCtx, conn)

	return w.messageLoop(ctx, conn)
}

func (w *Watcher) messageLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var base ws.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			log.Warn().Err(err).Msg("invalid message")
			continue
		}

		switch base.Type {
		case ws.TypeProgress:
			var msg ws.ProgressMessage
			if err := json.Unmarshal(data, &msg); err != nil || !w.wants(msg.RunID) {
				continue
			}
			w.opts.OnProgress(msg)

		case ws.TypeCompleted, ws.TypeFailed:
			var msg ws.FinishedMessage
			if err := json.Unmarshal(data, &msg); err != nil || !w.wants(msg.RunID) {
				continue
			}
			w.opts.OnFinished(msg)
			if w.opts.RunID != "" {
				conn.Write(ctx, websocket.MessageText, []byte(`{"type":"quit"}`))
				return errRunFinished
			}

		case ws.TypeHeartbeat:
			// Server acknowledged

		default:
			log.Debug().Str("type", base.Type).Msg("unknown message type")
		}
	}
}

func (w *Watcher) wants(runID string) bool {
	return w.opts.RunID == "" || w.opts.RunID == runID
}

func (w *Watcher) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := ws.HeartbeatMessage{Type: ws.TypeHeartbeat, Timestamp: time.Now().UTC()}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func logProgress(msg ws.ProgressMessage) {
	log.Info().
		Str("run_id", msg.RunID).
		Str("snapshot_id", msg.SnapshotID).
		Str("status", msg.State).
		Int("attempt", msg.Attempt).
		Int("max_attempts", msg.MaxAttempts).
		Int("pages_crawled", msg.PagesCrawled).
		Int("pages_extracted", msg.PagesExtracted).
		Msg("progress")
}

func logFinished(msg ws.FinishedMessage) {
	if msg.Type == ws.TypeCompleted {
		log.Info().Str("run_id", msg.RunID).Str("output", msg.OutputPath).Int("attempts", msg.Attempts).Msg("run completed")
		return
	}
	log.Error().Str("run_id", msg.RunID).Str("state", msg.State).Str("error", msg.Error).Int("attempts", msg.Attempts).Msg("run did not complete")
}
