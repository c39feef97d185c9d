// Package ws streams run progress to websocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/snapcollect/collector/internal/job"
	"github.com/snapcollect/collector/internal/poll"
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan any
}

// Hub fans every published message out to all connected subscribers.
// Publishing never blocks: a subscriber whose buffer is full is dropped.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]*subscriber)}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Publish(msg any) {
	var slow []*subscriber

	h.mu.RLock()
	for _, s := range h.subs {
		select {
		case s.send <- msg:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		log.Warn().Str("subscriber_id", s.id).Msg("dropping slow progress subscriber")
		if h.remove(s) {
			s.conn.Close(websocket.StatusPolicyViolation, "too slow")
		}
	}
}

// RunProgress publishes one poll observation of j.
func (h *Hub) RunProgress(j *job.Job, status poll.JobStatus) {
	h.Publish(ProgressMessage{
		Type:           TypeProgress,
		RunID:          j.ID,
		SnapshotID:     j.SnapshotID,
		Attempt:        j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		State:          string(status.State),
		RawStatus:      status.Raw,
		PagesCrawled:   status.Progress.PagesCrawled,
		PagesExtracted: status.Progress.PagesExtracted,
		Timestamp:      time.Now().UTC(),
	})
}

// RunFinished publishes the terminal state of j.
func (h *Hub) RunFinished(j *job.Job) {
	typ := TypeFailed
	if j.State == job.StateCompleted {
		typ = TypeCompleted
	}
	h.Publish(FinishedMessage{
		Type:       typ,
		RunID:      j.ID,
		SnapshotID: j.SnapshotID,
		State:      string(j.State),
		Attempts:   j.Attempts,
		OutputPath: j.OutputPath,
		Error:      j.Error,
		Timestamp:  time.Now().UTC(),
	})
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s.id] = s
}

// remove unregisters s and closes its queue. It reports whether s was
// still registered.
func (h *Hub) remove(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s.id]; !ok {
		return false
	}
	delete(h.subs, s.id)
	close(s.send)
	return true
}

func (h *Hub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	ctx := r.Context()
	s := &subscriber{id: uuid.NewString(), conn: conn, send: make(chan any, sendBuffer)}

	ack := AckMessage{Type: TypeAck, SubscriberID: s.id, Message: "subscribed to run progress"}
	if err := wsjson.Write(ctx, conn, ack); err != nil {
		log.Warn().Err(err).Msg("send ack")
		return
	}

	h.add(s)
	defer h.remove(s)
	log.Info().Str("subscriber_id", s.id).Str("remote", r.RemoteAddr).Msg("progress subscriber connected")

	go h.writeLoop(ctx, s)
	h.readLoop(ctx, s)

	log.Info().Str("subscriber_id", s.id).Msg("progress subscriber disconnected")
}

func (h *Hub) writeLoop(ctx context.Context, s *subscriber) {
	for msg := range s.send {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, s.conn, msg)
		cancel()
		if err != nil {
			log.Debug().Err(err).Str("subscriber_id", s.id).Msg("write to subscriber")
			s.conn.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, s *subscriber) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Debug().Err(err).Str("subscriber_id", s.id).Msg("websocket read")
			}
			return
		}

		var msg BaseMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("invalid message format")
			continue
		}

		switch msg.Type {
		case TypeHeartbeat:
			h.reply(s, HeartbeatMessage{Type: TypeHeartbeat, Timestamp: time.Now().UTC()})
		case TypeQuit:
			return
		default:
			log.Debug().Str("type", msg.Type).Msg("unknown message type")
		}
	}
}

func (h *Hub) reply(s *subscriber, msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.subs[s.id]; !ok {
		return
	}
	select {
	case s.send <- msg:
	default:
	}
}
