package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/challengectl/challengectl/pkg/events"
	"github.com/challengectl/challengectl/pkg/metrics"
	"github.com/challengectl/challengectl/pkg/types"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEventsWS upgrades the connection and relays dispatch events. The
// first frame is always a snapshot so a reconnecting dashboard does not
// have to reconstruct state from the event log it missed.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeError(w, fmt.Errorf("event stream disabled: %w", types.ErrNotFound))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.EventSubscribers.Inc()
	defer metrics.EventSubscribers.Dec()

	if err := writeEvent(conn, s.snapshotEvent()); err != nil {
		return
	}

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	// The read loop exists to notice the peer going away; inbound frames
	// carry no meaning on this endpoint.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream closed"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := writeEvent(conn, event); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, event *events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(event)
}

// snapshotEvent summarizes current state as string data so it rides the
// same frame shape as every other event.
func (s *Server) snapshotEvent() *events.Event {
	data := make(map[string]string)

	if stats, err := s.store.GetStats(); err == nil {
		total := 0
		for status, n := range stats.ChallengesByStatus {
			data["challenges_"+string(status)] = strconv.Itoa(n)
			total += n
		}
		data["challenges_total"] = strconv.Itoa(total)
		for status, n := range stats.RunnersByStatus {
			data["runners_"+string(status)] = strconv.Itoa(n)
		}
		data["runners_disabled"] = strconv.Itoa(stats.RunnersDisabled)
		data["files_total"] = strconv.Itoa(stats.Files)
		data["transmissions_total"] = strconv.FormatUint(stats.TransmissionsTotal, 10)
	}
	if paused, err := s.store.Paused(); err == nil {
		data["paused"] = strconv.FormatBool(paused)
	}

	return &events.Event{
		ID:        uuid.New().String(),
		Type:      events.EventSnapshot,
		Timestamp: time.Now(),
		Message:   "current state",
		Data:      data,
	}
}
