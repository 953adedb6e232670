// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package streaming implements the admin-facing live status stream: a
// websocket endpoint that lets an operator console subscribe to job, node
// and reservation state transitions as they happen, instead of polling
// qstat-style snapshot requests. It sits beside the batch-request dispatch
// path on the admin HTTP surface (section 6) and never carries a DIS batch
// request itself.
package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pbsgo/batchcore/pkg/logging"
)

// EventSource is implemented by whatever in-process component owns live
// state transitions -- the job lifecycle state machine, the node table,
// the reservation engine. The streaming server only depends on this
// narrow interface, not on the store or dispatcher packages.
type EventSource interface {
	WatchJobs(ctx context.Context, filter JobFilter) (<-chan JobEvent, error)
	WatchNodes(ctx context.Context, filter NodeFilter) (<-chan NodeEvent, error)
	WatchReservations(ctx context.Context, filter ReservationFilter) (<-chan ReservationEvent, error)
}

// StreamType names one of the three subscribable event feeds.
type StreamType string

const (
	StreamTypeJobs         StreamType = "jobs"
	StreamTypeNodes        StreamType = "nodes"
	StreamTypeReservations StreamType = "reservations"
)

// JobFilter narrows a job event subscription.
type JobFilter struct {
	Owner  string   `json:"owner,omitempty"`
	Queue  string   `json:"queue,omitempty"`
	States []string `json:"states,omitempty"`
	JobIDs []string `json:"job_ids,omitempty"`
}

// NodeFilter narrows a node event subscription.
type NodeFilter struct {
	States []string `json:"states,omitempty"`
	Vnodes []string `json:"vnodes,omitempty"`
}

// ReservationFilter narrows a reservation event subscription.
type ReservationFilter struct {
	States []string `json:"states,omitempty"`
	Owner  string   `json:"owner,omitempty"`
}

// JobEvent reports a job object's observed state transition.
type JobEvent struct {
	JobID     string    `json:"job_id"`
	State     string    `json:"state"`
	Substate  string    `json:"substate,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NodeEvent reports a node's observed state transition.
type NodeEvent struct {
	Vnode     string    `json:"vnode"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// ReservationEvent reports a reservation's observed state transition.
type ReservationEvent struct {
	ResvID    string    `json:"resv_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is the envelope written to the client for every event, error,
// and lifecycle notice on the socket.
type Message struct {
	Type      string      `json:"type"`
	Stream    StreamType  `json:"stream,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}

// SubscribeRequest is the first (and any follow-on) client message,
// naming which stream to attach and with what filter.
type SubscribeRequest struct {
	Stream  StreamType  `json:"stream"`
	Options interface{} `json:"options,omitempty"`
}

// Server upgrades admin HTTP connections to websocket and fans out events
// from an EventSource to each subscribed client.
type Server struct {
	source   EventSource
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewServer builds a streaming server over source. checkOrigin, when nil,
// accepts every origin; daemons exposing this on anything but localhost
// should supply one.
func NewServer(source EventSource, logger logging.Logger, checkOrigin func(*http.Request) bool) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		source:   source,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// HandleWebSocket is the http.HandlerFunc mounted at the stream endpoint.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err.Error())
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("websocket close error", "error", err.Error())
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.readLoop(ctx, conn, cancel)
	s.pingLoop(ctx, conn)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var req SubscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read error", "error", err.Error())
			}
			return
		}
		go s.subscribe(ctx, conn, req)
	}
}

func (s *Server) subscribe(ctx context.Context, conn *websocket.Conn, req SubscribeRequest) {
	switch req.Stream {
	case StreamTypeJobs:
		s.streamJobs(ctx, conn, req.Options)
	case StreamTypeNodes:
		s.streamNodes(ctx, conn, req.Options)
	case StreamTypeReservations:
		s.streamReservations(ctx, conn, req.Options)
	default:
		s.sendError(conn, "unknown stream type: "+string(req.Stream))
	}
}

func decodeOptions[T any](raw interface{}) T {
	var out T
	if raw == nil {
		return out
	}
	if b, err := json.Marshal(raw); err == nil {
		_ = json.Unmarshal(b, &out)
	}
	return out
}

func (s *Server) streamJobs(ctx context.Context, conn *websocket.Conn, optionsData interface{}) {
	filter := decodeOptions[JobFilter](optionsData)

	events, err := s.source.WatchJobs(ctx, filter)
	if err != nil {
		s.sendError(conn, "failed to start job stream: "+err.Error())
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				s.sendMessage(conn, Message{Type: "stream_closed", Stream: StreamTypeJobs, Timestamp: time.Now()})
				return
			}
			s.sendMessage(conn, Message{Type: "event", Stream: StreamTypeJobs, Data: event, Timestamp: time.Now()})
		}
	}
}

func (s *Server) streamNodes(ctx context.Context, conn *websocket.Conn, optionsData interface{}) {
	filter := decodeOptions[NodeFilter](optionsData)

	events, err := s.source.WatchNodes(ctx, filter)
	if err != nil {
		s.sendError(conn, "failed to start node stream: "+err.Error())
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				s.sendMessage(conn, Message{Type: "stream_closed", Stream: StreamTypeNodes, Timestamp: time.Now()})
				return
			}
			s.sendMessage(conn, Message{Type: "event", Stream: StreamTypeNodes, Data: event, Timestamp: time.Now()})
		}
	}
}

func (s *Server) streamReservations(ctx context.Context, conn *websocket.Conn, optionsData interface{}) {
	filter := decodeOptions[ReservationFilter](optionsData)

	events, err := s.source.WatchReservations(ctx, filter)
	if err != nil {
		s.sendError(conn, "failed to start reservation stream: "+err.Error())
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				s.sendMessage(conn, Message{Type: "stream_closed", Stream: StreamTypeReservations, Timestamp: time.Now()})
				return
			}
			s.sendMessage(conn, Message{Type: "event", Stream: StreamTypeReservations, Data: event, Timestamp: time.Now()})
		}
	}
}

func (s *Server) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("websocket write error", "error", err.Error())
	}
}

func (s *Server) sendError(conn *websocket.Conn, message string) {
	s.sendMessage(conn, Message{Type: "error", Error: message, Timestamp: time.Now()})
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("websocket ping error", "error", err.Error())
				return
			}
		}
	}
}
