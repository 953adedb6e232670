// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package streaming

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pbsgo/batchcore/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestNewServer_DefaultsCheckOrigin(t *testing.T) {
	s := NewServer(&fakeEventSource{}, nil, nil)
	require.NotNil(t, s)
	assert.True(t, s.upgrader.CheckOrigin(&http.Request{}))
}

func TestHandleWebSocket_Upgrade(t *testing.T) {
	source := &fakeEventSource{
		jobsFunc: func(ctx context.Context, filter JobFilter) (<-chan JobEvent, error) {
			ch := make(chan JobEvent)
			close(ch)
			return ch, nil
		},
	}
	server := NewServer(source, logging.NoOpLogger{}, nil)
	conn := dialTestServer(t, server)
	assert.NotNil(t, conn)
}

func TestHandleWebSocket_JobsStreamRequest(t *testing.T) {
	eventCh := make(chan JobEvent, 1)
	var gotFilter JobFilter

	source := &fakeEventSource{
		jobsFunc: func(ctx context.Context, filter JobFilter) (<-chan JobEvent, error) {
			gotFilter = filter
			go func() {
				eventCh <- JobEvent{JobID: "123.server", State: "R", Timestamp: time.Now()}
			}()
			return eventCh, nil
		},
	}
	server := NewServer(source, logging.NoOpLogger{}, nil)
	conn := dialTestServer(t, server)

	require.NoError(t, conn.WriteJSON(SubscribeRequest{
		Stream:  StreamTypeJobs,
		Options: JobFilter{Owner: "alice", Queue: "workq"},
	}))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, StreamTypeJobs, msg.Stream)

	assert.Eventually(t, func() bool {
		return gotFilter.Owner == "alice" && gotFilter.Queue == "workq"
	}, time.Second, 10*time.Millisecond)
}

func TestHandleWebSocket_NodesStreamRequest(t *testing.T) {
	eventCh := make(chan NodeEvent, 1)
	eventCh <- NodeEvent{Vnode: "node01", State: "free", Timestamp: time.Now()}

	source := &fakeEventSource{
		nodesFunc: func(ctx context.Context, filter NodeFilter) (<-chan NodeEvent, error) {
			return eventCh, nil
		},
	}
	server := NewServer(source, logging.NoOpLogger{}, nil)
	conn := dialTestServer(t, server)

	require.NoError(t, conn.WriteJSON(SubscribeRequest{Stream: StreamTypeNodes}))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, StreamTypeNodes, msg.Stream)
}

func TestHandleWebSocket_ReservationsStreamRequest(t *testing.T) {
	eventCh := make(chan ReservationEvent, 1)
	eventCh <- ReservationEvent{ResvID: "R123.server", State: "CONFIRMED", Timestamp: time.Now()}

	source := &fakeEventSource{
		resvFunc: func(ctx context.Context, filter ReservationFilter) (<-chan ReservationEvent, error) {
			return eventCh, nil
		},
	}
	server := NewServer(source, logging.NoOpLogger{}, nil)
	conn := dialTestServer(t, server)

	require.NoError(t, conn.WriteJSON(SubscribeRequest{Stream: StreamTypeReservations}))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, StreamTypeReservations, msg.Stream)
}

func TestHandleWebSocket_UnknownStreamType(t *testing.T) {
	server := NewServer(&fakeEventSource{}, logging.NoOpLogger{}, nil)
	conn := dialTestServer(t, server)

	require.NoError(t, conn.WriteJSON(SubscribeRequest{Stream: "bogus"}))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "bogus")
}

func TestHandleWebSocket_StreamClosedOnChannelClose(t *testing.T) {
	eventCh := make(chan JobEvent)
	close(eventCh)

	source := &fakeEventSource{
		jobsFunc: func(ctx context.Context, filter JobFilter) (<-chan JobEvent, error) {
			return eventCh, nil
		},
	}
	server := NewServer(source, logging.NoOpLogger{}, nil)
	conn := dialTestServer(t, server)

	require.NoError(t, conn.WriteJSON(SubscribeRequest{Stream: StreamTypeJobs}))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "stream_closed", msg.Type)
}

func TestHandleWebSocket_WatchError(t *testing.T) {
	source := &fakeEventSource{
		jobsFunc: func(ctx context.Context, filter JobFilter) (<-chan JobEvent, error) {
			return nil, assertErr{}
		},
	}
	server := NewServer(source, logging.NoOpLogger{}, nil)
	conn := dialTestServer(t, server)

	require.NoError(t, conn.WriteJSON(SubscribeRequest{Stream: StreamTypeJobs}))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "failed to start job stream")
}

type assertErr struct{}

func (assertErr) Error() string { return "watch rejected" }
