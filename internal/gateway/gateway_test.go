package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"qms/patient-queue/internal/feed"
	"qms/patient-queue/internal/hub"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(seq uint64, body string) feed.Event {
	return feed.Event{Type: feed.EventPatients, Seq: seq, Payload: []byte(body)}
}

func newTestServer(t *testing.T, heartbeat time.Duration) (*hub.Hub, *httptest.Server) {
	t.Helper()
	h := hub.New(8, nil)
	g := New(h, Options{Heartbeat: heartbeat})
	mux := http.NewServeMux()
	g.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, srv
}

func waitForClients(t *testing.T, h *hub.Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Count() == n }, 2*time.Second, 5*time.Millisecond)
}

type sseFrame struct {
	event string
	id    string
	retry string
	data  string
}

func readSSEFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var frame sseFrame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if frame.event != "" || frame.data != "" {
				return frame
			}
			continue
		}
		name, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch name {
		case "event":
			frame.event = value
		case "id":
			frame.id = value
		case "retry":
			frame.retry = value
		case "data":
			frame.data = value
		}
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSSE(&buf, snapshot(3, `{"ok":true,"seq":3}`)))
	out := buf.String()
	assert.Contains(t, out, "id:3\n")
	assert.Contains(t, out, "event:patients\n")
	assert.Contains(t, out, "retry:5000\n")
	assert.Contains(t, out, `data:{"ok":true,"seq":3}`)
	assert.True(t, strings.HasSuffix(out, "\n\n"))

	buf.Reset()
	require.NoError(t, writeSSE(&buf, feed.Event{Type: feed.EventPing, Payload: []byte("{}")}))
	assert.Equal(t, "event:ping\ndata:{}\n\n", buf.String())
}

func TestSSEReplaysAndStreams(t *testing.T) {
	h, srv := newTestServer(t, time.Minute)
	h.Broadcast(snapshot(1, `{"seq":1}`))

	resp, err := http.Get(srv.URL + "/queue/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readSSEFrame(t, reader)
	assert.Equal(t, "patients", first.event)
	assert.Equal(t, "1", first.id)
	assert.Equal(t, "5000", first.retry)
	assert.Equal(t, `{"seq":1}`, first.data)

	h.Broadcast(feed.Event{Type: feed.EventPing, Payload: []byte("{}")})
	h.Broadcast(snapshot(2, `{"seq":2}`))
	assert.Equal(t, "ping", readSSEFrame(t, reader).event)
	second := readSSEFrame(t, reader)
	assert.Equal(t, "2", second.id)

	resp.Body.Close()
	waitForClients(t, h, 0)
}

func TestSSERejectsPost(t *testing.T) {
	_, srv := newTestServer(t, time.Minute)
	resp, err := http.Post(srv.URL+"/queue/stream", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestWebSocketReplayPingAndResync(t *testing.T) {
	h, srv := newTestServer(t, time.Minute)
	h.Broadcast(snapshot(1, `{"seq":1}`))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/queue/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var pings int32
	conn.SetPingHandler(func(string) error {
		atomic.AddInt32(&pings, 1)
		return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second))
	})

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"seq":1}`, string(msg))

	h.Broadcast(feed.Event{Type: feed.EventPing})
	h.Broadcast(snapshot(2, `{"seq":2}`))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"seq":2}`, string(msg))
	assert.Equal(t, int32(1), atomic.LoadInt32(&pings))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"resync"}`)))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"seq":2}`, string(msg))
}

func TestWebSocketSilentPeerIsDropped(t *testing.T) {
	h, srv := newTestServer(t, 50*time.Millisecond)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/queue/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForClients(t, h, 1)
	// No pong or message arrives, so the read deadline expires.
	waitForClients(t, h, 0)
}

func TestSockJSDeliversSnapshots(t *testing.T) {
	h, srv := newTestServer(t, time.Minute)
	h.Broadcast(snapshot(1, `{"seq":1}`))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/realtime/000/abcdefgh/websocket"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, open, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "o", string(open))

	messages := readSockJSArray(t, conn)
	require.Len(t, messages, 1)
	assert.Equal(t, `{"seq":1}`, messages[0])
}

func readSockJSArray(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		if len(frame) == 0 || frame[0] != 'a' {
			continue
		}
		var messages []string
		require.NoError(t, json.Unmarshal(frame[1:], &messages))
		return messages
	}
}
