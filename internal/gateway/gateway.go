// Package gateway exposes the hub to viewers over SSE, WebSocket and SockJS.
// Every connection registers one hub client, drains it from a single writer
// and is dropped once the peer goes away.
package gateway

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"qms/patient-queue/internal/feed"
	"qms/patient-queue/internal/hub"

	"github.com/gin-contrib/sse"
	"github.com/gorilla/websocket"
	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"
)

const (
	retryMillis         = 5000
	defaultHeartbeat    = 15 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxControlMessage   = 1024
)

type Options struct {
	Heartbeat    time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

type Gateway struct {
	hub          *hub.Hub
	heartbeat    time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

func New(h *hub.Hub, options Options) *Gateway {
	heartbeat := options.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	writeTimeout := options.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		hub:          h,
		heartbeat:    heartbeat,
		writeTimeout: writeTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			// Display panels are served from other hosts on the clinic LAN.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("/queue/stream", g.ServeSSE)
	mux.HandleFunc("/queue/ws", g.ServeWebSocket)
	mux.Handle("/realtime/", g.SockJSHandler("/realtime"))
}

func (g *Gateway) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rc := http.NewResponseController(w)
	// The server write timeout would cut the stream; deadlines are set per event instead.
	_ = rc.SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	client := g.hub.NewClient("sse")
	g.hub.Register(client)
	defer g.hub.Unregister(client)

	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		g.logger.Warn("sse stream cannot flush", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-client.Send:
			if !ok {
				return
			}
			_ = rc.SetWriteDeadline(time.Now().Add(g.writeTimeout))
			if err := writeSSE(w, event); err != nil {
				g.logger.Debug("sse write failed", zap.String("client_id", client.ID), zap.Error(err))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeSSE(w io.Writer, event feed.Event) error {
	out := sse.Event{Event: event.Type, Data: string(event.Payload)}
	if event.Type == feed.EventPatients {
		out.Id = strconv.FormatUint(event.Seq, 10)
		out.Retry = retryMillis
	}
	return sse.Encode(w, out)
}

func (g *Gateway) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	client := g.hub.NewClient("websocket")
	g.hub.Register(client)

	go g.wsWritePump(conn, client)
	g.wsReadPump(conn, client)
}

// wsReadPump owns liveness: a peer silent for two heartbeats is dropped.
func (g *Gateway) wsReadPump(conn *websocket.Conn, client *hub.Client) {
	defer func() {
		g.hub.Unregister(client)
		conn.Close()
	}()
	liveness := 2 * g.heartbeat
	conn.SetReadLimit(maxControlMessage)
	_ = conn.SetReadDeadline(time.Now().Add(liveness))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(liveness))
	})
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("websocket closed", zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(liveness))
		if _, ok := hub.ParseControl(message); ok {
			g.hub.Replay(client)
		}
	}
}

func (g *Gateway) wsWritePump(conn *websocket.Conn, client *hub.Client) {
	defer conn.Close()
	for event := range client.Send {
		deadline := time.Now().Add(g.writeTimeout)
		var err error
		if event.Type == feed.EventPing {
			err = conn.WriteControl(websocket.PingMessage, nil, deadline)
		} else {
			_ = conn.SetWriteDeadline(deadline)
			err = conn.WriteMessage(websocket.TextMessage, event.Payload)
		}
		if err != nil {
			g.logger.Debug("websocket write failed", zap.String("client_id", client.ID), zap.Error(err))
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(g.writeTimeout))
}

// SockJSHandler serves the SockJS transports under prefix. SockJS sends its
// own heartbeat frames, so feed pings are not forwarded.
func (g *Gateway) SockJSHandler(prefix string) http.Handler {
	options := sockjs.DefaultOptions
	options.HeartbeatDelay = g.heartbeat
	return sockjs.NewHandler(prefix, options, func(session sockjs.Session) {
		client := g.hub.NewClient("sockjs")
		g.hub.Register(client)
		defer g.hub.Unregister(client)

		go func() {
			for event := range client.Send {
				if event.Type == feed.EventPing {
					continue
				}
				if err := session.Send(string(event.Payload)); err != nil {
					_ = session.Close(3000, "send failed")
					return
				}
			}
			_ = session.Close(1000, "server closing")
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			if _, ok := hub.ParseControl([]byte(msg)); ok {
				g.hub.Replay(client)
			}
		}
	})
}
