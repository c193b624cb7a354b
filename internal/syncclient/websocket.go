package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"qms/patient-queue/internal/models"

	"github.com/gorilla/websocket"
)

const controlWriteWait = 5 * time.Second

type webSocketTransport struct {
	url       string
	heartbeat time.Duration
	dialer    *websocket.Dialer
}

func newWebSocketTransport(url string, heartbeat time.Duration) *webSocketTransport {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	return &webSocketTransport{url: url, heartbeat: heartbeat, dialer: &dialer}
}

func (t *webSocketTransport) Name() string { return TransportWebSocket }

func (t *webSocketTransport) Stream(ctx context.Context, events Events) error {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if resp != nil && unsupportedStatus(resp.StatusCode) {
			return fmt.Errorf("%w: websocket handshake answered %d", ErrUnsupportedTransport, resp.StatusCode)
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(controlWriteWait))
			conn.Close()
		case <-stop:
		}
	}()

	liveness := 2 * t.heartbeat
	_ = conn.SetReadDeadline(time.Now().Add(liveness))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(liveness))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	events.Opened()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(liveness))
		var snapshot models.Snapshot
		if err := json.Unmarshal(message, &snapshot); err != nil || !snapshot.OK {
			continue
		}
		events.Snapshot(snapshot)
	}
}
