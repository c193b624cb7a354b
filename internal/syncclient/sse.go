package syncclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"time"

	"qms/patient-queue/internal/models"

	"github.com/gin-contrib/sse"
	"github.com/go-resty/resty/v2"
)

type sseTransport struct {
	url       string
	heartbeat time.Duration
	client    *resty.Client
}

func newSSETransport(url string, heartbeat time.Duration) *sseTransport {
	client := resty.New().
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache").
		SetDoNotParseResponse(true)
	return &sseTransport{url: url, heartbeat: heartbeat, client: client}
}

func (t *sseTransport) Name() string { return TransportSSE }

func (t *sseTransport) Stream(ctx context.Context, events Events) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := t.client.R().SetContext(streamCtx).Get(t.url)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if unsupportedStatus(resp.StatusCode()) {
		return fmt.Errorf("%w: event stream answered %d", ErrUnsupportedTransport, resp.StatusCode())
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("%w: event stream answered %d", ErrTransport, resp.StatusCode())
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header().Get("Content-Type"))
	if mediaType != "text/event-stream" {
		return fmt.Errorf("%w: content type %q", ErrUnsupportedTransport, mediaType)
	}

	alive := make(chan struct{}, 1)
	go watchdog(streamCtx, cancel, alive, 2*t.heartbeat)
	events.Opened()

	err = readEventStream(body, func(event sse.Event) {
		select {
		case alive <- struct{}{}:
		default:
		}
		if event.Event != "patients" {
			return
		}
		data, ok := event.Data.(string)
		if !ok {
			return
		}
		var snapshot models.Snapshot
		if err := json.Unmarshal([]byte(data), &snapshot); err != nil || !snapshot.OK {
			return
		}
		events.Snapshot(snapshot)
	})
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// watchdog cancels the stream when no event arrives within limit.
func watchdog(ctx context.Context, cancel context.CancelFunc, alive <-chan struct{}, limit time.Duration) {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-alive:
			timer.Reset(limit)
		case <-timer.C:
			cancel()
			return
		}
	}
}

// readEventStream splits the stream on blank lines and hands each block to
// the sse decoder, which only works on complete input.
func readEventStream(r io.Reader, dispatch func(sse.Event)) error {
	reader := bufio.NewReader(r)
	var block bytes.Buffer
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			if len(line) == 0 {
				if block.Len() > 0 {
					block.WriteByte('\n')
					decoded, decodeErr := sse.Decode(&block)
					if decodeErr != nil {
						return decodeErr
					}
					for _, event := range decoded {
						dispatch(event)
					}
					block.Reset()
				}
			} else {
				block.Write(line)
				block.WriteByte('\n')
			}
		}
		if err != nil {
			return err
		}
	}
}
