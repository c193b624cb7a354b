package hub

import (
	"testing"

	"qms/patient-queue/internal/feed"
)

func snapshot(seq uint64) feed.Event {
	return feed.Event{Type: feed.EventPatients, Seq: seq, Payload: []byte(`{}`)}
}

func TestRegisterReplaysLastSnapshot(t *testing.T) {
	h := New(4, nil)
	h.Broadcast(snapshot(1))
	h.Broadcast(snapshot(2))

	client := h.NewClient("test")
	h.Register(client)
	defer h.Unregister(client)

	select {
	case got := <-client.Send:
		if got.Seq != 2 {
			t.Fatalf("expected replay of seq 2, got %d", got.Seq)
		}
	default:
		t.Fatalf("expected replayed snapshot on register")
	}
}

func TestRegisterBeforeFirstSnapshot(t *testing.T) {
	h := New(4, nil)
	if _, ok := h.Last(); ok {
		t.Fatalf("expected no snapshot yet")
	}
	client := h.NewClient("test")
	h.Register(client)
	defer h.Unregister(client)
	if len(client.Send) != 0 {
		t.Fatalf("expected empty buffer, got %d", len(client.Send))
	}
}

func TestSlowClientKeepsNewestSnapshot(t *testing.T) {
	h := New(2, nil)
	slow := h.NewClient("test")
	fast := h.NewClient("test")
	h.Register(slow)
	h.Register(fast)

	for seq := uint64(1); seq <= 5; seq++ {
		h.Broadcast(snapshot(seq))
		<-fast.Send
	}
	h.Broadcast(feed.Event{Type: feed.EventPing, Seq: 5})
	if last, ok := h.Last(); !ok || last.Type != feed.EventPatients || last.Seq != 5 {
		t.Fatalf("expected pings not to replace the last snapshot, got %+v", last)
	}

	var seqs []uint64
	for len(slow.Send) > 0 {
		seqs = append(seqs, (<-slow.Send).Seq)
	}
	if len(seqs) != 2 || seqs[0] != 4 || seqs[1] != 5 {
		t.Fatalf("expected [4 5], got %v", seqs)
	}
	if got := (<-fast.Send).Type; got != feed.EventPing {
		t.Fatalf("expected ping for fast client, got %s", got)
	}
}

func TestUnregisterClosesSendOnce(t *testing.T) {
	h := New(1, nil)
	client := h.NewClient("test")
	h.Register(client)
	h.Unregister(client)
	h.Unregister(client)
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected closed channel")
	}
	h.Broadcast(snapshot(1))
	if h.Count() != 0 {
		t.Fatalf("expected no clients, got %d", h.Count())
	}
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	h := New(2, nil)
	a := h.NewClient("sse")
	b := h.NewClient("websocket")
	h.Register(a)
	h.Register(b)
	h.Close()

	for _, client := range []*Client{a, b} {
		if _, ok := <-client.Send; ok {
			t.Fatalf("expected %s client closed", client.Transport)
		}
	}
	h.Unregister(a)
	if h.Count() != 0 {
		t.Fatalf("expected no clients, got %d", h.Count())
	}

	late := h.NewClient("sse")
	h.Register(late)
	if _, ok := <-late.Send; ok {
		t.Fatalf("expected a client registered after close to be refused")
	}
	h.Unregister(late)
	if h.Count() != 0 {
		t.Fatalf("expected no clients after close, got %d", h.Count())
	}
}

func TestReplay(t *testing.T) {
	h := New(4, nil)
	client := h.NewClient("test")
	h.Register(client)
	if h.Replay(client) {
		t.Fatalf("expected no replay before first snapshot")
	}
	h.Broadcast(snapshot(7))
	<-client.Send
	if !h.Replay(client) {
		t.Fatalf("expected replay")
	}
	if got := (<-client.Send).Seq; got != 7 {
		t.Fatalf("expected seq 7, got %d", got)
	}
}

func TestParseControl(t *testing.T) {
	if _, ok := ParseControl([]byte(`{"action":"resync"}`)); !ok {
		t.Fatalf("expected resync to parse")
	}
	if _, ok := ParseControl([]byte(`{"action":"subscribe"}`)); ok {
		t.Fatalf("expected unknown action to be rejected")
	}
	if _, ok := ParseControl([]byte(`not json`)); ok {
		t.Fatalf("expected invalid json to be rejected")
	}
}
