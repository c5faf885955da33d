package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"carecall-rtc/pkg/logger"

	"github.com/gorilla/websocket"
)

func TestRecorder_Of(t *testing.T) {
	r := NewRecorder()
	_ = r.Emit(context.Background(), Event{Type: RoomCreated, RoomName: "a"})
	_ = r.Emit(context.Background(), Event{Type: ParticipantLeft, RoomName: "a"})
	if len(r.Of(ParticipantLeft)) != 1 || len(r.Events()) != 2 {
		t.Fatalf("unexpected recorder state %+v", r.Events())
	}
}

func TestDecodeEvent(t *testing.T) {
	if _, err := decodeEvent([]byte(`{"roomName":"x"}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
	e, err := decodeEvent([]byte(`{"type":"participant-left","roomName":"room-abc","identity":"kakao_1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Type != ParticipantLeft || e.Identity != "kakao_1" {
		t.Fatalf("unexpected event %+v", e)
	}
}

func dial(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?room=" + room
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hello map[string]string
	if err := ws.ReadJSON(&hello); err != nil || hello["type"] != "connected" {
		t.Fatalf("expected connected frame, got %v err=%v", hello, err)
	}
	return ws
}

func TestHub_BroadcastRespectsRoomFilter(t *testing.T) {
	hub := NewHub(logger.Discard())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "admin_jane", r.URL.Query().Get("room"))
	}))
	defer srv.Close()
	defer hub.Close()

	all := dial(t, srv, "")
	defer all.Close()
	other := dial(t, srv, "room-other")
	defer other.Close()

	if n := hub.Broadcast(Event{Type: ParticipantJoined, RoomName: "room-abc", Identity: "kakao_1"}); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	_, data, err := all.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RoomName != "room-abc" || got.Type != ParticipantJoined {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestKeepSubscribed_RetriesUntilSubscriptionHolds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepSubscribed(ctx, logger.Discard(), Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond}, func(ctx context.Context) error {
			attempts++
			switch {
			case attempts <= 2:
				return errors.New("connection refused")
			case attempts == 3:
				return nil // channel closed by the server
			}
			close(held)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-held:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription was not retried, attempts=%d", attempts)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop on cancel")
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
}

func TestKeepSubscribed_StopsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepSubscribed(ctx, logger.Discard(), Backoff{Base: time.Hour, Max: time.Hour}, func(context.Context) error {
			calls++
			cancel()
			return errors.New("redis down")
		})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop kept waiting after cancel")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}
