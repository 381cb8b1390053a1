package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/mcdev12/coopsync/go/internal/room/events"
	"github.com/mcdev12/coopsync/go/internal/room/presence"
	"github.com/mcdev12/coopsync/go/internal/room/registry"
)

var (
	host  = presence.Player{ID: "A", Name: "Alice", IsHost: true}
	guest = presence.Player{ID: "B", Name: "Bob"}
)

func newTestServer(t *testing.T, mutate func(*Config)) (*Service, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PublicBaseURL = "https://coop.example"
	if mutate != nil {
		mutate(&cfg)
	}
	svc := NewService(cfg)
	server := httptest.NewServer(svc.Handler())
	t.Cleanup(server.Close)
	return svc, server
}

// eventStream reads data frames and comments from one SSE response
type eventStream struct {
	resp  *http.Response
	lines chan string
}

func openStream(t *testing.T, url string) *eventStream {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open stream: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	s := &eventStream{resp: resp, lines: make(chan string, 64)}
	go func() {
		defer close(s.lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				s.lines <- line
			}
		}
	}()
	t.Cleanup(func() { resp.Body.Close() })
	return s
}

func (s *eventStream) nextLine(t *testing.T) string {
	t.Helper()
	select {
	case line, ok := <-s.lines:
		if !ok {
			t.Fatalf("stream closed")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream data")
	}
	return ""
}

func (s *eventStream) next(t *testing.T) events.Envelope {
	t.Helper()
	for {
		line := s.nextLine(t)
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var env events.Envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			t.Fatalf("decode frame %q: %v", data, err)
		}
		return env
	}
}

func post(t *testing.T, url, contentType string, body any) *http.Response {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		if raw, err = json.Marshal(b); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	resp, err := http.Post(url, contentType, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func submission(t *testing.T, roomID string, typ events.Type, sender string, payload any) events.Submission {
	t.Helper()
	s, err := events.NewSubmission(roomID, typ, sender, payload)
	if err != nil {
		t.Fatalf("NewSubmission: %v", err)
	}
	return s
}

func TestSignalStreamStartsWithFullStateAndRelaysSubmissions(t *testing.T) {
	_, server := newTestServer(t, nil)
	stream := openStream(t, server.URL+"/api/signal?roomId=r1&playerId=A")

	first := stream.next(t)
	if first.Type != events.TypeFullState || first.RoomID != "r1" {
		t.Fatalf("first frame should be FULL_STATE for r1, got %+v", first)
	}

	resp := post(t, server.URL+"/api/signal", "application/json",
		submission(t, "r1", events.TypeJoin, "A", events.PlayerPayload{Player: host}))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var ack map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil || ack["ok"] != true {
		t.Fatalf("expected ok ack, got %v %v", ack, err)
	}

	env := stream.next(t)
	if env.Type != events.TypeJoin || env.SenderID != "A" || env.Seq != 1 {
		t.Fatalf("unexpected relayed envelope %+v", env)
	}
	p, err := events.Decode[events.PlayerPayload](env.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if diff := cmp.Diff(host, p.Player); diff != "" {
		t.Fatalf("player mismatch (-want +got):\n%s", diff)
	}
}

func TestLateSubscriberSeesExistingRoster(t *testing.T) {
	_, server := newTestServer(t, nil)
	first := openStream(t, server.URL+"/api/rooms/r1/events?playerId=A")
	first.next(t)
	post(t, server.URL+"/api/signal", "application/json", submission(t, "r1", events.TypeJoin, "A", events.PlayerPayload{Player: host}))
	post(t, server.URL+"/api/signal", "application/json", submission(t, "r1", events.TypeJoin, "B", events.PlayerPayload{Player: guest}))

	late := openStream(t, server.URL+"/api/signal?roomId=r1")
	fs, err := events.Decode[events.FullStatePayload](late.next(t).Payload)
	if err != nil {
		t.Fatalf("decode full state: %v", err)
	}
	if diff := cmp.Diff([]presence.Player{host, guest}, fs.Players); diff != "" {
		t.Fatalf("late roster mismatch (-want +got):\n%s", diff)
	}
}

func TestSignalErrors(t *testing.T) {
	_, server := newTestServer(t, nil)

	cases := []struct {
		name string
		body any
		want int
	}{
		{"missing room and type", map[string]any{}, http.StatusBadRequest},
		{"invalid json", "{", http.StatusBadRequest},
		{"full state is server only", events.Submission{RoomID: "r1", Type: events.TypeFullState}, http.StatusBadRequest},
		{"non host start", events.Submission{RoomID: "r1", Type: events.TypeStart, SenderID: "B"}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := post(t, server.URL+"/api/signal", "application/json", tc.body)
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}

	resp, err := http.Get(server.URL + "/api/signal")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("GET without roomId: expected 400, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/signal", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != "GET,POST" {
		t.Fatalf("expected 405 with Allow GET,POST, got %d %q", resp.StatusCode, resp.Header.Get("Allow"))
	}
}

func TestBeaconBodyAndRoomPathOverride(t *testing.T) {
	svc, server := newTestServer(t, nil)

	// navigator.sendBeacon posts text/plain
	body := submission(t, "ignored", events.TypeJoin, "A", events.PlayerPayload{Player: host})
	raw, _ := json.Marshal(body)
	resp := post(t, server.URL+"/api/rooms/r9/messages", "text/plain;charset=UTF-8", string(raw))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	st, ok := svc.Registry().Snapshot("r9")
	if !ok || len(st.Players) != 1 {
		t.Fatalf("message should land in the path's room, got %+v %v", st, ok)
	}
	if _, ok := svc.Registry().Snapshot("ignored"); ok {
		t.Fatalf("body roomId should not create a room")
	}
}

func TestKeepAliveComments(t *testing.T) {
	_, server := newTestServer(t, func(c *Config) { c.KeepAliveInterval = 20 * time.Millisecond })
	stream := openStream(t, server.URL+"/api/signal?roomId=r1")
	stream.next(t)

	for i := 0; i < 10; i++ {
		if line := stream.nextLine(t); line == ":keepalive" {
			return
		}
	}
	t.Fatalf("no keepalive comment received")
}

func TestStreamSubscriberEvictsWhenFull(t *testing.T) {
	sub := newStreamSubscriber("A", 1)
	if err := sub.Deliver(events.Envelope{Seq: 1}); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := sub.Deliver(events.Envelope{Seq: 2}); !errors.Is(err, errSlowConsumer) {
		t.Fatalf("expected errSlowConsumer, got %v", err)
	}
	if err := sub.Deliver(events.Envelope{Seq: 3}); !errors.Is(err, errSubscriberClosed) {
		t.Fatalf("expected errSubscriberClosed, got %v", err)
	}

	// the queued envelope is still drained before the close is observed
	if env, ok := <-sub.send; !ok || env.Seq != 1 {
		t.Fatalf("expected queued envelope, got %+v %v", env, ok)
	}
	if _, ok := <-sub.send; ok {
		t.Fatalf("send channel should be closed")
	}
	sub.close()
}

func TestWebSocketRoundTrip(t *testing.T) {
	_, server := newTestServer(t, nil)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/room?room_id=r1&player_id=A"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	readEnvelope := func() events.Envelope {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		return env
	}

	if env := readEnvelope(); env.Type != events.TypeFullState {
		t.Fatalf("first frame should be FULL_STATE, got %s", env.Type)
	}

	// room and sender come from the connection
	join, _ := events.Encode(events.PlayerPayload{Player: host})
	if err := conn.WriteJSON(map[string]any{"type": events.TypeJoin, "payload": json.RawMessage(join)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readEnvelope()
	if env.Type != events.TypeJoin || env.RoomID != "r1" || env.SenderID != "A" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]string
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	if reply["error"] == "" {
		t.Fatalf("expected an error reply, got %v", reply)
	}
}

func TestWebSocketDisconnectEmitsLeave(t *testing.T) {
	svc, server := newTestServer(t, nil)
	watcher := openStream(t, server.URL+"/api/signal?roomId=r1&playerId=A")
	watcher.next(t)
	post(t, server.URL+"/api/signal", "application/json", submission(t, "r1", events.TypeJoin, "A", events.PlayerPayload{Player: host}))
	watcher.next(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/room?room_id=r1&player_id=B"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var fs events.Envelope
	if err := conn.ReadJSON(&fs); err != nil {
		t.Fatalf("read full state: %v", err)
	}
	join, _ := events.Encode(events.PlayerPayload{Player: guest})
	conn.WriteJSON(events.Submission{Type: events.TypeJoin, Payload: join})
	if env := watcher.next(t); env.Type != events.TypeJoin || env.SenderID != "B" {
		t.Fatalf("expected B's JOIN, got %+v", env)
	}

	conn.Close()
	env := watcher.next(t)
	if env.Type != events.TypeLeave || env.SenderID != "B" {
		t.Fatalf("expected LEAVE for B after disconnect, got %+v", env)
	}
	st, _ := svc.Registry().Snapshot("r1")
	if diff := cmp.Diff([]presence.Player{host}, st.Players); diff != "" {
		t.Fatalf("roster mismatch (-want +got):\n%s", diff)
	}
}

func TestConnectSubmit(t *testing.T) {
	svc, server := newTestServer(t, nil)
	client := NewRoomServiceClient(server.Client(), server.URL)
	ctx := context.Background()

	res, err := client.Submit(ctx, connect.NewRequest(ptr(submission(t, "r1", events.TypeJoin, "A", events.PlayerPayload{Player: host}))))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Msg.OK || res.Msg.Seq != 1 || res.Msg.ID == "" {
		t.Fatalf("unexpected response %+v", res.Msg)
	}
	if st, _ := svc.Registry().Snapshot("r1"); len(st.Players) != 1 {
		t.Fatalf("rpc submission not applied")
	}

	_, err = client.Submit(ctx, connect.NewRequest(&SubmitRequest{RoomID: "r1", Type: events.TypeStart, SenderID: "B"}))
	if connect.CodeOf(err) != connect.CodePermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	_, err = client.Submit(ctx, connect.NewRequest(&SubmitRequest{Type: events.TypeStart}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func ptr[T any](v T) *T { return &v }

func TestStateStatsAndQR(t *testing.T) {
	svc, server := newTestServer(t, nil)
	stream := openStream(t, server.URL+"/api/signal?roomId=r1")
	stream.next(t)
	post(t, server.URL+"/api/signal", "application/json", submission(t, "r1", events.TypeJoin, "A", events.PlayerPayload{Player: host}))

	resp, err := http.Get(server.URL + "/api/rooms/r1/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	var st registry.RoomState
	json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if st.RoomID != "r1" || len(st.Players) != 1 || st.Subscribers != 1 {
		t.Fatalf("unexpected state %+v", st)
	}

	resp, _ = http.Get(server.URL + "/api/rooms/missing/state")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown room, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(server.URL + "/api/rooms")
	var stats registry.Stats
	json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()
	if stats.Rooms != 1 || stats.PerRoom["r1"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	resp, err = http.Get(server.URL + "/api/rooms/r1/qr.png")
	if err != nil {
		t.Fatalf("get qr: %v", err)
	}
	png, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.Header.Get("Content-Type") != "image/png" || !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("expected a PNG, got %q", resp.Header.Get("Content-Type"))
	}
	if got := svc.JoinURL("r 1"); got != "https://coop.example/rooms/r%201" {
		t.Fatalf("unexpected join url %q", got)
	}

	resp, _ = http.Get(server.URL + "/health")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
}

func TestLoadConfigLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
listen_addr: ":9000"
keep_alive_interval: 5s
policy:
  host_only_control: false
mirror:
  enabled: true
  jetstream:
    url: nats://yaml:4222
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("NATS_URL", "nats://env:4222")
	t.Setenv("TIMER_DURATION", "90s")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != ":9000" || cfg.KeepAliveInterval != 5*time.Second {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Policy.HostOnlyControl || !cfg.Policy.OwnerOnlyUpdates {
		t.Fatalf("policy layering wrong: %+v", cfg.Policy)
	}
	if cfg.Mirror.JetStream.URL != "nats://env:4222" || cfg.Mirror.JetStream.StreamName != "ROOM_EVENTS" {
		t.Fatalf("env should override yaml and keep defaults: %+v", cfg.Mirror.JetStream)
	}
	if cfg.DefaultTimerDuration != 90*time.Second {
		t.Fatalf("expected 90s timer, got %s", cfg.DefaultTimerDuration)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
}

func TestLoadConfigRejectsUnusableWebSocketTimings(t *testing.T) {
	cases := map[string]string{
		"zero ping":         "websocket:\n  ping_interval: 0s\n",
		"ping past read":    "websocket:\n  ping_interval: 90s\n  read_timeout: 60s\n",
		"zero write":        "websocket:\n  write_timeout: 0s\n",
		"zero body limit":   "max_body_bytes: 0\n",
		"zero mirror queue": "mirror:\n  enabled: true\n  queue_size: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Fatalf("expected a validation error")
			}
		})
	}
}

func TestLoadConfigSweepAndBodyFromEnv(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "5s")
	t.Setenv("MAX_BODY_BYTES", "2048")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SweepInterval != 5*time.Second || cfg.MaxBodyBytes != 2048 {
		t.Fatalf("env overrides not applied: sweep=%s body=%d", cfg.SweepInterval, cfg.MaxBodyBytes)
	}
}
