package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cardtable/internal/apperror"
	"cardtable/internal/logging"
	"cardtable/pkg/interfaces"
	"cardtable/pkg/types"
)

type stubAuthenticator struct{}

func (stubAuthenticator) Authenticate(connID, token string) (string, error) {
	if user, ok := strings.CutPrefix(token, "valid-"); ok {
		return user, nil
	}
	return "", apperror.Unauthenticated("invalid token")
}

type recordingDispatcher struct {
	mu           sync.Mutex
	frames       []string
	connected    []string
	disconnected []string
	done         chan string
}

func (d *recordingDispatcher) Connected(connID, userID string) {
	d.mu.Lock()
	d.connected = append(d.connected, userID)
	d.mu.Unlock()
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{done: make(chan string, 4)}
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, conn interfaces.Connection, data []byte) {
	d.mu.Lock()
	d.frames = append(d.frames, string(data))
	d.mu.Unlock()
	_ = conn.WriteJSON(&types.Event{Name: "echo", Data: map[string]interface{}{"user_id": conn.UserID()}})
}

func (d *recordingDispatcher) Disconnected(connID, userID string) {
	d.mu.Lock()
	d.disconnected = append(d.disconnected, userID)
	d.mu.Unlock()
	d.done <- userID
}

func newTestHandler(t *testing.T, configure ...func(*Handler)) (*Handler, *Registry, *recordingDispatcher, *httptest.Server) {
	t.Helper()
	registry := NewRegistry()
	dispatcher := newRecordingDispatcher()
	h := NewHandler(registry, stubAuthenticator{}, dispatcher, DefaultHandlerConfig(), logging.Discard())
	for _, fn := range configure {
		fn(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, registry, dispatcher, srv
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
}

func readEvent(t *testing.T, conn *websocket.Conn) types.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event types.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return event
}

func TestHandler_RejectsBadTokenBeforeUpgrade(t *testing.T) {
	_, registry, _, srv := newTestHandler(t)

	for _, token := range []string{"", "garbage"} {
		resp, err := http.Get(srv.URL + "/ws?token=" + token)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("token %q: expected 401, got %d", token, resp.StatusCode)
		}
		var body apperror.Response
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Errorf("token %q: body is not an error response: %v", token, err)
		}
		_ = resp.Body.Close()
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "garbage"), nil)
	if err == nil {
		t.Fatal("dial with bad token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 handshake response, got %+v", resp)
	}
	if stats := registry.GetStats(); stats["total_connections"] != 0 {
		t.Errorf("rejected connection was registered: %v", stats)
	}
}

func TestHandler_ConnectDispatchDisconnect(t *testing.T) {
	var opened, closed int
	var mu sync.Mutex
	_, registry, dispatcher, srv := newTestHandler(t, func(h *Handler) {
		h.OnOpen = func() {
			mu.Lock()
			opened++
			mu.Unlock()
		}
		h.OnClose = func() {
			mu.Lock()
			closed++
			mu.Unlock()
		}
	})

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "valid-alice"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	welcome := readEvent(t, client)
	if welcome.Name != types.EventConnectionSuccess {
		t.Fatalf("expected connection_success, got %q", welcome.Name)
	}
	if welcome.Data["user_id"] != "alice" {
		t.Errorf("unexpected welcome data %v", welcome.Data)
	}
	if got := len(registry.UserConnections("alice")); got != 1 {
		t.Errorf("expected 1 registered connection, got %d", got)
	}
	dispatcher.mu.Lock()
	connected := append([]string(nil), dispatcher.connected...)
	dispatcher.mu.Unlock()
	if len(connected) != 1 || connected[0] != "alice" {
		t.Errorf("expected Connected for alice, got %v", connected)
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"event":"create_lobby"}`)); err != nil {
		t.Fatal(err)
	}
	if echo := readEvent(t, client); echo.Name != "echo" {
		t.Errorf("expected echo, got %q", echo.Name)
	}

	_ = client.Close()
	select {
	case user := <-dispatcher.done:
		if user != "alice" {
			t.Errorf("disconnect reported for %q", user)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnected was not called")
	}

	dispatcher.mu.Lock()
	frames := append([]string(nil), dispatcher.frames...)
	dispatcher.mu.Unlock()
	if len(frames) != 1 || frames[0] != `{"event":"create_lobby"}` {
		t.Errorf("unexpected frames %v", frames)
	}
	if got := len(registry.UserConnections("alice")); got != 0 {
		t.Errorf("connection not unregistered, %d left", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if opened != 1 || closed != 1 {
		t.Errorf("expected one open and one close, got %d/%d", opened, closed)
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	cfg := DefaultHandlerConfig()
	cfg.AllowedOrigins = []string{"https://cards.example.com"}
	h := NewHandler(NewRegistry(), stubAuthenticator{}, newRecordingDispatcher(), cfg, logging.Discard())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://cards.example.com")
	if !h.checkOrigin(req) {
		t.Error("allowed origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example.com")
	if h.checkOrigin(req) {
		t.Error("foreign origin accepted")
	}
}
