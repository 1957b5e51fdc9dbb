package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
)

func TestIsCleanClose(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "normal closure", err: &websocket.CloseError{Code: websocket.CloseNormalClosure}, want: true},
		{name: "going away", err: &websocket.CloseError{Code: websocket.CloseGoingAway}, want: true},
		{name: "wrapped normal closure", err: errors.Wrap(&websocket.CloseError{Code: websocket.CloseNormalClosure}, "read"), want: true},
		{name: "abnormal closure", err: &websocket.CloseError{Code: websocket.CloseAbnormalClosure}},
		{name: "policy violation", err: &websocket.CloseError{Code: websocket.ClosePolicyViolation}},
		{name: "local close", err: ErrConnClosed},
		{name: "nil", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCleanClose(tt.err); got != tt.want {
				t.Fatalf("IsCleanClose(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConnectReportsRejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	tr := NewWebSocketTransport("ws"+strings.TrimPrefix(srv.URL, "http"), WithLogger(zaptest.NewLogger(t)))
	_, err := tr.Connect(context.Background())
	if err == nil {
		t.Fatalf("expected the handshake to fail")
	}
	if !strings.Contains(err.Error(), "status 403") {
		t.Fatalf("expected the status in the error, got %v", err)
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected ErrBadHandshake to stay reachable, got %v", err)
	}
}

func TestWebSocketConnRoundTrip(t *testing.T) {
	url, conns := upgradeServer(t)

	tr := NewWebSocketTransport(url,
		WithLogger(zaptest.NewLogger(t)),
		WithHandshakeTimeout(2*time.Second),
		WithWriteTimeout(time.Second))
	conn, err := tr.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect err=%v", err)
	}

	var server *websocket.Conn
	select {
	case server = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for upgrade")
	}
	defer server.Close()

	if err := conn.Send([]byte(`{"type":"message","content":"hi"}`)); err != nil {
		t.Fatalf("Send err=%v", err)
	}
	_, data, err := server.ReadMessage()
	if err != nil || string(data) != `{"type":"message","content":"hi"}` {
		t.Fatalf("server read %q err=%v", data, err)
	}

	if err := server.WriteMessage(websocket.TextMessage, []byte("a\nb")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	got, err := conn.Receive()
	if err != nil || string(got) != "a\nb" {
		t.Fatalf("Receive %q err=%v", got, err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close err=%v", err)
	}
	if err := conn.Send([]byte("late")); err != ErrConnClosed {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}
