package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
)

func TestMessagesSendsPagingAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("page_size") != "10" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected Authorization %q", got)
		}
		_, _ = w.Write([]byte(`{"code":200,"message":"success","data":{"list":[{"id":3,"content":"hi","username":"a","status":1,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}],"total":11,"page":2,"page_size":10}}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithToken("tok"))
	page, err := c.Messages(context.Background(), 2, 10)
	if err != nil {
		t.Fatalf("Messages err=%v", err)
	}
	if page.Total != 11 || len(page.List) != 1 || page.List[0].Content != "hi" {
		t.Fatalf("unexpected page %#v", page)
	}
}

func TestNonOKCodeIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":500,"message":"boom"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithLogger(zaptest.NewLogger(t))).OnlineInfo(context.Background())
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != 500 || apiErr.Message != "boom" {
		t.Fatalf("unexpected error %#v", apiErr)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatalf("500 must not match ErrUnauthorized")
	}
}

func TestUnauthorized(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "envelope code", status: http.StatusOK, body: `{"code":401,"message":"expired"}`},
		{name: "http status", status: http.StatusUnauthorized, body: `{"code":401,"message":"missing token"}`},
		{name: "http status without envelope", status: http.StatusUnauthorized, body: `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := New(srv.URL).Kick(context.Background(), "c1", "")
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestBroadcastPostsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/admin/chat/broadcast" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req BroadcastRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.Content != "maintenance" || req.Priority != 1 || req.Target != "chat" {
			t.Errorf("unexpected body %#v", req)
		}
		_, _ = w.Write([]byte(`{"code":200,"message":"success","data":{"id":9,"content":"maintenance","username":"system","is_broadcast":true,"status":1,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}}`))
	}))
	defer srv.Close()

	msg, err := New(srv.URL).Broadcast(context.Background(), BroadcastRequest{Content: "maintenance", Priority: 1, Target: "chat"})
	if err != nil {
		t.Fatalf("Broadcast err=%v", err)
	}
	if msg.ID != 9 || !msg.IsBroadcast {
		t.Fatalf("unexpected message %#v", msg)
	}
}

func TestChatSettings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"message":"success","data":{"chat_mute_all":"1"}}`))
	}))
	defer srv.Close()

	s, err := New(srv.URL).ChatSettings(context.Background())
	if err != nil {
		t.Fatalf("ChatSettings err=%v", err)
	}
	if !s.Muted() {
		t.Fatalf("expected muted settings, got %#v", s)
	}
}
