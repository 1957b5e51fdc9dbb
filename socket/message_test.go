package socket

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

func TestParseFrameDecodesEveryLineInOrder(t *testing.T) {
	frame := []byte(`{"type":"history","data":[{"id":1,"content":"a","username":"x","status":1}]}` + "\n" +
		`{"type":"user_join","data":{"id":"u1","username":"alice"}}` + "\n" +
		`{"type":"user_list","data":{"online_count":1,"online_users":[{"id":"u1","username":"alice"}]}}`)

	msgs, err := ParseFrame(frame)
	if err != nil {
		t.Fatalf("ParseFrame err=%v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	want := []Kind{KindHistory, KindUserJoin, KindUserList}
	for i, m := range msgs {
		if m.Kind != want[i] {
			t.Fatalf("message %d: expected kind %s, got %s", i, want[i], m.Kind)
		}
	}

	h, ok := msgs[0].Payload.(*History)
	if !ok || len(*h) != 1 || (*h)[0].Content != "a" {
		t.Fatalf("unexpected history payload: %#v", msgs[0].Payload)
	}
	j, ok := msgs[1].Payload.(*UserJoin)
	if !ok || j.Username != "alice" {
		t.Fatalf("unexpected user_join payload: %#v", msgs[1].Payload)
	}
	list, ok := msgs[2].Payload.(*OnlineInfo)
	if !ok || list.OnlineCount != 1 || len(list.OnlineUsers) != 1 {
		t.Fatalf("unexpected user_list payload: %#v", msgs[2].Payload)
	}
}

func TestParseFrameSkipsMalformedLine(t *testing.T) {
	frame := []byte(`{"type":"message","data":{"content":"one"}}` + "\n" +
		`{not json` + "\n" +
		`{"type":"message","data":{"content":"three"}}`)

	msgs, err := ParseFrame(frame)
	if err == nil {
		t.Fatalf("expected an error for the malformed line")
	}
	if n := len(multierr.Errors(err)); n != 1 {
		t.Fatalf("expected 1 line error, got %d: %v", n, err)
	}
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Payload.(*ChatMessage).Content != "one" || msgs[1].Payload.(*ChatMessage).Content != "three" {
		t.Fatalf("unexpected contents: %#v %#v", msgs[0].Payload, msgs[1].Payload)
	}
}

func TestParseMessageKeepsDecodeError(t *testing.T) {
	_, err := ParseMessage([]byte(`{not json`))
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("expected the json syntax error to stay reachable, got %v", err)
	}
}

func TestParseFrameIgnoresBlankLines(t *testing.T) {
	frame := []byte("\n  \n" + `{"type":"kick","data":{"reason":"bye"}}` + "\n\n")

	msgs, err := ParseFrame(frame)
	if err != nil {
		t.Fatalf("ParseFrame err=%v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if k := msgs[0].Payload.(*Kick); k.Reason != "bye" {
		t.Fatalf("expected reason bye, got %q", k.Reason)
	}
}

func TestParseFrameUnknownKind(t *testing.T) {
	msgs, err := ParseFrame([]byte(`{"type":"typing","data":{}}`))
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestParseMessageWithoutData(t *testing.T) {
	m, err := ParseMessage([]byte(`{"type":"user_list","timestamp":1700000000000}`))
	if err != nil {
		t.Fatalf("ParseMessage err=%v", err)
	}
	if m.Timestamp != 1700000000000 {
		t.Fatalf("unexpected timestamp %d", m.Timestamp)
	}
	if info := m.Payload.(*OnlineInfo); info.OnlineCount != 0 || info.OnlineUsers != nil {
		t.Fatalf("expected empty online info, got %#v", info)
	}
}

func TestOnlineInfoAcceptsBareArray(t *testing.T) {
	var info OnlineInfo
	if err := json.Unmarshal([]byte(`[{"id":"a","username":"A"},{"id":"b","username":"B"}]`), &info); err != nil {
		t.Fatalf("Unmarshal err=%v", err)
	}
	if info.OnlineCount != 2 || info.OnlineUsers[1].Username != "B" {
		t.Fatalf("unexpected online info: %#v", info)
	}
}

func TestSystemNoticeText(t *testing.T) {
	msgs, err := ParseFrame([]byte(`{"type":"system","data":{"message":"muted"}}` + "\n" +
		`{"type":"system","data":{"content":"maintenance at 5","is_broadcast":true,"priority":2}}`))
	if err != nil {
		t.Fatalf("ParseFrame err=%v", err)
	}

	notice := msgs[0].Payload.(*SystemNotice)
	if notice.Text() != "muted" || notice.ChatMessage != nil {
		t.Fatalf("unexpected notice: %#v", notice)
	}
	broadcast := msgs[1].Payload.(*SystemNotice)
	if broadcast.Text() != "maintenance at 5" || !broadcast.IsBroadcast || broadcast.Priority != 2 {
		t.Fatalf("unexpected broadcast: %#v", broadcast)
	}
}

func TestEncodeMessageRoundTripsThroughParseFrame(t *testing.T) {
	data, err := EncodeMessage(&Kick{Reason: "spam"}, 42)
	if err != nil {
		t.Fatalf("EncodeMessage err=%v", err)
	}
	m, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage err=%v", err)
	}
	if m.Kind != KindKick || m.Timestamp != 42 || m.Payload.(*Kick).Reason != "spam" {
		t.Fatalf("unexpected message: %#v", m)
	}
}

func TestEncodeOutboundKindWins(t *testing.T) {
	data, err := EncodeOutbound(KindMessage, map[string]any{"type": "system", "content": "hello"})
	if err != nil {
		t.Fatalf("EncodeOutbound err=%v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal err=%v", err)
	}
	if got["type"] != "message" || got["content"] != "hello" || len(got) != 2 {
		t.Fatalf("unexpected outbound document: %s", data)
	}
}
