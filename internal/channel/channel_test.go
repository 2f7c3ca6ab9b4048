package channel

import (
	"encoding/json"
	"errors"
	"testing"
)

type fakeConn struct {
	open bool
	fail bool
	got  []Message
}

func (f *fakeConn) Send(m Message) error {
	if f.fail {
		return errors.New("broken pipe")
	}
	f.got = append(f.got, m)
	return nil
}

func (f *fakeConn) Open() bool { return f.open }

func TestMessageWireShapes(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"connection", Connection("c1"), `{"type":"connection","message":"WebSocket connection established for configuration c1"}`},
		{"output", Output("hi"), `{"type":"output","content":"hi"}`},
		{"start", Start(0, 1, "hello"), `{"type":"start","promptIndex":0,"totalPrompts":1,"prompt":"hello"}`},
		{"start empty prompt", Start(2, 3, ""), `{"type":"start","promptIndex":2,"totalPrompts":3,"prompt":""}`},
		{"complete zero", Complete(0), `{"type":"complete","promptIndex":0}`},
		{"error", Error("boom"), `{"type":"error","message":"boom"}`},
		{"end", End("All prompts completed"), `{"type":"end","message":"All prompts completed"}`},
		{"heartbeat ack", HeartbeatAck(42), `{"type":"heartbeat_ack","timestamp":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, data)
			}
		})
	}
}

func TestMessageDecodesFromWire(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"type":"start","promptIndex":1,"totalPrompts":2,"prompt":"x"}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m != Start(1, 2, "x") {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestTerminal(t *testing.T) {
	if !End("x").Terminal() || !Error("x").Terminal() {
		t.Error("expected end and error to be terminal")
	}
	if Output("x").Terminal() || Complete(0).Terminal() {
		t.Error("expected output and complete to be non-terminal")
	}
}

func TestRegistrySingleSlot(t *testing.T) {
	r := NewRegistry()
	first := &fakeConn{open: true}
	second := &fakeConn{open: true}

	if prev := r.Register("c1", first); prev != nil {
		t.Error("expected no previous subscriber")
	}
	if prev := r.Register("c1", second); prev != first {
		t.Error("expected first subscriber to be replaced")
	}

	r.Sink("c1").Send(Output("x"))
	if len(first.got) != 0 || len(second.got) != 1 {
		t.Errorf("expected only the latest subscriber to receive, got %d and %d", len(first.got), len(second.got))
	}

	// Stale unregister must not evict the replacement
	r.Unregister("c1", first)
	if !r.Live("c1") {
		t.Error("expected second subscriber to remain")
	}
	r.Unregister("c1", second)
	if r.Live("c1") || r.Count() != 0 {
		t.Error("expected registry to be empty")
	}
}

func TestRegistryDropsWhenUnavailable(t *testing.T) {
	r := NewRegistry()
	if r.Send("nobody", Output("x")) {
		t.Error("expected drop for missing subscriber")
	}

	closed := &fakeConn{open: false}
	r.Register("c1", closed)
	if r.Live("c1") {
		t.Error("closed connection should not be live")
	}
	if r.Send("c1", Output("x")) {
		t.Error("expected drop for closed subscriber")
	}

	broken := &fakeConn{open: true, fail: true}
	r.Register("c2", broken)
	if r.Send("c2", Output("x")) {
		t.Error("expected failed send to report false")
	}
}

func TestSinkFollowsReconnect(t *testing.T) {
	r := NewRegistry()
	sink := r.Sink("c1")

	sink.Send(Start(0, 1, "a"))
	late := &fakeConn{open: true}
	r.Register("c1", late)
	sink.Send(Complete(0))

	if len(late.got) != 1 || late.got[0].Type != TypeComplete {
		t.Errorf("expected late subscriber to see only future events, got %+v", late.got)
	}
}

func TestTee(t *testing.T) {
	var a, b []Message
	s := Tee(SinkFunc(func(m Message) { a = append(a, m) }), SinkFunc(func(m Message) { b = append(b, m) }), Discard)
	s.Send(End("done"))
	if len(a) != 1 || len(b) != 1 {
		t.Errorf("expected both sinks to receive, got %d and %d", len(a), len(b))
	}
}
