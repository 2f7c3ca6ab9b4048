package natsbus

import (
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/maistro/internal/channel"
	"github.com/mtzanidakis/maistro/internal/config"
	"github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{Port: natsserver.RANDOM_PORT})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func newTestClient(t *testing.T, bus *Bus) *Client {
	t.Helper()
	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestPubSub(t *testing.T) {
	bus := newTestBus(t)
	client := newTestClient(t, bus)

	received := make(chan string, 1)
	_, err := client.Subscribe("test.topic", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.PublishJSON("test.topic", map[string]string{"key": "value"}); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != `{"key":"value"}` {
			t.Errorf("expected json, got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestTopics(t *testing.T) {
	if got := TopicExecution("c1"); got != "events.execution.c1" {
		t.Errorf("expected events.execution.c1, got %s", got)
	}
	if id, ok := ConfigIDFromTopic("events.execution.c1"); !ok || id != "c1" {
		t.Errorf("expected c1, got %q %v", id, ok)
	}
	if _, ok := ConfigIDFromTopic("events.other.c1"); ok {
		t.Error("expected foreign topic to be rejected")
	}
	if _, ok := ConfigIDFromTopic("events.execution."); ok {
		t.Error("expected empty id to be rejected")
	}
}

type fakeSender struct {
	mu  sync.Mutex
	got map[string][]channel.Message
	ch  chan struct{}
}

func (f *fakeSender) Send(configID string, m channel.Message) bool {
	f.mu.Lock()
	f.got[configID] = append(f.got[configID], m)
	f.mu.Unlock()
	f.ch <- struct{}{}
	return true
}

func TestSinkRelay(t *testing.T) {
	bus := newTestBus(t)
	gateway := newTestClient(t, bus)
	runner := newTestClient(t, bus)

	to := &fakeSender{got: map[string][]channel.Message{}, ch: make(chan struct{}, 8)}
	if _, err := gateway.Relay(to); err != nil {
		t.Fatalf("relay: %v", err)
	}
	gateway.Flush()

	sink := runner.Sink("cfg-1")
	sink.Send(channel.Start(0, 2, "hello"))
	sink.Send(channel.End("All prompts completed"))
	runner.Flush()

	for i := 0; i < 2; i++ {
		select {
		case <-to.ch:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for relayed message")
		}
	}

	to.mu.Lock()
	defer to.mu.Unlock()
	msgs := to.got["cfg-1"]
	if len(msgs) != 2 {
		t.Fatalf("expected 2 relayed messages, got %d", len(msgs))
	}
	if msgs[0] != channel.Start(0, 2, "hello") {
		t.Errorf("unexpected first message %+v", msgs[0])
	}
	if msgs[1].Type != channel.TypeEnd {
		t.Errorf("expected end, got %+v", msgs[1])
	}
}
