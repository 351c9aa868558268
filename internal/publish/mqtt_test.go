package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"thermoboard-agent/internal/sensor"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type pendingToken struct{ doneToken }

func (pendingToken) Done() <-chan struct{} { return make(chan struct{}) }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes; methods not overridden panic if called.
type fakeClient struct {
	mqtt.Client
	mu      sync.Mutex
	msgs    []message
	token   mqtt.Token
	failFor string
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, message{topic, qos, retained, payload.([]byte)})
	if topic == c.failFor {
		return doneToken{err: errors.New("not connected")}
	}
	if c.token != nil {
		return c.token
	}
	return doneToken{}
}

func (c *fakeClient) Connect() mqtt.Token { return doneToken{} }
func (c *fakeClient) IsConnected() bool   { return false }

func value(v float64) *float64 { return &v }

func testConfig() Config {
	return Config{TopicPrefix: "thermoboard", HostID: "host1", QoS: 1, Retained: true}
}

func TestPublish(t *testing.T) {
	client := &fakeClient{}
	m := newWithClient(testConfig(), client, zerolog.Nop())

	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	err := m.Publish(context.Background(), []sensor.Info{
		{Name: "boiler", Board: "board-1", Pin: 2, Connected: true, Value: value(61.5), ReadAt: at},
		{Name: "attic", Board: "board-1", Pin: 3, Connected: true},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(client.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(client.msgs))
	}
	msg := client.msgs[0]
	if msg.topic != "thermoboard/host1/boiler" || msg.qos != 1 || !msg.retained {
		t.Fatalf("unexpected message %+v", msg)
	}

	var r Reading
	if err := json.Unmarshal(msg.payload, &r); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if r.Sensor != "boiler" || r.Board != "board-1" || r.Pin != 2 || r.Temperature != 61.5 || r.HostID != "host1" {
		t.Fatalf("unexpected reading %+v", r)
	}
	if !r.Timestamp.Equal(at) || r.ID == "" {
		t.Fatalf("unexpected reading id/time %+v", r)
	}
}

func TestPublishContinuesAfterFailure(t *testing.T) {
	client := &fakeClient{failFor: "thermoboard/host1/a"}
	m := newWithClient(testConfig(), client, zerolog.Nop())

	err := m.Publish(context.Background(), []sensor.Info{
		{Name: "a", Value: value(1)},
		{Name: "b", Value: value(2)},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(client.msgs) != 2 {
		t.Fatalf("expected both messages attempted, got %d", len(client.msgs))
	}
}

func TestPublishCancelled(t *testing.T) {
	client := &fakeClient{token: pendingToken{}}
	m := newWithClient(testConfig(), client, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := m.Publish(ctx, []sensor.Info{{Name: "a", Value: value(1)}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTopic(t *testing.T) {
	tests := map[string]string{
		"boiler":       "p/h/boiler",
		"room/kitchen": "p/h/room_kitchen",
		"a+b#c":        "p/h/a_b_c",
	}
	for name, want := range tests {
		if got := Topic("p", "h", name); got != want {
			t.Errorf("Topic(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestCloseWhenDisconnected(t *testing.T) {
	m := newWithClient(testConfig(), &fakeClient{}, zerolog.Nop())
	m.Close()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}
