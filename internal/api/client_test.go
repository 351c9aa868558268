package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClientAgainstServer(t *testing.T) {
	s, ports := newTestServer(t)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)

	client := NewClient(hs.URL)
	client.HTTP = hs.Client()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil || health["status"] != "ok" {
		t.Fatalf("Health: %v %v", health, err)
	}

	boards, err := client.Boards(ctx)
	if err != nil || boards.Count != 1 {
		t.Fatalf("Boards: %+v %v", boards, err)
	}

	rej, err := client.Rejections(ctx)
	if err != nil || len(rej) != 1 {
		t.Fatalf("Rejections: %+v %v", rej, err)
	}

	ok, err := client.Rename(ctx, "board-1-A1", "room/kitchen")
	if err != nil || !ok {
		t.Fatalf("Rename: %v %v", ok, err)
	}
	ok, err = client.Connect(ctx, "room/kitchen")
	if err != nil || !ok {
		t.Fatalf("Connect: %v %v", ok, err)
	}
	if !ports.Device("/dev/ttyUSB0").Enabled(1) {
		t.Fatal("device pin 1 should be enabled")
	}

	sensors, err := client.Sensors(ctx, true)
	if err != nil || sensors.Count != 1 || sensors.Sensors[0].Name != "room/kitchen" {
		t.Fatalf("Sensors: %+v %v", sensors, err)
	}

	m, err := client.Measure(ctx)
	if err != nil || len(m.Sensors) != 1 || m.Sensors[0].Value == nil {
		t.Fatalf("Measure: %+v %v", m, err)
	}

	ok, err = client.Disconnect(ctx, "room/kitchen")
	if err != nil || !ok {
		t.Fatalf("Disconnect: %v %v", ok, err)
	}

	scan, err := client.Scan(ctx)
	if err != nil || scan.ScanID == boards.ScanID {
		t.Fatalf("Scan: %+v %v", scan, err)
	}
}

func TestClientReportsServerError(t *testing.T) {
	s, _ := newTestServer(t)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)

	client := NewClient(hs.URL)
	_, err := client.Rename(context.Background(), "board-1-A0", "bad;name")
	if err == nil || !strings.Contains(err.Error(), "must not contain") {
		t.Fatalf("expected invalid name error, got %v", err)
	}
}

func TestNewClientAddsScheme(t *testing.T) {
	if c := NewClient("127.0.0.1:9035"); c.BaseURL != "http://127.0.0.1:9035" {
		t.Fatalf("unexpected base %q", c.BaseURL)
	}
	if c := NewClient("http://host:1/"); c.BaseURL != "http://host:1" {
		t.Fatalf("unexpected base %q", c.BaseURL)
	}
}
