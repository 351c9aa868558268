package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"thermoboard-agent/internal/board"
	"thermoboard-agent/internal/board/boardtest"
	"thermoboard-agent/internal/config"
	"thermoboard-agent/internal/registry"

	"github.com/rs/zerolog"
)

func TestRunDiscoverMeasurePrintsTemperatures(t *testing.T) {
	ports := boardtest.NewPorts()
	dev := boardtest.NewDevice(2)
	dev.SetValue(0, 512)
	dev.SetValue(1, 307)
	ports.Add("/dev/ttyUSB0", dev)
	ports.AddBroken("/dev/ttyUSB1", errors.New("permission denied"))

	reg := registry.New(ports, ports, board.Options{
		HandshakeTimeout: 200 * time.Millisecond,
		ReadTimeout:      200 * time.Millisecond,
		Logger:           zerolog.Nop(),
	}, zerolog.Nop())
	defer reg.Close()

	var out bytes.Buffer
	if err := runDiscover(context.Background(), reg, true, &out); err != nil {
		t.Fatalf("runDiscover: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"board-1",
		"board-1-A0",
		fmt.Sprintf("%.2f", board.PinValueToTemperature(512)),
		fmt.Sprintf("%.2f", board.PinValueToTemperature(307)),
		"/dev/ttyUSB1",
		"permission denied",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestRunDiscoverWithoutMeasure(t *testing.T) {
	ports := boardtest.NewPorts()
	ports.Add("/dev/ttyUSB0", boardtest.NewDevice(3))
	reg := registry.New(ports, ports, board.Options{HandshakeTimeout: 200 * time.Millisecond, Logger: zerolog.Nop()}, zerolog.Nop())
	defer reg.Close()

	var out bytes.Buffer
	if err := runDiscover(context.Background(), reg, false, &out); err != nil {
		t.Fatalf("runDiscover: %v", err)
	}
	if strings.Contains(out.String(), "TEMPERATURE") {
		t.Fatalf("sensor table printed without -measure:\n%s", out.String())
	}
	if ports.Device("/dev/ttyUSB0").Enabled(0) {
		t.Fatal("discover without -measure must not connect sensors")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "thermoboard.json")
	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("writeDefaultConfig: %v", err)
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.API.Listen != config.Default().API.Listen {
		t.Fatalf("listen = %q", cfg.API.Listen)
	}

	// an existing file is left alone
	if err := os.WriteFile(path, []byte(`{"api":{"listen":"0.0.0.0:1"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("second writeDefaultConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "0.0.0.0:1") {
		t.Fatalf("existing config overwritten: %s", data)
	}
}
