package sensor

import (
	"math"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	s := New(1, "board-2", 3)
	if s.Name() != "board-2-A3" {
		t.Fatalf("unexpected default name %q", s.Name())
	}
	if s.Board() != 1 || s.Pin() != 3 {
		t.Fatalf("unexpected board/pin %d/%d", s.Board(), s.Pin())
	}
	if s.Connected() {
		t.Fatal("new sensor should be disconnected")
	}
	if _, ok := s.Value(); ok {
		t.Fatal("new sensor should have no value")
	}
}

func TestStateMutations(t *testing.T) {
	s := New(0, "board-1", 0)

	s.Connect()
	if !s.Connected() {
		t.Fatal("expected connected after Connect")
	}
	s.Disconnect()
	if s.Connected() {
		t.Fatal("expected disconnected after Disconnect")
	}

	s.Rename("boiler")
	if s.Name() != "boiler" {
		t.Fatalf("rename failed: %q", s.Name())
	}

	s.SetValue(21.5)
	v, ok := s.Value()
	if !ok || v != 21.5 {
		t.Fatalf("unexpected value %v %v", v, ok)
	}
	if s.ReadAt().IsZero() {
		t.Fatal("expected read time to be set")
	}
}

func TestInfo(t *testing.T) {
	s := New(0, "board-1", 2)
	info := s.Info("board-1")
	if info.Value != nil {
		t.Fatal("expected nil value before measurement")
	}

	s.Connect()
	s.SetValue(-3.25)
	info = s.Info("board-1")
	if info.Value == nil || *info.Value != -3.25 {
		t.Fatalf("unexpected info value %+v", info)
	}
	if !info.Connected || info.Pin != 2 || info.Board != "board-1" {
		t.Fatalf("unexpected info %+v", info)
	}

	// the snapshot must not alias the sensor
	s.SetValue(10)
	if *info.Value != -3.25 {
		t.Fatal("snapshot changed with the sensor")
	}
}

func TestInfoOutOfRange(t *testing.T) {
	s := New(0, "board-1", 0)
	s.SetValue(math.Inf(1))

	if v, ok := s.Value(); !ok || !math.IsInf(v, 1) {
		t.Fatalf("sensor should keep the raw value, got %v %v", v, ok)
	}
	info := s.Info("board-1")
	if info.Value != nil || !info.OutOfRange || info.ReadAt.IsZero() {
		t.Fatalf("unexpected info %+v", info)
	}
}
