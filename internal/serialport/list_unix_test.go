//go:build !windows

package serialport

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestListCandidatePorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ttyUSB0", "ttyUSB1", "ttyACM0", "ttyS0", "ttyAMA0"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	l := NewLister([]string{
		filepath.Join(dir, "tty[UA][A-Za-z]*"),
		filepath.Join(dir, "ttyUSB*"),
	})
	got, err := l.ListCandidatePorts()
	if err != nil {
		t.Fatalf("ListCandidatePorts: %v", err)
	}
	want := []string{
		filepath.Join(dir, "ttyACM0"),
		filepath.Join(dir, "ttyAMA0"),
		filepath.Join(dir, "ttyUSB0"),
		filepath.Join(dir, "ttyUSB1"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestListBadPattern(t *testing.T) {
	l := NewLister([]string{"[unterminated"})
	if _, err := l.ListCandidatePorts(); err == nil {
		t.Fatal("expected error for malformed pattern")
	}
}

func TestNewListerDefaults(t *testing.T) {
	if got := NewLister(nil).Patterns; !reflect.DeepEqual(got, DefaultPatterns) {
		t.Fatalf("patterns = %v", got)
	}
}
