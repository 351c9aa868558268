package settings

import (
	"errors"
	"io/fs"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	in := "boiler;1\nboard-1-A1;0\r\n\nattic;1\n"
	got, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Entry{
		{Name: "boiler", Connected: true},
		{Name: "board-1-A1", Connected: false},
		{Name: "attic", Connected: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{
		"boiler\n",
		"boiler;2\n",
		"a;b;1\n",
		"boiler;yes\n",
	} {
		if _, err := Parse(strings.NewReader(in)); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestParseRejectsEmptyName(t *testing.T) {
	_, err := Parse(strings.NewReader("boiler;1\n;1\n"))
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestFormat(t *testing.T) {
	got := string(Format([]Entry{{Name: "a", Connected: true}, {Name: "b"}}))
	if got != "a;1\nb;0\n" {
		t.Fatalf("got %q", got)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.txt")
	entries := []Entry{{Name: "boiler", Connected: true}, {Name: "board-1-A1"}}
	if err := Save(path, entries); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, entries) {
		t.Fatalf("got %+v", got)
	}
}

func TestSaveRejectsBadNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.txt")
	err := Save(path, []Entry{{Name: "a;b"}})
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestValidName(t *testing.T) {
	for name, want := range map[string]bool{
		"boiler":     true,
		"":           false,
		"a;b":        false,
		"line\nx":    false,
		"tab\tok":    true,
		"board-1-A0": true,
	} {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v", name, got)
		}
	}
}
