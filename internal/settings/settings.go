// Package settings reads and writes the sensor settings backup: one line per
// sensor, "name;0" or "name;1", in registry order.
package settings

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"thermoboard-agent/internal/store"
)

const separator = ";"

var ErrInvalidName = errors.New("sensor name must be non-empty and must not contain ';' or line breaks")

// Entry is the saved state of one sensor.
type Entry struct {
	Name      string
	Connected bool
}

// Parse reads entries from r. Blank lines are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, separator)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: expected name%sflag, got %q", lineNo, separator, line)
		}
		if !ValidName(parts[0]) {
			return nil, fmt.Errorf("line %d: %w", lineNo, ErrInvalidName)
		}
		var connected bool
		switch strings.TrimSpace(parts[1]) {
		case "0":
		case "1":
			connected = true
		default:
			return nil, fmt.Errorf("line %d: connected flag must be 0 or 1, got %q", lineNo, parts[1])
		}
		entries = append(entries, Entry{Name: parts[0], Connected: connected})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Format renders entries in file form.
func Format(entries []Entry) []byte {
	var buf bytes.Buffer
	writeEntries(&buf, entries)
	return buf.Bytes()
}

func writeEntries(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		flag := "0"
		if e.Connected {
			flag = "1"
		}
		if _, err := io.WriteString(w, e.Name+separator+flag+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// ValidName reports whether name can be stored in the settings file.
func ValidName(name string) bool {
	return name != "" && !strings.ContainsAny(name, separator+"\r\n")
}

// Load reads the settings file at path. A missing file yields an error
// matching fs.ErrNotExist.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

// Save atomically writes entries to path.
func Save(path string, entries []Entry) error {
	for _, e := range entries {
		if !ValidName(e.Name) {
			return fmt.Errorf("save %q: %w", e.Name, ErrInvalidName)
		}
	}
	err := store.Replace(path, 0o644, func(w io.Writer) error {
		return writeEntries(w, entries)
	})
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
