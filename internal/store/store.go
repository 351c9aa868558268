// Package store replaces small state files on disk without leaving a
// truncated file behind when the process dies mid-write.
package store

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// AtomicWrite replaces path with data. Readers see either the old contents
// or the new ones.
func AtomicWrite(path string, data []byte, perm fs.FileMode) error {
	return Replace(path, perm, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
}

// Replace streams the new contents of path through fill into a sibling
// temp file and renames it over path once fill succeeds. If fill or any
// later step fails, path is untouched and the temp file is removed.
func Replace(path string, perm fs.FileMode, fill func(io.Writer) error) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+base+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	staged := &stagedFile{f: f}
	defer staged.discard()

	bw := bufio.NewWriter(f)
	if err := fill(bw); err != nil {
		return fmt.Errorf("fill %s: %w", base, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", f.Name(), err)
	}
	if err := staged.commit(path, perm); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// stagedFile is a temp file that is removed unless commit renamed it.
type stagedFile struct {
	f         *os.File
	closed    bool
	committed bool
}

func (s *stagedFile) commit(path string, perm fs.FileMode) error {
	name := s.f.Name()
	if err := s.f.Chmod(perm); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", name, err)
	}
	s.closed = true
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	s.committed = true
	return nil
}

func (s *stagedFile) discard() {
	if s.committed {
		return
	}
	if !s.closed {
		s.f.Close()
	}
	os.Remove(s.f.Name())
}

// syncDir flushes the rename itself. Best effort: some filesystems refuse
// to fsync a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
