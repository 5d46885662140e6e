// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package position owns the durable path -> (pattern, topic, inode, offset)
// mapping and its on-disk text representation, generalizing the teacher's
// JSON-registry-of-offsets auditor to the line-oriented position file this
// module's restart contract requires.
package position

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/SupersonicAds/tailf2kafka/internal/fsutil"
)

// TrackedFile is one tracked path's mutable read state. The committed
// offset is only ever advanced by the Publisher, through Store.Advance.
type TrackedFile struct {
	Path    string
	Pattern string
	Topic   string
	Inode   uint64

	// mu guards File and Partial, the Tailer's per-file read state.
	mu      sync.Mutex
	File    *os.File
	Partial []byte

	offsetMu        sync.Mutex
	committedOffset int64
}

// Lock/Unlock expose the per-file mutex to the Tailer and Modify Watcher,
// so read state (file handle position, partial line remainder) is never
// touched concurrently.
func (t *TrackedFile) Lock()   { t.mu.Lock() }
func (t *TrackedFile) Unlock() { t.mu.Unlock() }

// Offset returns the last offset acknowledged by the broker.
func (t *TrackedFile) Offset() int64 {
	t.offsetMu.Lock()
	defer t.offsetMu.Unlock()
	return t.committedOffset
}

func (t *TrackedFile) setOffset(off int64) {
	t.offsetMu.Lock()
	defer t.offsetMu.Unlock()
	t.committedOffset = off
}

// Store is the single source of truth for the TrackedFile table. A single
// mutex serializes all table mutation and flush-snapshot construction,
// mirroring the teacher's auditor.registryMutex.
type Store struct {
	path string

	mu    sync.Mutex
	table map[string]*TrackedFile

	log *logrus.Entry
}

// New returns an empty Store bound to the given position file path.
func New(path string, log *logrus.Entry) *Store {
	return &Store{
		path:  path,
		table: make(map[string]*TrackedFile),
		log:   log,
	}
}

// Load parses the position file and accepts each record whose path still
// exists on disk, whose current inode matches the recorded inode, and
// whose current size is at least the recorded offset. Records failing any
// of those checks are silently dropped; rediscovery happens via the
// Startup Recovery filesystem scan.
func (s *Store) Load() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening position file %s: %w", s.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			s.log.WithFields(logrus.Fields{"line": lineNo, "error": err}).Warn("skipping malformed position record")
			continue
		}
		if !s.accept(rec) {
			continue
		}
		s.mu.Lock()
		s.table[rec.Path] = &TrackedFile{
			Path:            rec.Path,
			Pattern:         rec.Pattern,
			Topic:           rec.Topic,
			Inode:           rec.Inode,
			committedOffset: rec.Offset,
		}
		s.mu.Unlock()
	}
	return scanner.Err()
}

// accept implements the stale-record rejection policy: missing file,
// inode mismatch, or a size smaller than the recorded offset (truncation)
// all reject the record.
func (s *Store) accept(rec PositionRecord) bool {
	fi, err := os.Stat(rec.Path)
	if err != nil {
		return false
	}
	inode, ok := fsutil.Inode(rec.Path)
	if !ok || inode != rec.Inode {
		return false
	}
	if fi.Size() < rec.Offset {
		return false
	}
	return true
}

// Upsert adds a TrackedFile if path is not already tracked; idempotent.
func (s *Store) Upsert(path, pattern, topic string, inode uint64, offset int64) *TrackedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tf, ok := s.table[path]; ok {
		return tf
	}
	tf := &TrackedFile{
		Path:            path,
		Pattern:         pattern,
		Topic:           topic,
		Inode:           inode,
		committedOffset: offset,
	}
	s.table[path] = tf
	return tf
}

// Get returns the TrackedFile for path, if tracked.
func (s *Store) Get(path string) (*TrackedFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, ok := s.table[path]
	return tf, ok
}

// Advance is called only by the Publisher, after a batch for path has been
// acknowledged by the broker. It is monotonic: an offset older than the
// current commit is ignored.
func (s *Store) Advance(path string, offset int64) {
	s.mu.Lock()
	tf, ok := s.table[path]
	s.mu.Unlock()
	if !ok {
		return
	}
	if offset > tf.Offset() {
		tf.setOffset(offset)
	}
}

// Remove stops tracking path, closing its file handle if still open.
func (s *Store) Remove(path string) {
	s.mu.Lock()
	tf, ok := s.table[path]
	if ok {
		delete(s.table, path)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	tf.Lock()
	if tf.File != nil {
		tf.File.Close()
		tf.File = nil
	}
	tf.Unlock()
}

// Snapshot returns the current table as PositionRecords, stable for a
// single flush.
func (s *Store) Snapshot() []PositionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]PositionRecord, 0, len(s.table))
	for _, tf := range s.table {
		recs = append(recs, PositionRecord{
			Path:    tf.Path,
			Pattern: tf.Pattern,
			Topic:   tf.Topic,
			Inode:   tf.Inode,
			Offset:  tf.Offset(),
		})
	}
	return recs
}

// Flush atomically rewrites the position file in full from the current
// table, via write-temp-then-rename so a crash mid-flush can never tear
// the file (spec's open design question, resolved as a correctness
// improvement).
func (s *Store) Flush() error {
	recs := s.Snapshot()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".position-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp position file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, r := range recs {
		if _, err := fmt.Fprintf(w, "%s %s %s %d %d\n", r.Path, r.Pattern, r.Topic, r.Inode, r.Offset); err != nil {
			tmp.Close()
			return fmt.Errorf("writing position record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing position buffer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp position file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming temp position file into place: %w", err)
	}
	return nil
}

// PositionRecord is one line of the on-disk position file.
type PositionRecord struct {
	Path, Pattern, Topic string
	Inode                uint64
	Offset               int64
}

func parseRecord(line string) (PositionRecord, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return PositionRecord{}, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}
	inode, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return PositionRecord{}, fmt.Errorf("parsing inode: %w", err)
	}
	offset, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return PositionRecord{}, fmt.Errorf("parsing offset: %w", err)
	}
	return PositionRecord{
		Path:    fields[0],
		Pattern: fields[1],
		Topic:   fields[2],
		Inode:   inode,
		Offset:  offset,
	}, nil
}
