// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package tailer drains newly appended bytes from one tracked file into
// line batches without breaking line boundaries, grounded on the
// teacher's pkg/input/tailer/tailer_windows.go (offset bookkeeping,
// drain-then-wait loop) and lattwood-datadog-agent's
// pkg/logs/internal/tailers/file/tailer.go (cooperative stop/done
// channels).
package tailer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/SupersonicAds/tailf2kafka/internal/position"
)

// Batch is the hand-off unit between a Tailer and the Publisher: an
// ordered list of complete line payloads plus the file offset immediately
// after the last line. It never contains a partial trailing line.
type Batch struct {
	Path      string
	Topic     string
	Lines     []string
	NewOffset int64
}

// Submitter is the narrow interface the Tailer needs from the Publisher:
// hand off a batch, blocking if the bounded queue is full. This is the
// designed backpressure point (spec §5).
type Submitter interface {
	Submit(ctx context.Context, b *Batch) error
}

const readChunkSize = 64 * 1024

// Tailer drains one TrackedFile's content into Batches.
type Tailer struct {
	tf    *position.TrackedFile
	topic string

	maxBatchLines int
	maxBatches    int

	submitter Submitter
	log       *logrus.Entry

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	// reader wraps the TrackedFile's open handle. It is created once, in
	// Start, and reused across every drain iteration so that bytes
	// bufio read ahead from the kernel but didn't yet hand back as a
	// complete line stay buffered instead of being silently dropped
	// when a drain stops mid-chunk (e.g. because maxBatchLines was hit).
	reader *bufio.Reader

	// readOffset is the Tailer's own notion of how far it has read, which
	// may run ahead of tf's committed (acked) offset while batches are
	// in flight to the broker.
	readOffset int64
}

// New constructs a Tailer for tf, not yet started.
func New(tf *position.TrackedFile, topic string, maxBatchLines, maxBatches int, submitter Submitter, log *logrus.Entry) *Tailer {
	return &Tailer{
		tf:            tf,
		topic:         topic,
		maxBatchLines: maxBatchLines,
		maxBatches:    maxBatches,
		submitter:     submitter,
		log:           log.WithField("path", tf.Path),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		readOffset:    tf.Offset(),
	}
}

// Start opens the file at the TrackedFile's committed offset, performs the
// aggressive initial drain, then starts the goroutine that waits for
// Modify Watcher wakes.
func (t *Tailer) Start(ctx context.Context) error {
	f, err := os.Open(t.tf.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", t.tf.Path, err)
	}
	if _, err := f.Seek(t.readOffset, os.SeekStart); err != nil {
		f.Close()
		return fmt.Errorf("seeking %s to %d: %w", t.tf.Path, t.readOffset, err)
	}

	t.tf.Lock()
	t.tf.File = f
	t.reader = bufio.NewReaderSize(f, readChunkSize)
	t.tf.Unlock()

	// Initial catch-up: drain aggressively until a read returns empty,
	// regardless of the max-batches-per-wake bound.
	for {
		n, err := t.drainOne(ctx)
		if err != nil {
			t.log.WithError(err).Error("initial drain failed")
			return err
		}
		if n == 0 {
			break
		}
	}

	go t.run(ctx)
	return nil
}

// Wake notifies the Tailer that new data may be available. Non-blocking:
// if a wake is already pending, this is a no-op (coalesced).
func (t *Tailer) Wake() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Stop cooperatively cancels the Tailer and waits for it to close its file
// handle and exit.
func (t *Tailer) Stop() {
	close(t.stop)
	<-t.done
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			t.closeFile()
			return
		case <-ctx.Done():
			t.closeFile()
			return
		case <-t.wake:
			for i := 0; i < t.maxBatches; i++ {
				select {
				case <-t.stop:
					t.closeFile()
					return
				default:
				}
				n, err := t.drainOne(ctx)
				if err != nil {
					t.log.WithError(err).Error("read error, stopping tailer")
					t.closeFile()
					return
				}
				if n == 0 {
					break
				}
			}
		}
	}
}

// drainOne reads up to maxBatchLines complete lines (or until EOF) and
// submits them as one Batch. It returns the number of lines read.
func (t *Tailer) drainOne(ctx context.Context) (int, error) {
	t.tf.Lock()
	f := t.tf.File
	if f == nil {
		t.tf.Unlock()
		t.log.Warn("modify event for a file that is no longer open, dropping")
		return 0, nil
	}

	lines, newOffset, err := t.readLines(f)
	t.tf.Unlock()
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, nil
	}

	t.readOffset = newOffset
	batch := &Batch{
		Path:      t.tf.Path,
		Topic:     t.topic,
		Lines:     lines,
		NewOffset: newOffset,
	}
	if err := t.submitter.Submit(ctx, batch); err != nil {
		return 0, err
	}
	return len(lines), nil
}

// readLines reads from t.reader until EOF or maxBatchLines complete lines
// have been collected, carrying any partial trailing line in t.tf.Partial
// across calls. Lines are stripped of surrounding whitespace before being
// returned, per spec. t.reader is reused across calls so bytes read ahead
// from the kernel but not yet returned as a complete line (e.g. because
// maxBatchLines was reached mid-chunk) are never lost.
func (t *Tailer) readLines(f *os.File) ([]string, int64, error) {
	var lines []string

	for len(lines) < t.maxBatchLines {
		chunk, err := t.reader.ReadBytes('\n')
		if len(chunk) > 0 {
			if chunk[len(chunk)-1] == '\n' {
				full := append(t.tf.Partial, chunk...)
				t.tf.Partial = nil
				lines = append(lines, strings.TrimSpace(string(bytes.TrimSuffix(full, []byte("\n")))))
			} else {
				// partial trailing line at EOF: carry it forward.
				t.tf.Partial = append(t.tf.Partial, chunk...)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("reading %s: %w", t.tf.Path, err)
		}
	}

	newOffset, err := f.Seek(0, os.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("getting current offset for %s: %w", t.tf.Path, err)
	}
	// Seek(0, SeekCurrent) on the *os.File reports the underlying fd
	// position, which already includes everything t.reader buffered
	// ahead of what it has handed back; rewind by what remains buffered,
	// and by the carried partial line, so NewOffset reflects only bytes
	// actually consumed into complete lines.
	newOffset -= int64(t.reader.Buffered())
	newOffset -= int64(len(t.tf.Partial))

	return lines, newOffset, nil
}

// closeFile closes the underlying file handle, if still open.
func (t *Tailer) closeFile() {
	t.tf.Lock()
	if t.tf.File != nil {
		t.tf.File.Close()
		t.tf.File = nil
	}
	t.tf.Unlock()
}
