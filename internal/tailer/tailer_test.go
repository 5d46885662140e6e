// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package tailer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SupersonicAds/tailf2kafka/internal/position"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	batches []*Batch
	notify  chan struct{}
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{notify: make(chan struct{}, 64)}
}

func (f *fakeSubmitter) Submit(ctx context.Context, b *Batch) error {
	f.mu.Lock()
	f.batches = append(f.batches, b)
	f.mu.Unlock()
	f.notify <- struct{}{}
	return nil
}

func (f *fakeSubmitter) waitForBatches(t *testing.T, n int) []*Batch {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		f.mu.Lock()
		got := len(f.batches)
		f.mu.Unlock()
		if got >= n {
			f.mu.Lock()
			defer f.mu.Unlock()
			return append([]*Batch(nil), f.batches...)
		}
		select {
		case <-f.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d batches, got %d", n, got)
		}
	}
}

func newTrackedFile(t *testing.T, path string) *position.TrackedFile {
	t.Helper()
	s := position.New(filepath.Join(t.TempDir(), "position.txt"), logrus.NewEntry(logrus.New()))
	return s.Upsert(path, "%Y-%m-%d", "topic-a", 1, 0)
}

func TestTailerFreshTailFromEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, make([]byte, 500), 0644))

	tf := newTrackedFile(t, path)
	// simulate from_begining=false: start reading from the existing size.
	fi, err := os.Stat(path)
	require.NoError(t, err)
	startOffset := fi.Size()

	sub := newFakeSubmitter()
	tail := New(tf, "topic-a", 1024, 10, sub, logrus.NewEntry(logrus.New()))
	tail.readOffset = startOffset

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tail.Start(ctx))
	defer tail.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("hello\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	tail.Wake()

	batches := sub.waitForBatches(t, 1)
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"hello"}, batches[0].Lines)
	assert.Equal(t, startOffset+6, batches[0].NewOffset)
}

func TestTailerStartupCatchUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	content := make([]byte, 100)
	content = append(content, []byte("a\nb\na\nb\n")...)
	require.NoError(t, os.WriteFile(path, content, 0644))

	tf := newTrackedFile(t, path)
	sub := newFakeSubmitter()
	tail := New(tf, "topic-a", 1024, 10, sub, logrus.NewEntry(logrus.New()))
	tail.readOffset = 100

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tail.Start(ctx))
	defer tail.Stop()

	batches := sub.waitForBatches(t, 1)
	assert.Equal(t, []string{"a", "b", "a", "b"}, batches[0].Lines)
	assert.Equal(t, int64(108), batches[0].NewOffset)
}

func TestTailerPartialLineAcrossReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	tf := newTrackedFile(t, path)
	sub := newFakeSubmitter()
	tail := New(tf, "topic-a", 2, 10, sub, logrus.NewEntry(logrus.New()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tail.Start(ctx))
	defer tail.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("x\ny\nz")
	require.NoError(t, err)
	tail.Wake()

	batches := sub.waitForBatches(t, 1)
	assert.Equal(t, []string{"x", "y"}, batches[0].Lines)

	_, err = f.WriteString("zz\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	tail.Wake()

	batches = sub.waitForBatches(t, 2)
	assert.Equal(t, []string{"zzz"}, batches[1].Lines)
}

func TestTailerStopClosesFileHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	tf := newTrackedFile(t, path)
	sub := newFakeSubmitter()
	tail := New(tf, "topic-a", 1024, 10, sub, logrus.NewEntry(logrus.New()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tail.Start(ctx))

	tail.Stop()
	tf.Lock()
	defer tf.Unlock()
	assert.Nil(t, tf.File)
}
