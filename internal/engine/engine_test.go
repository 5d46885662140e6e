// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package engine

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/SupersonicAds/tailf2kafka/internal/config"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

// TestEngineRecoversAndTailsPreexistingFile exercises Startup Recovery end
// to end with kafka.produce=false, so the dry-run broker stands in for a
// live cluster: a file already present when the Engine starts is tailed
// from its current size (from_begining=false), subsequent appends are
// picked up via the filesystem watcher, and the committed offset is
// durably flushed to the position file.
func TestEngineRecoversAndTailsPreexistingFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app-2024-01-01.log")
	require.NoError(t, os.WriteFile(logPath, []byte("seed\n"), 0644))

	cfg := &config.Config{
		Files: []config.FileSpec{
			{Topic: "app", Prefix: filepath.Join(dir, "app-"), Suffix: ".log", TimePattern: "%Y-%m-%d"},
		},
		PositionFile:  filepath.Join(dir, "position.txt"),
		FlushInterval: 20 * time.Millisecond,
		MaxBatchLines: 100,
		MaxBatches:    10,
		FromBeginning: false,
		ReapInterval:  time.Hour,
		Kafka: config.KafkaConfig{
			Brokers:      []string{"unused:9092"},
			ProducerType: "sync",
			Produce:      false,
		},
	}

	e, err := New(cfg, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	// Give Startup Recovery time to open and catch up the seed file.
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(cfg.PositionFile)
		if err != nil {
			return false
		}
		// "seed\n" (5 bytes) plus "second\n" (7 bytes): offset 12.
		scanner := bufio.NewScanner(strings.NewReader(string(data)))
		return scanner.Scan() && strings.HasSuffix(scanner.Text(), " 12")
	}, 2*time.Second, 20*time.Millisecond, "position file should record the appended line's offset")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not shut down")
	}
}
