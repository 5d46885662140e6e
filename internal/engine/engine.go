// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package engine wires the Pattern Registry, Position Store, Directory/
// Modify Watcher, File Tailers, Publisher and Reaper into the single
// long-running process, generalizing the teacher's pkg/logagent.Agent
// (component ownership, Start/Stop lifecycle, periodic flush loop) to this
// module's filesystem-to-Kafka pipeline.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SupersonicAds/tailf2kafka/internal/config"
	"github.com/SupersonicAds/tailf2kafka/internal/fsutil"
	"github.com/SupersonicAds/tailf2kafka/internal/position"
	"github.com/SupersonicAds/tailf2kafka/internal/publisher"
	"github.com/SupersonicAds/tailf2kafka/internal/reaper"
	"github.com/SupersonicAds/tailf2kafka/internal/registry"
	"github.com/SupersonicAds/tailf2kafka/internal/tailer"
	"github.com/SupersonicAds/tailf2kafka/internal/watch"
)

// Engine owns every long-lived component and the goroutines that run them,
// mirroring the teacher's Agent value rather than a package of globals
// (spec's REDESIGN FLAGS note on testability).
type Engine struct {
	cfg *config.Config
	log *logrus.Entry

	reg   *registry.Registry
	store *position.Store
	disp  *watch.Dispatcher
	pub   *publisher.Publisher
	reap  *reaper.Reaper

	mu      sync.Mutex
	tailers map[string]*tailer.Tailer
}

// New builds an Engine from a validated Config. It does not start anything.
func New(cfg *config.Config, log *logrus.Entry) (*Engine, error) {
	reg, err := registry.New(cfg.Files)
	if err != nil {
		return nil, fmt.Errorf("resolving file patterns: %w", err)
	}

	store := position.New(cfg.PositionFile, log.WithField("component", "position"))

	broker, err := publisher.NewBroker(cfg.Kafka, log.WithField("component", "broker"))
	if err != nil {
		return nil, fmt.Errorf("constructing kafka broker: %w", err)
	}
	pub := publisher.New(cfg.MaxBatches*10, broker, store, log.WithField("component", "publisher"))

	e := &Engine{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		store:   store,
		pub:     pub,
		reap:    reaper.New(store, reg, cfg.PostDeleteCommand, log.WithField("component", "reaper")),
		tailers: make(map[string]*tailer.Tailer),
	}

	disp, err := watch.New(watch.Handlers{
		OnCreate: e.handleCreate,
		OnRemove: e.handleRemove,
		OnWrite:  e.handleWrite,
	}, log.WithField("component", "watch"))
	if err != nil {
		return nil, fmt.Errorf("constructing filesystem watcher: %w", err)
	}
	e.disp = disp

	return e, nil
}

// Run performs Startup Recovery, starts every long-running goroutine, and
// blocks until ctx is cancelled, then stops every Tailer and the watcher,
// waits for the Publisher and dispatcher goroutines to exit, and flushes
// once more before returning. Batches still queued at that point are not
// published; their offsets stay uncommitted.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.store.Load(); err != nil {
		return fmt.Errorf("loading position file: %w", err)
	}

	for _, dir := range e.reg.Dirs() {
		if err := e.disp.WatchDir(dir); err != nil {
			return fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}

	if err := e.recoverExistingFiles(); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	if err := e.store.Flush(); err != nil {
		return fmt.Errorf("flushing position file after startup recovery: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.pub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		e.disp.Run(ctx)
	}()

	e.timerLoop(ctx)

	<-ctx.Done()
	e.stopAllTailers()
	_ = e.disp.Close()
	wg.Wait()

	if err := e.store.Flush(); err != nil {
		e.log.WithError(err).Error("final position flush failed")
	}
	return nil
}

// recoverExistingFiles scans every watched directory for files already
// matching a registered pattern and not yet tracked, so a restart resumes
// tailing files created before the process last stopped (spec §4.9).
func (e *Engine) recoverExistingFiles() error {
	for _, dir := range e.reg.Dirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("scanning %s: %w", dir, err)
		}
		for _, de := range entries {
			if de.IsDir() {
				continue
			}
			path := filepath.Join(dir, de.Name())
			entry := e.reg.Match(dir, de.Name())
			if entry == nil {
				continue
			}
			if err := e.track(path, entry, false); err != nil {
				e.log.WithError(err).WithField("path", path).Warn("skipping file during startup recovery")
			}
		}
	}
	return nil
}

// track upserts path into the Position Store (at offset 0 for a brand new
// file, at offset 0 or the current size per from_begining for a file found
// by the startup scan, or the restored offset for one already present from
// Load) and starts its Tailer. Idempotent: a path already tailed is left
// alone.
func (e *Engine) track(path string, entry *registry.Entry, newFile bool) error {
	e.mu.Lock()
	_, running := e.tailers[path]
	e.mu.Unlock()
	if running {
		return nil
	}

	inode, ok := fsutil.Inode(path)
	if !ok {
		return fmt.Errorf("stat %s: no longer exists", path)
	}

	startOffset := int64(0)
	if !newFile && !e.cfg.FromBeginning {
		if fi, err := os.Stat(path); err == nil {
			startOffset = fi.Size()
		}
	}

	tf := e.store.Upsert(path, entry.TimePattern, entry.Topic, inode, startOffset)

	t := tailer.New(tf, entry.Topic, e.cfg.MaxBatchLines, e.cfg.MaxBatches, e.pub, e.log.WithField("component", "tailer"))
	if err := t.Start(context.Background()); err != nil {
		return fmt.Errorf("starting tailer for %s: %w", path, err)
	}

	e.mu.Lock()
	e.tailers[path] = t
	e.mu.Unlock()
	return nil
}

func (e *Engine) handleCreate(path string) {
	dir := filepath.Dir(path)
	entry := e.reg.Match(dir, filepath.Base(path))
	if entry == nil {
		return
	}
	if err := e.track(path, entry, true); err != nil {
		e.log.WithError(err).WithField("path", path).Warn("failed to start tailing newly created file")
	}
}

func (e *Engine) handleRemove(path string) {
	e.mu.Lock()
	t, ok := e.tailers[path]
	if ok {
		delete(e.tailers, path)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	t.Stop()
	e.store.Remove(path)
}

func (e *Engine) handleWrite(path string) {
	e.mu.Lock()
	t, ok := e.tailers[path]
	e.mu.Unlock()
	if !ok {
		return
	}
	t.Wake()
}

func (e *Engine) stopAllTailers() {
	e.mu.Lock()
	tailers := make([]*tailer.Tailer, 0, len(e.tailers))
	for _, t := range e.tailers {
		tailers = append(tailers, t)
	}
	e.mu.Unlock()
	for _, t := range tailers {
		t.Stop()
	}
}

// timerLoop runs the flush and reap tickers as one combined select loop,
// per spec's REDESIGN FLAGS note preferring a single timer goroutine over
// the teacher's separate per-concern tickers.
func (e *Engine) timerLoop(ctx context.Context) {
	flush := time.NewTicker(e.cfg.FlushInterval)
	reap := time.NewTicker(e.cfg.ReapInterval)

	go func() {
		defer flush.Stop()
		defer reap.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-flush.C:
				if err := e.store.Flush(); err != nil {
					e.log.WithError(err).Error("periodic position flush failed")
				}
			case <-reap.C:
				if e.cfg.DeleteOldTailedFiles {
					e.reap.Sweep(ctx)
				}
			}
		}
	}()
}
