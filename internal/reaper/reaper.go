// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package reaper deletes tracked, fully-shipped, no-longer-current
// rotated files, generalizing the teacher's periodic-task idiom
// (pkg/auditor's cleanupRegistryPeriodically) to filesystem deletion plus
// an optional post-delete shell command.
package reaper

import (
	"context"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SupersonicAds/tailf2kafka/internal/fsutil"
	"github.com/SupersonicAds/tailf2kafka/internal/position"
	"github.com/SupersonicAds/tailf2kafka/internal/registry"
)

// gracePeriod is the minimum time since last modification before a
// no-longer-current file is eligible for deletion.
const gracePeriod = 30 * time.Second

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Reaper deletes TrackedFiles whose filename no longer matches the
// current-time materialization of their pattern, whose inode is
// unchanged, whose size equals the committed offset, and whose last
// modification predates the grace period.
type Reaper struct {
	store    *position.Store
	reg      *registry.Registry
	postCmd  string
	now      Clock
	log      *logrus.Entry
	statFunc func(path string) (size int64, mtime time.Time, ok bool)
}

// New returns a Reaper. postCmd may be empty, disabling the post-delete
// hook.
func New(store *position.Store, reg *registry.Registry, postCmd string, log *logrus.Entry) *Reaper {
	return &Reaper{
		store:    store,
		reg:      reg,
		postCmd:  postCmd,
		now:      time.Now,
		log:      log,
		statFunc: statPath,
	}
}

// Sweep runs one reap pass. It is safe to call repeatedly; the Reaper
// never removes a TrackedFile entry itself, only the underlying file —
// entry removal happens through the Directory Watcher's subsequent
// delete event (spec §4.7).
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.now()
	for _, rec := range r.store.Snapshot() {
		tf, ok := r.store.Get(rec.Path)
		if !ok {
			continue
		}
		if r.shouldReap(tf, now) {
			r.reap(ctx, tf)
		}
	}
}

func (r *Reaper) shouldReap(tf *position.TrackedFile, now time.Time) bool {
	entry := r.findEntry(tf)
	if entry == nil {
		return false
	}
	if filepath.Base(tf.Path) == entry.ExpectedBasename(now) {
		return false
	}
	size, mtime, ok := r.statFunc(tf.Path)
	if !ok {
		return false
	}
	inode, ok := fsutil.Inode(tf.Path)
	if !ok || inode != tf.Inode {
		return false
	}
	if size != tf.Offset() {
		return false
	}
	if now.Sub(mtime) < gracePeriod {
		return false
	}
	return true
}

func (r *Reaper) findEntry(tf *position.TrackedFile) *registry.Entry {
	for _, e := range r.reg.AllEntries() {
		if e.Topic == tf.Topic && e.TimePattern == tf.Pattern {
			return e
		}
	}
	return nil
}

func (r *Reaper) reap(ctx context.Context, tf *position.TrackedFile) {
	entry := r.log.WithField("path", tf.Path)
	if err := removeFile(tf.Path); err != nil {
		entry.WithError(err).Error("failed to reap file")
		return
	}
	entry.Info("reaped rotated file")

	if r.postCmd == "" {
		return
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", r.postCmd)
	out, err := cmd.CombinedOutput()
	if err != nil {
		entry.WithFields(logrus.Fields{"error": err, "output": string(out)}).Error("post-delete command failed")
		return
	}
	entry.WithField("output", string(out)).Debug("post-delete command succeeded")
}
