// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

//go:build !windows

// Package fsutil provides the platform-specific inode lookup shared by the
// Position Store, the File Tailer, and the Reaper, all of which must agree
// on a tracked file's identity across rotation.
package fsutil

import "golang.org/x/sys/unix"

// Inode returns the inode number of the file at path, replacing the
// teacher's syscall.Stat_t type switch (pkg/input/tailer/scanner.go's
// inode helper) with the forward-compatible x/sys/unix equivalent.
func Inode(path string) (uint64, bool) {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return 0, false
	}
	return uint64(stat.Ino), true
}
