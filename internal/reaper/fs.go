// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package reaper

import (
	"os"
	"time"
)

func statPath(path string) (size int64, mtime time.Time, ok bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, time.Time{}, false
	}
	return fi.Size(), fi.ModTime(), true
}

func removeFile(path string) error {
	return os.Remove(path)
}
