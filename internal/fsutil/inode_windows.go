// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

//go:build windows

package fsutil

// Inode has no stable analogue on Windows (file index numbers require an
// open handle via GetFileInformationByHandle), so it always reports no
// inode. Callers that need one treat the file as unavailable: the Engine
// does not start tailing it, Store.Load rejects its record, and the Reaper
// never deletes it.
func Inode(path string) (uint64, bool) {
	return 0, false
}
