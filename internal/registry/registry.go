// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package registry resolves configured file specs into watched directories
// and compiled filename matchers.
package registry

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/SupersonicAds/tailf2kafka/internal/config"
)

// strftimeTranslation maps the strftime-style escapes this registry
// understands to the regular expression fragment that matches their
// materialization. Any other %X escape is replaced by the literal X.
var strftimeTranslation = map[byte]string{
	'Y': `[0-9]{4}`,
	'm': `[0-9]{2}`,
	'd': `[0-9]{2}`,
	'H': `[0-9]{2}`,
	'M': `[0-9]{2}`,
}

// Entry is one FileSpec resolved into a matcher for a single watched
// directory. Multiple Entries may share a Dir.
type Entry struct {
	Dir         string
	Prefix      string
	Suffix      string
	TimePattern string
	Topic       string
	Match       *regexp.Regexp
}

// Registry groups resolved Entries by watched directory.
type Registry struct {
	// byDir preserves registration order so the first pattern that matches
	// a given filename wins, per spec.
	byDir map[string][]*Entry
	dirs  []string
}

// New resolves specs into a Registry.
func New(specs []config.FileSpec) (*Registry, error) {
	r := &Registry{byDir: make(map[string][]*Entry)}
	for _, s := range specs {
		entry, err := newEntry(s)
		if err != nil {
			return nil, err
		}
		if _, ok := r.byDir[entry.Dir]; !ok {
			r.dirs = append(r.dirs, entry.Dir)
		}
		r.byDir[entry.Dir] = append(r.byDir[entry.Dir], entry)
	}
	return r, nil
}

func newEntry(s config.FileSpec) (*Entry, error) {
	dir := filepath.Dir(s.Prefix)
	base := filepath.Base(s.Prefix)

	translated, err := translateTimePattern(s.TimePattern)
	if err != nil {
		return nil, err
	}

	expr := "^" + regexp.QuoteMeta(base) + translated + regexp.QuoteMeta(s.Suffix) + "$"
	match, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compiling matcher for prefix %q: %w", s.Prefix, err)
	}

	return &Entry{
		Dir:         dir,
		Prefix:      base,
		Suffix:      s.Suffix,
		TimePattern: s.TimePattern,
		Topic:       s.Topic,
		Match:       match,
	}, nil
}

// translateTimePattern turns a strftime-style pattern into the regular
// expression fragment that matches its materializations, escaping
// non-pattern literals so they match themselves exactly.
func translateTimePattern(pattern string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' {
			b.WriteString(regexp.QuoteMeta(string(c)))
			continue
		}
		i++
		if i >= len(pattern) {
			return "", fmt.Errorf("time pattern %q ends with a dangling %%", pattern)
		}
		if frag, ok := strftimeTranslation[pattern[i]]; ok {
			b.WriteString(frag)
		} else {
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
		}
	}
	return b.String(), nil
}

// Dirs returns the set of directories that must be watched, in registration
// order.
func (r *Registry) Dirs() []string {
	return r.dirs
}

// Entries returns the patterns registered for a watched directory.
func (r *Registry) Entries(dir string) []*Entry {
	return r.byDir[dir]
}

// Match tries every registered pattern for dir against basename and returns
// the first one that applies, or nil.
func (r *Registry) Match(dir, basename string) *Entry {
	for _, e := range r.byDir[dir] {
		if e.Match.MatchString(basename) {
			return e
		}
	}
	return nil
}

// Instantiate materializes an Entry's time pattern against t, the way
// strftime would, using the same escape set translateTimePattern
// understands. Used by the Reaper to decide whether a tracked file is
// still the active time bucket.
func (e *Entry) Instantiate(t time.Time) string {
	var b strings.Builder
	pattern := e.TimePattern
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(pattern) {
			break
		}
		switch pattern[i] {
		case 'Y':
			b.WriteString(t.Format("2006"))
		case 'm':
			b.WriteString(t.Format("01"))
		case 'd':
			b.WriteString(t.Format("02"))
		case 'H':
			b.WriteString(t.Format("15"))
		case 'M':
			b.WriteString(t.Format("04"))
		default:
			b.WriteByte(pattern[i])
		}
	}
	return b.String()
}

// ExpectedBasename returns the filename this entry's pattern materializes
// to at time t.
func (e *Entry) ExpectedBasename(t time.Time) string {
	return e.Prefix + e.Instantiate(t) + e.Suffix
}

// AllEntries returns every resolved Entry across every watched directory,
// in registration order. Used by the Reaper to look up the FileSpec
// backing a given TrackedFile by topic and time pattern.
func (r *Registry) AllEntries() []*Entry {
	var all []*Entry
	for _, dir := range r.dirs {
		all = append(all, r.byDir[dir]...)
	}
	return all
}
