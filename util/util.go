// Package util contains small helpers shared by the feature enumeration and its drivers.
package util

import (
	"log"
	"time"
)

// SkipThrottler lets through at most one event per duration and drops the rest.
type SkipThrottler struct {
	d    time.Duration
	last time.Time
}

// NewSkipThrottler returns a throttler whose first event passes only after d has elapsed.
func NewSkipThrottler(d time.Duration) *SkipThrottler {
	return &SkipThrottler{d: d, last: time.Now()}
}

// Ok reports whether at least d has passed since the last successful call, or since construction.
func (tt *SkipThrottler) Ok() bool {
	now := time.Now()
	if now.Sub(tt.last) < tt.d {
		return false
	}
	tt.last = now
	return true
}

// Progress logs the advance of a long loop over total steps, at most once per throttle duration.
type Progress struct {
	tt    *SkipThrottler
	name  string
	total int
	start time.Time
}

func NewProgress(name string, total int, d time.Duration) *Progress {
	p := &Progress{tt: NewSkipThrottler(d), name: name, total: total, start: time.Now()}
	return p
}

// Step records that done steps are complete, and reports whether a line was logged.
func (p *Progress) Step(done int) bool {
	if !p.tt.Ok() {
		return false
	}
	frac := 1.0
	if p.total > 0 {
		frac = float64(done) / float64(p.total)
	}
	log.Printf("%s %d/%d %.3f %v", p.name, done, p.total, frac, time.Since(p.start).Round(time.Millisecond))
	return true
}
