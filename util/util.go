// Package util holds logging helpers for long running loops.
package util

import (
	"log"
	"time"
)

// SkipThrottler lets through at most one event per interval and counts the skipped ones.
type SkipThrottler struct {
	d       time.Duration
	last    time.Time
	skipped int
}

func NewSkipThrottler(d time.Duration) *SkipThrottler {
	return &SkipThrottler{d: d}
}

func (tt *SkipThrottler) Ok() bool {
	now := time.Now()
	if !tt.last.IsZero() && now.Before(tt.last.Add(tt.d)) {
		tt.skipped++
		return false
	}
	tt.last = now
	return true
}

// Skipped returns the number of events skipped since the last call.
func (tt *SkipThrottler) Skipped() int {
	n := tt.skipped
	tt.skipped = 0
	return n
}

// Logger prints progress lines through a SkipThrottler, and only when enabled.
type Logger struct {
	enabled bool
	tt      *SkipThrottler
}

func NewLogger(enabled bool, d time.Duration) *Logger {
	return &Logger{enabled: enabled, tt: NewSkipThrottler(d)}
}

func (l *Logger) Printf(format string, v ...any) {
	if l == nil || !l.enabled || !l.tt.Ok() {
		return
	}
	if n := l.tt.Skipped(); n > 0 {
		format += " (%d lines skipped)"
		v = append(v, n)
	}
	log.Printf(format, v...)
}

// Force logs regardless of the throttler.
func (l *Logger) Force(format string, v ...any) {
	if l == nil || !l.enabled {
		return
	}
	log.Printf(format, v...)
}
