// Package sched pins capture goroutines to OS threads and requests
// real-time round-robin scheduling for them.
package sched

import (
	"runtime"
	"sync"

	"github.com/ipcam/streamworker/internal/logger"
)

// Class selects the priority band of a worker thread.
type Class int

const (
	// Capture threads drain encoder channels and run at 80% of the
	// real-time priority range.
	Capture Class = iota
	// Background threads (overlay, snapshot) run at the lowest real-time priority.
	Background
)

// String returns the class name used in logs.
func (c Class) String() string {
	if c == Capture {
		return "capture"
	}
	return "background"
}

var (
	enabledMu sync.RWMutex
	enabled   = true
	warnOnce  sync.Once
)

// SetEnabled switches real-time requests on or off. Threads are still
// locked when disabled.
func SetEnabled(on bool) {
	enabledMu.Lock()
	defer enabledMu.Unlock()
	enabled = on
}

func isEnabled() bool {
	enabledMu.RLock()
	defer enabledMu.RUnlock()
	return enabled
}

// Pin locks the calling goroutine to its OS thread and requests class
// scheduling for that thread. The thread is never unlocked: when the
// goroutine exits the runtime discards the thread together with its
// scheduling attributes. Failure to raise priority is logged once at debug
// level and otherwise ignored.
func Pin(class Class, log logger.Logger) {
	runtime.LockOSThread()
	if !isEnabled() {
		return
	}

	if err := setRealtime(class); err != nil {
		warnOnce.Do(func() {
			if log != nil {
				log.Debug("real-time scheduling unavailable",
					logger.String("class", class.String()),
					logger.Error(err))
			}
		})
	}
}

// Priority returns the SCHED_RR priority used for class.
func Priority(class Class) int {
	if class == Capture {
		return maxRTPriority * 8 / 10
	}
	return minRTPriority
}

const (
	minRTPriority = 1
	maxRTPriority = 99
)
