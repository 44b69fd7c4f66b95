package sched

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ipcam/streamworker/internal/logger"
)

func TestPriorityBands(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 79, Priority(Capture))
	assert.Equal(t, 1, Priority(Background))
	assert.Equal(t, "capture", Capture.String())
	assert.Equal(t, "background", Background.String())
}

func TestPinNeverFailsTheCaller(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelDebug, time.UTC)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Unprivileged test runs get EPERM; Pin must swallow it.
		Pin(Capture, log)
	}()
	<-done
}
