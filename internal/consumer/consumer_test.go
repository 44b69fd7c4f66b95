package consumer

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/sink"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func TestAnnexBWriterRestoresStartCodes(t *testing.T) {
	t.Parallel()

	s := sink.NewVideoSink("stream0", 8)
	path := filepath.Join(t.TempDir(), "stream0.h264")
	w := NewAnnexBWriter(s, path, quietLogger())

	ctx, cancel := context.WithCancel(t.Context())
	var wg sync.WaitGroup
	var runErr error
	wg.Go(func() { runErr = w.Run(ctx) })

	require.Eventually(t, s.HasConsumer, time.Second, time.Millisecond)

	for _, data := range [][]byte{{0x67, 0x01}, {0x65, 0x02, 0x03}} {
		require.True(t, s.TryPush(&sink.AccessUnit{Data: data}))
		s.Notify()
	}
	require.Eventually(t, func() bool { return w.Units() == 2 }, time.Second, time.Millisecond)

	cancel()
	wg.Wait()
	require.NoError(t, runErr)
	assert.False(t, s.HasConsumer(), "callback detached on exit")

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x67, 0x01, 0, 0, 0, 1, 0x65, 0x02, 0x03}, got)
}

func TestAnnexBWriterOpenFailure(t *testing.T) {
	t.Parallel()

	s := sink.NewVideoSink("stream0", 1)
	w := NewAnnexBWriter(s, filepath.Join(t.TempDir(), "missing", "x.h264"), quietLogger())
	require.Error(t, w.Run(t.Context()))
	assert.False(t, s.HasConsumer())
}

func TestPCMBufferRefusesPartialFrames(t *testing.T) {
	t.Parallel()

	p := NewPCMBuffer(10)
	assert.True(t, p.Deliver(sink.AudioFrame{Data: make([]byte, 6)}))
	assert.False(t, p.Deliver(sink.AudioFrame{Data: make([]byte, 6)}), "clogged")
	assert.Equal(t, 6, p.Buffered())

	accepted, refused := p.Counts()
	assert.Equal(t, uint64(1), accepted)
	assert.Equal(t, uint64(1), refused)
}

func TestPCMBufferDrain(t *testing.T) {
	t.Parallel()

	p := NewPCMBuffer(64)
	require.True(t, p.Deliver(sink.AudioFrame{Data: []byte{1, 2, 3}}))
	require.True(t, p.Deliver(sink.AudioFrame{Data: []byte{4, 5}}))

	var out bytes.Buffer
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.NoError(t, p.DrainTo(ctx, &out, time.Millisecond, quietLogger()))

	assert.Equal(t, []byte{1, 2, 3, 4, 5}, out.Bytes())
	assert.Zero(t, p.Buffered())

	n, err := p.Read(make([]byte, 4))
	require.NoError(t, err)
	assert.Zero(t, n)
}
