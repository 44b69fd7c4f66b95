package report

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/stats"
	"github.com/ipcam/streamworker/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	connects     int
	disconnects  int
	failTopic    string
	messages     map[string][]byte
	publishCount int
}

func newFakeClient() *fakeClient {
	return &fakeClient{messages: make(map[string][]byte)}
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishCount++
	if topic == f.failTopic {
		return errors.NewStd("publish rejected")
	}
	f.messages[topic] = payload
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakeClient) counts() (connects, publishes, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.publishCount, f.disconnects
}

func (f *fakeClient) message(topic string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[topic]
}

type staticSource struct{ status worker.Status }

func (s staticSource) Status() worker.Status { return s.status }

func testStatus() worker.Status {
	return worker.Status{
		State:    "running|started",
		Snapshot: true,
		Time:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Streams: []worker.StreamStatus{
			{ID: 0, Name: "main", Codec: "h264", Active: true, IDRSeen: true, QueueLen: 2, QueueCap: 30,
				Stats: stats.Snapshot{BitrateKbps: 2048, FPS: 25, Dropped: 3}},
			{ID: 1, Name: "sub", Codec: "h265", QueueCap: 30},
		},
	}
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	r := New(newFakeClient(), staticSource{}, "", 0, quietLogger())
	assert.Equal(t, DefaultTopic, r.topic)
	assert.Equal(t, DefaultInterval, r.interval)
}

func TestPublishPerStream(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	r := New(client, staticSource{testStatus()}, "cam/stats", time.Second, quietLogger())

	require.NoError(t, r.Publish(t.Context()))

	var summary StatusMessage
	require.NoError(t, json.Unmarshal(client.message("cam/stats/status"), &summary))
	assert.Equal(t, "running|started", summary.State)
	assert.Equal(t, 2, summary.Streams)
	assert.Equal(t, 1, summary.Active)
	assert.True(t, summary.Snapshot)
	assert.False(t, summary.Audio)

	var main StreamMessage
	require.NoError(t, json.Unmarshal(client.message("cam/stats/main"), &main))
	assert.Equal(t, "main", main.Name)
	assert.True(t, main.IDRSeen)
	assert.Equal(t, uint32(2048), main.Stats.BitrateKbps)
	assert.Equal(t, uint32(25), main.Stats.FPS)
	assert.Equal(t, uint64(3), main.Stats.Dropped)

	var sub StreamMessage
	require.NoError(t, json.Unmarshal(client.message("cam/stats/sub"), &sub))
	assert.Equal(t, "h265", sub.Codec)
	assert.False(t, sub.Active)
}

func TestPublishContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.failTopic = "streamworker/main"
	r := New(client, staticSource{testStatus()}, "", time.Second, quietLogger())

	err := r.Publish(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish rejected")
	assert.Equal(t, 3, client.publishCount)
	assert.NotNil(t, client.message("streamworker/sub"))
}

func TestRunPublishesEachInterval(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		client := newFakeClient()
		r := New(client, staticSource{testStatus()}, "", 10*time.Second, quietLogger())

		ctx, cancel := context.WithCancel(t.Context())
		var wg sync.WaitGroup
		wg.Go(func() { assert.NoError(t, r.Run(ctx)) })

		synctest.Wait()
		_, published, _ := client.counts()
		assert.Equal(t, 3, published)

		time.Sleep(10 * time.Second)
		synctest.Wait()
		_, published, _ = client.counts()
		assert.Equal(t, 6, published)

		cancel()
		wg.Wait()
		connects, _, disconnects := client.counts()
		assert.Equal(t, 1, connects)
		assert.Equal(t, 1, disconnects)
	})
}

func TestRunRetriesConnect(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		client := newFakeClient()
		client.connectErr = errors.NewStd("connection refused")
		r := New(client, staticSource{testStatus()}, "", time.Second, quietLogger())

		ctx, cancel := context.WithCancel(t.Context())
		var wg sync.WaitGroup
		wg.Go(func() { assert.NoError(t, r.Run(ctx)) })

		synctest.Wait()
		client.mu.Lock()
		assert.Equal(t, 1, client.connects)
		assert.Equal(t, 0, client.publishCount)
		client.connectErr = nil
		client.mu.Unlock()

		time.Sleep(time.Second)
		synctest.Wait()
		client.mu.Lock()
		assert.Equal(t, 2, client.connects)
		assert.Equal(t, 3, client.publishCount)
		client.mu.Unlock()

		cancel()
		wg.Wait()
	})
}
