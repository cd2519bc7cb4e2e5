package vision

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type collector struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (c *collector) sink(m message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) all() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]message.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *collector) ofType(t message.Type) []message.Message {
	var out []message.Message
	for _, m := range c.all() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func newTestPoller(c *collector) *Poller {
	return NewPoller(nil, Config{MinPollTime: 5 * time.Millisecond, RequestTimeout: time.Second}, c.sink, zap.NewNop())
}

func TestAggregate(t *testing.T) {
	assert.Equal(t, message.TypeEmpty, Aggregate(nil).Type)
	assert.Equal(t, message.TypeEmpty, Aggregate([][]float64{{1}}).Type)

	pts := [][]float64{{0, 0, 2}, {10, 20, 7}, {2, 4, 3}}
	m := Aggregate(pts)
	assert.Equal(t, message.TypeCoordinate, m.Type)
	assert.Equal(t, []float64{4, 8, 7}, m.Coordinate)
	assert.Equal(t, pts, m.Points)
}

func TestPoller_DeliversReadings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[1, 2, 3], [3, 4, 5]]`))
	}))
	defer srv.Close()

	c := &collector{}
	p := newTestPoller(c)
	defer p.Close()

	p.Start("world", srv.URL, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(c.ofType(message.TypeCoordinate)) >= 2 },
		2*time.Second, 5*time.Millisecond)

	got := c.ofType(message.TypeCoordinate)[0]
	assert.Equal(t, []float64{2, 3, 5}, got.Coordinate)
	assert.Equal(t, "world", got.TargetID)

	p.Stop("world")
	assert.False(t, p.Running("world"))
	stopped := c.ofType(message.TypeStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, "world", stopped[0].TargetID)

	n := len(c.ofType(message.TypeCoordinate))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(c.ofType(message.TypeCoordinate)), "no readings after stop")
}

func TestPoller_EmptyFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := &collector{}
	p := newTestPoller(c)
	defer p.Close()
	p.Start("7", srv.URL, time.Millisecond)
	require.Eventually(t, func() bool { return len(c.ofType(message.TypeEmpty)) > 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestPoller_ErrorStopsLoopOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := &collector{}
	p := newTestPoller(c)
	defer p.Close()
	p.Start("7", srv.URL, 5*time.Millisecond)

	require.Eventually(t, func() bool { return !p.Running("7") }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	errs := c.ofType(message.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "DecodeError", errs[0].ErrorName)
	assert.Equal(t, "7", errs[0].TargetID)
	assert.Equal(t, int32(1), hits.Load())
}

func TestPoller_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := &collector{}
	p := newTestPoller(c)
	defer p.Close()
	p.Start("7", srv.URL, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(c.ofType(message.TypeError)) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "HTTPError", c.ofType(message.TypeError)[0].ErrorName)
}

func TestPoller_InvalidURL(t *testing.T) {
	c := &collector{}
	p := newTestPoller(c)
	p.Start("world", "", time.Second)
	errs := c.ofType(message.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "InvalidURL", errs[0].ErrorName)
	assert.False(t, p.Running("world"))
}

func TestPoller_HandleProtocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := &collector{}
	p := newTestPoller(c)
	defer p.Close()

	p.Handle("3", message.Start(srv.URL, 10))
	assert.True(t, p.Running("3"))
	p.Handle("3", message.Stop())
	assert.False(t, p.Running("3"))

	p.Handle("3", message.Command("dance"))
	dnu := c.ofType(message.TypeDoesNotUnderstand)
	require.Len(t, dnu, 1)
	assert.Equal(t, "dance", dnu[0].Original.CommandName)
}
