package view

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/simpletalk/kernel/internal/core/event"
	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/simpletalk/kernel/internal/core/part"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// runLoop stands in for the kernel loop: it runs posted tasks on one
// goroutine until the test ends.
func runLoop(t *testing.T, q *event.Queue) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				for _, it := range q.Drain(0) {
					if it.Run != nil {
						it.Run()
					}
				}
			}
		}
	}()
	t.Cleanup(func() { close(done) })
}

func onLoop(q *event.Queue, fn func()) {
	ch := make(chan struct{})
	q.Do(func() {
		fn()
		close(ch)
	})
	<-ch
}

type bridgeEnv struct {
	tr     *tree
	q      *event.Queue
	bridge *Bridge
	conn   *websocket.Conn
}

func newBridgeEnv(t *testing.T) *bridgeEnv {
	t.Helper()
	e := &bridgeEnv{tr: newTree(t), q: event.NewQueue()}
	e.tr.card.SetScript(part.HandlerFunc(func(_ *part.Part, msg message.Message) bool {
		return msg.Selector() == "click"
	}))
	e.bridge = NewBridge(e.tr.f, e.q, BridgeConfig{OutQueueSize: 64, WriteTimeout: time.Second}, zap.NewNop())
	runLoop(t, e.q)

	srv := httptest.NewServer(e.bridge)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	e.conn = conn
	return e
}

func (e *bridgeEnv) request(t *testing.T, req Request) {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, e.conn.WriteMessage(websocket.TextMessage, data))
}

// readUntil returns the first reply matching pred.
func (e *bridgeEnv) readUntil(t *testing.T, pred func(Reply) bool) Reply {
	t.Helper()
	require.NoError(t, e.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := e.conn.ReadMessage()
		require.NoError(t, err)
		var r Reply
		require.NoError(t, json.Unmarshal(data, &r))
		if pred(r) {
			return r
		}
	}
}

func byRef(ref string) func(Reply) bool {
	return func(r Reply) bool { return r.Ref == ref }
}

func changeOf(name string) func(Reply) bool {
	return func(r Reply) bool {
		return r.Op == "propertyChanged" && r.Message != nil && r.Message.PropertyName == name
	}
}

func TestBridge_BindFollowsProperties(t *testing.T) {
	e := newBridgeEnv(t)
	btn := e.tr.button

	e.request(t, Request{Op: "bind", Ref: "b1", PartID: btn.ID()})
	bound := e.readUntil(t, byRef("b1"))
	assert.Equal(t, "bound", bound.Op)
	assert.NotEmpty(t, bound.ViewID)

	initial := e.readUntil(t, changeOf("name"))
	assert.Equal(t, "Button "+btn.ID(), initial.Message.Value)
	assert.Equal(t, btn.ID(), initial.Message.PartID)

	var err error
	onLoop(e.q, func() { err = btn.Set("name", "Go") })
	require.NoError(t, err)
	r := e.readUntil(t, changeOf("name"))
	assert.Equal(t, "Go", r.Message.Value)
	assert.Equal(t, message.TypePropertyChanged, r.Message.Type)

	e.request(t, Request{Op: "unbind", Ref: "u1", PartID: btn.ID()})
	assert.Equal(t, "unbound", e.readUntil(t, byRef("u1")).Op)
	var count int
	onLoop(e.q, func() { count = btn.Properties().SubscriberCount("name") })
	assert.Equal(t, 0, count)
}

func TestBridge_EventsAndMessages(t *testing.T) {
	e := newBridgeEnv(t)
	btn := e.tr.button

	e.request(t, Request{Op: "event", Ref: "e0", PartID: btn.ID(), Event: "click"})
	assert.Equal(t, "error", e.readUntil(t, byRef("e0")).Op, "events need a bound view")

	e.request(t, Request{Op: "bind", Ref: "b1", PartID: btn.ID()})
	e.readUntil(t, byRef("b1"))

	e.request(t, Request{Op: "event", Ref: "e1", PartID: btn.ID(), Event: "click"})
	r := e.readUntil(t, byRef("e1"))
	assert.Equal(t, "result", r.Op)
	assert.Equal(t, "Handled", r.Outcome)
	assert.Equal(t, e.tr.card.ID(), r.HandledBy)

	cmd := message.Command("levitate")
	e.request(t, Request{Op: "send", Ref: "s1", PartID: btn.ID(), Message: &cmd})
	r = e.readUntil(t, byRef("s1"))
	assert.Equal(t, "Unhandled", r.Outcome)
	require.NotNil(t, r.Message)
	assert.Equal(t, message.TypeDoesNotUnderstand, r.Message.Type)

	e.request(t, Request{Op: "send", Ref: "s2", PartID: "404", Message: &cmd})
	assert.Equal(t, "error", e.readUntil(t, byRef("s2")).Op)
}

func TestBridge_SnapshotAndErrors(t *testing.T) {
	e := newBridgeEnv(t)

	e.request(t, Request{Op: "snapshot", Ref: "p1"})
	r := e.readUntil(t, byRef("p1"))
	require.Equal(t, "snapshot", r.Op)
	var snap part.Snapshot
	require.NoError(t, json.Unmarshal(r.Snapshot, &snap))
	assert.Len(t, snap.Parts, 5)
	assert.Equal(t, part.WorldID, snap.Parts[0].ID)

	e.request(t, Request{Op: "dance", Ref: "x1"})
	assert.Equal(t, "error", e.readUntil(t, byRef("x1")).Op)

	require.NoError(t, e.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	bad := e.readUntil(t, func(r Reply) bool { return r.Op == "error" })
	assert.Contains(t, bad.Error, "malformed")
}

func TestBridge_DisconnectDisposesViews(t *testing.T) {
	e := newBridgeEnv(t)
	btn := e.tr.button
	e.request(t, Request{Op: "bind", Ref: "b1", PartID: btn.ID()})
	e.readUntil(t, byRef("b1"))
	require.Eventually(t, func() bool { return e.bridge.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.conn.Close())
	require.Eventually(t, func() bool { return e.bridge.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		var n int
		onLoop(e.q, func() { n = btn.Properties().SubscriberCount("name") })
		return n == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBridge_Broadcast(t *testing.T) {
	e := newBridgeEnv(t)
	require.Eventually(t, func() bool { return e.bridge.Clients() == 1 }, time.Second, 5*time.Millisecond)
	onLoop(e.q, func() { e.bridge.Broadcast(Reply{Op: "saved"}) })
	assert.Equal(t, "saved", e.readUntil(t, func(r Reply) bool { return r.Op == "saved" }).Op)
}
