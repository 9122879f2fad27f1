package syncclient

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-occupancy-backend/internal/hub"
	"library-occupancy-backend/internal/ingest"
	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/store"
	"library-occupancy-backend/internal/wire"
)

var quiet = log.New(io.Discard, "", 0)

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// liveServer runs the real hub over an in-memory store.
func liveServer(t *testing.T) (*ingest.Service, string) {
	t.Helper()
	st := store.NewMemStore(store.DefaultTotalCapacity)
	require.NoError(t, st.SeedZones(context.Background(), store.DefaultZones()))
	registry := hub.NewRegistry(16, 5*time.Second, quiet)
	svc := ingest.New(st, registry, nil, quiet)
	ts := httptest.NewServer(http.HandlerFunc(hub.NewServer(registry, svc, quiet).ServeWS))
	t.Cleanup(func() {
		registry.Shutdown()
		ts.Close()
	})
	return svc, wsURL(ts)
}

func newTestClient(url string) *Client {
	c := New(url, quiet)
	c.ReconnectDelay = 20 * time.Millisecond
	return c
}

func TestClient_MirrorsServerState(t *testing.T) {
	svc, url := liveServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestClient(url)
	c.Start(ctx)

	require.Eventually(t, func() bool {
		s := c.State()
		return s.Occupancy != nil && s.Occupancy.Total == 400
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.Connected())

	_, err := svc.RecordScan(ctx, ingest.ScanInput{StudentID: "s1", EventType: model.EventEntry})
	require.NoError(t, err)
	post, err := svc.CreateSeatPost(ctx, ingest.SeatPostInput{UserID: 1, Location: model.SeatLocation{Zone: "Zone A - Reading Area"}, Duration: 30})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s := c.State()
		return s.Occupancy.Current == 1 && len(s.SeatPosts) == 1 && s.SeatPosts[0].ID == post.ID
	}, 2*time.Second, 10*time.Millisecond)

	_, err = svc.UpdateSeatPostStatus(ctx, post.ID, model.SeatPostRemoved)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(c.State().SeatPosts) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_QueuesCommandsUntilConnected(t *testing.T) {
	_, url := liveServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestClient(url)
	require.NoError(t, c.Send(wire.CmdGetAdminData, nil))
	require.NoError(t, c.Send(wire.CmdUpdateCapacity, wire.UpdateCapacity{TotalCapacity: 350}))
	assert.False(t, c.Connected())

	c.Start(ctx)
	assert.Eventually(t, func() bool {
		s := c.State()
		return s.Capacity != nil && s.Capacity.TotalCapacity == 350
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_SubscribeAndUnsubscribe(t *testing.T) {
	svc, url := liveServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestClient(url)
	var mu sync.Mutex
	var seen []string
	unsubscribe := c.Subscribe(func(msg wire.Message, state Mirror) {
		mu.Lock()
		seen = append(seen, msg.Type)
		mu.Unlock()
	})
	c.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == wire.TypeInitialData
	}, 2*time.Second, 10*time.Millisecond)

	unsubscribe()
	_, err := svc.CreateAnnouncement(ctx, ingest.AnnouncementInput{Message: "hi", CreatedBy: 1})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(c.State().Announcements) == 1 }, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{wire.TypeInitialData}, seen)
}

// countingServer accepts connections, sends an empty initialData and then
// drops each connection after hold.
func countingServer(t *testing.T, hold time.Duration, commands chan<- string) (*int32, string) {
	t.Helper()
	var conns int32
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		atomic.AddInt32(&conns, 1)

		msg, _ := wire.New(wire.TypeInitialData, wire.InitialData{})
		ws.WriteJSON(msg)

		ws.SetReadDeadline(time.Now().Add(hold))
		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if m, err := wire.Decode(frame); err == nil && commands != nil {
				select {
				case commands <- m.Type:
				default:
				}
			}
		}
	}))
	t.Cleanup(ts.Close)
	return &conns, wsURL(ts)
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	conns, url := countingServer(t, 50*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestClient(url)
	c.Start(ctx)
	c.Start(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(conns) >= 3 }, 3*time.Second, 10*time.Millisecond)
}

func TestClient_StartCallsShareOneConnection(t *testing.T) {
	conns, url := countingServer(t, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestClient(url)
	for i := 0; i < 3; i++ {
		c.Start(ctx)
	}
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(conns))
}

func TestClient_ConnectionOutlivesFirstConsumer(t *testing.T) {
	conns, url := countingServer(t, time.Minute, nil)
	c := newTestClient(url)

	first, cancelFirst := context.WithCancel(context.Background())
	second, cancelSecond := context.WithCancel(context.Background())
	defer cancelSecond()

	c.Start(first)
	c.Start(second)
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)

	cancelFirst()
	time.Sleep(100 * time.Millisecond)
	assert.True(t, c.Connected())
	assert.Equal(t, int32(1), atomic.LoadInt32(conns))

	cancelSecond()
	require.Eventually(t, func() bool { return !c.Connected() }, 2*time.Second, 10*time.Millisecond)

	// A later consumer brings the connection back.
	third, cancelThird := context.WithCancel(context.Background())
	defer cancelThird()
	c.Start(third)
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(conns) == 2 }, 2*time.Second, 10*time.Millisecond)

	// Starting with a finished context does nothing.
	done, cancelDone := context.WithCancel(context.Background())
	cancelDone()
	c.Start(done)
	cancelThird()
	assert.Eventually(t, func() bool { return !c.Connected() }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_PollsForOccupancy(t *testing.T) {
	commands := make(chan string, 16)
	_, url := countingServer(t, time.Minute, commands)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestClient(url)
	c.PollInterval = 20 * time.Millisecond
	c.Start(ctx)

	for i := 0; i < 2; i++ {
		select {
		case cmd := <-commands:
			assert.Equal(t, wire.CmdGetOccupancy, cmd)
		case <-time.After(2 * time.Second):
			t.Fatal("no poll received")
		}
	}
}

func TestClient_DialFailureIsConnectionError(t *testing.T) {
	c := newTestClient("ws://127.0.0.1:1/ws")
	err := c.session(context.Background())

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "ws://127.0.0.1:1/ws", connErr.URL)
}

func TestShared_OneClientPerURL(t *testing.T) {
	a := Shared("ws://library.example/ws")
	b := Shared("ws://library.example/ws")
	other := Shared("ws://other.example/ws")

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
}
