package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		conn: nil,
		send: make(chan []byte, sendBufferSize),
	}
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case data := <-c.send:
		var got Message
		require.NoError(t, json.Unmarshal(data, &got))
		return got, true
	case <-time.After(50 * time.Millisecond):
		return Message{}, false
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(testLogger())
	c1 := mockClient(hub)
	c2 := mockClient(hub)

	hub.Register(c1)
	hub.Register(c2)
	assert.Equal(t, 2, hub.ClientCount())

	hub.Unregister(c1)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(c2)
	// Should not panic
	hub.Unregister(c2)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestBroadcastIndicatorsUpdated(t *testing.T) {
	hub := NewHub(testLogger())
	all := mockClient(hub)
	onlyFive := mockClient(hub)
	onlyFive.Subscribe([]int64{5})
	onlyNine := mockClient(hub)
	onlyNine.Subscribe([]int64{9})
	for _, c := range []*Client{all, onlyFive, onlyNine} {
		hub.Register(c)
	}

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	hub.Broadcast(IndicatorsUpdated([]int64{3, 5}, []string{"z_ind_grp_num_children"}, at))

	got, ok := receive(t, all)
	require.True(t, ok)
	assert.Equal(t, TypeIndicatorsUpdated, got.Type)
	assert.Equal(t, []int64{3, 5}, got.GroupIDs)
	assert.Equal(t, []string{"z_ind_grp_num_children"}, got.Fields)
	assert.True(t, got.At.Equal(at))

	_, ok = receive(t, onlyFive)
	assert.True(t, ok)
	_, ok = receive(t, onlyNine)
	assert.False(t, ok, "client subscribed elsewhere must not be notified")

	onlyNine.Subscribe(nil)
	hub.Broadcast(IndicatorsUpdated([]int64{1}, nil, at))
	_, ok = receive(t, onlyNine)
	assert.True(t, ok)
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := NewHub(testLogger())
	// Should not panic
	hub.Broadcast(IndicatorsUpdated([]int64{1}, nil, time.Now()))
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(testLogger())
	c := mockClient(hub)
	hub.Register(c)

	for i := 0; i < sendBufferSize+1; i++ {
		hub.Broadcast(IndicatorsUpdated([]int64{int64(i)}, nil, time.Now()))
	}

	count := 0
	for {
		select {
		case <-c.send:
			count++
			continue
		default:
		}
		break
	}
	assert.Equal(t, sendBufferSize, count)
	hub.Unregister(c)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := mockClient(hub)
			hub.Register(c)
			c.Subscribe([]int64{int64(i)})
			hub.Broadcast(IndicatorsUpdated([]int64{int64(i)}, nil, time.Now()))
			hub.Unregister(c)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHandleWebSocketEndToEnd(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(HandleWebSocket(hub, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, conn.Write(ctx, ws.MessageText, []byte(`{"subscribe":[7]}`)))

	// Wait for registration and the subscription to land.
	require.Eventually(t, func() bool {
		if hub.ClientCount() != 1 {
			return false
		}
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return !c.wants([]int64{8}) && c.wants([]int64{7})
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(IndicatorsUpdated([]int64{8}, nil, time.Now()))
	hub.Broadcast(IndicatorsUpdated([]int64{7}, []string{"z_ind_grp_num_individuals"}, time.Now()))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var got Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, []int64{7}, got.GroupIDs)
}

func TestHandleWebSocketQuerySubscription(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(HandleWebSocket(hub, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?groups=1,x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?groups=3,%204", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast(IndicatorsUpdated([]int64{5}, nil, time.Now()))
	hub.Broadcast(IndicatorsUpdated([]int64{4}, nil, time.Now()))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var got Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, []int64{4}, got.GroupIDs)
	assert.Equal(t, TypeIndicatorsUpdated, got.Type)
}

func TestParseGroupIDs(t *testing.T) {
	tests := []struct {
		in      string
		want    []int64
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "1", want: []int64{1}},
		{in: "1, 2,3", want: []int64{1, 2, 3}},
		{in: "1,,2", wantErr: true},
		{in: "a", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseGroupIDs(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
