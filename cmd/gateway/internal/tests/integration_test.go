package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gobwas/ws"
	"github.com/gorilla/websocket" // Using Gorilla for the test CLIENT
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tradewire/tradewire/cmd/gateway/internal/gateway"
	"github.com/tradewire/tradewire/cmd/gateway/internal/hub"
	"github.com/tradewire/tradewire/cmd/gateway/internal/repository"
	"github.com/tradewire/tradewire/cmd/gateway/internal/subscriber"
	"github.com/tradewire/tradewire/cmd/gateway/internal/testutils"
	"github.com/tradewire/tradewire/pkg/models"
	"github.com/tradewire/tradewire/pkg/protocol"
)

func startServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()

	wsHub := hub.New(zap.NewNop(), hub.Config{
		FlushInterval: 50 * time.Millisecond,
		SweepInterval: time.Hour, // sweeps are unit-tested; keep them quiet here
	})

	ctx, cancel := context.WithCancel(context.Background())
	wsHub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		wsHub.Shutdown()
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		gateway.NewClient(conn, wsHub, zap.NewNop()).Start()
	}))
	t.Cleanup(server.Close)

	return server, wsHub
}

func connectWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http")
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to websocket: %v", err)
	}
	return wsConn
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if err := json.Unmarshal(msg, v); err != nil {
		t.Fatalf("Invalid JSON %q: %v", msg, err)
	}
}

func TestEndToEnd_BatchFanout(t *testing.T) {
	server, wsHub := startServer(t)

	connA := connectWS(t, server.URL)
	defer connA.Close()
	connB := connectWS(t, server.URL)
	defer connB.Close()

	// Let both registrations land before enqueueing.
	waitForConnections(t, wsHub, 2)

	for i := int64(1); i <= 5; i++ {
		wsHub.Enqueue(models.Trade{ID: i, Symbol: "AAPL", Price: 150.25, Volume: 10, Side: models.SideBuy})
	}

	for _, conn := range []*websocket.Conn{connA, connB} {
		total := 0
		for total < 5 {
			var batch protocol.Batch
			readJSON(t, conn, &batch)
			if batch.Type != protocol.TypeBatch || batch.Count != len(batch.Trades) {
				t.Fatalf("Unexpected batch: type=%s count=%d len=%d", batch.Type, batch.Count, len(batch.Trades))
			}
			total += len(batch.Trades)
		}
		if total != 5 {
			t.Errorf("Expected 5 trades total, got %d", total)
		}
	}

	if _, buffered := wsHub.Status(); buffered != 0 {
		t.Errorf("Buffer should be empty after fanout, has %d", buffered)
	}
}

func TestEndToEnd_ApplicationPingPong(t *testing.T) {
	server, _ := startServer(t)
	conn := connectWS(t, server.URL)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))

	var pong protocol.Pong
	readJSON(t, conn, &pong)
	if pong.Type != protocol.TypePong || pong.Timestamp == 0 {
		t.Errorf("Expected pong with timestamp, got %+v", pong)
	}
}

func TestEndToEnd_SubscribeAck(t *testing.T) {
	server, _ := startServer(t)
	conn := connectWS(t, server.URL)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","channel":"trades","id":"s1"}`))

	var resp protocol.Response
	readJSON(t, conn, &resp)
	if resp.Type != protocol.TypeAck || resp.ID != "s1" || resp.Status != "success" {
		t.Errorf("Expected subscribe ack, got %+v", resp)
	}
}

func TestEndToEnd_MalformedInputKeepsConnectionOpen(t *testing.T) {
	server, _ := startServer(t)
	conn := connectWS(t, server.URL)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{ "type": "pi`))

	// The bad payload is dropped; a ping right after must still work.
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))

	var pong protocol.Pong
	readJSON(t, conn, &pong)
	if pong.Type != protocol.TypePong {
		t.Errorf("Connection should survive malformed input, got %+v", pong)
	}
}

func TestEndToEnd_KafkaToWebsocket(t *testing.T) {
	server, wsHub := startServer(t)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := repository.NewRedisStore(rdb)
	t.Cleanup(func() { store.Close() })

	tr := models.Trade{ID: 1, Timestamp: 1700000000000, Symbol: "AAPL", Price: 150.25, Volume: 10, Side: models.SideBuy}
	payload, _ := json.Marshal(tr)
	reader := &testutils.MockKafkaReader{Queue: []kafka.Message{{Key: []byte("AAPL:1700000000"), Value: payload}}}

	sub := subscriber.New(zap.NewNop(), reader, store, func(trade models.Trade) {
		wsHub.Enqueue(trade)
	})

	// Register the consumer before the subscriber starts pumping; there
	// is no history replay for late joiners.
	conn := connectWS(t, server.URL)
	defer conn.Close()
	waitForConnections(t, wsHub, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	var batch protocol.Batch
	readJSON(t, conn, &batch)
	if len(batch.Trades) != 1 || batch.Trades[0].Symbol != "AAPL" {
		t.Fatalf("Unexpected batch %+v", batch)
	}

	// The snapshot made it to Redis as well.
	got, err := mr.Get("trade:AAPL")
	if err != nil {
		t.Fatalf("Snapshot missing: %v", err)
	}
	if !strings.Contains(got, `"symbol":"AAPL"`) {
		t.Errorf("Unexpected snapshot payload: %s", got)
	}
}

func waitForConnections(t *testing.T, h *hub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conns, _ := h.Status(); conns >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Never reached %d connections", want)
}
