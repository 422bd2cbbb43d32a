package hub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tradewire/tradewire/cmd/gateway/internal/hub"
	"github.com/tradewire/tradewire/pkg/protocol"
	"github.com/tradewire/tradewire/cmd/gateway/internal/testutils"
	"github.com/tradewire/tradewire/pkg/models"
)

func newHub() *hub.Hub {
	return hub.New(zap.NewNop(), hub.Config{
		FlushInterval: 100 * time.Millisecond,
		SweepInterval: 30 * time.Second,
		BufferLimit:   10000,
	})
}

func trade(id int64) models.Trade {
	return models.Trade{ID: id, Symbol: "AAPL", Price: 150.25, Volume: 80, Side: models.SideBuy, Timestamp: 1700000000000}
}

func TestHub_FlushDeliversOneBatchToAll(t *testing.T) {
	h := newHub()
	clients := []*testutils.MockClient{{}, {}, {}}
	for _, c := range clients {
		h.Accept(c)
	}

	for i := int64(1); i <= 250; i++ {
		h.Enqueue(trade(i))
	}
	h.Flush()

	for i, c := range clients {
		if c.SentCount() != 1 {
			t.Fatalf("Client %d: expected exactly 1 batch, got %d", i, c.SentCount())
		}
		var batch protocol.Batch
		if err := json.Unmarshal(c.LastSent(), &batch); err != nil {
			t.Fatalf("Client %d: invalid batch JSON: %v", i, err)
		}
		if batch.Type != protocol.TypeBatch || batch.Count != 250 || len(batch.Trades) != 250 {
			t.Errorf("Client %d: unexpected batch %s count=%d len=%d", i, batch.Type, batch.Count, len(batch.Trades))
		}
	}

	if _, buffered := h.Status(); buffered != 0 {
		t.Errorf("Buffer should be empty after flush, has %d", buffered)
	}
}

func TestHub_FlushEmptyBufferSendsNothing(t *testing.T) {
	h := newHub()
	c := &testutils.MockClient{}
	h.Accept(c)

	h.Flush()
	if c.SentCount() != 0 {
		t.Errorf("Expected no sends on empty buffer, got %d", c.SentCount())
	}
}

func TestHub_SendFailureIsolated(t *testing.T) {
	h := newHub()
	bad := &testutils.MockClient{FailSends: true}
	good := &testutils.MockClient{}
	h.Accept(bad)
	h.Accept(good)

	h.Enqueue(trade(1))
	h.Flush()

	if good.SentCount() != 1 {
		t.Errorf("Healthy connection should receive the batch despite the other failing")
	}
	if !bad.IsClosed() {
		t.Errorf("Failed connection should be closed")
	}

	conns, _ := h.Status()
	if conns != 1 {
		t.Errorf("Failed connection should be removed from registry, have %d", conns)
	}
}

func TestHub_RemovedConnectionReceivesNothing(t *testing.T) {
	h := newHub()
	c := &testutils.MockClient{}
	id := h.Accept(c)

	h.Remove(id)
	h.Enqueue(trade(1))
	h.Flush()

	if c.SentCount() != 0 {
		t.Errorf("Removed connection got %d sends", c.SentCount())
	}
	if !c.IsClosed() {
		t.Errorf("Removed connection should be closed")
	}
}

func TestHub_HeartbeatTwoStrikeTermination(t *testing.T) {
	h := newHub()
	c := &testutils.MockClient{}
	h.Accept(c)

	// First sweep: connection was alive on admission, so it survives,
	// loses its flag, and gets probed.
	h.HeartbeatSweep()
	if conns, _ := h.Status(); conns != 1 {
		t.Fatalf("Connection terminated after a single sweep")
	}
	if c.PingCount() != 1 {
		t.Errorf("Expected a liveness probe, got %d", c.PingCount())
	}

	// Second sweep with no answer: terminated.
	h.HeartbeatSweep()
	if conns, _ := h.Status(); conns != 0 {
		t.Errorf("Silent connection should be terminated after two sweeps")
	}
	if !c.IsClosed() {
		t.Errorf("Terminated connection should be closed")
	}
}

func TestHub_AnsweringPeerSurvivesSweeps(t *testing.T) {
	h := newHub()
	c := &testutils.MockClient{}
	id := h.Accept(c)

	for i := 0; i < 5; i++ {
		h.HeartbeatSweep()
		h.MarkAlive(id)
	}

	if conns, _ := h.Status(); conns != 1 {
		t.Errorf("Responsive connection should stay registered")
	}
}

func TestHub_PingAnsweredWithPong(t *testing.T) {
	h := newHub()
	c := &testutils.MockClient{}
	id := h.Accept(c)

	h.HeartbeatSweep() // clear the admission flag

	h.HandleMessage(id, []byte(`{"type":"ping"}`))

	var pong protocol.Pong
	if err := json.Unmarshal(c.LastSent(), &pong); err != nil {
		t.Fatalf("Invalid pong: %v", err)
	}
	if pong.Type != protocol.TypePong || pong.Timestamp == 0 {
		t.Errorf("Unexpected pong %+v", pong)
	}

	// The ping also refreshed liveness, so the next sweep keeps it.
	h.HeartbeatSweep()
	if conns, _ := h.Status(); conns != 1 {
		t.Errorf("Ping should have refreshed liveness")
	}
}

func TestHub_SubscribeAcknowledged(t *testing.T) {
	h := newHub()
	c := &testutils.MockClient{}
	id := h.Accept(c)

	h.HandleMessage(id, []byte(`{"type":"subscribe","channel":"trades","id":"req-1"}`))

	var resp protocol.Response
	if err := json.Unmarshal(c.LastSent(), &resp); err != nil {
		t.Fatalf("Invalid ack: %v", err)
	}
	if resp.Type != protocol.TypeAck || resp.ID != "req-1" || resp.Status != "success" {
		t.Errorf("Unexpected ack %+v", resp)
	}
}

func TestHub_UnknownAndMalformedMessagesIgnored(t *testing.T) {
	h := newHub()
	c := &testutils.MockClient{}
	id := h.Accept(c)

	h.HandleMessage(id, []byte(`{"type":"mystery"}`))
	h.HandleMessage(id, []byte(`{not json`))

	if c.SentCount() != 0 {
		t.Errorf("No reply expected for unknown/malformed messages, got %d", c.SentCount())
	}
	if conns, _ := h.Status(); conns != 1 {
		t.Errorf("Connection must stay open through bad payloads")
	}
}

func TestHub_BufferCapDropsOldest(t *testing.T) {
	h := hub.New(zap.NewNop(), hub.Config{BufferLimit: 10})
	c := &testutils.MockClient{}
	h.Accept(c)

	for i := int64(1); i <= 15; i++ {
		h.Enqueue(trade(i))
	}
	h.Flush()

	var batch protocol.Batch
	if err := json.Unmarshal(c.LastSent(), &batch); err != nil {
		t.Fatal(err)
	}
	if len(batch.Trades) != 10 {
		t.Fatalf("Expected capped batch of 10, got %d", len(batch.Trades))
	}
	if batch.Trades[0].ID != 6 {
		t.Errorf("Expected oldest trades dropped, first id is %d", batch.Trades[0].ID)
	}
}

func TestHub_RunFlushesPeriodically(t *testing.T) {
	h := hub.New(zap.NewNop(), hub.Config{
		FlushInterval: 20 * time.Millisecond,
		SweepInterval: time.Hour,
	})
	c := &testutils.MockClient{}
	h.Accept(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Run(ctx)

	h.Enqueue(trade(1))
	time.Sleep(60 * time.Millisecond)

	if c.SentCount() == 0 {
		t.Errorf("Run loop should have flushed the buffer")
	}

	h.Shutdown()
	if !c.IsClosed() {
		t.Errorf("Shutdown should close all connections")
	}

	// No further sends after Shutdown returns.
	frozen := c.SentCount()
	h.Enqueue(trade(2))
	time.Sleep(50 * time.Millisecond)
	if c.SentCount() != frozen {
		t.Errorf("Flush fired after Shutdown")
	}
}

func TestHub_ShutdownIdempotentAndEmptySafe(t *testing.T) {
	h := newHub()
	h.Shutdown()
	h.Shutdown()

	if conns, buffered := h.Status(); conns != 0 || buffered != 0 {
		t.Errorf("Expected empty hub after shutdown")
	}
}
