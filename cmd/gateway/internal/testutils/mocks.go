package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"
)

// MockClient simulates a connected websocket peer.
type MockClient struct {
	Mu        sync.Mutex
	Sent      [][]byte
	Pings     int
	Closed    bool
	FailSends bool
}

func (m *MockClient) Send(b []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailSends {
		return errors.New("send failed")
	}
	buf := make([]byte, len(b))
	copy(buf, b)
	m.Sent = append(m.Sent, buf)
	return nil
}

func (m *MockClient) Ping() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Pings++
	return nil
}

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SentCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Sent)
}

func (m *MockClient) LastSent() []byte {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	return m.Sent[len(m.Sent)-1]
}

func (m *MockClient) IsClosed() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Closed
}

func (m *MockClient) PingCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Pings
}

// MockKafkaReader feeds a fixed message sequence, then blocks until the
// context ends.
type MockKafkaReader struct {
	Mu       sync.Mutex
	Queue    []kafka.Message
	CloseErr error
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	if len(m.Queue) > 0 {
		msg := m.Queue[0]
		m.Queue = m.Queue[1:]
		m.Mu.Unlock()
		return msg, nil
	}
	m.Mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *MockKafkaReader) Close() error { return m.CloseErr }

// MockSnapshotStore records saved snapshots in memory.
type MockSnapshotStore struct {
	Mu        sync.Mutex
	Snapshots map[string]string
	FailSaves bool
}

func NewMockSnapshotStore() *MockSnapshotStore {
	return &MockSnapshotStore{Snapshots: make(map[string]string)}
}

func (m *MockSnapshotStore) SaveSnapshot(ctx context.Context, symbol string, payload []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailSaves {
		return errors.New("store unavailable")
	}
	m.Snapshots[symbol] = string(payload)
	return nil
}

func (m *MockSnapshotStore) GetSnapshots(ctx context.Context, symbols []string) ([]string, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []string
	for _, sym := range symbols {
		if payload, ok := m.Snapshots[sym]; ok {
			out = append(out, payload)
		}
	}
	return out, nil
}

func (m *MockSnapshotStore) Close() error { return nil }
