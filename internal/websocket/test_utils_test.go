package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

// mockConn implements the Conn interface for testing
type mockConn struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
}

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClientDisconnected
	}
	m.messages = append(m.messages, data)
	return nil
}

func (m *mockConn) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockConn) getMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]byte, len(m.messages))
	copy(result, m.messages)
	return result
}

// receivedFrames decodes everything the connection received.
func (m *mockConn) receivedFrames(t *testing.T) []Frame {
	t.Helper()
	var frames []Frame
	for _, raw := range m.getMessages() {
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("received undecodable frame %s: %v", raw, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

// lastFrame returns the most recent frame or fails the test.
func (m *mockConn) lastFrame(t *testing.T) Frame {
	t.Helper()
	frames := m.receivedFrames(t)
	if len(frames) == 0 {
		t.Fatal("expected at least one frame, got none")
	}
	return frames[len(frames)-1]
}

// fakeVerifier resolves fixed tokens to user IDs.
type fakeVerifier struct {
	users map[string]uint
}

func (f *fakeVerifier) VerifyToken(token string) (uint, error) {
	id, ok := f.users[token]
	if !ok {
		return 0, fmt.Errorf("invalid token")
	}
	return id, nil
}
