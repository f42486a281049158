// Package capture owns the microphone used by live monitoring. The device
// has single-writer semantics: one active recorder per session, released on
// Close no matter how the session ends.
package capture

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Recorder is an open-once capture device. Start acquires the device and
// begins delivering raw audio chunks to onChunk; Close releases it. Close is
// safe to call repeatedly and without a prior successful Start.
type Recorder interface {
	Start(onChunk func([]byte)) error
	Close() error
}

// PickRecorder selects the capture backend from the CAPTURE environment
// variable: "mock" for a deviceless recorder, anything else for the real
// microphone.
func PickRecorder() Recorder {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("CAPTURE")), "mock") {
		fmt.Println("Using mock capture device (no microphone required)")
		return &MockRecorder{}
	}
	return &MalgoRecorder{}
}

// MockRecorder pretends to hold a capture device. FailOpen simulates a
// denied or absent microphone.
type MockRecorder struct {
	mu       sync.Mutex
	FailOpen bool
	started  bool
	closed   bool
}

func (m *MockRecorder) Start(onChunk func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailOpen {
		return fmt.Errorf("open capture device: permission denied")
	}
	if m.started && !m.closed {
		return fmt.Errorf("capture device already in use")
	}
	m.started = true
	m.closed = false
	return nil
}

func (m *MockRecorder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Open reports whether the mock currently holds the device.
func (m *MockRecorder) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && !m.closed
}
