package processors

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"voiceguard/capture"
	"voiceguard/core"
)

// Clock produces tickers; tests inject a fake so the monitor can be driven
// without real timers.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) NewTicker(d time.Duration) Ticker { return &realTicker{t: time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// LiveStatus is the monitor's externally visible state.
type LiveStatus struct {
	Active        bool               `json:"active"`
	Transcript    string             `json:"transcript"`
	Analyzing     bool               `json:"analyzing"`
	CapturedBytes int                `json:"captured_bytes"`
	LastAnalysis  *core.LiveSnapshot `json:"last_analysis,omitempty"`
}

// LiveMonitor owns one live monitoring session: the capture device, the
// accumulated transcript and a periodic analysis pass. At most one analysis
// is in flight at a time; a tick that fires while one is running is skipped
// outright, never queued.
type LiveMonitor struct {
	analyzer Analyzer
	recorder capture.Recorder
	clock    Clock
	interval time.Duration
	minLen   int

	mu            sync.Mutex
	active        bool
	transcript    string
	capturedBytes int
	inFlight      bool
	last          *core.LiveSnapshot
	stopCh        chan struct{}
	done          chan struct{}
}

// NewLiveMonitor wires a monitor with the real clock. Interval is the tick
// period; minLen is the minimum accumulated transcript length (runes) before
// an analysis pass is issued.
func NewLiveMonitor(analyzer Analyzer, recorder capture.Recorder, interval time.Duration, minLen int) *LiveMonitor {
	return &LiveMonitor{
		analyzer: analyzer,
		recorder: recorder,
		clock:    realClock{},
		interval: interval,
		minLen:   minLen,
	}
}

// WithClock swaps the ticker source, for tests.
func (m *LiveMonitor) WithClock(clock Clock) *LiveMonitor {
	m.clock = clock
	return m
}

// Start acquires the capture device and begins the periodic analysis loop.
// A device failure leaves the monitor idle. Starting an active session is an
// error; the microphone has single-writer semantics. The loop's lifetime is
// owned by Stop/Close, not by the caller: a session started from an HTTP
// request keeps running after the request finishes.
func (m *LiveMonitor) Start() error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return core.ErrSessionActive
	}
	m.mu.Unlock()

	if err := m.recorder.Start(m.onChunk); err != nil {
		return fmt.Errorf("start monitoring: %w", err)
	}

	m.mu.Lock()
	m.active = true
	m.transcript = ""
	m.capturedBytes = 0
	m.last = nil
	m.inFlight = false
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	go m.loop(stopCh, done)
	log.Printf("Live monitoring started (interval %s, min transcript %d)", m.interval, m.minLen)
	return nil
}

func (m *LiveMonitor) loop(stopCh chan struct{}, done chan struct{}) {
	defer close(done)
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C():
			m.tick()
		}
	}
}

// tick issues one analysis pass unless a previous one is still in flight or
// the transcript is too short. Skipped ticks are dropped.
func (m *LiveMonitor) tick() {
	m.mu.Lock()
	if !m.active || m.inFlight || len([]rune(m.transcript)) <= m.minLen {
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	text := m.transcript
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.inFlight = false
			m.mu.Unlock()
		}()
		result, err := m.analyzer.Analyze(context.Background(), text, ModeLive)
		if err != nil {
			log.Printf("live analysis: %v", err)
			return
		}
		snapshot := core.LiveSnapshot{
			RiskScore: result.RiskScore,
			Status:    core.Classify(result.RiskScore).Status,
			Threats:   result.ThreatLabels(),
		}
		// A pass that resolves after Stop still lands here; stale snapshots
		// are harmless because the session state was already reset.
		m.mu.Lock()
		m.last = &snapshot
		m.mu.Unlock()
	}()
}

// AppendTranscript adds recognized speech to the session buffer.
func (m *LiveMonitor) AppendTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	if m.transcript == "" {
		m.transcript = text
	} else {
		m.transcript += " " + text
	}
}

func (m *LiveMonitor) onChunk(chunk []byte) {
	m.mu.Lock()
	m.capturedBytes += len(chunk)
	m.mu.Unlock()
}

// Stop cancels the timer and releases the capture device. Calling it on an
// idle monitor is a no-op. An analysis pass already in flight is allowed to
// finish.
func (m *LiveMonitor) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	close(stopCh)
	<-done
	if err := m.recorder.Close(); err != nil {
		log.Printf("release capture device: %v", err)
	}
	log.Printf("Live monitoring stopped")
}

// Close is the teardown path: it guarantees the timer is cancelled and the
// capture device released even when Stop was never called.
func (m *LiveMonitor) Close() {
	m.Stop()
	_ = m.recorder.Close()
}

// Status returns a snapshot of the session state.
func (m *LiveMonitor) Status() LiveStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := LiveStatus{
		Active:        m.active,
		Transcript:    m.transcript,
		Analyzing:     m.inFlight,
		CapturedBytes: m.capturedBytes,
	}
	if m.last != nil {
		snapshot := *m.last
		status.LastAnalysis = &snapshot
	}
	return status
}
