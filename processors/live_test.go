package processors

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"voiceguard/capture"
	"voiceguard/core"
)

// fakeClock drives the monitor loop from the test instead of a timer. Sends
// on ticks are unbuffered, so a completed send means the loop has received
// the tick and any previously delivered tick was fully handled.
type fakeClock struct{ ticks chan time.Time }

func (c fakeClock) NewTicker(time.Duration) Ticker { return fakeTicker{c.ticks} }

type fakeTicker struct{ ch chan time.Time }

func (t fakeTicker) C() <-chan time.Time { return t.ch }
func (fakeTicker) Stop()                 {}

// scriptedAnalyzer counts calls and can block inside Analyze until released.
type scriptedAnalyzer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	result  core.AnalysisResult
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, transcription string, mode AnalysisMode) (core.AnalysisResult, error) {
	a.calls.Add(1)
	if a.started != nil {
		a.started <- struct{}{}
	}
	if a.release != nil {
		<-a.release
	}
	return a.result, nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

const longTranscript = "Act now and verify your account immediately, or agents will arrest you before the end of the business day."

func TestLiveMonitorSkipsShortTranscript(t *testing.T) {
	analyzer := &scriptedAnalyzer{}
	clock := fakeClock{ticks: make(chan time.Time)}
	m := NewLiveMonitor(analyzer, &capture.MockRecorder{}, time.Second, 50).WithClock(clock)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.AppendTranscript("too short")
	clock.ticks <- time.Time{}
	clock.ticks <- time.Time{}
	m.Stop()
	if n := analyzer.calls.Load(); n != 0 {
		t.Errorf("analyzer called %d times for a short transcript, want 0", n)
	}
}

func TestLiveMonitorAnalyzesAndRecomputesStatus(t *testing.T) {
	analyzer := &scriptedAnalyzer{result: core.AnalysisResult{
		RiskScore: 75,
		Status:    core.StatusSafe, // deliberately wrong, must be recomputed
		Threats:   []core.ThreatResult{{ThreatType: "Urgency Pressure"}},
	}}
	clock := fakeClock{ticks: make(chan time.Time)}
	m := NewLiveMonitor(analyzer, &capture.MockRecorder{}, time.Second, 10).WithClock(clock)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	m.AppendTranscript(longTranscript)
	clock.ticks <- time.Time{}
	waitFor(t, func() bool { return m.Status().LastAnalysis != nil }, "no analysis snapshot recorded")

	last := m.Status().LastAnalysis
	if last.RiskScore != 75 {
		t.Errorf("RiskScore = %d, want 75", last.RiskScore)
	}
	if last.Status != core.StatusDanger {
		t.Errorf("Status = %q, want %q", last.Status, core.StatusDanger)
	}
	if len(last.Threats) != 1 || last.Threats[0] != "Urgency Pressure" {
		t.Errorf("Threats = %v, want [Urgency Pressure]", last.Threats)
	}
}

func TestLiveMonitorDropsTickWhileInFlight(t *testing.T) {
	analyzer := &scriptedAnalyzer{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  core.AnalysisResult{RiskScore: 40},
	}
	clock := fakeClock{ticks: make(chan time.Time)}
	m := NewLiveMonitor(analyzer, &capture.MockRecorder{}, time.Second, 10).WithClock(clock)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()
	m.AppendTranscript(longTranscript)

	clock.ticks <- time.Time{}
	<-analyzer.started // first pass is now blocked inside Analyze

	// Two more ticks while the pass is in flight. The third send completing
	// proves the second tick was handled, and handled as a skip.
	clock.ticks <- time.Time{}
	clock.ticks <- time.Time{}
	if n := analyzer.calls.Load(); n != 1 {
		t.Fatalf("analyzer called %d times with a pass in flight, want 1", n)
	}
	status := m.Status()
	if !status.Analyzing {
		t.Error("Status().Analyzing = false during in-flight pass")
	}
	if status.LastAnalysis != nil {
		t.Errorf("LastAnalysis set before the pass resolved: %+v", status.LastAnalysis)
	}

	close(analyzer.release)
	waitFor(t, func() bool { return !m.Status().Analyzing }, "in-flight flag never cleared")
	waitFor(t, func() bool { return m.Status().LastAnalysis != nil }, "snapshot never recorded")

	// A tick after the pass resolved issues a fresh analysis.
	clock.ticks <- time.Time{}
	<-analyzer.started
	waitFor(t, func() bool { return analyzer.calls.Load() == 2 }, "second pass never issued")
}

func TestLiveMonitorStartDeviceFailure(t *testing.T) {
	rec := &capture.MockRecorder{FailOpen: true}
	m := NewLiveMonitor(&scriptedAnalyzer{}, rec, time.Second, 10)
	if err := m.Start(); err == nil {
		t.Fatal("Start succeeded with a failing capture device")
	}
	if m.Status().Active {
		t.Error("monitor active after device failure")
	}
	m.Stop() // idle no-op
}

func TestLiveMonitorDoubleStart(t *testing.T) {
	clock := fakeClock{ticks: make(chan time.Time)}
	m := NewLiveMonitor(&scriptedAnalyzer{}, &capture.MockRecorder{}, time.Second, 10).WithClock(clock)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()
	if err := m.Start(); !errors.Is(err, core.ErrSessionActive) {
		t.Errorf("second Start = %v, want ErrSessionActive", err)
	}
}

func TestLiveMonitorStopReleasesDevice(t *testing.T) {
	rec := &capture.MockRecorder{}
	clock := fakeClock{ticks: make(chan time.Time)}
	m := NewLiveMonitor(&scriptedAnalyzer{}, rec, time.Second, 10).WithClock(clock)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !rec.Open() {
		t.Fatal("device not held after Start")
	}
	m.Stop()
	if rec.Open() {
		t.Error("device still held after Stop")
	}
	if m.Status().Active {
		t.Error("monitor still active after Stop")
	}
	m.Stop()  // repeated Stop is a no-op
	m.Close() // teardown on a stopped monitor is safe
}

func TestLiveMonitorTranscriptLifecycle(t *testing.T) {
	clock := fakeClock{ticks: make(chan time.Time)}
	m := NewLiveMonitor(&scriptedAnalyzer{}, &capture.MockRecorder{}, time.Second, 10).WithClock(clock)

	m.AppendTranscript("ignored while idle")
	if got := m.Status().Transcript; got != "" {
		t.Errorf("idle append stored %q", got)
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.AppendTranscript("hello")
	m.AppendTranscript("  world  ")
	m.AppendTranscript("")
	if got := m.Status().Transcript; got != "hello world" {
		t.Errorf("Transcript = %q, want %q", got, "hello world")
	}
	m.Stop()

	// A new session starts from an empty buffer.
	if err := m.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer m.Stop()
	if got := m.Status().Transcript; got != "" {
		t.Errorf("Transcript after restart = %q, want empty", got)
	}
}
