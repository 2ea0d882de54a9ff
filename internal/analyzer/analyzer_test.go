package analyzer

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	return cfg
}

// fill pushes a pure sine of the given frequency through the analyzer
// until the analysis window is full.
func fill(a *Analyzer, freqHz float64, amplitude float64) {
	cfg := a.cfg
	samples := make([]int16, cfg.FFTSize)
	for i := range samples {
		t := float64(i) / float64(cfg.SampleRate)
		samples[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freqHz*t))
	}
	a.WritePCM(samples)
}

func TestBinPartition(t *testing.T) {
	a := New(testConfig(), zerolog.Nop())

	// 48000 / 1024 = 46.875 Hz per bin
	if got := a.binFor(300); got != 6 {
		t.Errorf("expected 300Hz cutoff at bin 6, got %d", got)
	}
	if got := a.binFor(2000); got != 42 {
		t.Errorf("expected 2000Hz cutoff at bin 42, got %d", got)
	}
	if got := a.binFor(8000); got != 170 {
		t.Errorf("expected 8000Hz cutoff at bin 170, got %d", got)
	}
	// Cutoffs above Nyquist clamp to the bin count
	if got := a.binFor(100000); got != 512 {
		t.Errorf("expected clamp to 512, got %d", got)
	}
}

func TestLowFrequencyToneLandsInLowBand(t *testing.T) {
	a := New(testConfig(), zerolog.Nop())
	fill(a, 100, 0.9)

	a.mu.Lock()
	b := a.snapshotLocked()
	a.mu.Unlock()

	if b.Low <= b.Mid || b.Low <= b.High {
		t.Errorf("expected low band to dominate for 100Hz tone, got %+v", b)
	}
	if b.Low <= 0 {
		t.Error("expected non-zero low band")
	}
	if b.Volume <= 0 || b.Volume > 1 {
		t.Errorf("expected volume in (0,1], got %f", b.Volume)
	}
}

func TestMidFrequencyToneLandsInMidBand(t *testing.T) {
	a := New(testConfig(), zerolog.Nop())
	fill(a, 1000, 0.9)

	a.mu.Lock()
	b := a.snapshotLocked()
	a.mu.Unlock()

	if b.Mid <= b.Low || b.Mid <= b.High {
		t.Errorf("expected mid band to dominate for 1kHz tone, got %+v", b)
	}
}

func TestZeroWidthBandYieldsZero(t *testing.T) {
	cfg := testConfig()
	cfg.MidHz = cfg.LowHz // mid band collapses to zero width
	a := New(cfg, zerolog.Nop())
	fill(a, 1000, 0.9)

	a.mu.Lock()
	b := a.snapshotLocked()
	a.mu.Unlock()

	if b.Mid != 0 {
		t.Errorf("expected zero for zero-width band, got %f", b.Mid)
	}
}

func TestEmptyWindowYieldsZero(t *testing.T) {
	a := New(testConfig(), zerolog.Nop())

	a.mu.Lock()
	b := a.snapshotLocked()
	a.mu.Unlock()

	if b != (Bands{}) {
		t.Errorf("expected zero bands before any audio, got %+v", b)
	}
}

func TestInvalidConfigDegradesToZero(t *testing.T) {
	cfg := testConfig()
	cfg.FFTSize = 1000 // not a power of two
	a := New(cfg, zerolog.Nop())

	a.WritePCM(make([]int16, 2048))
	a.mu.Lock()
	b := a.snapshotLocked()
	a.mu.Unlock()

	if b != (Bands{}) {
		t.Errorf("expected degraded analyzer to emit zero bands, got %+v", b)
	}
}

func TestStopIsIdempotentAndSilencesLoop(t *testing.T) {
	a := New(testConfig(), zerolog.Nop())

	var calls atomic.Int64
	a.OnBands(func(Bands) { calls.Add(1) })
	a.Start()

	time.Sleep(35 * time.Millisecond)
	a.Stop()
	a.Stop()

	if a.Last() != (Bands{}) {
		t.Errorf("expected zeroed bands after teardown, got %+v", a.Last())
	}

	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != settled {
		t.Error("snapshot loop kept firing after Stop")
	}
}

func TestRestartSupersedesOldLoop(t *testing.T) {
	a := New(testConfig(), zerolog.Nop())
	a.OnBands(func(Bands) {})

	a.Start()
	a.Start() // supersedes the first loop via the generation counter
	a.Stop()

	time.Sleep(30 * time.Millisecond)
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if running {
		t.Error("expected analyzer stopped")
	}
}

type recordSink struct {
	mu       sync.Mutex
	attached int
	closed   int
	written  int
}

func (s *recordSink) Attach(int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached++
	return nil
}

func (s *recordSink) Write(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written += len(samples)
	return nil
}

func (s *recordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func TestSinkReplacedNotDuplicated(t *testing.T) {
	a := New(testConfig(), zerolog.Nop())

	first := &recordSink{}
	second := &recordSink{}

	if err := a.AttachSink("playback", first); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := a.AttachSink("playback", second); err != nil {
		t.Fatalf("attach: %v", err)
	}

	a.WritePCM(make([]int16, 480))

	if first.closed != 1 {
		t.Errorf("expected replaced sink closed once, got %d", first.closed)
	}
	if first.written != 0 {
		t.Error("replaced sink must not receive audio")
	}
	if second.attached != 1 || second.written != 480 {
		t.Errorf("expected active sink attached once with audio, got attached=%d written=%d",
			second.attached, second.written)
	}

	a.Stop()
	if second.closed != 1 {
		t.Errorf("expected sink closed on teardown, got %d", second.closed)
	}
}
