// Package analyzer turns a live PCM audio stream into periodic banded
// amplitude snapshots used to drive the avatar's mouth and the UI's
// volume indicators.
package analyzer

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Bands is one amplitude snapshot, every field normalized to [0,1].
type Bands struct {
	Low    float64 `json:"low"`
	Mid    float64 `json:"mid"`
	High   float64 `json:"high"`
	Volume float64 `json:"volume"`
}

// Config configures band partitioning and snapshot cadence.
type Config struct {
	SampleRate int
	FFTSize    int
	Interval   time.Duration
	LowHz      float64 // upper cutoff of the low band
	MidHz      float64 // upper cutoff of the mid band
	HighHz     float64 // upper cutoff of the high band
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate: 48000,
		FFTSize:    1024,
		Interval:   50 * time.Millisecond,
		LowHz:      300,
		MidHz:      2000,
		HighHz:     8000,
	}
}

// Sink receives the raw samples for playback. The analyzer attaches each
// sink exactly once; attaching a second sink of the same kind replaces the
// first so a reconnect never plays the stream twice.
type Sink interface {
	Attach(sampleRate int) error
	Write(samples []int16) error
	Close() error
}

// Analyzer consumes PCM16 frames and emits Bands at a fixed cadence from a
// self-stopping tick loop.
type Analyzer struct {
	mu  sync.Mutex
	cfg Config
	log zerolog.Logger

	window []int16 // ring buffer of the most recent FFTSize samples
	wpos   int
	filled int

	// scratch buffers reused every snapshot
	frame []int16
	re    []float64
	im    []float64
	mags  []float64

	sinks map[string]Sink

	onBands func(Bands)
	last    Bands

	gen      uint64
	running  bool
	degraded bool
}

// New creates an Analyzer. An invalid FFT size is a setup failure: it is
// reported once and the analyzer degrades to emitting zero bands rather
// than failing the session.
func New(cfg Config, log zerolog.Logger) *Analyzer {
	a := &Analyzer{
		cfg:   cfg,
		log:   log.With().Str("component", "analyzer").Logger(),
		sinks: make(map[string]Sink),
	}

	if !isPowerOfTwo(cfg.FFTSize) || cfg.SampleRate <= 0 {
		a.degraded = true
		a.log.Error().
			Int("fftSize", cfg.FFTSize).
			Int("sampleRate", cfg.SampleRate).
			Msg("Unsupported analyzer configuration, output degraded to zero")
		return a
	}

	a.window = make([]int16, cfg.FFTSize)
	a.frame = make([]int16, cfg.FFTSize)
	a.re = make([]float64, cfg.FFTSize)
	a.im = make([]float64, cfg.FFTSize)
	a.mags = make([]float64, cfg.FFTSize/2)
	return a
}

// OnBands registers the snapshot callback. Must be set before Start.
func (a *Analyzer) OnBands(fn func(Bands)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onBands = fn
}

// AttachSink attaches a playback sink, replacing any prior sink of the
// same kind.
func (a *Analyzer) AttachSink(kind string, s Sink) error {
	a.mu.Lock()
	prev := a.sinks[kind]
	a.sinks[kind] = s
	a.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			a.log.Warn().Err(err).Str("kind", kind).Msg("Failed to close replaced sink")
		}
	}
	if err := s.Attach(a.cfg.SampleRate); err != nil {
		a.mu.Lock()
		delete(a.sinks, kind)
		a.mu.Unlock()
		return fmt.Errorf("attach sink %s: %w", kind, err)
	}
	return nil
}

// WritePCM feeds samples from the subscribed track into the analysis
// window and fans them out to attached sinks.
func (a *Analyzer) WritePCM(samples []int16) {
	a.mu.Lock()
	if a.window != nil {
		for _, s := range samples {
			a.window[a.wpos] = s
			a.wpos = (a.wpos + 1) % len(a.window)
		}
		if a.filled < len(a.window) {
			a.filled += len(samples)
		}
	}
	sinks := make([]Sink, 0, len(a.sinks))
	for _, s := range a.sinks {
		sinks = append(sinks, s)
	}
	a.mu.Unlock()

	for _, s := range sinks {
		if err := s.Write(samples); err != nil {
			a.log.Debug().Err(err).Msg("Sink write failed")
		}
	}
}

// Start launches the snapshot loop. Starting again supersedes any loop
// still draining from a previous start.
func (a *Analyzer) Start() {
	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.running = true
	interval := a.cfg.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			a.mu.Lock()
			if a.gen != gen || !a.running {
				a.mu.Unlock()
				return
			}
			b := a.snapshotLocked()
			a.last = b
			fn := a.onBands
			a.mu.Unlock()

			if fn != nil {
				fn(b)
			}
		}
	}()
}

// Stop halts the loop, closes sinks, and zeroes the band state. Safe to
// call repeatedly and before Start.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	a.gen++
	a.running = false
	a.last = Bands{}
	a.filled = 0
	sinks := a.sinks
	a.sinks = make(map[string]Sink)
	a.mu.Unlock()

	for kind, s := range sinks {
		if err := s.Close(); err != nil {
			a.log.Warn().Err(err).Str("kind", kind).Msg("Failed to close sink")
		}
	}
}

// Last returns the most recent snapshot.
func (a *Analyzer) Last() Bands {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// binFor converts a frequency cutoff to an FFT bin index.
func (a *Analyzer) binFor(cutoffHz float64) int {
	binWidth := float64(a.cfg.SampleRate) / float64(a.cfg.FFTSize)
	bin := int(cutoffHz / binWidth)
	if max := a.cfg.FFTSize / 2; bin > max {
		bin = max
	}
	return bin
}

// snapshotLocked computes one banded snapshot from the current window.
// Caller must hold a.mu.
func (a *Analyzer) snapshotLocked() Bands {
	if a.degraded || a.filled < len(a.window) {
		return Bands{}
	}

	// Unroll the ring so frame is in chronological order.
	n := len(a.window)
	for i := 0; i < n; i++ {
		a.frame[i] = a.window[(a.wpos+i)%n]
	}

	magnitudes(a.frame, a.re, a.im, a.mags)

	// Scale so a full-scale sine maps to 255, matching 8-bit magnitude
	// data, then average per band and normalize by 255.
	fullScale := 32768.0 * float64(n) / 2
	toByte := func(m float64) float64 {
		v := m * 255 / fullScale
		if v > 255 {
			v = 255
		}
		return v
	}

	lowEnd := a.binFor(a.cfg.LowHz)
	midEnd := a.binFor(a.cfg.MidHz)
	highEnd := a.binFor(a.cfg.HighHz)

	return Bands{
		Low:    a.bandAverage(0, lowEnd, toByte),
		Mid:    a.bandAverage(lowEnd, midEnd, toByte),
		High:   a.bandAverage(midEnd, highEnd, toByte),
		Volume: a.bandAverage(0, highEnd, toByte),
	}
}

// bandAverage averages normalized magnitudes over [from, to). A zero-width
// band yields 0.
func (a *Analyzer) bandAverage(from, to int, toByte func(float64) float64) float64 {
	if to <= from {
		return 0
	}
	sum := 0.0
	for i := from; i < to; i++ {
		sum += toByte(a.mags[i])
	}
	return sum / float64(to-from) / 255
}
