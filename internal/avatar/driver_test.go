package avatar

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vocalize-labs/vocalize-go/internal/analyzer"
)

type fakeRig struct {
	mu       sync.Mutex
	params   map[string]float32
	motions  []string
	prios    []int
	failSet  bool
	finished func(group string)
}

func newFakeRig() *fakeRig {
	return &fakeRig{params: make(map[string]float32)}
}

func (f *fakeRig) SetParam(name string, value float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return errors.New("no such parameter")
	}
	f.params[name] = value
	return nil
}

func (f *fakeRig) PlayMotion(group string, priority int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.motions = append(f.motions, group)
	f.prios = append(f.prios, priority)
	return nil
}

func (f *fakeRig) OnMotionFinished(fn func(group string)) {
	f.finished = fn
}

func (f *fakeRig) param(name string) float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[name]
}

func newTestDriver(rig Rig) *Driver {
	return NewDriver(rig, DefaultDriverConfig(), zerolog.Nop())
}

func TestMouthTargetsLowHeavySignal(t *testing.T) {
	d := newTestDriver(newFakeRig())
	d.SetAgentState(StateSpeaking)
	d.UpdateBands(analyzer.Bands{Low: 0.9, Mid: 0.1, High: 0})

	open, form := d.mouthTargets()
	if open != 1.0 {
		t.Errorf("low-heavy signal should clamp open to 1.0, got %v", open)
	}
	if form >= 0 {
		t.Errorf("low-heavy signal should pucker (negative form), got %v", form)
	}
}

func TestMouthTargetsSpreadSignal(t *testing.T) {
	d := newTestDriver(newFakeRig())
	d.SetAgentState(StateSpeaking)
	d.UpdateBands(analyzer.Bands{Low: 0.05, Mid: 0.5, High: 0.5})

	_, form := d.mouthTargets()
	if form <= 0 {
		t.Errorf("mid/high energy should spread the mouth, got form %v", form)
	}
}

func TestMouthTargetsVolumeFallback(t *testing.T) {
	d := newTestDriver(newFakeRig())
	d.SetAgentState(StateSpeaking)
	d.UpdateBands(analyzer.Bands{Volume: 0.4})

	open, form := d.mouthTargets()
	if open <= 0.5 || open > 1 {
		t.Errorf("volume fallback should scale volume up, got %v", open)
	}
	if form != 0 {
		t.Errorf("volume fallback carries no form information, got %v", form)
	}
}

func TestMouthClosesWhenNotSpeaking(t *testing.T) {
	rig := newFakeRig()
	d := newTestDriver(rig)
	d.SetAgentState(StateSpeaking)
	d.UpdateBands(analyzer.Bands{Low: 0.8, Mid: 0.5, High: 0.1})

	now := time.Now()
	for i := 0; i < 30; i++ {
		d.step(1.0/60, now)
		now = now.Add(time.Second / 60)
	}
	if rig.param(ParamMouthOpen) < 0.5 {
		t.Fatalf("mouth should be open while speaking, got %v", rig.param(ParamMouthOpen))
	}

	d.SetAgentState(StateListening)
	for i := 0; i < 120; i++ {
		d.step(1.0/60, now)
		now = now.Add(time.Second / 60)
	}
	if rig.param(ParamMouthOpen) > 0.02 {
		t.Errorf("mouth should decay closed after speaking, got %v", rig.param(ParamMouthOpen))
	}
}

func TestSwayRelaxesWhenIdle(t *testing.T) {
	rig := newFakeRig()
	d := newTestDriver(rig)
	d.SetAgentState(StateSpeaking)

	now := time.Now()
	for i := 0; i < 60; i++ {
		d.step(1.0/60, now)
		now = now.Add(time.Second / 60)
	}

	d.SetAgentState(StateListening)
	for i := 0; i < 300; i++ {
		d.step(1.0/60, now)
		now = now.Add(time.Second / 60)
	}

	if yaw := rig.param(ParamHeadYaw); yaw > 0.05 || yaw < -0.05 {
		t.Errorf("head should relax toward neutral when idle, got yaw %v", yaw)
	}
}

func TestBlinkEnvelope(t *testing.T) {
	rig := newFakeRig()
	d := newTestDriver(rig)

	// Force the next blink to be due immediately.
	d.mu.Lock()
	d.nextBlink = time.Now().Add(-time.Millisecond)
	d.mu.Unlock()

	now := time.Now()
	var sawClosed bool
	for i := 0; i < 60; i++ {
		d.step(1.0/60, now)
		now = now.Add(time.Second / 60)
		if rig.param(ParamEyeOpen) < 0.1 {
			sawClosed = true
		}
	}

	if !sawClosed {
		t.Fatal("blink never closed the eyes")
	}
	if rig.param(ParamEyeOpen) < 0.99 {
		t.Errorf("eyes should reopen fully after the blink, got %v", rig.param(ParamEyeOpen))
	}

	d.mu.Lock()
	rescheduled := d.nextBlink.After(now.Add(d.cfg.BlinkMinGap - time.Second))
	d.mu.Unlock()
	if !rescheduled {
		t.Error("next blink was not rescheduled after the envelope completed")
	}
}

func TestThinkingGaze(t *testing.T) {
	rig := newFakeRig()
	d := newTestDriver(rig)
	d.SetAgentState(StateThinking)

	d.step(1.0/60, time.Now())
	if rig.param(ParamEyeBallX) == 0 && rig.param(ParamEyeBallY) == 0 {
		t.Error("thinking state should shift the gaze off-center")
	}
}

func TestParamFailuresSwallowed(t *testing.T) {
	rig := newFakeRig()
	rig.failSet = true
	d := newTestDriver(rig)
	d.SetAgentState(StateSpeaking)

	now := time.Now()
	for i := 0; i < 10; i++ {
		d.step(1.0/60, now)
		now = now.Add(time.Second / 60)
	}
	// Reaching here without a panic is the assertion; the loop keeps
	// stepping regardless of per-parameter failures.
}

func TestCueMappingAndFallback(t *testing.T) {
	rig := newFakeRig()
	d := newTestDriver(rig)

	d.TriggerCue("wave")
	d.TriggerCue("brand_new_gesture")
	d.TriggerCue("")

	rig.mu.Lock()
	defer rig.mu.Unlock()
	if len(rig.motions) != 2 {
		t.Fatalf("expected two motions, got %v", rig.motions)
	}
	if rig.motions[0] != "Wave" {
		t.Errorf("wave cue should map to Wave, got %s", rig.motions[0])
	}
	if rig.motions[1] != MotionTapBody {
		t.Errorf("unknown cue should fall back to TapBody, got %s", rig.motions[1])
	}
	for _, p := range rig.prios {
		if p != PriorityForce {
			t.Errorf("cue motions must run at force priority, got %d", p)
		}
	}
}

func TestMotionFinishedReturnsToIdle(t *testing.T) {
	rig := newFakeRig()
	d := newTestDriver(rig)
	d.SetAgentState(StateListening)

	rig.finished("Wave")

	rig.mu.Lock()
	defer rig.mu.Unlock()
	if len(rig.motions) == 0 || rig.motions[len(rig.motions)-1] != MotionIdle {
		t.Errorf("finished one-shot should re-trigger idle, got %v", rig.motions)
	}
}

func TestMotionFinishedResumesSpeaking(t *testing.T) {
	rig := newFakeRig()
	d := newTestDriver(rig)
	d.SetAgentState(StateSpeaking)

	rig.finished("Nod")

	rig.mu.Lock()
	defer rig.mu.Unlock()
	if rig.motions[len(rig.motions)-1] != MotionSpeak {
		t.Errorf("finished one-shot should resume speak motion, got %v", rig.motions)
	}
}

func TestStopIdempotent(t *testing.T) {
	d := newTestDriver(newFakeRig())
	d.Start()
	d.Stop()
	d.Stop()
}
