package avatar

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"

	"github.com/vocalize-labs/vocalize-go/internal/analyzer"
)

// State is the agent's semantic conversational state as seen by the
// driver.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateListening    State = "listening"
	StateThinking     State = "thinking"
	StateSpeaking     State = "speaking"
)

// DriverConfig holds the tunable animation constants. The band-to-mouth
// weights are qualitative (low frequencies pucker, mid/high spread), not
// hard contracts.
type DriverConfig struct {
	FrameRate int

	MouthSmoothing   float32 // exponential smoothing factor per frame
	OpenLowWeight    float32
	OpenMidWeight    float32
	FormSpreadWeight float32
	FormPuckerWeight float32
	VolumeGain       float32 // volume-only fallback gain

	SwayDecay    float32 // idle relaxation multiplier per frame
	BreathPeriod time.Duration

	BlinkMinGap   time.Duration
	BlinkMaxGap   time.Duration
	BlinkDuration float32 // seconds for the full close-open envelope
}

// DefaultDriverConfig returns the tuned defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		FrameRate:        60,
		MouthSmoothing:   0.3,
		OpenLowWeight:    1.2,
		OpenMidWeight:    0.8,
		FormSpreadWeight: 0.6,
		FormPuckerWeight: 0.8,
		VolumeGain:       1.5,
		SwayDecay:        0.92,
		BreathPeriod:     4 * time.Second,
		BlinkMinGap:      2 * time.Second,
		BlinkMaxGap:      5 * time.Second,
		BlinkDuration:    0.25,
	}
}

// Sway amplitudes in rig angle units, deliberately small and mutually
// out of phase so the motion never looks mechanical.
const (
	swayYawAmp   = 6.0
	swayTiltAmp  = 4.0
	swayBodyAmp  = 3.0
	swayYawRate  = 1.1
	swayTiltRate = 0.7
	swayBodyRate = 0.5
)

type blinkPhase int

const (
	blinkOpen blinkPhase = iota
	blinkClosing
	blinkClosed
	blinkOpening
)

// Driver is the continuous parameter loop. It owns no session state; the
// session pushes agent state, band snapshots, and cues into it.
type Driver struct {
	mu  sync.Mutex
	rig Rig
	cfg DriverConfig
	log zerolog.Logger

	gen     uint64
	running bool

	state    State
	bands    analyzer.Bands
	hasBands bool

	breathTime float32
	swayTime   float32
	headPose   mgl32.Vec3 // yaw, tilt, body sway
	mouthOpen  float32
	mouthForm  float32

	blink      blinkPhase
	blinkPos   float32
	nextBlink  time.Time
	paramFails int

	clock func() time.Time
}

// NewDriver creates a driver for the given rig.
func NewDriver(rig Rig, cfg DriverConfig, log zerolog.Logger) *Driver {
	def := DefaultDriverConfig()
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = def.FrameRate
	}
	if cfg.MouthSmoothing <= 0 {
		cfg.MouthSmoothing = def.MouthSmoothing
	}
	if cfg.BreathPeriod <= 0 {
		cfg.BreathPeriod = def.BreathPeriod
	}
	if cfg.BlinkMinGap <= 0 {
		cfg.BlinkMinGap = def.BlinkMinGap
	}
	if cfg.BlinkMaxGap <= cfg.BlinkMinGap {
		cfg.BlinkMaxGap = cfg.BlinkMinGap + def.BlinkMaxGap - def.BlinkMinGap
	}
	d := &Driver{
		rig:   rig,
		cfg:   cfg,
		log:   log.With().Str("component", "avatar-driver").Logger(),
		state: StateDisconnected,
		clock: time.Now,
	}
	d.nextBlink = d.clock().Add(randomDuration(cfg.BlinkMinGap, cfg.BlinkMaxGap))

	rig.OnMotionFinished(func(group string) {
		d.mu.Lock()
		speaking := d.state == StateSpeaking
		d.mu.Unlock()
		if speaking {
			_ = rig.PlayMotion(MotionSpeak, PrioritySpeak)
		} else {
			_ = rig.PlayMotion(MotionIdle, PriorityIdle)
		}
	})
	return d
}

// Start launches the frame loop. A second Start supersedes the previous
// loop via the generation counter, so a remount never leaves two loops
// fighting over the rig.
func (d *Driver) Start() {
	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.running = true
	interval := time.Second / time.Duration(d.cfg.FrameRate)
	d.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := d.clock()
		for range ticker.C {
			d.mu.Lock()
			if d.gen != gen || !d.running {
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()

			now := d.clock()
			dt := float32(now.Sub(last).Seconds())
			last = now
			d.step(dt, now)
		}
	}()
}

// Stop halts the loop. Idempotent.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.running = false
}

// SetAgentState pushes the semantic state into the loop.
func (d *Driver) SetAgentState(s State) {
	d.mu.Lock()
	prev := d.state
	d.state = s
	d.mu.Unlock()

	if s == StateSpeaking && prev != StateSpeaking {
		if err := d.rig.PlayMotion(MotionSpeak, PrioritySpeak); err != nil {
			d.log.Debug().Err(err).Msg("Speak motion unavailable")
		}
	}
}

// UpdateBands pushes the latest frequency snapshot.
func (d *Driver) UpdateBands(b analyzer.Bands) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bands = b
	d.hasBands = b.Low > 0 || b.Mid > 0 || b.High > 0
}

// TriggerCue fires the one-shot motion mapped to a side-channel action
// cue at force priority, pre-empting idle and speak motions.
func (d *Driver) TriggerCue(cue string) {
	if cue == "" {
		return
	}
	group := MotionForCue(cue)
	if err := d.rig.PlayMotion(group, PriorityForce); err != nil {
		d.log.Debug().Err(err).Str("cue", cue).Msg("Cue motion unavailable")
	}
}

// mouthTargets computes the open/form targets for the current state. Both
// mapping variants survive here: the FFT-banded path and the legacy
// volume-only fallback used when no band data is available.
func (d *Driver) mouthTargets() (open, form float32) {
	if d.state != StateSpeaking {
		return 0, 0
	}
	if d.hasBands {
		low := float32(d.bands.Low)
		mid := float32(d.bands.Mid)
		high := float32(d.bands.High)
		open = clamp(low*d.cfg.OpenLowWeight+mid*d.cfg.OpenMidWeight, 0, 1)
		form = clamp((mid+high)*d.cfg.FormSpreadWeight-low*d.cfg.FormPuckerWeight, -1, 1)
		return open, form
	}
	return clamp(float32(d.bands.Volume)*d.cfg.VolumeGain, 0, 1), 0
}

// step advances the animation by dt and writes every parameter once.
// Individual parameter failures never stop the loop: some assets simply
// do not expose every axis.
func (d *Driver) step(dt float32, now time.Time) {
	d.mu.Lock()

	// Breathing runs regardless of state.
	d.breathTime += dt
	breathPhase := 2 * math.Pi * float64(d.breathTime) / d.cfg.BreathPeriod.Seconds()
	breath := float32(0.5 + 0.5*math.Sin(breathPhase))

	// Mouth: smooth toward the target instead of snapping so FFT noise
	// never jitters the lips.
	openTarget, formTarget := d.mouthTargets()
	k := d.cfg.MouthSmoothing
	d.mouthOpen += (openTarget - d.mouthOpen) * k
	d.mouthForm += (formTarget - d.mouthForm) * k

	// Head and body sway while speaking, exponential relax while idle.
	if d.state == StateSpeaking {
		d.swayTime += dt
		t := float64(d.swayTime)
		d.headPose = mgl32.Vec3{
			swayYawAmp * float32(math.Sin(t*swayYawRate+0.3)),
			swayTiltAmp * float32(math.Sin(t*swayTiltRate+1.9)),
			swayBodyAmp * float32(math.Sin(t*swayBodyRate+4.2)),
		}
	} else {
		d.headPose = d.headPose.Mul(d.cfg.SwayDecay)
	}

	d.advanceBlink(dt, now)
	eyeOpen := 1 - d.blinkAmount()

	gazeX, gazeY := gazeFor(d.state)

	params := [...]struct {
		name  string
		value float32
	}{
		{ParamBreath, breath},
		{ParamMouthOpen, d.mouthOpen},
		{ParamMouthForm, d.mouthForm},
		{ParamHeadYaw, d.headPose.X()},
		{ParamHeadTilt, d.headPose.Y()},
		{ParamBodySway, d.headPose.Z()},
		{ParamEyeOpen, eyeOpen},
		{ParamEyeBallX, gazeX},
		{ParamEyeBallY, gazeY},
	}
	rig := d.rig
	d.mu.Unlock()

	for _, p := range params {
		if err := rig.SetParam(p.name, p.value); err != nil {
			d.mu.Lock()
			d.paramFails++
			n := d.paramFails
			d.mu.Unlock()
			if n == 1 {
				d.log.Debug().Err(err).Str("param", p.name).Msg("Rig parameter unavailable")
			}
		}
	}
}

// advanceBlink runs the open-closing-closed-opening envelope. Caller
// holds d.mu.
func (d *Driver) advanceBlink(dt float32, now time.Time) {
	dur := d.cfg.BlinkDuration
	if dur <= 0 {
		dur = DefaultDriverConfig().BlinkDuration
	}

	switch d.blink {
	case blinkOpen:
		if now.After(d.nextBlink) {
			d.blink = blinkClosing
			d.blinkPos = 0
		}

	case blinkClosing:
		d.blinkPos += dt / (dur * 0.4)
		if d.blinkPos >= 1 {
			d.blinkPos = 1
			d.blink = blinkClosed
		}

	case blinkClosed:
		d.blinkPos += dt / (dur * 0.1)
		if d.blinkPos >= 1.1 {
			d.blink = blinkOpening
			d.blinkPos = 1
		}

	case blinkOpening:
		d.blinkPos -= dt / (dur * 0.5)
		if d.blinkPos <= 0 {
			d.blinkPos = 0
			d.blink = blinkOpen
			d.nextBlink = now.Add(randomDuration(d.cfg.BlinkMinGap, d.cfg.BlinkMaxGap))
		}
	}
}

// blinkAmount returns eye closure in [0,1]. Caller holds d.mu.
func (d *Driver) blinkAmount() float32 {
	switch d.blink {
	case blinkClosing:
		return easeOutQuad(d.blinkPos)
	case blinkClosed:
		return 1
	case blinkOpening:
		return easeInQuad(d.blinkPos)
	default:
		return 0
	}
}

// gazeFor returns the resting gaze per state: thinking looks up and
// aside, everything else holds the camera.
func gazeFor(s State) (x, y float32) {
	if s == StateThinking {
		return -0.2, 0.3
	}
	return 0, 0
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func easeOutQuad(t float32) float32 {
	return t * (2 - t)
}

func easeInQuad(t float32) float32 {
	return t * t
}

func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Float64()*float64(max-min))
}
