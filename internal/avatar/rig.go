// Package avatar drives a loaded avatar rig from live audio bands,
// agent state, and discrete action cues. The rig itself is an opaque
// renderer collaborator addressed through named parameters and motions.
package avatar

// Parameter names the driver writes every frame.
const (
	ParamMouthOpen = "ParamMouthOpenY"
	ParamMouthForm = "ParamMouthForm"
	ParamEyeOpen   = "ParamEyeOpen"
	ParamEyeBallX  = "ParamEyeBallX"
	ParamEyeBallY  = "ParamEyeBallY"
	ParamHeadYaw   = "ParamAngleX"
	ParamHeadTilt  = "ParamAngleZ"
	ParamBodySway  = "ParamBodyAngleX"
	ParamBreath    = "ParamBreath"
)

// Motion groups every rig is expected to expose.
const (
	MotionIdle    = "Idle"
	MotionSpeak   = "Speak"
	MotionTapBody = "TapBody"
)

// Motion priorities. Cue-triggered motions pre-empt idle and speak
// motions.
const (
	PriorityIdle  = 1
	PrioritySpeak = 2
	PriorityForce = 3
)

// CueMotions maps side-channel action cue names to rig motion groups.
// Unknown cues fall back to TapBody so a new agent cue still produces
// visible feedback on older rigs.
var CueMotions = map[string]string{
	"wave":      "Wave",
	"nod":       "Nod",
	"shake":     "Shake",
	"think":     "Think",
	"celebrate": "Celebrate",
	"tap":       MotionTapBody,
}

// MotionForCue resolves a cue name to a motion group.
func MotionForCue(cue string) string {
	if m, ok := CueMotions[cue]; ok {
		return m
	}
	return MotionTapBody
}

// Rig is the renderer-facing surface of a loaded avatar asset. Parameter
// setters may fail on assets that do not expose a given axis; the driver
// swallows those failures per frame.
type Rig interface {
	SetParam(name string, value float32) error
	PlayMotion(group string, priority int) error
	// OnMotionFinished registers a callback used to re-trigger idle
	// motions once a one-shot completes.
	OnMotionFinished(fn func(group string))
}
