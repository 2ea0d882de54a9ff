package avatar

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterGet(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	_, ok := r.Get("luna")
	require.False(t, ok)

	r.Register(Asset{Name: "luna", Params: []string{ParamMouthOpen}})
	a, ok := r.Get("luna")
	require.True(t, ok)
	assert.Equal(t, "luna", a.Name)

	// Re-register replaces.
	r.Register(Asset{Name: "luna", Params: []string{ParamMouthOpen, ParamEyeOpen}})
	a, _ = r.Get("luna")
	assert.Len(t, a.Params, 2)
}

func TestDefaultAssetExposesStandardSurface(t *testing.T) {
	a := DefaultAsset("fallback")

	assert.Equal(t, "fallback", a.Name)
	for _, p := range []string{
		ParamMouthOpen, ParamMouthForm, ParamEyeOpen,
		ParamHeadYaw, ParamHeadTilt, ParamBodySway, ParamBreath,
	} {
		assert.True(t, a.HasParam(p), "missing %s", p)
	}
	assert.False(t, a.HasParam("ParamTailWag"))
	assert.Contains(t, a.Motions, MotionIdle)
	assert.Contains(t, a.Motions, MotionTapBody)
}

func TestLoadDirMissing(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	err := r.LoadDir("/nonexistent/assets")
	require.Error(t, err)
}

func TestLoadDirSkipsNonRigFiles(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(zerolog.Nop())

	require.NoError(t, r.LoadDir(dir))
	_, ok := r.Get("anything")
	assert.False(t, ok)
}

func TestMotionForCue(t *testing.T) {
	assert.Equal(t, "Wave", MotionForCue("wave"))
	assert.Equal(t, "Nod", MotionForCue("nod"))
	assert.Equal(t, MotionTapBody, MotionForCue("never-heard-of-it"))
}
