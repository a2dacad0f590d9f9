package shadows

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realism-viewer/config"
	"realism-viewer/scene"
)

type recordingBackend struct {
	clears  int
	weights []float32
	dirs    []mgl32.Vec3
}

func (b *recordingBackend) ClearShadowAccumulation() { b.clears++ }

func (b *recordingBackend) AccumulateShadow(_ *scene.Scene, dir mgl32.Vec3, w float32) error {
	b.dirs = append(b.dirs, dir)
	b.weights = append(b.weights, w)
	return nil
}

func testConfig(frames int) config.ProgressiveShadowsConfig {
	return config.ProgressiveShadowsConfig{Frames: frames, LightRadius: 0.5, Seed: 7}
}

func TestRunningMeanWeights(t *testing.T) {
	b := &recordingBackend{}
	acc := NewAccumulator(testConfig(4), b)
	s := scene.NewScene()

	for i := 0; i < 10; i++ {
		require.NoError(t, acc.Update(s))
	}
	assert.True(t, acc.Done())
	assert.Equal(t, 4, acc.Frame())
	assert.Equal(t, 1, b.clears)
	assert.InDeltaSlice(t, []float32{1, 0.5, 1.0 / 3, 0.25}, b.weights, 1e-6)

	// Blending constants 1..4 with these weights yields their mean.
	var acc32 float32
	for i, w := range b.weights {
		acc32 = acc32*(1-w) + float32(i+1)*w
	}
	assert.InDelta(t, 2.5, acc32, 1e-5)
}

func TestJitterStaysWithinDisk(t *testing.T) {
	b := &recordingBackend{}
	acc := NewAccumulator(testConfig(200), b)
	s := scene.NewScene()
	base := s.Light.Direction.Normalize()

	for !acc.Done() {
		require.NoError(t, acc.Update(s))
	}
	maxAngle := math32.Atan(0.5) + 1e-4
	for _, d := range b.dirs {
		assert.InDelta(t, 1, d.Len(), 1e-5)
		angle := math32.Acos(mgl32.Clamp(d.Dot(base), -1, 1))
		assert.LessOrEqual(t, angle, maxAngle)
	}
}

func TestResetReplaysSameSequence(t *testing.T) {
	b := &recordingBackend{}
	acc := NewAccumulator(testConfig(3), b)
	s := scene.NewScene()

	for !acc.Done() {
		require.NoError(t, acc.Update(s))
	}
	first := append([]mgl32.Vec3(nil), b.dirs...)

	acc.Reset()
	assert.False(t, acc.Done())
	assert.Zero(t, acc.Frame())
	for !acc.Done() {
		require.NoError(t, acc.Update(s))
	}
	assert.Equal(t, 2, b.clears)
	assert.Equal(t, first, b.dirs[3:])
}

func TestZeroRadiusKeepsLightDirection(t *testing.T) {
	b := &recordingBackend{}
	acc := NewAccumulator(config.ProgressiveShadowsConfig{Frames: 2}, b)
	s := scene.NewScene()
	require.NoError(t, acc.Update(s))
	assert.True(t, b.dirs[0].ApproxEqual(s.Light.Direction.Normalize()))
}
