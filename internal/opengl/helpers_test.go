package opengl

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realism-viewer/scene"
)

func TestSSAOKernelStaysInHemisphere(t *testing.T) {
	k := ssaoKernel(30, 24)
	require.Len(t, k, 30)
	for i, v := range k {
		assert.GreaterOrEqual(t, v.Z(), float32(0), "sample %d below horizon", i)
		assert.LessOrEqual(t, v.Len(), float32(1.0001), "sample %d outside unit sphere", i)
	}
	// Later samples reach further from the origin.
	assert.Less(t, k[0].Len(), k[len(k)-1].Len())
}

func TestSSAOKernelClampsSampleCount(t *testing.T) {
	assert.Len(t, ssaoKernel(0, 4), 1)
	assert.Len(t, ssaoKernel(1000, 4), maxSSAOSamples)
}

func TestMipLevels(t *testing.T) {
	assert.Equal(t, 1, mipLevels(1, 1))
	assert.Equal(t, 11, mipLevels(1024, 512))
	assert.Equal(t, 3, mipLevels(4, 3))
}

func TestLightViewProjContainsBounds(t *testing.T) {
	b := scene.AABB{Min: mgl32.Vec3{-1, 0, -2}, Max: mgl32.Vec3{3, 2, 1}}
	vp := lightViewProj(mgl32.Vec3{-0.5, -1, -0.3}, b)
	for _, corner := range []mgl32.Vec3{
		b.Min, b.Max,
		{b.Min.X(), b.Max.Y(), b.Min.Z()},
		{b.Max.X(), b.Min.Y(), b.Max.Z()},
	} {
		clip := vp.Mul4x1(corner.Vec4(1))
		ndc := clip.Vec3().Mul(1 / clip.W())
		for axis := 0; axis < 3; axis++ {
			assert.InDelta(t, 0, ndc[axis], 1.0001, "corner %v axis %d", corner, axis)
		}
	}
}

func TestLightViewProjStraightDown(t *testing.T) {
	b := scene.AABB{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}}
	vp := lightViewProj(mgl32.Vec3{0, -1, 0}, b)
	clip := vp.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.False(t, mgl32.Vec4{}.ApproxEqual(vp.Col(0)), "degenerate up vector")
	assert.InDelta(t, 0, clip.X(), 1e-5)
	assert.InDelta(t, 0, clip.Y(), 1e-5)
}

func TestGroundRegion(t *testing.T) {
	b := scene.AABB{Min: mgl32.Vec3{-2, 0, -1}, Max: mgl32.Vec3{2, 1, 3}}
	r := groundRegion(b)
	assert.InDelta(t, 0, r.X(), 1e-6)
	assert.InDelta(t, 1, r.Y(), 1e-6)
	assert.InDelta(t, 3, r.Z(), 1e-6)

	assert.Equal(t, mgl32.Vec3{0, 0, 2}, groundRegion(scene.EmptyAABB()))
}

func TestHaltonSequence(t *testing.T) {
	assert.InDelta(t, 0.5, halton(1, 2), 1e-6)
	assert.InDelta(t, 0.25, halton(2, 2), 1e-6)
	assert.InDelta(t, 0.75, halton(3, 2), 1e-6)
	assert.InDelta(t, 1.0/3, halton(1, 3), 1e-6)
	assert.InDelta(t, 2.0/3, halton(2, 3), 1e-6)
}

func TestJitterOffsetWithinHalfPixel(t *testing.T) {
	for i := 1; i <= 16; i++ {
		j := jitterOffset(i, 800, 600)
		assert.LessOrEqual(t, j.X()*800/2, float32(0.5))
		assert.GreaterOrEqual(t, j.X()*800/2, float32(-0.5))
		assert.LessOrEqual(t, j.Y()*600/2, float32(0.5))
		assert.GreaterOrEqual(t, j.Y()*600/2, float32(-0.5))
	}
}

func TestResolveWeight(t *testing.T) {
	w, clamped := resolveWeight(true, true, 0)
	assert.InDelta(t, movingBlend, w, 1e-6)
	assert.True(t, clamped)

	w, clamped = resolveWeight(false, false, 50)
	assert.InDelta(t, movingBlend, w, 1e-6)
	assert.True(t, clamped)

	w, clamped = resolveWeight(true, false, 99)
	assert.InDelta(t, 0.01, w, 1e-6)
	assert.False(t, clamped)

	w, _ = resolveWeight(true, false, 2)
	assert.InDelta(t, movingBlend, w, 1e-6)
}

func TestDenoiseStep(t *testing.T) {
	assert.InDelta(t, 11.0/7, denoiseStep(0, 11, 3), 1e-5)
	assert.InDelta(t, 44.0/7, denoiseStep(2, 11, 3), 1e-5)
	assert.InDelta(t, 1, denoiseStep(0, 0.5, 3), 1e-6)
}

func TestScaledSize(t *testing.T) {
	w, h := scaledSize(800, 600, 0.5)
	assert.Equal(t, int32(400), w)
	assert.Equal(t, int32(300), h)

	w, h = scaledSize(1, 1, 0.1)
	assert.Equal(t, int32(1), w)
	assert.Equal(t, int32(1), h)

	w, _ = scaledSize(640, 480, 0)
	assert.Equal(t, int32(640), w)
}

func TestAsTargetRejectsForeignTargets(t *testing.T) {
	_, err := asTarget(nil)
	assert.Error(t, err)

	var rt *RenderTarget
	_, err = asTarget(rt)
	assert.Error(t, err)

	got, err := asTarget(&RenderTarget{FBO: 3})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), got.FBO)
}
