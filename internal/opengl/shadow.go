package opengl

import (
	"fmt"

	"github.com/chewxy/math32"
	gl "github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"

	"realism-viewer/scene"
)

// ShadowMap wraps a depth-only framebuffer used for shadow mapping.
type ShadowMap struct {
	FBO      uint32
	DepthTex uint32
	Size     int32
}

// NewShadowMap creates a depth-only FBO of size×size resolution.
// Uses a 32-bit float depth texture with hardware PCF (COMPARE_REF_TO_TEXTURE).
func NewShadowMap(size int) (*ShadowMap, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shadow map size %d", size)
	}
	sm := &ShadowMap{Size: int32(size)}

	gl.GenTextures(1, &sm.DepthTex)
	gl.BindTexture(gl.TEXTURE_2D, sm.DepthTex)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.DEPTH_COMPONENT32F,
		int32(size), int32(size), 0, gl.DEPTH_COMPONENT, gl.FLOAT, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_BORDER)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_BORDER)
	// Fragments outside the shadow map are lit (border depth = 1.0)
	border := [4]float32{1, 1, 1, 1}
	gl.TexParameterfv(gl.TEXTURE_2D, gl.TEXTURE_BORDER_COLOR, &border[0])
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_COMPARE_MODE, gl.COMPARE_REF_TO_TEXTURE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_COMPARE_FUNC, gl.LEQUAL)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	fbo, err := newFramebuffer("shadow", sm.DepthTex)
	if err != nil {
		gl.DeleteTextures(1, &sm.DepthTex)
		return nil, err
	}
	sm.FBO = fbo
	return sm, nil
}

// Destroy frees GPU resources.
func (sm *ShadowMap) Destroy() {
	deleteFramebuffers(&sm.FBO)
	deleteTextures(&sm.DepthTex)
}

const depthVertSrc = `
#version 410 core
layout(location = 0) in vec3 aPos;
uniform mat4 lightMVP;
void main() {
    gl_Position = lightMVP * vec4(aPos, 1.0);
}
` + "\x00"

const depthFragSrc = `
#version 410 core
void main() {}
` + "\x00"

// accumVertSrc flattens catcher geometry onto a top-down view of the ground
// region so each texel of the accumulation texture is one ground location.
const accumVertSrc = `
#version 410 core
layout(location = 0) in vec3 aPos;
uniform mat4 model;
uniform mat4 lightVP;
uniform vec3 region; // centre x, centre z, half extent
out vec4 fragLightSpacePos;
void main() {
    vec4 world = model * vec4(aPos, 1.0);
    fragLightSpacePos = lightVP * world;
    gl_Position = vec4((world.xz - region.xy) / region.z, 0.0, 1.0);
}
` + "\x00"

const accumFragSrc = `
#version 410 core
in  vec4 fragLightSpacePos;
out vec4 outVisibility;
uniform sampler2DShadow shadowMap;
uniform float texel;
void main() {
    vec3 p = fragLightSpacePos.xyz / fragLightSpacePos.w * 0.5 + 0.5;
    float lit = 1.0;
    if (p.z <= 1.0) {
        lit = 0.0;
        for (int x = -1; x <= 1; x++) {
            for (int y = -1; y <= 1; y++) {
                lit += texture(shadowMap, vec3(p.xy + vec2(x, y) * texel, p.z - 0.002));
            }
        }
        lit /= 9.0;
    }
    outVisibility = vec4(lit, lit, lit, 1.0);
}
` + "\x00"

// ShadowAccumulation holds the running mean of jittered hard shadows as seen
// on the ground. 1 means fully lit.
type ShadowAccumulation struct {
	Map    *ShadowMap
	FBO    uint32
	Tex    uint32
	Size   int32
	Region mgl32.Vec3
	Frames int

	prog uint32
	loc  map[string]int32
}

func NewShadowAccumulation(size int) (*ShadowAccumulation, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shadow accumulation size %d", size)
	}
	sm, err := NewShadowMap(size)
	if err != nil {
		return nil, err
	}
	a := &ShadowAccumulation{Map: sm, Size: int32(size), Region: mgl32.Vec3{0, 0, 2}}
	a.Tex = newColorTexture(a.Size, a.Size, gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT, gl.LINEAR)
	if a.FBO, err = newFramebuffer("shadow accumulation", 0, a.Tex); err != nil {
		a.Destroy()
		return nil, err
	}
	if a.prog, err = newProgram(accumVertSrc, accumFragSrc); err != nil {
		a.Destroy()
		return nil, fmt.Errorf("shadow accumulation shader: %w", err)
	}
	a.loc = uniforms(a.prog, "model", "lightVP", "region", "shadowMap", "texel")
	return a, nil
}

// Clear resets every ground texel to fully lit.
func (a *ShadowAccumulation) Clear() {
	gl.BindFramebuffer(gl.FRAMEBUFFER, a.FBO)
	gl.ClearColor(1, 1, 1, 1)
	gl.Clear(gl.COLOR_BUFFER_BIT)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	a.Frames = 0
}

// Blend draws the catchers' visibility under lightVP into the accumulation
// texture with the given weight: dst = dst*(1-w) + visibility*w.
func (a *ShadowAccumulation) Blend(r *Renderer, catchers []*scene.Node, lightVP mgl32.Mat4, weight float32) {
	gl.BindFramebuffer(gl.FRAMEBUFFER, a.FBO)
	gl.Viewport(0, 0, a.Size, a.Size)
	gl.Disable(gl.DEPTH_TEST)
	gl.Disable(gl.CULL_FACE)
	gl.Enable(gl.BLEND)
	gl.BlendColor(0, 0, 0, weight)
	gl.BlendFunc(gl.CONSTANT_ALPHA, gl.ONE_MINUS_CONSTANT_ALPHA)

	gl.UseProgram(a.prog)
	setMat4(a.loc["lightVP"], lightVP)
	gl.Uniform3f(a.loc["region"], a.Region.X(), a.Region.Y(), a.Region.Z())
	gl.Uniform1f(a.loc["texel"], 1/float32(a.Map.Size))
	gl.Uniform1i(a.loc["shadowMap"], 0)
	bindTexture(0, a.Map.DepthTex)

	for _, n := range catchers {
		gpu := r.ensureUploaded(n.Mesh)
		if gpu == nil {
			continue
		}
		setMat4(a.loc["model"], n.WorldMatrix())
		gpu.draw()
	}

	gl.Disable(gl.BLEND)
	gl.Enable(gl.DEPTH_TEST)
	gl.Enable(gl.CULL_FACE)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	a.Frames++
}

func (a *ShadowAccumulation) Destroy() {
	if a.Map != nil {
		a.Map.Destroy()
		a.Map = nil
	}
	deleteFramebuffers(&a.FBO)
	deleteTextures(&a.Tex)
	deletePrograms(&a.prog)
}

// lightViewProj fits an orthographic light frustum around bounds, looking
// along dir.
func lightViewProj(dir mgl32.Vec3, bounds scene.AABB) mgl32.Mat4 {
	if bounds.IsEmpty() {
		bounds = scene.AABB{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}}
	}
	c := bounds.Center()
	r := bounds.Size().Len() / 2
	if r == 0 {
		r = 1
	}
	d := dir.Normalize()
	up := mgl32.Vec3{0, 1, 0}
	if math32.Abs(d.Y()) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}
	eye := c.Sub(d.Mul(2 * r))
	view := mgl32.LookAtV(eye, c, up)
	proj := mgl32.Ortho(-r, r, -r, r, 0, 4*r)
	return proj.Mul4(view)
}

// groundRegion returns the top-down square (centre x, centre z, half extent)
// covering bounds with a margin for soft shadow spread.
func groundRegion(bounds scene.AABB) mgl32.Vec3 {
	if bounds.IsEmpty() {
		return mgl32.Vec3{0, 0, 2}
	}
	c := bounds.Center()
	size := bounds.Size()
	half := math32.Max(size.X(), size.Z()) * 0.75
	if half <= 0 {
		half = 1
	}
	return mgl32.Vec3{c.X(), c.Z(), half}
}
