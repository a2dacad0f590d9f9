package opengl

import (
	"fmt"

	gl "github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"realism-viewer/core"
	"realism-viewer/internal/logger"
	"realism-viewer/pipeline"
)

// RenderTarget is one HDR colour buffer of the ping-pong pair. Both targets
// share DepthTex so a pass that only adjusts colour keeps the scene depth.
type RenderTarget struct {
	FBO      uint32
	ColorTex uint32
	DepthTex uint32
	Width    int32
	Height   int32
}

func (t *RenderTarget) Size() (int, int) { return int(t.Width), int(t.Height) }

// asTarget unwraps a pipeline target created by this package.
func asTarget(t pipeline.Target) (*RenderTarget, error) {
	rt, ok := t.(*RenderTarget)
	if !ok || rt == nil {
		return nil, fmt.Errorf("render target %T not allocated by this backend", t)
	}
	return rt, nil
}

// presentFragSrc un-premultiplies the HDR buffer, applies exposure, the
// exponential tone curve and gamma 2.2, then composites over the background.
const presentFragSrc = `
#version 410 core
in  vec2 fragUV;
out vec4 outColor;

uniform sampler2D hdrBuffer;
uniform float     exposure;
uniform vec3      background;

void main() {
    vec4 hdr = texture(hdrBuffer, fragUV);
    float a  = clamp(hdr.a, 0.0, 1.0);
    vec3 c   = a > 0.0 ? hdr.rgb / a : vec3(0.0);

    vec3 mapped = vec3(1.0) - exp(-c * exposure);
    mapped = pow(mapped, vec3(1.0 / 2.2));

    outColor = vec4(mix(background, mapped, a), 1.0);
}
` + "\x00"

// Targets is the HDR ping-pong pair plus the present step.
type Targets struct {
	targets  [2]*RenderTarget
	read     int
	depthTex uint32

	prog    uint32
	loc     map[string]int32
	quadVAO uint32

	Exposure   float32
	Background core.Color

	surfaceW, surfaceH int32
}

func NewTargets(width, height int, exposure float32, background core.Color) (*Targets, error) {
	t := &Targets{Exposure: exposure, Background: background}
	prog, err := newProgram(ppVertSrc, presentFragSrc)
	if err != nil {
		return nil, fmt.Errorf("present shader: %w", err)
	}
	t.prog = prog
	t.loc = uniforms(prog, "hdrBuffer", "exposure", "background")
	gl.GenVertexArrays(1, &t.quadVAO)

	if err := t.alloc(width, height); err != nil {
		t.Dispose()
		return nil, err
	}
	return t, nil
}

func (t *Targets) alloc(width, height int) error {
	w, h := int32(max(width, 1)), int32(max(height, 1))
	t.surfaceW, t.surfaceH = w, h
	t.depthTex = newColorTexture(w, h, gl.DEPTH_COMPONENT32F, gl.DEPTH_COMPONENT, gl.FLOAT, gl.NEAREST)
	for i := range t.targets {
		color := newColorTexture(w, h, gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT, gl.LINEAR)
		fbo, err := newFramebuffer(fmt.Sprintf("HDR %d", i), t.depthTex, color)
		if err != nil {
			gl.DeleteTextures(1, &color)
			return err
		}
		t.targets[i] = &RenderTarget{FBO: fbo, ColorTex: color, DepthTex: t.depthTex, Width: w, Height: h}
	}
	t.read = 0
	return nil
}

func (t *Targets) free() {
	for i, rt := range t.targets {
		if rt == nil {
			continue
		}
		deleteFramebuffers(&rt.FBO)
		deleteTextures(&rt.ColorTex)
		t.targets[i] = nil
	}
	deleteTextures(&t.depthTex)
}

func (t *Targets) Read() pipeline.Target  { return t.targets[t.read] }
func (t *Targets) Write() pipeline.Target { return t.targets[1-t.read] }
func (t *Targets) Swap()                  { t.read = 1 - t.read }

// Resize reallocates both buffers.
func (t *Targets) Resize(width, height int) {
	t.free()
	if err := t.alloc(width, height); err != nil {
		logger.Log.Error("resize HDR targets", zap.Error(err))
	}
}

// Present tone-maps src onto the default framebuffer.
func (t *Targets) Present(src pipeline.Target) error {
	rt, err := asTarget(src)
	if err != nil {
		return err
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.Viewport(0, 0, t.surfaceW, t.surfaceH)
	gl.Disable(gl.DEPTH_TEST)
	gl.UseProgram(t.prog)
	gl.Uniform1i(t.loc["hdrBuffer"], 0)
	gl.Uniform1f(t.loc["exposure"], t.Exposure)
	gl.Uniform3f(t.loc["background"], t.Background.R, t.Background.G, t.Background.B)
	bindTexture(0, rt.ColorTex)
	drawFullscreen(t.quadVAO)
	gl.Enable(gl.DEPTH_TEST)
	return nil
}

func (t *Targets) Dispose() {
	t.free()
	deletePrograms(&t.prog)
	if t.quadVAO != 0 {
		gl.DeleteVertexArrays(1, &t.quadVAO)
		t.quadVAO = 0
	}
}

// RenderPass draws the scene into the write buffer.
type RenderPass struct {
	r *Renderer
}

func NewRenderPass(r *Renderer) *RenderPass { return &RenderPass{r: r} }

func (p *RenderPass) Name() string    { return pipeline.PassRender }
func (p *RenderPass) NeedsSwap() bool { return true }
func (p *RenderPass) SetSize(int, int) {}
func (p *RenderPass) Dispose()         {}

func (p *RenderPass) Render(f *pipeline.Frame, _, out pipeline.Target) error {
	rt, err := asTarget(out)
	if err != nil {
		return err
	}
	p.r.drawScene(f.Scene, f.Camera, rt.FBO, rt.Width, rt.Height, false)
	return nil
}
