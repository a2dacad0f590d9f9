package opengl

import (
	"fmt"

	gl "github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"realism-viewer/config"
	"realism-viewer/internal/logger"
	"realism-viewer/pipeline"
)

// traaFragSrc blends the jittered current frame into the reprojected history.
const traaFragSrc = `
#version 410 core
in  vec2 fragUV;
out vec4 outColor;

uniform sampler2D currentTex;  // unit 0
uniform sampler2D historyTex;  // unit 1
uniform sampler2D velocityTex; // unit 2
uniform float blend;
uniform bool  clampHistory;
uniform bool  hasHistory;

void main() {
    vec4 cur = texture(currentTex, fragUV);
    if (!hasHistory) {
        outColor = cur;
        return;
    }
    vec2 prevUV = fragUV - texture(velocityTex, fragUV).xy;
    if (any(lessThan(prevUV, vec2(0.0))) || any(greaterThan(prevUV, vec2(1.0)))) {
        outColor = cur;
        return;
    }
    vec4 hist = texture(historyTex, prevUV);

    if (clampHistory) {
        vec2 texel = 1.0 / vec2(textureSize(currentTex, 0));
        vec4 lo = cur, hi = cur;
        for (int x = -1; x <= 1; x++) {
            for (int y = -1; y <= 1; y++) {
                vec4 n = texture(currentTex, fragUV + vec2(x, y) * texel);
                lo = min(lo, n);
                hi = max(hi, n);
            }
        }
        hist = clamp(hist, lo, hi);
    }
    outColor = mix(hist, cur, blend);
}
` + "\x00"

// movingBlend is the weight of the current frame while the camera moves.
const movingBlend = 0.1

// TRAAPass is the temporal resolve. It jitters the projection every frame by
// a Halton(2,3) offset and accumulates the results in a history buffer.
type TRAAPass struct {
	cfg config.TRAAConfig
	vdn *VelocityDepthNormalPass
	r   *Renderer

	prog    uint32
	loc     map[string]int32
	quadVAO uint32

	fbo     [2]uint32
	history [2]uint32
	read    int

	width, height int32
	hasHistory    bool
	prevView      mgl32.Mat4
	prevProj      mgl32.Mat4
	staticFrames  int
	jitterIndex   int
}

func NewTRAAPass(cfg config.TRAAConfig, vdn *VelocityDepthNormalPass, r *Renderer, width, height int) (*TRAAPass, error) {
	p := &TRAAPass{cfg: cfg, vdn: vdn, r: r}
	prog, err := newProgram(ppVertSrc, traaFragSrc)
	if err != nil {
		return nil, fmt.Errorf("traa shader: %w", err)
	}
	p.prog = prog
	p.loc = uniforms(prog, "currentTex", "historyTex", "velocityTex", "blend", "clampHistory", "hasHistory")
	gl.UseProgram(prog)
	gl.Uniform1i(p.loc["currentTex"], 0)
	gl.Uniform1i(p.loc["historyTex"], 1)
	gl.Uniform1i(p.loc["velocityTex"], 2)
	gl.GenVertexArrays(1, &p.quadVAO)

	if err := p.alloc(width, height); err != nil {
		p.Dispose()
		return nil, err
	}
	p.advanceJitter()
	return p, nil
}

func (p *TRAAPass) alloc(width, height int) error {
	p.width, p.height = int32(max(width, 1)), int32(max(height, 1))
	for i := range p.fbo {
		p.history[i] = newColorTexture(p.width, p.height, gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT, gl.LINEAR)
		fbo, err := newFramebuffer(fmt.Sprintf("TRAA history %d", i), 0, p.history[i])
		if err != nil {
			return err
		}
		p.fbo[i] = fbo
	}
	p.hasHistory = false
	p.staticFrames = 0
	return nil
}

func (p *TRAAPass) free() {
	for i := range p.fbo {
		deleteFramebuffers(&p.fbo[i])
		deleteTextures(&p.history[i])
	}
}

func (p *TRAAPass) Name() string    { return pipeline.PassTRAA }
func (p *TRAAPass) NeedsSwap() bool { return true }

func (p *TRAAPass) Render(f *pipeline.Frame, in, out pipeline.Target) error {
	src, err := asTarget(in)
	if err != nil {
		return err
	}
	dst, err := asTarget(out)
	if err != nil {
		return err
	}
	if p.fbo[0] == 0 || p.fbo[1] == 0 {
		return fmt.Errorf("traa targets not allocated")
	}

	moving := !p.hasHistory || p.vdn.View != p.prevView || p.vdn.Proj != p.prevProj
	if moving {
		p.staticFrames = 0
	} else {
		p.staticFrames++
	}
	blend, clampHistory := resolveWeight(p.cfg.FullAccumulate, moving, p.staticFrames)

	write := 1 - p.read
	gl.Disable(gl.DEPTH_TEST)
	gl.BindFramebuffer(gl.FRAMEBUFFER, p.fbo[write])
	gl.Viewport(0, 0, p.width, p.height)
	gl.UseProgram(p.prog)
	bindTexture(0, src.ColorTex)
	bindTexture(1, p.history[p.read])
	bindTexture(2, p.vdn.VelocityTex)
	gl.Uniform1f(p.loc["blend"], blend)
	setBool(p.loc["clampHistory"], clampHistory)
	setBool(p.loc["hasHistory"], p.hasHistory)
	drawFullscreen(p.quadVAO)

	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, p.fbo[write])
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, dst.FBO)
	gl.BlitFramebuffer(0, 0, p.width, p.height, 0, 0, dst.Width, dst.Height, gl.COLOR_BUFFER_BIT, gl.NEAREST)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.Enable(gl.DEPTH_TEST)

	p.read = write
	p.hasHistory = true
	p.prevView, p.prevProj = p.vdn.View, p.vdn.Proj
	p.advanceJitter()
	return nil
}

// resolveWeight returns the weight of the current frame and whether the
// history is clamped to the current neighbourhood. A still camera with full
// accumulation converges to the running mean of every frame so far.
func resolveWeight(fullAccumulate, moving bool, staticFrames int) (float32, bool) {
	if moving || !fullAccumulate {
		return movingBlend, true
	}
	return min(movingBlend, 1/float32(staticFrames+1)), false
}

// advanceJitter sets the projection offset for the next frame.
func (p *TRAAPass) advanceJitter() {
	p.jitterIndex = p.jitterIndex%16 + 1
	p.r.SetJitter(jitterOffset(p.jitterIndex, p.width, p.height))
}

// jitterOffset is the Halton(2,3) sample i mapped to ±half a pixel in NDC.
func jitterOffset(i int, width, height int32) mgl32.Vec2 {
	return mgl32.Vec2{
		(halton(i, 2) - 0.5) * 2 / float32(width),
		(halton(i, 3) - 0.5) * 2 / float32(height),
	}
}

func halton(i, base int) float32 {
	f, r := float32(1), float32(0)
	for i > 0 {
		f /= float32(base)
		r += f * float32(i%base)
		i /= base
	}
	return r
}

func (p *TRAAPass) SetSize(width, height int) {
	p.free()
	if err := p.alloc(width, height); err != nil {
		logger.Log.Error("resize traa history", zap.Error(err))
		p.free()
	}
}

// Dispose frees the history and stops jittering the projection.
func (p *TRAAPass) Dispose() {
	p.free()
	deletePrograms(&p.prog)
	if p.quadVAO != 0 {
		gl.DeleteVertexArrays(1, &p.quadVAO)
		p.quadVAO = 0
	}
	if p.r != nil {
		p.r.SetJitter(mgl32.Vec2{})
	}
}
