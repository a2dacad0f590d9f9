package opengl

import (
	"fmt"

	gl "github.com/go-gl/gl/v4.1-core/gl"

	"realism-viewer/config"
	"realism-viewer/pipeline"
)

const vignetteFragSrc = `
#version 410 core
in  vec2 fragUV;
out vec4 outColor;

uniform sampler2D sceneTex;
uniform float darkness;
uniform float offset;

void main() {
    vec4 c = texture(sceneTex, fragUV);
    float d = length((fragUV - 0.5) * 2.0);
    float v = clamp(smoothstep(offset, offset + 1.0, d) * darkness, 0.0, 1.0);
    outColor = mix(c, vec4(0.0, 0.0, 0.0, 1.0), v);
}
` + "\x00"

// VignettePass darkens the frame towards its corners.
type VignettePass struct {
	cfg     config.VignetteConfig
	prog    uint32
	loc     map[string]int32
	quadVAO uint32
}

func NewVignettePass(cfg config.VignetteConfig) (*VignettePass, error) {
	prog, err := newProgram(ppVertSrc, vignetteFragSrc)
	if err != nil {
		return nil, fmt.Errorf("vignette shader: %w", err)
	}
	p := &VignettePass{cfg: cfg, prog: prog}
	p.loc = uniforms(prog, "sceneTex", "darkness", "offset")
	gl.GenVertexArrays(1, &p.quadVAO)
	return p, nil
}

func (p *VignettePass) Name() string     { return pipeline.PassVignette }
func (p *VignettePass) NeedsSwap() bool  { return true }
func (p *VignettePass) SetSize(int, int) {}

func (p *VignettePass) Render(_ *pipeline.Frame, in, out pipeline.Target) error {
	src, err := asTarget(in)
	if err != nil {
		return err
	}
	dst, err := asTarget(out)
	if err != nil {
		return err
	}
	gl.Disable(gl.DEPTH_TEST)
	gl.BindFramebuffer(gl.FRAMEBUFFER, dst.FBO)
	gl.Viewport(0, 0, dst.Width, dst.Height)
	gl.UseProgram(p.prog)
	gl.Uniform1i(p.loc["sceneTex"], 0)
	gl.Uniform1f(p.loc["darkness"], p.cfg.Darkness)
	gl.Uniform1f(p.loc["offset"], p.cfg.Offset)
	bindTexture(0, src.ColorTex)
	drawFullscreen(p.quadVAO)
	gl.Enable(gl.DEPTH_TEST)
	return nil
}

func (p *VignettePass) Dispose() {
	deletePrograms(&p.prog)
	if p.quadVAO != 0 {
		gl.DeleteVertexArrays(1, &p.quadVAO)
		p.quadVAO = 0
	}
}
