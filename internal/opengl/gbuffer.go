package opengl

import (
	"fmt"

	gl "github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"

	"realism-viewer/pipeline"
)

// VelocityDepthNormalPass renders the lit scene into the write buffer and,
// in the same draw, the per-pixel screen velocity, material, view-space
// normal with linear depth, and albedo that the GI and temporal passes read.
type VelocityDepthNormalPass struct {
	r *Renderer

	fbo         uint32
	VelocityTex uint32 // xy velocity in uv units, z roughness, w metallic
	NormalDepth uint32 // view-space normal, linear depth (0 = background)
	AlbedoTex   uint32
	// DepthTex is the depth buffer of the last render.
	DepthTex uint32

	// Camera matrices of the last render.
	Proj    mgl32.Mat4
	View    mgl32.Mat4
	InvView mgl32.Mat4

	width, height int32
	boundColor    uint32
	boundDepth    uint32
}

func NewVelocityDepthNormalPass(r *Renderer, width, height int) (*VelocityDepthNormalPass, error) {
	p := &VelocityDepthNormalPass{r: r}
	p.alloc(width, height)
	return p, nil
}

func (p *VelocityDepthNormalPass) alloc(width, height int) {
	p.width, p.height = int32(max(width, 1)), int32(max(height, 1))
	p.VelocityTex = newColorTexture(p.width, p.height, gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT, gl.NEAREST)
	p.NormalDepth = newColorTexture(p.width, p.height, gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT, gl.NEAREST)
	p.AlbedoTex = newColorTexture(p.width, p.height, gl.RGBA8, gl.RGBA, gl.UNSIGNED_BYTE, gl.NEAREST)

	gl.GenFramebuffers(1, &p.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, p.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT1, gl.TEXTURE_2D, p.VelocityTex, 0)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT2, gl.TEXTURE_2D, p.NormalDepth, 0)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT3, gl.TEXTURE_2D, p.AlbedoTex, 0)
	bufs := []uint32{gl.COLOR_ATTACHMENT0, gl.COLOR_ATTACHMENT1, gl.COLOR_ATTACHMENT2, gl.COLOR_ATTACHMENT3}
	gl.DrawBuffers(int32(len(bufs)), &bufs[0])
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	p.boundColor, p.boundDepth = 0, 0
}

func (p *VelocityDepthNormalPass) free() {
	deleteFramebuffers(&p.fbo)
	deleteTextures(&p.VelocityTex, &p.NormalDepth, &p.AlbedoTex)
}

// bind attaches the write buffer's colour and depth to the MRT framebuffer.
// Completeness is checked whenever the attachments change.
func (p *VelocityDepthNormalPass) bind(dst *RenderTarget) error {
	gl.BindFramebuffer(gl.FRAMEBUFFER, p.fbo)
	if p.boundColor == dst.ColorTex && p.boundDepth == dst.DepthTex {
		return nil
	}
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, dst.ColorTex, 0)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.DEPTH_ATTACHMENT, gl.TEXTURE_2D, dst.DepthTex, 0)
	if status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER); status != gl.FRAMEBUFFER_COMPLETE {
		gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
		return fmt.Errorf("velocity-depth-normal FBO incomplete: status=0x%X", status)
	}
	p.boundColor, p.boundDepth = dst.ColorTex, dst.DepthTex
	return nil
}

func (p *VelocityDepthNormalPass) Name() string    { return pipeline.PassVelocityDepthNormal }
func (p *VelocityDepthNormalPass) NeedsSwap() bool { return true }

func (p *VelocityDepthNormalPass) Render(f *pipeline.Frame, _, out pipeline.Target) error {
	dst, err := asTarget(out)
	if err != nil {
		return err
	}
	if p.fbo == 0 {
		return fmt.Errorf("velocity-depth-normal targets not allocated")
	}
	if err := p.bind(dst); err != nil {
		return err
	}
	p.r.drawScene(f.Scene, f.Camera, p.fbo, dst.Width, dst.Height, false)

	p.DepthTex = dst.DepthTex
	p.Proj = f.Camera.ProjectionMatrix()
	p.View = f.Camera.ViewMatrix()
	p.InvView = p.View.Inv()
	return nil
}

func (p *VelocityDepthNormalPass) SetSize(width, height int) {
	p.free()
	p.alloc(width, height)
}

func (p *VelocityDepthNormalPass) Dispose() { p.free() }
