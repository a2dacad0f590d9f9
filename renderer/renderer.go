package renderer

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"realism-viewer/config"
	"realism-viewer/core"
	"realism-viewer/internal/logger"
	"realism-viewer/internal/opengl"
	"realism-viewer/pipeline"
	"realism-viewer/scene"
)

// RenderEngine is the high-level renderer that drives the OpenGL backend.
// It builds the screen-space passes for the effect pipeline and renders
// progressive shadows. Every method must run on the thread owning the GL
// context.
type RenderEngine struct {
	gl  *opengl.Renderer
	cfg config.Config

	width, height int
}

// NewRenderEngine initialises OpenGL for the current context. width and
// height are the framebuffer size in pixels.
func NewRenderEngine(cfg config.Config, width, height int) (*RenderEngine, error) {
	glRenderer, err := opengl.NewRenderer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenGL renderer: %w", err)
	}
	re := &RenderEngine{gl: glRenderer, cfg: cfg}
	re.SetSize(width, height)

	logger.Log.Info("render engine initialized",
		zap.String("backend", "opengl"),
		zap.Int("width", width),
		zap.Int("height", height))
	return re, nil
}

// SetSize records the framebuffer size used for direct rendering and for
// passes created afterwards.
func (re *RenderEngine) SetSize(width, height int) {
	re.width, re.height = width, height
	re.gl.SetViewport(width, height)
}

// Size is the last framebuffer size given to SetSize.
func (re *RenderEngine) Size() (int, int) { return re.width, re.height }

// Render draws s straight to the window, bypassing the effect pipeline.
func (re *RenderEngine) Render(s *scene.Scene, cam *scene.Camera) error {
	if s == nil || cam == nil {
		return fmt.Errorf("no scene or camera")
	}
	re.gl.RenderDirect(s, cam)
	return nil
}

// UploadModel pushes the meshes and textures of a model subtree to the GPU.
func (re *RenderEngine) UploadModel(root *scene.Node) error {
	if root == nil {
		return nil
	}
	return re.gl.Upload(root)
}

// ReleaseModel frees everything UploadModel created for root.
func (re *RenderEngine) ReleaseModel(root *scene.Node) {
	if root == nil {
		return
	}
	re.gl.Release(root)
}

func (re *RenderEngine) UploadEnvironment(env *scene.Environment) error {
	if env == nil {
		return nil
	}
	return opengl.UploadEnvironment(env)
}

func (re *RenderEngine) ReleaseEnvironment(env *scene.Environment) {
	if env == nil {
		return
	}
	opengl.DeleteEnvironment(env)
}

// ClearShadowAccumulation resets the shadow-catcher buffer to fully lit.
func (re *RenderEngine) ClearShadowAccumulation() {
	re.gl.ClearShadowAccumulation()
}

// AccumulateShadow blends one hard shadow cast along lightDir into the
// shadow-catcher buffer.
func (re *RenderEngine) AccumulateShadow(s *scene.Scene, lightDir mgl32.Vec3, weight float32) error {
	return re.gl.AccumulateShadow(s, lightDir, weight)
}

// ── pipeline.Factory ──────────────────────────────────────────────────────────

func (re *RenderEngine) Targets(width, height int) (pipeline.Targets, error) {
	t, err := opengl.NewTargets(width, height, re.cfg.Renderer.Exposure, core.ColorFromHex(re.cfg.Background))
	if err != nil {
		return nil, fmt.Errorf("targets: %w", err)
	}
	return t, nil
}

func (re *RenderEngine) RenderPass() (pipeline.Pass, error) {
	return opengl.NewRenderPass(re.gl), nil
}

func (re *RenderEngine) AmbientOcclusionPass(cfg config.SSAOConfig) (pipeline.Pass, error) {
	p, err := opengl.NewSSAOPass(cfg, re.width, re.height)
	if err != nil {
		return nil, fmt.Errorf("ssao: %w", err)
	}
	return p, nil
}

func (re *RenderEngine) VelocityDepthNormalPass() (pipeline.Pass, error) {
	p, err := opengl.NewVelocityDepthNormalPass(re.gl, re.width, re.height)
	if err != nil {
		return nil, fmt.Errorf("velocity-depth-normal: %w", err)
	}
	return p, nil
}

func (re *RenderEngine) GlobalIlluminationPass(cfg config.SSGIConfig, vdn pipeline.Pass) (pipeline.Pass, error) {
	src, err := gbuffer(vdn)
	if err != nil {
		return nil, err
	}
	p, err := opengl.NewSSGIPass(cfg, src, re.width, re.height)
	if err != nil {
		return nil, fmt.Errorf("ssgi: %w", err)
	}
	return p, nil
}

func (re *RenderEngine) TemporalResolvePass(cfg config.TRAAConfig, vdn pipeline.Pass) (pipeline.Pass, error) {
	src, err := gbuffer(vdn)
	if err != nil {
		return nil, err
	}
	p, err := opengl.NewTRAAPass(cfg, src, re.gl, re.width, re.height)
	if err != nil {
		return nil, fmt.Errorf("traa: %w", err)
	}
	return p, nil
}

func (re *RenderEngine) VignettePass(cfg config.VignetteConfig) (pipeline.Pass, error) {
	p, err := opengl.NewVignettePass(cfg)
	if err != nil {
		return nil, fmt.Errorf("vignette: %w", err)
	}
	return p, nil
}

// gbuffer unwraps a velocity-depth-normal pass built by this engine.
func gbuffer(p pipeline.Pass) (*opengl.VelocityDepthNormalPass, error) {
	vdn, ok := p.(*opengl.VelocityDepthNormalPass)
	if !ok || vdn == nil {
		return nil, fmt.Errorf("pass %T is not a velocity-depth-normal pass of this engine", p)
	}
	return vdn, nil
}

func (re *RenderEngine) Dispose() {
	re.gl.Destroy()
}
