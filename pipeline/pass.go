// Package pipeline assembles and runs the ordered chain of screen-space
// passes that sits between the scene and the screen.
package pipeline

import (
	"realism-viewer/config"
	"realism-viewer/scene"
)

// Pass names as they appear in logs and in Composer.Passes.
const (
	PassRender              = "render"
	PassSSAO                = "ssao"
	PassVelocityDepthNormal = "velocity-depth-normal"
	PassSSGI                = "ssgi"
	PassTRAA                = "traa"
	PassVignette            = "vignette"
)

// Frame is the per-frame input shared by every pass.
type Frame struct {
	Scene  *scene.Scene
	Camera *scene.Camera
	Delta  float32
	Index  uint64
}

// Target is a colour buffer owned by the backend.
type Target interface {
	Size() (width, height int)
}

// Pass is one stage of the chain. A pass reads the previous stage from in
// and writes to out; if NeedsSwap is false it wrote nothing to out (or
// rendered in place) and the chain keeps the current read buffer.
type Pass interface {
	Name() string
	NeedsSwap() bool
	Render(f *Frame, in, out Target) error
	SetSize(width, height int)
	Dispose()
}

// Targets is a ping-pong pair of colour buffers plus the final present to
// the window.
type Targets interface {
	Read() Target
	Write() Target
	Swap()
	// Present tone-maps src onto the default framebuffer.
	Present(src Target) error
	Resize(width, height int)
	Dispose()
}

// Factory builds backend passes. Parameters are handed through unvalidated.
type Factory interface {
	Targets(width, height int) (Targets, error)
	RenderPass() (Pass, error)
	AmbientOcclusionPass(cfg config.SSAOConfig) (Pass, error)
	VelocityDepthNormalPass() (Pass, error)
	GlobalIlluminationPass(cfg config.SSGIConfig, vdn Pass) (Pass, error)
	TemporalResolvePass(cfg config.TRAAConfig, vdn Pass) (Pass, error)
	VignettePass(cfg config.VignetteConfig) (Pass, error)
}
