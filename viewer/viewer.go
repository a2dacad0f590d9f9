// Package viewer ties the scene, the orbit controls, the effect pipeline and
// the asynchronous loaders into the per-frame loop of the model viewer.
package viewer

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"realism-viewer/assets"
	"realism-viewer/config"
	"realism-viewer/controls"
	"realism-viewer/core"
	"realism-viewer/internal/logger"
	"realism-viewer/pipeline"
	"realism-viewer/scene"
	"realism-viewer/shadows"
)

// Surface is the window the viewer renders into. core.Window satisfies it.
type Surface interface {
	FramebufferSize() (int, int)
	ShouldClose() bool
	Close()
	PollEvents()
	SwapBuffers()
	SetTitle(title string)
	Time() float64
}

// Backend is the GPU side of the viewer: it builds effect passes, renders
// progressive shadows, draws directly, and owns the GPU copies of models and
// environments.
type Backend interface {
	pipeline.Factory
	shadows.Backend

	SetSize(width, height int)
	Render(s *scene.Scene, cam *scene.Camera) error
	UploadModel(root *scene.Node) error
	ReleaseModel(root *scene.Node)
	UploadEnvironment(env *scene.Environment) error
	ReleaseEnvironment(env *scene.Environment)
	Dispose()
}

// ModelLoader decodes a model source off the main thread.
type ModelLoader interface {
	Load(ctx context.Context, src assets.Source) (*scene.GLTFResult, error)
}

// EnvironmentLoader decodes an HDR panorama off the main thread.
type EnvironmentLoader interface {
	Load(ctx context.Context, src assets.Source) (*scene.Environment, error)
}

// Option customises New.
type Option func(*Viewer)

func WithModelLoader(l ModelLoader) Option { return func(v *Viewer) { v.models = l } }

func WithEnvironmentLoader(l EnvironmentLoader) Option {
	return func(v *Viewer) { v.envs = l }
}

func WithNotifier(n Notifier) Option { return func(v *Viewer) { v.notifier = n } }

// WithSettings shares a live settings object, e.g. one also driven by a
// config file watcher.
func WithSettings(s *config.Settings) Option { return func(v *Viewer) { v.settings = s } }

// Viewer is the application state. Everything except LoadModel's and
// LoadEnvironment's goroutines runs on the main thread.
type Viewer struct {
	cfg      config.Config
	surface  Surface
	backend  Backend
	settings *config.Settings

	Scene    *scene.Scene
	Camera   *scene.Camera
	Controls *controls.Orbit

	composer *pipeline.Composer
	shadows  *shadows.Accumulator

	queue    *Queue
	models   ModelLoader
	envs     EnvironmentLoader
	notifier Notifier

	ctx    context.Context
	cancel context.CancelFunc
	loads  sync.WaitGroup

	// Tokens of the latest requests; older results are dropped.
	modelToken uint64
	envToken   uint64

	width, height int
	frameIndex    uint64
	lastTime      float64
	closed        bool
}

// New builds the scene, the camera, the controls and the effect pipeline for
// a surface of the current framebuffer size.
func New(cfg config.Config, surface Surface, backend Backend, opts ...Option) (*Viewer, error) {
	v := &Viewer{
		cfg:     cfg,
		surface: surface,
		backend: backend,
		queue:   NewQueue(64),
		models:  assets.ModelLoader{},
		envs:    assets.EnvironmentLoader{},
	}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(v)
	}
	if v.settings == nil {
		v.settings = config.NewSettings(cfg)
	}
	if v.notifier == nil {
		v.notifier = titleNotifier{surface: surface, title: "Realism Viewer"}
	}

	v.Scene = scene.NewScene()
	v.Scene.Background = core.ColorFromHex(cfg.Background)
	v.Scene.Light = scene.DirectionalLight{
		Direction: mgl32.Vec3(cfg.Light.Direction).Normalize(),
		Color:     core.ColorFromHex(cfg.Light.Color),
		Intensity: cfg.Light.Intensity,
	}

	width, height := surface.FramebufferSize()
	v.width, v.height = max(width, 1), max(height, 1)
	c := cfg.Camera
	v.Camera = scene.NewCamera(mgl32.DegToRad(c.FOV), float32(v.width)/float32(v.height), c.Near, c.Far)
	v.Camera.SetPosition(mgl32.Vec3(c.Position))
	v.Camera.LookAt(mgl32.Vec3(c.Target))
	v.Scene.SetCamera(v.Camera)

	v.Controls = controls.NewOrbit(v.Camera, cfg.Controls)
	v.Controls.SetViewportHeight(v.height)

	backend.SetSize(v.width, v.height)
	composer, err := pipeline.Assemble(cfg, backend, v.width, v.height)
	if err != nil {
		v.cancel()
		return nil, fmt.Errorf("effect pipeline: %w", err)
	}
	v.composer = composer

	if cfg.Features.UseProgressiveShadows {
		v.shadows = shadows.NewAccumulator(cfg.ProgressiveShadows, backend)
	}

	logger.Log.Info("viewer ready",
		zap.Int("width", v.width),
		zap.Int("height", v.height),
		zap.Stringer("path", v.settings.Path()),
		zap.Bool("progressive_shadows", v.shadows != nil))
	return v, nil
}

func (v *Viewer) Settings() *config.Settings { return v.settings }

func (v *Viewer) Composer() *pipeline.Composer { return v.composer }

func (v *Viewer) Queue() *Queue { return v.queue }

// Size is the current framebuffer size.
func (v *Viewer) Size() (int, int) { return v.width, v.height }

// Resize applies a framebuffer resize synchronously: camera aspect, camera
// projection, backend viewport and pipeline targets. A zero-sized event
// (minimised window) is ignored.
func (v *Viewer) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	v.width, v.height = width, height
	v.Camera.UpdateAspectRatio(float32(width), float32(height))
	v.Controls.SetViewportHeight(height)
	v.backend.SetSize(width, height)
	v.composer.SetSize(width, height)
}

// Frame renders one frame. Completed loads are applied first, then the render
// path is sampled once; a toggle later in the frame applies to the next one.
func (v *Viewer) Frame(dt float32) error {
	v.queue.Drain()
	path := v.settings.Path()

	v.Controls.Update(dt)

	if v.shadows != nil && v.Scene.Model() != nil {
		if err := v.shadows.Update(v.Scene); err != nil {
			logger.Log.Warn("progressive shadow update failed", zap.Error(err))
		}
	}

	v.frameIndex++
	if path == config.PathComposer {
		return v.composer.Render(&pipeline.Frame{
			Scene:  v.Scene,
			Camera: v.Camera,
			Delta:  dt,
			Index:  v.frameIndex,
		})
	}
	return v.backend.Render(v.Scene, v.Camera)
}

// Run drives Frame until the surface closes or ctx is done.
func (v *Viewer) Run(ctx context.Context) error {
	v.lastTime = v.surface.Time()
	for !v.surface.ShouldClose() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		v.surface.PollEvents()

		now := v.surface.Time()
		dt := float32(now - v.lastTime)
		v.lastTime = now

		if err := v.Frame(dt); err != nil {
			return fmt.Errorf("frame %d: %w", v.frameIndex, err)
		}
		v.surface.SwapBuffers()
	}
	return nil
}

// TogglePath flips between composer and direct rendering.
func (v *Viewer) TogglePath() config.RenderPath {
	p := v.settings.Toggle()
	logger.Log.Info("render path", zap.Stringer("path", p))
	return p
}

// ApplyColor recolours every mesh of the current model.
func (v *Viewer) ApplyColor(hex uint32) {
	if m := v.Scene.Model(); m != nil {
		scene.ApplyColor(m, core.ColorFromHex(hex))
	}
}

// Close cancels in-flight loads, waits for their goroutines, and releases
// the scene's GPU resources and the pipeline.
func (v *Viewer) Close() {
	if v.closed {
		return
	}
	v.closed = true
	v.cancel()
	v.loads.Wait()

	if m := v.Scene.SetModel(nil); m != nil {
		v.backend.ReleaseModel(m)
	}
	if env := v.Scene.SetEnvironment(nil); env != nil {
		v.backend.ReleaseEnvironment(env)
	}
	v.composer.Dispose()
}
