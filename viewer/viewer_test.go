package viewer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realism-viewer/assets"
	"realism-viewer/config"
	"realism-viewer/core"
	"realism-viewer/pipeline"
	"realism-viewer/scene"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

type fakeSurface struct {
	w, h   int
	closed bool
	title  string
	swaps  int
	now    float64
	frames int // ShouldClose turns true after this many polls
	polls  int
}

func (s *fakeSurface) FramebufferSize() (int, int) { return s.w, s.h }
func (s *fakeSurface) ShouldClose() bool           { return s.closed || (s.frames > 0 && s.polls >= s.frames) }
func (s *fakeSurface) Close()                      { s.closed = true }
func (s *fakeSurface) PollEvents()                 { s.polls++ }
func (s *fakeSurface) SwapBuffers()                { s.swaps++ }
func (s *fakeSurface) SetTitle(t string)           { s.title = t }
func (s *fakeSurface) Time() float64               { s.now += 1.0 / 60; return s.now }

type fakeTarget struct{ w, h int }

func (t *fakeTarget) Size() (int, int) { return t.w, t.h }

type fakeTargets struct {
	b    *fakeBackend
	a, c *fakeTarget
}

func (t *fakeTargets) Read() pipeline.Target  { return t.a }
func (t *fakeTargets) Write() pipeline.Target { return t.c }
func (t *fakeTargets) Swap()                  { t.a, t.c = t.c, t.a }
func (t *fakeTargets) Present(pipeline.Target) error {
	t.b.presented++
	return nil
}
func (t *fakeTargets) Resize(w, h int) { t.b.targetW, t.b.targetH = w, h }
func (t *fakeTargets) Dispose()        { t.b.targetsDisposed = true }

type fakePass struct{ name string }

func (p *fakePass) Name() string                                  { return p.name }
func (p *fakePass) NeedsSwap() bool                               { return true }
func (p *fakePass) Render(*pipeline.Frame, pipeline.Target, pipeline.Target) error { return nil }
func (p *fakePass) SetSize(int, int)                              {}
func (p *fakePass) Dispose()                                      {}

type fakeBackend struct {
	w, h             int
	targetW, targetH int
	targetsBuilt     int
	targetsDisposed  bool
	presented        int
	direct           int

	uploaded  map[*scene.Node]int
	released  map[*scene.Node]int
	uploadErr error

	envUploaded []*scene.Environment
	envReleased []*scene.Environment

	clears, accums int
	weights        []float32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{uploaded: map[*scene.Node]int{}, released: map[*scene.Node]int{}}
}

func (b *fakeBackend) Targets(w, h int) (pipeline.Targets, error) {
	b.targetsBuilt++
	b.targetW, b.targetH = w, h
	return &fakeTargets{b: b, a: &fakeTarget{w, h}, c: &fakeTarget{w, h}}, nil
}
func (b *fakeBackend) RenderPass() (pipeline.Pass, error) {
	return &fakePass{pipeline.PassRender}, nil
}
func (b *fakeBackend) AmbientOcclusionPass(config.SSAOConfig) (pipeline.Pass, error) {
	return &fakePass{pipeline.PassSSAO}, nil
}
func (b *fakeBackend) VelocityDepthNormalPass() (pipeline.Pass, error) {
	return &fakePass{pipeline.PassVelocityDepthNormal}, nil
}
func (b *fakeBackend) GlobalIlluminationPass(config.SSGIConfig, pipeline.Pass) (pipeline.Pass, error) {
	return &fakePass{pipeline.PassSSGI}, nil
}
func (b *fakeBackend) TemporalResolvePass(config.TRAAConfig, pipeline.Pass) (pipeline.Pass, error) {
	return &fakePass{pipeline.PassTRAA}, nil
}
func (b *fakeBackend) VignettePass(config.VignetteConfig) (pipeline.Pass, error) {
	return &fakePass{pipeline.PassVignette}, nil
}

func (b *fakeBackend) ClearShadowAccumulation() { b.clears++ }
func (b *fakeBackend) AccumulateShadow(_ *scene.Scene, _ mgl32.Vec3, w float32) error {
	b.accums++
	b.weights = append(b.weights, w)
	return nil
}

func (b *fakeBackend) SetSize(w, h int) { b.w, b.h = w, h }
func (b *fakeBackend) Render(*scene.Scene, *scene.Camera) error {
	b.direct++
	return nil
}
func (b *fakeBackend) UploadModel(root *scene.Node) error {
	b.uploaded[root]++
	return b.uploadErr
}
func (b *fakeBackend) ReleaseModel(root *scene.Node) { b.released[root]++ }
func (b *fakeBackend) UploadEnvironment(env *scene.Environment) error {
	b.envUploaded = append(b.envUploaded, env)
	return nil
}
func (b *fakeBackend) ReleaseEnvironment(env *scene.Environment) {
	b.envReleased = append(b.envReleased, env)
}
func (b *fakeBackend) Dispose() {}

// fakeModels resolves sources by name. A gated name blocks until its gate
// is closed.
type fakeModels struct {
	mu      sync.Mutex
	results map[string]*scene.GLTFResult
	errs    map[string]error
	gates   map[string]chan struct{}
}

func newFakeModels() *fakeModels {
	return &fakeModels{
		results: map[string]*scene.GLTFResult{},
		errs:    map[string]error{},
		gates:   map[string]chan struct{}{},
	}
}

func (m *fakeModels) Load(ctx context.Context, src assets.Source) (*scene.GLTFResult, error) {
	m.mu.Lock()
	gate := m.gates[src.Name()]
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[src.Name()]; err != nil {
		return nil, err
	}
	return m.results[src.Name()], nil
}

type fakeEnvs struct {
	env *scene.Environment
	err error
}

func (e fakeEnvs) Load(context.Context, assets.Source) (*scene.Environment, error) {
	return e.env, e.err
}

type namedSource string

func (s namedSource) Name() string                               { return string(s) }
func (s namedSource) Open(context.Context) (*assets.Blob, error) { return nil, errors.New("unused") }

// ── helpers ───────────────────────────────────────────────────────────────────

// boxMesh is an origin-centred box of the given size. A zero size gives a
// flat quad.
func boxMesh(sx, sy, sz float32) *scene.Mesh {
	x, y, z := sx/2, sy/2, sz/2
	var verts []core.Vertex
	for _, p := range []mgl32.Vec3{
		{-x, -y, -z}, {x, -y, -z}, {x, y, -z}, {-x, y, -z},
		{-x, -y, z}, {x, -y, z}, {x, y, z}, {-x, y, z},
	} {
		verts = append(verts, core.Vertex{Position: p, Normal: mgl32.Vec3{0, 1, 0}, Color: core.ColorWhite})
	}
	return scene.CreateMeshFromData("Box", verts, []uint32{0, 1, 2, 2, 3, 0, 4, 5, 6, 6, 7, 4})
}

func findNode(root *scene.Node, name string) *scene.Node {
	var found *scene.Node
	root.Traverse(func(n *scene.Node) {
		if found == nil && n.Name == name {
			found = n
		}
	})
	return found
}

// boxModel is a model with one off-centre 4×2×1 box and a ground plane.
func boxModel(name string) *scene.GLTFResult {
	root := scene.NewNode(name)
	box := scene.NewNode("Box")
	box.Mesh = boxMesh(4, 2, 1)
	box.SetPosition(mgl32.Vec3{5, 1, 0})
	root.AddChild(box)
	plane := scene.NewNode("Plane")
	plane.Mesh = boxMesh(1, 0, 1)
	plane.SetPosition(mgl32.Vec3{5, 0, 0})
	root.AddChild(plane)
	return &scene.GLTFResult{Root: root}
}

type harness struct {
	v       *Viewer
	surface *fakeSurface
	backend *fakeBackend
	models  *fakeModels
	notes   []string
}

func newHarness(t *testing.T, cfg config.Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		surface: &fakeSurface{w: 800, h: 600},
		backend: newFakeBackend(),
		models:  newFakeModels(),
	}
	opts = append([]Option{
		WithModelLoader(h.models),
		WithNotifier(NotifierFunc(func(msg string) { h.notes = append(h.notes, msg) })),
	}, opts...)
	v, err := New(cfg, h.surface, h.backend, opts...)
	require.NoError(t, err)
	h.v = v
	t.Cleanup(v.Close)
	return h
}

// settle waits for n load results to be queued and applies them.
func (h *harness) settle(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.v.Queue().Len() >= n },
		time.Second, time.Millisecond)
	h.v.Queue().Drain()
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestNewSizesEverythingToTheFramebuffer(t *testing.T) {
	h := newHarness(t, config.Default())

	assert.Equal(t, 800, h.backend.w)
	assert.Equal(t, 600, h.backend.h)
	assert.InDelta(t, 800.0/600.0, h.v.Camera.AspectRatio, 1e-6)
	assert.Equal(t, mgl32.Vec3{0, 0, 3}, h.v.Camera.Position)
	assert.Equal(t, pipeline.BranchAO, h.v.Composer().Branch())
	assert.Equal(t, []string{pipeline.PassRender, pipeline.PassSSAO}, h.v.Composer().Passes())
	assert.Nil(t, h.v.Scene.Model())
}

func TestNewAssemblesGIBranch(t *testing.T) {
	cfg := config.Default()
	cfg.Features.UseGI = true
	h := newHarness(t, cfg)
	assert.Equal(t, pipeline.BranchGI, h.v.Composer().Branch())
	assert.Equal(t, []string{
		pipeline.PassVelocityDepthNormal, pipeline.PassSSGI, pipeline.PassTRAA, pipeline.PassVignette,
	}, h.v.Composer().Passes())
}

func TestResizeIsSynchronous(t *testing.T) {
	h := newHarness(t, config.Default())

	h.v.Resize(1000, 500)
	assert.InDelta(t, 2, h.v.Camera.AspectRatio, 1e-6)
	assert.Equal(t, 1000, h.backend.w)
	assert.Equal(t, 500, h.backend.h)
	assert.Equal(t, 1000, h.backend.targetW)
	assert.Equal(t, 500, h.backend.targetH)
	proj := h.v.Camera.ProjectionMatrix()
	assert.InDelta(t, proj[5]/2, proj[0], 1e-5)

	// Minimised window.
	h.v.Resize(1000, 0)
	assert.InDelta(t, 2, h.v.Camera.AspectRatio, 1e-6)
	assert.Equal(t, 500, h.backend.h)
}

func TestTogglePathAppliesNextFrameWithoutReassembly(t *testing.T) {
	h := newHarness(t, config.Default())

	require.NoError(t, h.v.Frame(0))
	assert.Equal(t, 1, h.backend.presented)
	assert.Equal(t, 0, h.backend.direct)

	h.v.HandleKey(core.KeyC)
	assert.Equal(t, config.PathDirect, h.v.Settings().Path())
	require.NoError(t, h.v.Frame(0))
	assert.Equal(t, 1, h.backend.presented)
	assert.Equal(t, 1, h.backend.direct)

	h.v.HandleKey(core.KeyC)
	require.NoError(t, h.v.Frame(0))
	assert.Equal(t, 2, h.backend.presented)
	assert.Equal(t, 1, h.backend.targetsBuilt)
}

func TestQueuedPathChangeAppliesSameFrame(t *testing.T) {
	h := newHarness(t, config.Default())
	h.v.Queue().Post(context.Background(), func() { h.v.Settings().SetUseComposer(false) })

	require.NoError(t, h.v.Frame(0))
	assert.Equal(t, 1, h.backend.direct)
	assert.Equal(t, 0, h.backend.presented)
}

func TestEscapeClosesSurface(t *testing.T) {
	h := newHarness(t, config.Default())
	h.v.HandleKey(core.KeyEscape)
	assert.True(t, h.surface.ShouldClose())
}

func TestRunStopsWhenSurfaceCloses(t *testing.T) {
	h := newHarness(t, config.Default())
	h.surface.frames = 3
	require.NoError(t, h.v.Run(context.Background()))
	assert.Equal(t, 3, h.surface.swaps)
	assert.Equal(t, 3, h.backend.presented)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, config.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.v.Run(ctx))
	assert.Equal(t, 0, h.surface.swaps)
}

func TestLoadModelNormalizesPlacement(t *testing.T) {
	h := newHarness(t, config.Default())
	h.models.results["box.glb"] = boxModel("Box")

	h.v.LoadModel(namedSource("box.glb"))
	h.settle(t, 1)

	model := h.v.Scene.Model()
	require.NotNil(t, model)
	assert.Len(t, h.v.Scene.Root.Children, 1)
	assert.Equal(t, 1, h.backend.uploaded[model])

	box := scene.WorldBounds(model)
	assert.InDelta(t, 2, box.MaxDimension(), 1e-4)
	c := box.Center()
	assert.InDelta(t, 0, c.X(), 1e-4)
	assert.InDelta(t, 0, c.Y(), 1e-4)
	assert.InDelta(t, 0, c.Z(), 1e-4)
}

func TestLoadModelReplacesAndReleasesPrevious(t *testing.T) {
	h := newHarness(t, config.Default())
	first, second := boxModel("First"), boxModel("Second")
	h.models.results["a.glb"] = first
	h.models.results["b.glb"] = second

	h.v.LoadModel(namedSource("a.glb"))
	h.settle(t, 1)
	h.v.LoadModel(namedSource("b.glb"))
	h.settle(t, 1)

	assert.Same(t, second.Root, h.v.Scene.Model())
	assert.Len(t, h.v.Scene.Root.Children, 1)
	assert.Equal(t, 1, h.backend.released[first.Root])
	assert.Nil(t, first.Root.Parent)
}

func TestStaleLoadNeverReplacesNewerModel(t *testing.T) {
	h := newHarness(t, config.Default())
	slow, fast := boxModel("Slow"), boxModel("Fast")
	h.models.results["slow.glb"] = slow
	h.models.results["fast.glb"] = fast
	gate := make(chan struct{})
	h.models.gates["slow.glb"] = gate

	h.v.LoadModel(namedSource("slow.glb"))
	h.v.LoadModel(namedSource("fast.glb"))
	h.settle(t, 1)
	close(gate)
	h.settle(t, 1)

	assert.Same(t, fast.Root, h.v.Scene.Model())
	assert.Zero(t, h.backend.uploaded[slow.Root])
}

func TestLoadFailureNotifiesAndKeepsModel(t *testing.T) {
	h := newHarness(t, config.Default())
	good := boxModel("Good")
	h.models.results["good.glb"] = good
	h.models.errs["bad.glb"] = assets.ErrUnsupportedFormat

	h.v.LoadModel(namedSource("good.glb"))
	h.settle(t, 1)
	h.v.LoadModel(namedSource("bad.glb"))
	h.settle(t, 1)

	require.Len(t, h.notes, 1)
	assert.Contains(t, h.notes[0], "Error loading GLTF - ")
	assert.Contains(t, h.notes[0], assets.ErrUnsupportedFormat.Error())
	assert.Same(t, good.Root, h.v.Scene.Model())
	assert.Len(t, h.v.Scene.Root.Children, 1)
}

func TestUploadFailureReleasesAndKeepsModel(t *testing.T) {
	h := newHarness(t, config.Default())
	m := boxModel("Broken")
	h.models.results["m.glb"] = m
	h.backend.uploadErr = errors.New("out of memory")

	h.v.LoadModel(namedSource("m.glb"))
	h.settle(t, 1)

	assert.Nil(t, h.v.Scene.Model())
	assert.Equal(t, 1, h.backend.released[m.Root])
	require.Len(t, h.notes, 1)
	assert.Contains(t, h.notes[0], "out of memory")
}

func TestDefaultNotifierWritesTitle(t *testing.T) {
	s := &fakeSurface{w: 10, h: 10}
	models := newFakeModels()
	models.errs["x.glb"] = errors.New("truncated")
	v, err := New(config.Default(), s, newFakeBackend(), WithModelLoader(models))
	require.NoError(t, err)
	defer v.Close()

	v.LoadModel(namedSource("x.glb"))
	require.Eventually(t, func() bool { return v.Queue().Len() == 1 }, time.Second, time.Millisecond)
	v.Queue().Drain()
	assert.Contains(t, s.title, "Error loading GLTF - truncated")
}

func TestShadowVariantPreparesCatcherAndResetsAccumulator(t *testing.T) {
	cfg := config.Default()
	cfg.Features.UseProgressiveShadows = true
	cfg.ProgressiveShadows.Frames = 3
	h := newHarness(t, cfg)

	// No model yet: nothing to accumulate.
	require.NoError(t, h.v.Frame(0))
	assert.Zero(t, h.backend.accums)

	m := boxModel("Scene")
	h.models.results["s.glb"] = m
	h.v.LoadModel(namedSource("s.glb"))
	h.settle(t, 1)

	box, plane := findNode(m.Root, "Box"), findNode(m.Root, "Plane")
	require.NotNil(t, box)
	require.NotNil(t, plane)
	assert.True(t, box.CastShadow)
	assert.True(t, box.ReceiveShadow)
	assert.False(t, box.Mesh.Material != nil && box.Mesh.Material.ShadowCatcher)
	require.NotNil(t, plane.Mesh.Material)
	assert.True(t, plane.Mesh.Material.ShadowCatcher)
	assert.InDelta(t, 0.6, plane.Mesh.Material.Opacity, 1e-6)
	assert.InDelta(t, 0.01, plane.Mesh.Material.AlphaTest, 1e-6)
	// The shadow variant keeps the authored placement.
	assert.Equal(t, mgl32.Vec3{5, 1, 0}, box.Transform.Position)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.v.Frame(0))
	}
	assert.Equal(t, 1, h.backend.clears)
	assert.Equal(t, 3, h.backend.accums)
	assert.InDeltaSlice(t, []float32{1, 0.5, 1.0 / 3}, h.backend.weights, 1e-6)

	// A new model starts the accumulation over.
	h.models.results["t.glb"] = boxModel("Other")
	h.v.LoadModel(namedSource("t.glb"))
	h.settle(t, 1)
	require.NoError(t, h.v.Frame(0))
	assert.Equal(t, 2, h.backend.clears)
	assert.Equal(t, 4, h.backend.accums)
}

func TestResetKeyRestartsShadows(t *testing.T) {
	cfg := config.Default()
	cfg.Features.UseProgressiveShadows = true
	cfg.ProgressiveShadows.Frames = 2
	h := newHarness(t, cfg)
	h.models.results["s.glb"] = boxModel("Scene")
	h.v.LoadModel(namedSource("s.glb"))
	h.settle(t, 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.v.Frame(0))
	}
	require.Equal(t, 2, h.backend.accums)

	h.v.HandleKey(core.KeyR)
	require.NoError(t, h.v.Frame(0))
	assert.Equal(t, 2, h.backend.clears)
	assert.Equal(t, 3, h.backend.accums)
}

func TestEnvironmentLoadReplacesPrevious(t *testing.T) {
	first := &scene.Environment{Name: "a", Width: 2, Height: 1}
	h := newHarness(t, config.Default(), WithEnvironmentLoader(fakeEnvs{env: first}))

	h.v.LoadEnvironment(namedSource("a.hdr"))
	h.settle(t, 1)
	assert.Same(t, first, h.v.Scene.Environment)

	second := &scene.Environment{Name: "b", Width: 2, Height: 1}
	h.v.envs = fakeEnvs{env: second}
	h.v.LoadEnvironment(namedSource("b.hdr"))
	h.settle(t, 1)
	assert.Same(t, second, h.v.Scene.Environment)
	assert.Equal(t, []*scene.Environment{first}, h.backend.envReleased)
}

func TestEnvironmentFailureKeepsPrevious(t *testing.T) {
	env := &scene.Environment{Name: "a", Width: 2, Height: 1}
	h := newHarness(t, config.Default(), WithEnvironmentLoader(fakeEnvs{env: env}))
	h.v.LoadEnvironment(namedSource("a.hdr"))
	h.settle(t, 1)

	h.v.envs = fakeEnvs{err: errors.New("bad header")}
	h.v.LoadEnvironment(namedSource("b.hdr"))
	h.settle(t, 1)

	assert.Same(t, env, h.v.Scene.Environment)
	assert.Empty(t, h.notes)
}

func TestHandleDropLoadsLastPath(t *testing.T) {
	h := newHarness(t, config.Default())
	h.models.results["b.glb"] = boxModel("B")

	h.v.HandleDrop(nil)
	assert.Equal(t, uint64(0), h.v.modelToken)

	h.v.HandleDrop([]string{"/tmp/a.glb", "/tmp/b.glb"})
	h.settle(t, 1)
	require.NotNil(t, h.v.Scene.Model())
	assert.Equal(t, "B", h.v.Scene.Model().Name)
}

func TestApplyColor(t *testing.T) {
	h := newHarness(t, config.Default())
	m := boxModel("M")
	h.models.results["m.glb"] = m
	h.v.ApplyColor(0xff0000) // no model: no-op
	h.v.LoadModel(namedSource("m.glb"))
	h.settle(t, 1)

	h.v.ApplyColor(0x00ff00)
	box := findNode(m.Root, "Box")
	require.NotNil(t, box.Mesh.Material)
	assert.Equal(t, core.Color{R: 0, G: 1, B: 0, A: 1}, box.Mesh.Material.Albedo)
}

func TestCloseCancelsLoadsAndReleasesScene(t *testing.T) {
	h := newHarness(t, config.Default())
	m := boxModel("M")
	h.models.results["m.glb"] = m
	h.v.LoadModel(namedSource("m.glb"))
	h.settle(t, 1)

	h.models.gates["never.glb"] = make(chan struct{})
	h.v.LoadModel(namedSource("never.glb"))

	h.v.Close()
	assert.Equal(t, 1, h.backend.released[m.Root])
	assert.True(t, h.backend.targetsDisposed)
	h.v.Close()
	assert.Equal(t, 1, h.backend.released[m.Root])
}

func TestQueueDrainRunsOnlyPending(t *testing.T) {
	q := NewQueue(4)
	ran := 0
	q.Post(context.Background(), func() {
		ran++
		q.Post(context.Background(), func() { ran++ })
	})
	assert.Equal(t, 1, q.Drain())
	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, q.Drain())
	assert.Equal(t, 2, ran)
}

func TestQueuePostGivesUpOnCancel(t *testing.T) {
	q := NewQueue(1)
	require.True(t, q.Post(context.Background(), func() {}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, q.Post(ctx, func() {}))
}
