package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realism-viewer/core"
)

func assertVec3InDelta(t *testing.T, want, got mgl32.Vec3, delta float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, want[i], got[i], delta, "component %d of %v", i, got)
	}
}

func boxNode(name string, sx, sy, sz float32) *Node {
	n := NewNode(name)
	n.Mesh = CreateBox(sx, sy, sz)
	n.Mesh.Material = DefaultMaterial()
	return n
}

func TestWorldMatrixComposesParentFirst(t *testing.T) {
	parent := NewNode("parent")
	child := NewNode("child")
	parent.AddChild(child)

	parent.SetPosition(mgl32.Vec3{1, 0, 0})
	parent.SetScale(mgl32.Vec3{2, 2, 2})
	child.SetPosition(mgl32.Vec3{0, 1, 0})

	p := mgl32.TransformCoordinate(mgl32.Vec3{}, child.WorldMatrix())
	assertVec3InDelta(t, mgl32.Vec3{1, 2, 0}, p, 1e-5)

	// Moving the parent must invalidate the cached child matrix.
	parent.SetPosition(mgl32.Vec3{0, 0, 0})
	p = mgl32.TransformCoordinate(mgl32.Vec3{}, child.WorldMatrix())
	assertVec3InDelta(t, mgl32.Vec3{0, 2, 0}, p, 1e-5)
}

func TestAddChildReparents(t *testing.T) {
	a, b := NewNode("a"), NewNode("b")
	c := NewNode("c")
	a.AddChild(c)
	b.AddChild(c)

	assert.Empty(t, a.Children)
	assert.Equal(t, []*Node{c}, b.Children)
	assert.Same(t, b, c.Parent)
	assert.Same(t, c, b.Find("c"))
	assert.Nil(t, a.Find("c"))
}

func TestNodeIdsAreUnique(t *testing.T) {
	seen := map[uint32]bool{}
	for i := 0; i < 100; i++ {
		id := NewNode("n").Id
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestNormalizePlacementCentersAndScales(t *testing.T) {
	root := NewNode("model")
	root.SetPosition(mgl32.Vec3{5, -3, 1})
	root.SetRotation(mgl32.QuatRotate(mgl32.DegToRad(30), mgl32.Vec3{0, 1, 0}))
	body := boxNode("body", 2, 8, 1)
	body.SetPosition(mgl32.Vec3{0.5, 4, 0})
	root.AddChild(body)
	root.AddChild(boxNode("arm", 1, 1, 1))

	require.True(t, NormalizePlacement(root, 2))

	box := WorldBounds(root)
	assertVec3InDelta(t, mgl32.Vec3{}, box.Center(), 1e-4)
	assert.InDelta(t, 2, box.MaxDimension(), 1e-4)

	rot := mgl32.QuatRotate(mgl32.DegToRad(30), mgl32.Vec3{0, 1, 0})
	assert.True(t, root.Transform.Rotation.ApproxEqual(rot), "rotation must be preserved")
}

func TestNormalizePlacementSkipsDegenerateModels(t *testing.T) {
	empty := NewNode("empty")
	empty.SetPosition(mgl32.Vec3{1, 2, 3})
	assert.False(t, NormalizePlacement(empty, 2))
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, empty.Transform.Position)

	point := NewNode("point")
	point.Mesh = CreateMeshFromData("pt", []core.Vertex{{Position: mgl32.Vec3{4, 4, 4}}}, nil)
	assert.False(t, NormalizePlacement(point, 2))
	assert.Equal(t, mgl32.Vec3{1, 1, 1}, point.Transform.Scale)
}

func TestPrepareShadowsFlagsMeshesAndSwapsCatcher(t *testing.T) {
	root := NewNode("model")
	body := boxNode("Suzanne", 1, 1, 1)
	ground := boxNode("Plane", 10, 0.1, 10)
	lower := boxNode("plane", 10, 0.1, 10)
	other := boxNode("Planet", 1, 1, 1)
	root.AddChild(body)
	root.AddChild(ground)
	root.AddChild(lower)
	root.AddChild(other)

	catcher := NewShadowCatcherMaterial(core.ColorBlack, 0.6, 0.01)
	found := PrepareShadows(root, catcher)

	assert.ElementsMatch(t, []*Node{ground, lower}, found)
	for _, n := range []*Node{body, other} {
		assert.True(t, n.CastShadow, n.Name)
		assert.True(t, n.ReceiveShadow, n.Name)
		assert.False(t, n.Mesh.Material.ShadowCatcher, n.Name)
	}
	for _, n := range []*Node{ground, lower} {
		assert.Same(t, catcher, n.Mesh.Material, n.Name)
		assert.True(t, n.ReceiveShadow)
	}
}

func TestPrepareShadowsReachesSplitPrimitives(t *testing.T) {
	root := NewNode("model")
	ground := NewNode("Plane")
	var prims []*Node
	for _, name := range []string{"Plane_prim0", "Plane_prim1"} {
		p := boxNode(name, 1, 1, 1)
		p.Primitive = true
		ground.AddChild(p)
		prims = append(prims, p)
	}
	rock := boxNode("Rock", 1, 1, 1)
	ground.AddChild(rock)
	root.AddChild(ground)

	catcher := NewShadowCatcherMaterial(core.ColorBlack, 0.6, 0.01)
	PrepareShadows(root, catcher)
	for _, c := range prims {
		assert.Same(t, catcher, c.Mesh.Material)
		assert.False(t, c.CastShadow, c.Name)
		assert.True(t, c.ReceiveShadow, c.Name)
	}
	assert.False(t, rock.Mesh.Material.ShadowCatcher)
	assert.True(t, rock.CastShadow)
	assert.True(t, rock.ReceiveShadow)
}

func TestApplyColorSkipsCatcher(t *testing.T) {
	root := NewNode("model")
	body := boxNode("body", 1, 1, 1)
	ground := boxNode("Plane", 1, 1, 1)
	root.AddChild(body)
	root.AddChild(ground)
	PrepareShadows(root, NewShadowCatcherMaterial(core.ColorBlack, 0.6, 0.01))

	red := core.ColorFromHex(0xff0000)
	ApplyColor(root, red)
	assert.Equal(t, red, body.Mesh.Material.Albedo)
	assert.Equal(t, core.ColorBlack, ground.Mesh.Material.Albedo)
}

func TestSceneSetModelReturnsPrevious(t *testing.T) {
	s := NewScene()
	a, b := NewNode("a"), NewNode("b")

	assert.Nil(t, s.SetModel(a))
	assert.Same(t, a, s.SetModel(b))
	assert.Nil(t, a.Parent)
	assert.Same(t, s.Root, b.Parent)
	assert.Same(t, b, s.Model())
	assert.Len(t, s.Root.Children, 1)
}

func TestFrustumCulling(t *testing.T) {
	cam := NewCamera(mgl32.DegToRad(70), 1, 0.1, 100)
	cam.SetPosition(mgl32.Vec3{0, 0, 5})
	f := FrustumFromVP(cam.ViewProjectionMatrix())

	inside := AABB{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}}
	behind := AABB{Min: mgl32.Vec3{-1, -1, 10}, Max: mgl32.Vec3{1, 1, 12}}
	assert.True(t, inside.IntersectsFrustum(&f))
	assert.False(t, behind.IntersectsFrustum(&f))
}

func TestTransformAABBRotation(t *testing.T) {
	local := AABB{Min: mgl32.Vec3{-1, -2, -3}, Max: mgl32.Vec3{1, 2, 3}}
	m := mgl32.HomogRotate3DY(mgl32.DegToRad(90))
	box := transformAABB(local, m)
	assertVec3InDelta(t, mgl32.Vec3{-3, -2, -1}, box.Min, 1e-5)
	assertVec3InDelta(t, mgl32.Vec3{3, 2, 1}, box.Max, 1e-5)
}

func TestMaterialTexturesDeduplicates(t *testing.T) {
	tex := NewSolidTexture("t", 1, 2, 3, 4)
	m := DefaultMaterial()
	m.AlbedoTexture = tex
	m.EmissiveTexture = tex
	m.NormalTexture = NewSolidTexture("n", 0, 0, 255, 255)
	assert.Len(t, m.Textures(), 2)
}

func TestCameraAspectIgnoresZeroHeight(t *testing.T) {
	cam := NewCamera(1, 1.5, 0.1, 10)
	cam.UpdateAspectRatio(800, 0)
	assert.Equal(t, float32(1.5), cam.AspectRatio)
	cam.UpdateAspectRatio(800, 400)
	assert.Equal(t, float32(2), cam.AspectRatio)
}
