package scene

import "realism-viewer/core"

// ShadowCatcherNames are the node names that receive the shadow-only material.
var ShadowCatcherNames = []string{"Plane", "plane"}

// IsShadowCatcherName reports whether name is reserved for the ground catcher.
func IsShadowCatcherName(name string) bool {
	for _, n := range ShadowCatcherNames {
		if n == name {
			return true
		}
	}
	return false
}

// WorldBounds returns the world-space box of every mesh under root.
func WorldBounds(root *Node) AABB {
	box := EmptyAABB()
	root.TraverseMeshes(func(n *Node) {
		box = box.Union(ComputeAABB(n.Mesh, n.WorldMatrix()))
	})
	return box
}

// NormalizePlacement recentres root so its world box is centred on the
// origin and uniformly rescales it so the largest dimension equals target.
// Rotation is preserved. It reports false, leaving root untouched, when the
// subtree has no geometry or zero extent.
func NormalizePlacement(root *Node, target float32) bool {
	box := WorldBounds(root)
	if box.IsEmpty() {
		return false
	}
	maxDim := box.MaxDimension()
	if maxDim <= 0 {
		return false
	}
	s := target / maxDim
	center := box.Center()

	// S(s) * T(-c) * T(p) * R * S(k) == T(s*(p-c)) * R * S(s*k) for uniform s.
	root.SetPosition(root.Transform.Position.Sub(center).Mul(s))
	root.SetScale(root.Transform.Scale.Mul(s))
	return true
}

// PrepareShadows flags every mesh under root to cast and receive shadows and
// swaps the material of reserved-name nodes for catcher. It returns the
// catcher nodes it found.
func PrepareShadows(root *Node, catcher *Material) []*Node {
	var catchers []*Node
	root.Traverse(func(n *Node) {
		if IsShadowCatcherName(n.Name) {
			catchers = append(catchers, n)
			applyCatcher(n, catcher)
			return
		}
		if n.Mesh != nil && !n.Mesh.isCatcherOf(catcher) {
			n.CastShadow = true
			n.ReceiveShadow = true
		}
	})
	return catchers
}

// applyCatcher gives the reserved node and its primitive children the
// shadow-only material. Other descendants are ordinary model parts. Each
// catcher gets its own mesh value so other instances of a shared glTF mesh
// keep their material.
func applyCatcher(n *Node, catcher *Material) {
	parts := []*Node{n}
	for _, c := range n.Children {
		if c.Primitive {
			parts = append(parts, c)
		}
	}
	for _, p := range parts {
		if p.Mesh == nil {
			continue
		}
		p.Mesh = p.Mesh.Instance()
		p.Mesh.Material = catcher
		p.CastShadow = false
		p.ReceiveShadow = true
	}
}

func (m *Mesh) isCatcherOf(catcher *Material) bool {
	return m.Material != nil && m.Material == catcher
}

// ApplyColor sets the base colour of every mesh material under root.
// Shadow catchers are left alone.
func ApplyColor(root *Node, c core.Color) {
	root.TraverseMeshes(func(n *Node) {
		if n.Mesh.Material == nil {
			n.Mesh.Material = DefaultMaterial()
		}
		if n.Mesh.Material.ShadowCatcher {
			return
		}
		n.Mesh.Material.Albedo = c
	})
}
