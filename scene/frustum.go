package scene

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Plane represents a half-space: ax + by + cz + d = 0
// Normal (a, b, c) points into the "inside" of the frustum.
type Plane struct {
	Normal mgl32.Vec3
	D      float32
}

// DistanceTo returns the signed distance from a point to the plane.
// Positive means on the "inside" (same side as Normal).
func (p Plane) DistanceTo(pt mgl32.Vec3) float32 {
	return p.Normal.Dot(pt) + p.D
}

// Frustum holds the six clip planes of a view frustum.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

// FrustumFromVP extracts the six frustum planes from a column-vector
// view-projection matrix (clip = vp * world) using the Gribb/Hartmann rows.
// The planes are normalized so DistanceTo returns a true distance in world units.
func FrustumFromVP(vp mgl32.Mat4) Frustum {
	r0, r1, r2, r3 := vp.Row(0), vp.Row(1), vp.Row(2), vp.Row(3)

	var f Frustum
	f.Planes[0] = normalizePlane(r3.Add(r0))
	f.Planes[1] = normalizePlane(r3.Sub(r0))
	f.Planes[2] = normalizePlane(r3.Add(r1))
	f.Planes[3] = normalizePlane(r3.Sub(r1))
	f.Planes[4] = normalizePlane(r3.Add(r2))
	f.Planes[5] = normalizePlane(r3.Sub(r2))
	return f
}

func normalizePlane(p mgl32.Vec4) Plane {
	n := p.Vec3()
	l := n.Len()
	if l == 0 {
		return Plane{}
	}
	return Plane{Normal: n.Mul(1 / l), D: p.W() / l}
}

// AABB is an axis-aligned bounding box. The zero value is a degenerate box
// at the origin; use EmptyAABB as the identity for Extend and Union.
type AABB struct {
	Min, Max mgl32.Vec3
}

// EmptyAABB returns an inverted box that any Extend replaces.
func EmptyAABB() AABB {
	inf := math32.Inf(1)
	return AABB{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

func (box AABB) IsEmpty() bool {
	return box.Min.X() > box.Max.X() || box.Min.Y() > box.Max.Y() || box.Min.Z() > box.Max.Z()
}

// Extend grows the box to contain p.
func (box AABB) Extend(p mgl32.Vec3) AABB {
	return AABB{
		Min: mgl32.Vec3{math32.Min(box.Min.X(), p.X()), math32.Min(box.Min.Y(), p.Y()), math32.Min(box.Min.Z(), p.Z())},
		Max: mgl32.Vec3{math32.Max(box.Max.X(), p.X()), math32.Max(box.Max.Y(), p.Y()), math32.Max(box.Max.Z(), p.Z())},
	}
}

// Union returns the smallest box containing both boxes.
func (box AABB) Union(other AABB) AABB {
	if other.IsEmpty() {
		return box
	}
	return box.Extend(other.Min).Extend(other.Max)
}

func (box AABB) Center() mgl32.Vec3 {
	return box.Min.Add(box.Max).Mul(0.5)
}

func (box AABB) Size() mgl32.Vec3 {
	if box.IsEmpty() {
		return mgl32.Vec3{}
	}
	return box.Max.Sub(box.Min)
}

// MaxDimension returns the largest edge length of the box.
func (box AABB) MaxDimension() float32 {
	s := box.Size()
	return math32.Max(s.X(), math32.Max(s.Y(), s.Z()))
}

// IntersectsFrustum returns false if the AABB is completely outside the frustum.
// Uses the "p-vertex" test: for each plane, check if the corner most aligned
// with the plane normal is on the outside.
func (box AABB) IntersectsFrustum(f *Frustum) bool {
	for i := 0; i < 6; i++ {
		p := f.Planes[i]
		px := box.Max.X()
		if p.Normal.X() < 0 {
			px = box.Min.X()
		}
		py := box.Max.Y()
		if p.Normal.Y() < 0 {
			py = box.Min.Y()
		}
		pz := box.Max.Z()
		if p.Normal.Z() < 0 {
			pz = box.Min.Z()
		}
		if p.DistanceTo(mgl32.Vec3{px, py, pz}) < 0 {
			return false
		}
	}
	return true
}

// ComputeAABB computes the world-space AABB for a mesh transformed by worldMatrix.
// If the mesh has a cached local AABB, it transforms the 8 corners.
// Otherwise it falls back to iterating all vertices.
func ComputeAABB(mesh *Mesh, worldMatrix mgl32.Mat4) AABB {
	if mesh.HasLocalAABB {
		return transformAABB(mesh.LocalAABB, worldMatrix)
	}
	out := EmptyAABB()
	for _, v := range mesh.Vertices {
		out = out.Extend(mgl32.TransformCoordinate(v.Position, worldMatrix))
	}
	return out
}

// transformAABB transforms a local AABB by a world matrix by testing all 8 corners.
func transformAABB(local AABB, m mgl32.Mat4) AABB {
	mn, mx := local.Min, local.Max
	out := EmptyAABB()
	for i := 0; i < 8; i++ {
		corner := mgl32.Vec3{mn.X(), mn.Y(), mn.Z()}
		if i&1 != 0 {
			corner[0] = mx.X()
		}
		if i&2 != 0 {
			corner[1] = mx.Y()
		}
		if i&4 != 0 {
			corner[2] = mx.Z()
		}
		out = out.Extend(mgl32.TransformCoordinate(corner, m))
	}
	return out
}
