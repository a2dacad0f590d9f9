// Package shadows accumulates soft shadows from a jittered directional
// light onto shadow-catcher surfaces, one hard shadow per frame.
package shadows

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"realism-viewer/config"
	"realism-viewer/scene"
)

// Backend renders one hard shadow map and blends it into the accumulation
// buffer with the given weight.
type Backend interface {
	ClearShadowAccumulation()
	AccumulateShadow(s *scene.Scene, lightDir mgl32.Vec3, weight float32) error
}

// Accumulator drives progressive shadows. Frame n (0-based) is blended with
// weight 1/(n+1), so after n+1 frames the buffer holds their mean.
type Accumulator struct {
	backend Backend
	frames  int
	radius  float32
	seed    int64

	rng     *rand.Rand
	frame   int
	cleared bool
}

func NewAccumulator(cfg config.ProgressiveShadowsConfig, backend Backend) *Accumulator {
	a := &Accumulator{
		backend: backend,
		frames:  cfg.Frames,
		radius:  cfg.LightRadius,
		seed:    cfg.Seed,
	}
	a.Reset()
	return a
}

// Reset discards the accumulated result; the next Update starts over with
// the same jitter sequence.
func (a *Accumulator) Reset() {
	a.rng = rand.New(rand.NewSource(a.seed))
	a.frame = 0
	a.cleared = false
}

// Frame is the number of shadow renders blended since the last reset.
func (a *Accumulator) Frame() int { return a.frame }

// Done reports whether the target frame count has been reached.
func (a *Accumulator) Done() bool { return a.frame >= a.frames }

// Update blends one more jittered shadow. It does nothing once Done.
func (a *Accumulator) Update(s *scene.Scene) error {
	if a.Done() {
		return nil
	}
	if !a.cleared {
		a.backend.ClearShadowAccumulation()
		a.cleared = true
	}
	dir := a.jitter(s.Light.Direction)
	if err := a.backend.AccumulateShadow(s, dir, 1/float32(a.frame+1)); err != nil {
		return err
	}
	a.frame++
	return nil
}

// jitter offsets the light direction by a uniform sample of a disk of the
// configured radius perpendicular to it, as seen from unit distance.
func (a *Accumulator) jitter(dir mgl32.Vec3) mgl32.Vec3 {
	dir = dir.Normalize()
	if a.radius == 0 {
		return dir
	}
	u, v := basis(dir)
	r := a.radius * math32.Sqrt(a.rng.Float32())
	theta := 2 * math32.Pi * a.rng.Float32()
	offset := u.Mul(r * math32.Cos(theta)).Add(v.Mul(r * math32.Sin(theta)))
	return dir.Add(offset).Normalize()
}

// basis returns two unit vectors orthogonal to n and to each other.
func basis(n mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	helper := mgl32.Vec3{0, 1, 0}
	if math32.Abs(n.Y()) > 0.9 {
		helper = mgl32.Vec3{1, 0, 0}
	}
	u := helper.Cross(n).Normalize()
	return u, n.Cross(u)
}
