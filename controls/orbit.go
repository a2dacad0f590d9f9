// Package controls binds pointer input to a damped orbit camera.
package controls

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"realism-viewer/config"
	"realism-viewer/core"
	"realism-viewer/scene"
)

// Damping factors are tuned per 60 Hz frame and rescaled to the real frame time.
const referenceFrame = float32(1) / 60

const polarEpsilon = 1e-4

type dragMode int

const (
	dragNone dragMode = iota
	dragRotate
	dragPan
	dragDolly
)

// Orbit rotates the camera around a target on a sphere. Left drag orbits,
// right drag pans, middle drag and the scroll wheel dolly. With damping on,
// input accumulates into velocities that decay every Update.
type Orbit struct {
	Camera *scene.Camera
	Target mgl32.Vec3

	EnableDamping bool
	DampingFactor float32
	MinDistance   float32
	MaxDistance   float32
	MinPolarAngle float32
	MaxPolarAngle float32
	RotateSpeed   float32
	ZoomSpeed     float32
	PanSpeed      float32

	// Pending motion, consumed by Update.
	deltaTheta float32
	deltaPhi   float32
	panOffset  mgl32.Vec3
	scale      float32

	// Pointer state
	mode                   dragMode
	lastMouseX, lastMouseY float64
	firstMove              bool
	viewportHeight         float32
}

func NewOrbit(cam *scene.Camera, cfg config.ControlsConfig) *Orbit {
	return &Orbit{
		Camera:         cam,
		Target:         cam.Target,
		EnableDamping:  cfg.EnableDamping,
		DampingFactor:  cfg.DampingFactor,
		MinDistance:    cfg.MinDistance,
		MaxDistance:    cfg.MaxDistance,
		MinPolarAngle:  cfg.MinPolarAngle,
		MaxPolarAngle:  cfg.MaxPolarAngle,
		RotateSpeed:    cfg.RotateSpeed,
		ZoomSpeed:      cfg.ZoomSpeed,
		PanSpeed:       cfg.PanSpeed,
		scale:          1,
		viewportHeight: 1,
	}
}

// SetViewportHeight sets the pixel height used to convert drags to angles.
func (o *Orbit) SetViewportHeight(h int) {
	if h > 0 {
		o.viewportHeight = float32(h)
	}
}

// Dragging reports whether a pointer button is held.
func (o *Orbit) Dragging() bool { return o.mode != dragNone }

// MouseButton starts or ends a drag.
func (o *Orbit) MouseButton(button int, down bool) {
	if !down {
		o.mode = dragNone
		return
	}
	switch button {
	case core.MouseLeft:
		o.mode = dragRotate
	case core.MouseRight:
		o.mode = dragPan
	case core.MouseMiddle:
		o.mode = dragDolly
	default:
		return
	}
	o.firstMove = true
}

// CursorMove feeds an absolute cursor position in window pixels.
func (o *Orbit) CursorMove(x, y float64) {
	if o.firstMove {
		o.lastMouseX, o.lastMouseY = x, y
		o.firstMove = false
	}
	dx := float32(x - o.lastMouseX)
	dy := float32(y - o.lastMouseY)
	o.lastMouseX, o.lastMouseY = x, y

	switch o.mode {
	case dragRotate:
		o.RotateLeft(2 * math32.Pi * dx / o.viewportHeight * o.RotateSpeed)
		o.RotateUp(2 * math32.Pi * dy / o.viewportHeight * o.RotateSpeed)
	case dragPan:
		o.Pan(dx, dy)
	case dragDolly:
		switch {
		case dy > 0:
			o.DollyOut(o.zoomScale())
		case dy < 0:
			o.DollyIn(o.zoomScale())
		}
	}
}

// Scroll dollies towards the target for positive y offsets.
func (o *Orbit) Scroll(_, yoff float64) {
	switch {
	case yoff > 0:
		o.DollyIn(o.zoomScale())
	case yoff < 0:
		o.DollyOut(o.zoomScale())
	}
}

func (o *Orbit) zoomScale() float32 {
	return math32.Pow(0.95, o.ZoomSpeed)
}

// RotateLeft adds an azimuth change in radians.
func (o *Orbit) RotateLeft(angle float32) { o.deltaTheta -= angle }

// RotateUp adds a polar change in radians.
func (o *Orbit) RotateUp(angle float32) { o.deltaPhi -= angle }

// DollyIn moves the camera closer by factor (< 1).
func (o *Orbit) DollyIn(factor float32) { o.scale *= factor }

// DollyOut moves the camera away by 1/factor.
func (o *Orbit) DollyOut(factor float32) { o.scale /= factor }

// Pan shifts camera and target in screen space by a pixel delta.
func (o *Orbit) Pan(dx, dy float32) {
	offset := o.Camera.Position.Sub(o.Target)
	// Half the visible height at the target distance.
	dist := offset.Len() * math32.Tan(o.Camera.FOV/2)
	right, up := o.screenAxes()
	o.panOffset = o.panOffset.
		Add(right.Mul(-2 * dx * dist / o.viewportHeight * o.PanSpeed)).
		Add(up.Mul(2 * dy * dist / o.viewportHeight * o.PanSpeed))
}

func (o *Orbit) screenAxes() (mgl32.Vec3, mgl32.Vec3) {
	fwd := o.Target.Sub(o.Camera.Position)
	if fwd.LenSqr() == 0 {
		return mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}
	}
	fwd = fwd.Normalize()
	right := fwd.Cross(o.Camera.Up)
	if right.LenSqr() < 1e-12 {
		right = mgl32.Vec3{1, 0, 0}
	}
	right = right.Normalize()
	return right, right.Cross(fwd)
}

// Update applies pending motion to the camera, clamps it and decays the
// motion when damping is on. It reports whether the camera moved.
func (o *Orbit) Update(dt float32) bool {
	offset := o.Camera.Position.Sub(o.Target)
	radius := offset.Len()
	theta := math32.Atan2(offset.X(), offset.Z())
	phi := float32(0)
	if radius > 0 {
		phi = math32.Acos(mgl32.Clamp(offset.Y()/radius, -1, 1))
	}

	k := float32(1)
	if o.EnableDamping {
		k = o.frameDamping(dt)
	}
	theta += o.deltaTheta * k
	phi += o.deltaPhi * k

	phi = mgl32.Clamp(phi, o.MinPolarAngle, o.MaxPolarAngle)
	phi = mgl32.Clamp(phi, polarEpsilon, math32.Pi-polarEpsilon)

	radius = mgl32.Clamp(radius*o.scale, o.MinDistance, o.MaxDistance)

	o.Target = o.Target.Add(o.panOffset.Mul(k))

	sinPhi := math32.Sin(phi)
	newOffset := mgl32.Vec3{
		radius * sinPhi * math32.Sin(theta),
		radius * math32.Cos(phi),
		radius * sinPhi * math32.Cos(theta),
	}
	newPos := o.Target.Add(newOffset)
	moved := !newPos.ApproxEqualThreshold(o.Camera.Position, 1e-6) ||
		!o.Target.ApproxEqualThreshold(o.Camera.Target, 1e-6)

	o.Camera.SetPosition(newPos)
	o.Camera.LookAt(o.Target)

	if o.EnableDamping {
		o.deltaTheta *= 1 - k
		o.deltaPhi *= 1 - k
		o.panOffset = o.panOffset.Mul(1 - k)
	} else {
		o.deltaTheta, o.deltaPhi = 0, 0
		o.panOffset = mgl32.Vec3{}
	}
	o.scale = 1
	return moved
}

// frameDamping converts the per-60Hz-frame damping factor to dt.
func (o *Orbit) frameDamping(dt float32) float32 {
	if dt <= 0 {
		dt = referenceFrame
	}
	return 1 - math32.Pow(1-o.DampingFactor, dt/referenceFrame)
}

// Distance is the current camera to target distance.
func (o *Orbit) Distance() float32 {
	return o.Camera.Position.Sub(o.Target).Len()
}

// PolarAngle is the angle between +Y and the target-to-camera vector.
func (o *Orbit) PolarAngle() float32 {
	offset := o.Camera.Position.Sub(o.Target)
	r := offset.Len()
	if r == 0 {
		return 0
	}
	return math32.Acos(mgl32.Clamp(offset.Y()/r, -1, 1))
}
