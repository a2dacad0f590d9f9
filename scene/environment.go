package scene

// Environment is an equirectangular radiance map used for image-based
// lighting and as the reflection source of every PBR material.
type Environment struct {
	Name   string
	Width  int
	Height int
	// Pixels holds linear RGB radiance, three floats per texel, top row first.
	Pixels []float32
	// GLID is set by the OpenGL backend after upload.
	GLID uint32
}

// At returns the radiance at texel (x, y).
func (e *Environment) At(x, y int) [3]float32 {
	i := (y*e.Width + x) * 3
	return [3]float32{e.Pixels[i], e.Pixels[i+1], e.Pixels[i+2]}
}
