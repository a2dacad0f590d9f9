package scene

import "realism-viewer/core"

// Material describes metallic-roughness surface properties for a mesh.
type Material struct {
	Name     string
	Albedo   core.Color // base colour (multiplied with albedo texture if set)
	Unlit    bool       // skip lighting calculation, output raw albedo/texture color
	Metallic float32    // 0 = dielectric, 1 = fully metallic
	// Roughness runs from 0 (mirror) to 1 (fully rough).
	Roughness     float32
	EmissiveColor core.Color
	DoubleSided   bool

	// AlphaTest discards fragments whose alpha falls below it. Zero disables it.
	AlphaTest float32

	// ShadowCatcher marks a material that is invisible except where shadows
	// land on it; the shadow is drawn with Albedo at Opacity.
	ShadowCatcher bool
	Opacity       float32

	// Optional albedo texture; if set, it is multiplied with Albedo.
	AlbedoTexture *Texture

	// Optional tangent-space normal map.
	NormalTexture *Texture

	// Optional combined metallic-roughness texture (glTF convention):
	//   G channel = roughness, B channel = metallic.
	MetallicRoughnessTexture *Texture

	// Optional emissive texture; multiplied with EmissiveColor.
	EmissiveTexture *Texture
}

// DefaultMaterial returns a plain white dielectric.
func DefaultMaterial() *Material {
	return &Material{
		Name:      "Default",
		Albedo:    core.ColorWhite,
		Roughness: 0.5,
		Opacity:   1,
	}
}

// NewShadowCatcherMaterial returns the shadow-only material placed on the
// reserved ground node: transparent everywhere except where shadow falls.
func NewShadowCatcherMaterial(color core.Color, opacity, alphaTest float32) *Material {
	return &Material{
		Name:          "ShadowCatcher",
		Albedo:        color,
		ShadowCatcher: true,
		Opacity:       opacity,
		AlphaTest:     alphaTest,
		Roughness:     1,
	}
}

// Textures lists the distinct textures referenced by the material.
func (m *Material) Textures() []*Texture {
	var out []*Texture
	for _, t := range []*Texture{m.AlbedoTexture, m.NormalTexture, m.MetallicRoughnessTexture, m.EmissiveTexture} {
		if t == nil {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == t {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t)
		}
	}
	return out
}
