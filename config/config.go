package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
)

// Config is the static option table of the viewer. It is read once at
// startup and treated as read-only afterwards; the only live value is the
// render path held by Settings.
type Config struct {
	Renderer           RendererConfig           `toml:"renderer"`
	Camera             CameraConfig             `toml:"camera"`
	Controls           ControlsConfig           `toml:"controls"`
	Background         uint32                   `toml:"background"`
	EnvMap             string                   `toml:"env_map"`
	Light              LightConfig              `toml:"light"`
	SSAO               SSAOConfig               `toml:"ssao"`
	SSGI               SSGIConfig               `toml:"ssgi"`
	TRAA               TRAAConfig               `toml:"traa"`
	Vignette           VignetteConfig           `toml:"vignette"`
	ShadowCatcher      ShadowCatcherConfig      `toml:"shadow_catcher"`
	ProgressiveShadows ProgressiveShadowsConfig `toml:"progressive_shadows"`
	TestModel          TestModelConfig          `toml:"test_model"`
	Features           Features                 `toml:"features"`
}

type RendererConfig struct {
	Antialias             bool    `toml:"antialias"`
	Alpha                 bool    `toml:"alpha"`
	Depth                 bool    `toml:"depth"`
	Stencil               bool    `toml:"stencil"`
	// PremultipliedAlpha and PreserveDrawingBuffer are browser canvas flags.
	// They are read and written for option-table compatibility only; the GL
	// backend always presents opaque, straight colour and redraws every frame.
	PremultipliedAlpha    bool    `toml:"premultiplied_alpha"`
	PreserveDrawingBuffer bool    `toml:"preserve_drawing_buffer"`
	Exposure              float32 `toml:"exposure"`
}

// CameraConfig describes the perspective frustum. FOV is vertical, in degrees.
// The aspect ratio always comes from the framebuffer.
type CameraConfig struct {
	FOV      float32    `toml:"fov"`
	Near     float32    `toml:"near"`
	Far      float32    `toml:"far"`
	Position [3]float32 `toml:"position"`
	Target   [3]float32 `toml:"target"`
}

type ControlsConfig struct {
	EnableDamping bool    `toml:"enable_damping"`
	DampingFactor float32 `toml:"damping_factor"`
	MinDistance   float32 `toml:"min_distance"`
	MaxDistance   float32 `toml:"max_distance"`
	MinPolarAngle float32 `toml:"min_polar_angle"`
	MaxPolarAngle float32 `toml:"max_polar_angle"`
	RotateSpeed   float32 `toml:"rotate_speed"`
	ZoomSpeed     float32 `toml:"zoom_speed"`
	PanSpeed      float32 `toml:"pan_speed"`
}

type LightConfig struct {
	Direction [3]float32 `toml:"direction"`
	Color     uint32     `toml:"color"`
	Intensity float32    `toml:"intensity"`
}

type SSAOConfig struct {
	Radius          float32 `toml:"radius"`
	DistanceFalloff float32 `toml:"distance_falloff"`
	Intensity       float32 `toml:"intensity"`
	Samples         int     `toml:"samples"`
	Rings           int     `toml:"rings"`
	Bias            float32 `toml:"bias"`
	DistanceScaling bool    `toml:"distance_scaling"`
}

type SSGIConfig struct {
	Distance           float32 `toml:"distance"`
	Thickness          float32 `toml:"thickness"`
	DenoiseIterations  int     `toml:"denoise_iterations"`
	DenoiseKernel      int     `toml:"denoise_kernel"`
	DenoiseDiffuse     float32 `toml:"denoise_diffuse"`
	DenoiseSpecular    float32 `toml:"denoise_specular"`
	Radius             float32 `toml:"radius"`
	Phi                float32 `toml:"phi"`
	LumaPhi            float32 `toml:"luma_phi"`
	DepthPhi           float32 `toml:"depth_phi"`
	NormalPhi          float32 `toml:"normal_phi"`
	RoughnessPhi       float32 `toml:"roughness_phi"`
	SpecularPhi        float32 `toml:"specular_phi"`
	EnvBlur            float32 `toml:"env_blur"`
	ImportanceSampling bool    `toml:"importance_sampling"`
	Steps              int     `toml:"steps"`
	RefineSteps        int     `toml:"refine_steps"`
	ResolutionScale    float32 `toml:"resolution_scale"`
	MissedRays         bool    `toml:"missed_rays"`
}

type TRAAConfig struct {
	FullAccumulate bool `toml:"full_accumulate"`
}

type VignetteConfig struct {
	Darkness float32 `toml:"darkness"`
	Offset   float32 `toml:"offset"`
}

// ShadowCatcherConfig styles the shadow-only material given to the
// reserved "Plane" node of a model.
type ShadowCatcherConfig struct {
	AlphaTest float32 `toml:"alpha_test"`
	Opacity   float32 `toml:"opacity"`
	Color     uint32  `toml:"color"`
}

type ProgressiveShadowsConfig struct {
	Frames      int     `toml:"frames"`
	LightRadius float32 `toml:"light_radius"`
	Resolution  int     `toml:"resolution"`
	Seed        int64   `toml:"seed"`
}

type TestModelConfig struct {
	Load bool   `toml:"load"`
	URL  string `toml:"url"`
}

// Features selects the pipeline branch and the initial render path.
// UseGI and UseProgressiveShadows are fixed for the session.
type Features struct {
	UseComposer           bool `toml:"use_composer"`
	UseGI                 bool `toml:"use_gi"`
	UseTRAA               bool `toml:"use_traa"`
	UseVignette           bool `toml:"use_vignette"`
	UseProgressiveShadows bool `toml:"use_progressive_shadows"`
}

// Default returns the stock option table.
func Default() Config {
	return Config{
		Renderer: RendererConfig{
			Antialias:             false,
			Alpha:                 true,
			Depth:                 true,
			Stencil:               false,
			PremultipliedAlpha:    false,
			PreserveDrawingBuffer: true,
			Exposure:              1,
		},
		Camera: CameraConfig{
			FOV:      70,
			Near:     0.1,
			Far:      250,
			Position: [3]float32{0, 0, 3},
		},
		Controls: ControlsConfig{
			EnableDamping: true,
			DampingFactor: 0.05,
			MinDistance:   0.5,
			MaxDistance:   float32(math.Inf(1)),
			MinPolarAngle: 0,
			MaxPolarAngle: math.Pi / 2,
			RotateSpeed:   1,
			ZoomSpeed:     1,
			PanSpeed:      1,
		},
		Background: 0xffffff,
		EnvMap:     "hdr/studio.hdr",
		Light: LightConfig{
			Direction: [3]float32{-0.5, -1, -0.3},
			Color:     0xffffff,
			Intensity: 1,
		},
		SSAO: SSAOConfig{
			Radius:          0.5,
			DistanceFalloff: 0.03,
			Intensity:       1,
			Samples:         30,
			Rings:           24,
			Bias:            0.025,
			DistanceScaling: false,
		},
		SSGI: SSGIConfig{
			Distance:           5.98,
			Thickness:          2.83,
			DenoiseIterations:  1,
			DenoiseKernel:      3,
			DenoiseDiffuse:     25,
			DenoiseSpecular:    25.54,
			Radius:             11,
			Phi:                0.875,
			LumaPhi:            20.652,
			DepthPhi:           23.37,
			NormalPhi:          26.087,
			RoughnessPhi:       18.478,
			SpecularPhi:        7.1,
			EnvBlur:            0,
			ImportanceSampling: true,
			Steps:              20,
			RefineSteps:        4,
			ResolutionScale:    1,
			MissedRays:         false,
		},
		TRAA:     TRAAConfig{FullAccumulate: true},
		Vignette: VignetteConfig{Darkness: 0.6, Offset: 0.3},
		ShadowCatcher: ShadowCatcherConfig{
			AlphaTest: 0.01,
			Opacity:   0.6,
			Color:     0x000000,
		},
		ProgressiveShadows: ProgressiveShadowsConfig{
			Frames:      60,
			LightRadius: 1,
			Resolution:  1024,
			Seed:        1,
		},
		TestModel: TestModelConfig{Load: true, URL: "gltf/monkey.glb"},
		Features: Features{
			UseComposer: true,
			UseTRAA:     true,
			UseVignette: true,
		},
	}
}

// Load reads a TOML file and overlays it on Default. Keys that do not map to
// a field are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	path, err := ExpandPath(path)
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	if cfg.EnvMap, err = ExpandPath(cfg.EnvMap); err != nil {
		return cfg, err
	}
	if cfg.TestModel.URL, err = ExpandPath(cfg.TestModel.URL); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode strictly unmarshals TOML data into cfg, keeping fields the data
// does not mention.
func Decode(data []byte, cfg *Config) error {
	return toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(cfg)
}

// Encode renders cfg as TOML, used by the CLI to dump the effective table.
func Encode(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

// ExpandPath resolves a leading "~" to the user's home directory. URLs and
// plain paths are returned unchanged.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", p, err)
	}
	return expanded, nil
}
