package opengl

import (
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"
	gl "github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"realism-viewer/config"
	"realism-viewer/internal/logger"
	"realism-viewer/pipeline"
)

const maxSSAOSamples = 64

// SSAOPass implements screen-space ambient occlusion.
// It reads the scene depth shared by the ping-pong targets, reconstructs
// view-space positions, blurs the occlusion and multiplies it into the
// colour of the previous stage.
type SSAOPass struct {
	cfg config.SSAOConfig

	// aoFBO/aoTex: raw per-pixel occlusion
	aoFBO uint32
	aoTex uint32

	// blurFBO/BlurTex: box-blurred occlusion
	blurFBO uint32
	BlurTex uint32

	width, height int32

	ssaoProg      uint32
	blurProg      uint32
	compositeProg uint32
	ssaoLoc       map[string]int32
	compLoc       map[string]int32

	// 4×4 rotation noise texture
	noiseTex uint32

	quadVAO uint32
	samples int32
}

// ssaoFragSrc reconstructs view-space position from the depth buffer and
// accumulates hemisphere occlusion over a spiral kernel.
const ssaoFragSrc = `
#version 410 core
in  vec2 fragUV;
out vec4 outAO;

uniform sampler2D depthTex;   // unit 0: scene depth [0,1]
uniform sampler2D noiseTex;   // unit 1: 4×4 XY rotation noise
uniform vec3  kernel[64];
uniform int   samples;
uniform mat4  proj;
uniform mat4  invProj;
uniform float radius;
uniform float bias;
uniform float distanceFalloff;
uniform bool  distanceScaling;
uniform vec2  noiseScale;     // vec2(screenW/4, screenH/4) for tiling

vec3 viewPos(vec2 uv) {
    float d  = texture(depthTex, uv).r * 2.0 - 1.0;
    vec4 ndc = vec4(uv * 2.0 - 1.0, d, 1.0);
    vec4 vp  = invProj * ndc;
    return vp.xyz / vp.w;
}

void main() {
    // Skip background (depth at or beyond far plane)
    if (texture(depthTex, fragUV).r >= 0.9999) { outAO = vec4(1.0); return; }

    vec3 pos = viewPos(fragUV);

    vec3 N = normalize(cross(dFdx(pos), dFdy(pos)));
    if (dot(N, -pos) < 0.0) N = -N;

    vec3 rnd = texture(noiseTex, fragUV * noiseScale).xyz;
    rnd.z = 0.0;
    vec3 T   = normalize(rnd - N * dot(rnd, N));
    vec3 B   = cross(N, T);
    mat3 TBN = mat3(T, B, N);

    float r = distanceScaling ? radius * -pos.z : radius;
    float occ = 0.0;
    for (int i = 0; i < samples; i++) {
        vec3 s = pos + TBN * kernel[i] * r;

        vec4 off = proj * vec4(s, 1.0);
        off.xyz /= off.w;
        vec2 suv = clamp(off.xy * 0.5 + 0.5, 0.001, 0.999);

        float geoZ = viewPos(suv).z;

        // Occluders beyond the radius fade out over distanceFalloff * depth.
        float gap = abs(pos.z - geoZ) - r;
        float rng = 1.0 - clamp(gap / max(distanceFalloff * -pos.z, 1e-4), 0.0, 1.0);

        occ += (geoZ >= s.z + bias ? 1.0 : 0.0) * rng;
    }

    outAO = vec4(1.0 - occ / float(max(samples, 1)), 0.0, 0.0, 1.0);
}
` + "\x00"

// ssaoBlurFragSrc applies a 5×5 box blur to reduce SSAO noise.
const ssaoBlurFragSrc = `
#version 410 core
in  vec2 fragUV;
out vec4 outAO;

uniform sampler2D ssaoTex;

void main() {
    vec2 texel  = 1.0 / vec2(textureSize(ssaoTex, 0));
    float result = 0.0;
    for (int x = -2; x <= 2; x++) {
        for (int y = -2; y <= 2; y++) {
            result += texture(ssaoTex, fragUV + vec2(x, y) * texel).r;
        }
    }
    outAO = vec4(result / 25.0, 0.0, 0.0, 1.0);
}
` + "\x00"

// ssaoCompositeFragSrc darkens the previous stage by the occlusion raised
// to intensity.
const ssaoCompositeFragSrc = `
#version 410 core
in  vec2 fragUV;
out vec4 outColor;

uniform sampler2D colorTex;
uniform sampler2D aoTex;
uniform float     intensity;

void main() {
    vec4 c = texture(colorTex, fragUV);
    float ao = pow(clamp(texture(aoTex, fragUV).r, 0.0, 1.0), intensity);
    outColor = vec4(c.rgb * ao, c.a);
}
` + "\x00"

// NewSSAOPass creates the SSAO shaders, kernel, noise texture, and output FBOs.
func NewSSAOPass(cfg config.SSAOConfig, width, height int) (*SSAOPass, error) {
	s := &SSAOPass{cfg: cfg}

	var err error
	if s.ssaoProg, err = newProgram(ppVertSrc, ssaoFragSrc); err != nil {
		return nil, fmt.Errorf("ssao shader: %w", err)
	}
	s.ssaoLoc = uniforms(s.ssaoProg, "depthTex", "noiseTex", "kernel", "samples", "proj", "invProj",
		"radius", "bias", "distanceFalloff", "distanceScaling", "noiseScale")
	gl.UseProgram(s.ssaoProg)
	gl.Uniform1i(s.ssaoLoc["depthTex"], 0)
	gl.Uniform1i(s.ssaoLoc["noiseTex"], 1)

	if s.blurProg, err = newProgram(ppVertSrc, ssaoBlurFragSrc); err != nil {
		s.Dispose()
		return nil, fmt.Errorf("ssao blur shader: %w", err)
	}
	gl.UseProgram(s.blurProg)
	gl.Uniform1i(gl.GetUniformLocation(s.blurProg, gl.Str("ssaoTex\x00")), 0)

	if s.compositeProg, err = newProgram(ppVertSrc, ssaoCompositeFragSrc); err != nil {
		s.Dispose()
		return nil, fmt.Errorf("ssao composite shader: %w", err)
	}
	s.compLoc = uniforms(s.compositeProg, "colorTex", "aoTex", "intensity")
	gl.UseProgram(s.compositeProg)
	gl.Uniform1i(s.compLoc["colorTex"], 0)
	gl.Uniform1i(s.compLoc["aoTex"], 1)

	gl.GenVertexArrays(1, &s.quadVAO)

	s.uploadKernel()
	s.generateNoise()
	if err := s.allocFBOs(width, height); err != nil {
		s.Dispose()
		return nil, err
	}
	return s, nil
}

// ssaoKernel lays samples on a spiral through the +Z hemisphere: rings turns
// from the pole towards the horizon, clustered near the origin.
func ssaoKernel(samples, rings int) []mgl32.Vec3 {
	samples = max(1, min(samples, maxSSAOSamples))
	kernel := make([]mgl32.Vec3, samples)
	for i := range kernel {
		t := (float32(i) + 0.5) / float32(samples)
		phi := 2 * math32.Pi * float32(rings) * t
		sinTheta := math32.Sqrt(t)
		cosTheta := math32.Sqrt(1 - t)
		v := mgl32.Vec3{math32.Cos(phi) * sinTheta, math32.Sin(phi) * sinTheta, cosTheta}
		kernel[i] = v.Mul(0.1 + 0.9*t*t) // lerp(0.1, 1.0, t²)
	}
	return kernel
}

func (s *SSAOPass) uploadKernel() {
	kernel := ssaoKernel(s.cfg.Samples, s.cfg.Rings)
	flat := make([]float32, 0, len(kernel)*3)
	for _, v := range kernel {
		flat = append(flat, v[0], v[1], v[2])
	}
	s.samples = int32(len(kernel))
	gl.UseProgram(s.ssaoProg)
	gl.Uniform3fv(s.ssaoLoc["kernel"], s.samples, &flat[0])
}

// generateNoise creates a 4×4 texture of random XY tangent-space rotation
// vectors (Z=0) that tiles over the screen.
func (s *SSAOPass) generateNoise() {
	rng := rand.New(rand.NewSource(123))

	noise := make([]float32, 4*4*3)
	for i := 0; i < 16; i++ {
		noise[i*3+0] = rng.Float32()*2 - 1
		noise[i*3+1] = rng.Float32()*2 - 1
	}

	gl.GenTextures(1, &s.noiseTex)
	gl.BindTexture(gl.TEXTURE_2D, s.noiseTex)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGB32F, 4, 4, 0, gl.RGB, gl.FLOAT, gl.Ptr(noise))
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.REPEAT)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.REPEAT)
	gl.BindTexture(gl.TEXTURE_2D, 0)
}

func (s *SSAOPass) allocFBOs(width, height int) error {
	s.width = int32(max(width, 1))
	s.height = int32(max(height, 1))

	var err error
	s.aoTex = newColorTexture(s.width, s.height, gl.R16F, gl.RED, gl.HALF_FLOAT, gl.NEAREST)
	if s.aoFBO, err = newFramebuffer("SSAO", 0, s.aoTex); err != nil {
		return err
	}
	s.BlurTex = newColorTexture(s.width, s.height, gl.R16F, gl.RED, gl.HALF_FLOAT, gl.LINEAR)
	if s.blurFBO, err = newFramebuffer("SSAO-blur", 0, s.BlurTex); err != nil {
		return err
	}
	return nil
}

func (s *SSAOPass) freeFBOs() {
	deleteFramebuffers(&s.aoFBO, &s.blurFBO)
	deleteTextures(&s.aoTex, &s.BlurTex)
}

func (s *SSAOPass) Name() string    { return pipeline.PassSSAO }
func (s *SSAOPass) NeedsSwap() bool { return true }

// SetSize recreates the AO and blur FBOs at the new pixel dimensions.
func (s *SSAOPass) SetSize(width, height int) {
	s.freeFBOs()
	if err := s.allocFBOs(width, height); err != nil {
		logger.Log.Error("resize SSAO targets", zap.Error(err))
		s.freeFBOs()
	}
}

// Render runs the occlusion, blur and composite stages.
func (s *SSAOPass) Render(f *pipeline.Frame, in, out pipeline.Target) error {
	src, err := asTarget(in)
	if err != nil {
		return err
	}
	dst, err := asTarget(out)
	if err != nil {
		return err
	}
	if s.aoFBO == 0 || s.blurFBO == 0 {
		return fmt.Errorf("ssao targets not allocated")
	}
	proj := f.Camera.ProjectionMatrix()
	invProj := proj.Inv()

	gl.Disable(gl.DEPTH_TEST)

	// ── Pass 1: occlusion ─────────────────────────────────────────────────────
	gl.BindFramebuffer(gl.FRAMEBUFFER, s.aoFBO)
	gl.Viewport(0, 0, s.width, s.height)
	gl.UseProgram(s.ssaoProg)
	bindTexture(0, src.DepthTex)
	bindTexture(1, s.noiseTex)
	setMat4(s.ssaoLoc["proj"], proj)
	setMat4(s.ssaoLoc["invProj"], invProj)
	gl.Uniform1i(s.ssaoLoc["samples"], s.samples)
	gl.Uniform1f(s.ssaoLoc["radius"], s.cfg.Radius)
	gl.Uniform1f(s.ssaoLoc["bias"], s.cfg.Bias)
	gl.Uniform1f(s.ssaoLoc["distanceFalloff"], s.cfg.DistanceFalloff)
	setBool(s.ssaoLoc["distanceScaling"], s.cfg.DistanceScaling)
	gl.Uniform2f(s.ssaoLoc["noiseScale"], float32(s.width)/4, float32(s.height)/4)
	drawFullscreen(s.quadVAO)

	// ── Pass 2: blur ──────────────────────────────────────────────────────────
	gl.BindFramebuffer(gl.FRAMEBUFFER, s.blurFBO)
	gl.UseProgram(s.blurProg)
	bindTexture(0, s.aoTex)
	drawFullscreen(s.quadVAO)

	// ── Pass 3: composite ─────────────────────────────────────────────────────
	gl.BindFramebuffer(gl.FRAMEBUFFER, dst.FBO)
	gl.Viewport(0, 0, dst.Width, dst.Height)
	gl.UseProgram(s.compositeProg)
	gl.Uniform1f(s.compLoc["intensity"], s.cfg.Intensity)
	bindTexture(0, src.ColorTex)
	bindTexture(1, s.BlurTex)
	drawFullscreen(s.quadVAO)

	gl.Enable(gl.DEPTH_TEST)
	return nil
}

// Dispose frees all GPU resources.
func (s *SSAOPass) Dispose() {
	s.freeFBOs()
	deleteTextures(&s.noiseTex)
	deletePrograms(&s.ssaoProg, &s.blurProg, &s.compositeProg)
	if s.quadVAO != 0 {
		gl.DeleteVertexArrays(1, &s.quadVAO)
		s.quadVAO = 0
	}
}
