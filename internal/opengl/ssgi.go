package opengl

import (
	"fmt"

	"github.com/chewxy/math32"
	gl "github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"realism-viewer/config"
	"realism-viewer/internal/logger"
	"realism-viewer/pipeline"
)

// ssgiFragSrc traces one diffuse and one specular ray per pixel through the
// depth buffer and returns the radiance of the lit scene where they land.
const ssgiFragSrc = `
#version 410 core
in vec2 fragUV;
layout(location = 0) out vec4 outDiffuse;
layout(location = 1) out vec4 outSpecular;

uniform sampler2D sceneTex;       // unit 0
uniform sampler2D normalDepthTex; // unit 1
uniform sampler2D materialTex;    // unit 2
uniform sampler2D envMap;         // unit 3
uniform bool  hasEnv;
uniform float envMaxLod;
uniform float envBlur;

uniform mat4  proj;
uniform mat4  invProj;
uniform mat4  invView;
uniform float rayDistance;
uniform float thickness;
uniform int   steps;
uniform int   refineSteps;
uniform bool  importanceSampling;
uniform bool  missedRays;
uniform float frame;

const float PI = 3.14159265359;

float hash(vec2 p) {
    p = fract(p * vec2(443.897, 441.423));
    p += dot(p, p.yx + 19.19);
    return fract((p.x + p.y) * p.x);
}

vec3 viewPosAt(vec2 uv, float depth) {
    vec4 ray = invProj * vec4(uv * 2.0 - 1.0, 1.0, 1.0);
    ray.xyz /= ray.w;
    return ray.xyz * (depth / -ray.z);
}

vec2 project(vec3 p) {
    vec4 c = proj * vec4(p, 1.0);
    return c.xy / c.w * 0.5 + 0.5;
}

mat3 basis(vec3 n) {
    vec3 up = abs(n.y) < 0.99 ? vec3(0.0, 1.0, 0.0) : vec3(1.0, 0.0, 0.0);
    vec3 t  = normalize(cross(up, n));
    return mat3(t, cross(n, t), n);
}

vec3 sampleHemisphere(vec3 n, vec2 u, bool cosine) {
    float phi = 2.0 * PI * u.x;
    float cosTheta = cosine ? sqrt(1.0 - u.y) : 1.0 - u.y;
    float sinTheta = sqrt(1.0 - cosTheta * cosTheta);
    return basis(n) * vec3(cos(phi) * sinTheta, sin(phi) * sinTheta, cosTheta);
}

vec3 sampleGGX(vec3 n, vec3 v, float roughness, vec2 u) {
    float a = roughness * roughness;
    float phi = 2.0 * PI * u.x;
    float cosTheta = sqrt((1.0 - u.y) / (1.0 + (a * a - 1.0) * u.y));
    float sinTheta = sqrt(1.0 - cosTheta * cosTheta);
    vec3 h = basis(n) * vec3(cos(phi) * sinTheta, sin(phi) * sinTheta, cosTheta);
    return reflect(-v, h);
}

bool march(vec3 origin, vec3 dir, out vec2 hitUV) {
    int n = max(steps, 1);
    float stepLen = rayDistance / float(n);
    vec3 prev = origin;
    for (int i = 1; i <= n; i++) {
        vec3 p = origin + dir * stepLen * float(i);
        vec2 uv = project(p);
        if (any(lessThan(uv, vec2(0.0))) || any(greaterThan(uv, vec2(1.0))) || p.z >= 0.0) {
            return false;
        }
        float sceneDepth = texture(normalDepthTex, uv).w;
        float diff = -p.z - sceneDepth;
        if (sceneDepth > 0.0 && diff > 0.0 && diff < thickness) {
            vec3 lo = prev, hi = p;
            for (int j = 0; j < refineSteps; j++) {
                vec3 mid = (lo + hi) * 0.5;
                vec2 muv = project(mid);
                if (-mid.z - texture(normalDepthTex, muv).w > 0.0) hi = mid; else lo = mid;
            }
            hitUV = project(hi);
            return true;
        }
        prev = p;
    }
    return false;
}

vec3 radiance(vec3 origin, vec3 dir, float lod) {
    vec2 hitUV;
    if (march(origin, dir, hitUV)) {
        vec4 c = texture(sceneTex, hitUV);
        return c.a > 0.0 ? c.rgb / c.a : vec3(0.0);
    }
    if (missedRays && hasEnv) {
        vec3 w = normalize(mat3(invView) * dir);
        vec2 uv = vec2(atan(w.z, w.x) / (2.0 * PI) + 0.5, acos(clamp(w.y, -1.0, 1.0)) / PI);
        return textureLod(envMap, uv, lod).rgb;
    }
    return vec3(0.0);
}

void main() {
    vec4 nd = texture(normalDepthTex, fragUV);
    if (nd.w <= 0.0) {
        outDiffuse = vec4(0.0);
        outSpecular = vec4(0.0);
        return;
    }
    vec3 N = normalize(nd.xyz);
    vec3 P = viewPosAt(fragUV, nd.w);
    vec3 V = normalize(-P);
    float roughness = texture(materialTex, fragUV).z;
    vec3 origin = P + N * 0.01 * nd.w;

    vec2 seed = fragUV * vec2(textureSize(normalDepthTex, 0)) + frame * vec2(1.618, 2.414);
    vec2 u1 = vec2(hash(seed), hash(seed + 17.0));
    vec2 u2 = vec2(hash(seed + 31.0), hash(seed + 47.0));

    vec3 dDir = sampleHemisphere(N, u1, importanceSampling);
    // Uniform hemisphere samples carry the cosine term as a weight.
    float dWeight = importanceSampling ? 1.0 : 2.0 * max(dot(N, dDir), 0.0);
    vec3 sDir = sampleGGX(N, V, roughness, u2);
    if (dot(sDir, N) <= 0.0) sDir = reflect(-V, N);

    float envLod = envBlur * envMaxLod;
    outDiffuse  = vec4(radiance(origin, dDir, max(envLod, envMaxLod - 2.0)) * dWeight, 1.0);
    outSpecular = vec4(radiance(origin, sDir, max(envLod, roughness * envMaxLod)), 1.0);
}
` + "\x00"

// denoiseFragSrc is one edge-aware à-trous iteration over both lobes.
const denoiseFragSrc = `
#version 410 core
in vec2 fragUV;
layout(location = 0) out vec4 outDiffuse;
layout(location = 1) out vec4 outSpecular;

uniform sampler2D diffuseTex;     // unit 0
uniform sampler2D specularTex;    // unit 1
uniform sampler2D normalDepthTex; // unit 2
uniform sampler2D materialTex;    // unit 3
uniform float stepSize;
uniform int   kernel;
uniform float phi;
uniform float lumaPhi;
uniform float depthPhi;
uniform float normalPhi;
uniform float roughnessPhi;
uniform float specularPhi;
uniform float diffuseStrength;
uniform float specularStrength;

float luma(vec3 c) { return dot(c, vec3(0.2126, 0.7152, 0.0722)); }

void main() {
    vec4 nd = texture(normalDepthTex, fragUV);
    vec4 cD = texture(diffuseTex, fragUV);
    vec4 cS = texture(specularTex, fragUV);
    if (nd.w <= 0.0) {
        outDiffuse = cD;
        outSpecular = cS;
        return;
    }
    vec3 N = normalize(nd.xyz);
    float rough = texture(materialTex, fragUV).z;
    float lD = luma(cD.rgb), lS = luma(cS.rgb);

    vec2 texel = 1.0 / vec2(textureSize(diffuseTex, 0));
    float sigma = max(phi * float(max(kernel, 1)), 1e-3);
    vec3 sumD = vec3(0.0), sumS = vec3(0.0);
    float wSumD = 0.0, wSumS = 0.0;

    for (int x = -kernel; x <= kernel; x++) {
        for (int y = -kernel; y <= kernel; y++) {
            vec2 uv = fragUV + vec2(x, y) * stepSize * texel;
            vec4 nd2 = texture(normalDepthTex, uv);
            if (nd2.w <= 0.0) continue;
            vec3 d2 = texture(diffuseTex, uv).rgb;
            vec3 s2 = texture(specularTex, uv).rgb;
            float r2 = texture(materialTex, uv).z;

            float w = exp(-float(x * x + y * y) / (2.0 * sigma * sigma));
            w *= pow(max(dot(N, normalize(nd2.xyz)), 0.0), normalPhi);
            w *= exp(-abs(nd.w - nd2.w) / nd.w * depthPhi);
            w *= exp(-abs(rough - r2) * roughnessPhi);

            float wD = w * exp(-abs(lD - luma(d2)) * lumaPhi / max(diffuseStrength, 1e-3));
            float wS = w * exp(-abs(lS - luma(s2)) * specularPhi / max(specularStrength, 1e-3));
            sumD += d2 * wD; wSumD += wD;
            sumS += s2 * wS; wSumS += wS;
        }
    }
    outDiffuse  = vec4(wSumD > 0.0 ? sumD / wSumD : cD.rgb, 1.0);
    outSpecular = vec4(wSumS > 0.0 ? sumS / wSumS : cS.rgb, 1.0);
}
` + "\x00"

// giCompositeFragSrc adds the denoised indirect light to the scene colour.
const giCompositeFragSrc = `
#version 410 core
in  vec2 fragUV;
out vec4 outColor;

uniform sampler2D sceneTex;    // unit 0
uniform sampler2D diffuseTex;  // unit 1
uniform sampler2D specularTex; // unit 2
uniform sampler2D albedoTex;   // unit 3
uniform sampler2D materialTex; // unit 4

void main() {
    vec4 c = texture(sceneTex, fragUV);
    vec3 albedo = texture(albedoTex, fragUV).rgb;
    float metallic = texture(materialTex, fragUV).w;
    vec3 F0 = mix(vec3(0.04), albedo, metallic);
    vec3 gi = texture(diffuseTex, fragUV).rgb * albedo * (1.0 - metallic)
            + texture(specularTex, fragUV).rgb * F0;
    outColor = vec4(c.rgb + gi * c.a, c.a);
}
` + "\x00"

// SSGIPass adds screen-space indirect light. Tracing and denoising run at
// ResolutionScale times the output size.
type SSGIPass struct {
	cfg config.SSGIConfig
	vdn *VelocityDepthNormalPass

	traceProg, denoiseProg, compositeProg uint32
	traceLoc, denoiseLoc, compLoc         map[string]int32

	// Ping-pong pairs of (diffuse, specular) textures.
	fbo      [2]uint32
	diffuse  [2]uint32
	specular [2]uint32

	width, height int32
	quadVAO       uint32
	frame         float32
}

func NewSSGIPass(cfg config.SSGIConfig, vdn *VelocityDepthNormalPass, width, height int) (*SSGIPass, error) {
	p := &SSGIPass{cfg: cfg, vdn: vdn}
	var err error
	if p.traceProg, err = newProgram(ppVertSrc, ssgiFragSrc); err != nil {
		return nil, fmt.Errorf("ssgi shader: %w", err)
	}
	if p.denoiseProg, err = newProgram(ppVertSrc, denoiseFragSrc); err != nil {
		p.Dispose()
		return nil, fmt.Errorf("ssgi denoise shader: %w", err)
	}
	if p.compositeProg, err = newProgram(ppVertSrc, giCompositeFragSrc); err != nil {
		p.Dispose()
		return nil, fmt.Errorf("ssgi composite shader: %w", err)
	}
	p.traceLoc = uniforms(p.traceProg, "sceneTex", "normalDepthTex", "materialTex", "envMap",
		"hasEnv", "envMaxLod", "envBlur", "proj", "invProj", "invView",
		"rayDistance", "thickness", "steps", "refineSteps", "importanceSampling", "missedRays", "frame")
	p.denoiseLoc = uniforms(p.denoiseProg, "diffuseTex", "specularTex", "normalDepthTex", "materialTex",
		"stepSize", "kernel", "phi", "lumaPhi", "depthPhi", "normalPhi", "roughnessPhi", "specularPhi",
		"diffuseStrength", "specularStrength")
	p.compLoc = uniforms(p.compositeProg, "sceneTex", "diffuseTex", "specularTex", "albedoTex", "materialTex")

	for prog, names := range map[uint32][]string{
		p.traceProg:     {"sceneTex", "normalDepthTex", "materialTex", "envMap"},
		p.denoiseProg:   {"diffuseTex", "specularTex", "normalDepthTex", "materialTex"},
		p.compositeProg: {"sceneTex", "diffuseTex", "specularTex", "albedoTex", "materialTex"},
	} {
		gl.UseProgram(prog)
		for unit, name := range names {
			gl.Uniform1i(gl.GetUniformLocation(prog, gl.Str(name+"\x00")), int32(unit))
		}
	}

	gl.GenVertexArrays(1, &p.quadVAO)
	if err := p.alloc(width, height); err != nil {
		p.Dispose()
		return nil, err
	}
	return p, nil
}

// scaledSize applies the resolution scale, never going below one pixel.
func scaledSize(width, height int, scale float32) (int32, int32) {
	if scale <= 0 {
		scale = 1
	}
	w := int32(math32.Round(float32(width) * scale))
	h := int32(math32.Round(float32(height) * scale))
	return max(w, 1), max(h, 1)
}

func (p *SSGIPass) alloc(width, height int) error {
	p.width, p.height = scaledSize(width, height, p.cfg.ResolutionScale)
	for i := range p.fbo {
		p.diffuse[i] = newColorTexture(p.width, p.height, gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT, gl.LINEAR)
		p.specular[i] = newColorTexture(p.width, p.height, gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT, gl.LINEAR)
		fbo, err := newFramebuffer(fmt.Sprintf("SSGI %d", i), 0, p.diffuse[i], p.specular[i])
		if err != nil {
			return err
		}
		p.fbo[i] = fbo
	}
	return nil
}

func (p *SSGIPass) free() {
	for i := range p.fbo {
		deleteFramebuffers(&p.fbo[i])
		deleteTextures(&p.diffuse[i], &p.specular[i])
	}
}

func (p *SSGIPass) Name() string    { return pipeline.PassSSGI }
func (p *SSGIPass) NeedsSwap() bool { return true }

func (p *SSGIPass) Render(f *pipeline.Frame, in, out pipeline.Target) error {
	src, err := asTarget(in)
	if err != nil {
		return err
	}
	dst, err := asTarget(out)
	if err != nil {
		return err
	}
	if p.fbo[0] == 0 || p.fbo[1] == 0 {
		return fmt.Errorf("ssgi targets not allocated")
	}
	c := p.cfg
	gl.Disable(gl.DEPTH_TEST)

	// ── Trace ─────────────────────────────────────────────────────────────────
	gl.BindFramebuffer(gl.FRAMEBUFFER, p.fbo[0])
	gl.Viewport(0, 0, p.width, p.height)
	gl.UseProgram(p.traceProg)
	bindTexture(0, src.ColorTex)
	bindTexture(1, p.vdn.NormalDepth)
	bindTexture(2, p.vdn.VelocityTex)
	env := f.Scene.Environment
	hasEnv := env != nil && env.GLID != 0
	setBool(p.traceLoc["hasEnv"], hasEnv)
	if hasEnv {
		bindTexture(3, env.GLID)
		gl.Uniform1f(p.traceLoc["envMaxLod"], float32(mipLevels(env.Width, env.Height)-1))
	}
	gl.Uniform1f(p.traceLoc["envBlur"], c.EnvBlur)
	setMat4(p.traceLoc["proj"], p.vdn.Proj)
	setMat4(p.traceLoc["invProj"], p.vdn.Proj.Inv())
	setMat4(p.traceLoc["invView"], p.vdn.InvView)
	gl.Uniform1f(p.traceLoc["rayDistance"], c.Distance)
	gl.Uniform1f(p.traceLoc["thickness"], c.Thickness)
	gl.Uniform1i(p.traceLoc["steps"], int32(c.Steps))
	gl.Uniform1i(p.traceLoc["refineSteps"], int32(c.RefineSteps))
	setBool(p.traceLoc["importanceSampling"], c.ImportanceSampling)
	setBool(p.traceLoc["missedRays"], c.MissedRays)
	gl.Uniform1f(p.traceLoc["frame"], p.frame)
	drawFullscreen(p.quadVAO)
	p.frame = float32(int(p.frame+1) % 1024)

	// ── Denoise ───────────────────────────────────────────────────────────────
	gl.UseProgram(p.denoiseProg)
	bindTexture(2, p.vdn.NormalDepth)
	bindTexture(3, p.vdn.VelocityTex)
	gl.Uniform1i(p.denoiseLoc["kernel"], int32(max(c.DenoiseKernel, 0)))
	gl.Uniform1f(p.denoiseLoc["phi"], c.Phi)
	gl.Uniform1f(p.denoiseLoc["lumaPhi"], c.LumaPhi)
	gl.Uniform1f(p.denoiseLoc["depthPhi"], c.DepthPhi)
	gl.Uniform1f(p.denoiseLoc["normalPhi"], c.NormalPhi)
	gl.Uniform1f(p.denoiseLoc["roughnessPhi"], c.RoughnessPhi)
	gl.Uniform1f(p.denoiseLoc["specularPhi"], c.SpecularPhi)
	gl.Uniform1f(p.denoiseLoc["diffuseStrength"], c.DenoiseDiffuse)
	gl.Uniform1f(p.denoiseLoc["specularStrength"], c.DenoiseSpecular)
	read := 0
	for i := 0; i < c.DenoiseIterations; i++ {
		gl.BindFramebuffer(gl.FRAMEBUFFER, p.fbo[1-read])
		gl.Uniform1f(p.denoiseLoc["stepSize"], denoiseStep(i, c.Radius, c.DenoiseKernel))
		bindTexture(0, p.diffuse[read])
		bindTexture(1, p.specular[read])
		drawFullscreen(p.quadVAO)
		read = 1 - read
	}

	// ── Composite ─────────────────────────────────────────────────────────────
	gl.BindFramebuffer(gl.FRAMEBUFFER, dst.FBO)
	gl.Viewport(0, 0, dst.Width, dst.Height)
	gl.UseProgram(p.compositeProg)
	bindTexture(0, src.ColorTex)
	bindTexture(1, p.diffuse[read])
	bindTexture(2, p.specular[read])
	bindTexture(3, p.vdn.AlbedoTex)
	bindTexture(4, p.vdn.VelocityTex)
	drawFullscreen(p.quadVAO)

	gl.Enable(gl.DEPTH_TEST)
	return nil
}

// denoiseStep is the tap spacing in pixels of à-trous iteration i: the radius
// spread over the kernel, doubled every iteration.
func denoiseStep(i int, radius float32, kernel int) float32 {
	base := radius / float32(2*max(kernel, 0)+1)
	if base < 1 {
		base = 1
	}
	return base * float32(int(1)<<i)
}

func (p *SSGIPass) SetSize(width, height int) {
	p.free()
	if err := p.alloc(width, height); err != nil {
		logger.Log.Error("resize ssgi targets", zap.Error(err))
		p.free()
	}
}

func (p *SSGIPass) Dispose() {
	p.free()
	deletePrograms(&p.traceProg, &p.denoiseProg, &p.compositeProg)
	if p.quadVAO != 0 {
		gl.DeleteVertexArrays(1, &p.quadVAO)
		p.quadVAO = 0
	}
}
