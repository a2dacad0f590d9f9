package opengl

import (
	"fmt"
	"unsafe"

	gl "github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"realism-viewer/config"
	"realism-viewer/core"
	"realism-viewer/internal/logger"
	"realism-viewer/scene"
)

// Texture units shared by the forward shader.
const (
	unitAlbedo   = 0
	unitShadow   = 1
	unitNormal   = 2
	unitMR       = 3
	unitEmissive = 4
	unitEnv      = 5
	unitAccum    = 6
)

const keyShadowSize = 2048

// GPUMesh holds the OpenGL buffer objects for an uploaded mesh.
type GPUMesh struct {
	VAO         uint32
	VBO         uint32
	EBO         uint32
	IndexCount  int32
	VertexCount int32
	HasIndices  bool
}

func (g *GPUMesh) draw() {
	gl.BindVertexArray(g.VAO)
	if g.HasIndices {
		gl.DrawElements(gl.TRIANGLES, g.IndexCount, gl.UNSIGNED_INT, nil)
	} else {
		gl.DrawArrays(gl.TRIANGLES, 0, g.VertexCount)
	}
	gl.BindVertexArray(0)
}

// ── Forward PBR shader ────────────────────────────────────────────────────────

const forwardVertSrc = `
#version 410 core
layout(location = 0) in vec3 aPos;
layout(location = 1) in vec3 aNormal;
layout(location = 2) in vec2 aUV;
layout(location = 3) in vec4 aColor;
layout(location = 4) in vec3 aTangent;
layout(location = 5) in vec3 aBitangent;

uniform mat4 mvp;
uniform mat4 prevMVP;
uniform mat4 model;
uniform mat4 view;
uniform mat3 normalMatrix;
uniform mat4 lightVP;
uniform vec2 jitter; // sub-pixel offset in NDC

out vec3 fragWorldPos;
out vec3 fragViewPos;
out vec3 fragNormal;
out vec2 fragUV;
out vec4 fragColor;
out vec3 fragTangent;
out vec3 fragBitangent;
out vec4 fragLightSpacePos;
out vec4 fragCurClip;
out vec4 fragPrevClip;

void main() {
    vec4 world    = model * vec4(aPos, 1.0);
    fragWorldPos  = world.xyz;
    fragViewPos   = (view * world).xyz;
    fragNormal    = normalize(normalMatrix * aNormal);
    fragTangent   = normalize(mat3(model) * aTangent);
    fragBitangent = normalize(mat3(model) * aBitangent);
    fragUV        = aUV;
    fragColor     = aColor;
    fragLightSpacePos = lightVP * world;
    fragCurClip   = mvp * vec4(aPos, 1.0);
    fragPrevClip  = prevMVP * vec4(aPos, 1.0);
    gl_Position   = fragCurClip + vec4(jitter * fragCurClip.w, 0.0, 0.0);
}
` + "\x00"

const forwardFragSrc = `
#version 410 core
in vec3 fragWorldPos;
in vec3 fragViewPos;
in vec3 fragNormal;
in vec2 fragUV;
in vec4 fragColor;
in vec3 fragTangent;
in vec3 fragBitangent;
in vec4 fragLightSpacePos;
in vec4 fragCurClip;
in vec4 fragPrevClip;

layout(location = 0) out vec4 outColor;
layout(location = 1) out vec4 outVelocity;    // xy screen velocity (uv units), z roughness, w metallic
layout(location = 2) out vec4 outNormalDepth; // view-space normal, linear depth (0 = background)
layout(location = 3) out vec4 outAlbedo;

uniform mat4 view;
uniform vec3 cameraPos;
uniform vec3 lightDir;
uniform vec3 lightColor;
uniform vec3 ambientColor;

uniform sampler2D envMap;
uniform bool  hasEnv;
uniform float envMaxLod;

uniform sampler2DShadow shadowMap;
uniform bool  hasShadow;
uniform bool  receiveShadow;
uniform float shadowTexel;

uniform bool  shadowCatcher;
uniform float catcherOpacity;
uniform float alphaTest;
uniform sampler2D shadowAccum;
uniform bool  hasAccum;
uniform vec3  accumRegion;

uniform vec3  matAlbedo;
uniform float matAlpha;
uniform float matMetallic;
uniform float matRoughness;
uniform vec3  matEmissive;
uniform bool  unlit;
uniform sampler2D albedoTex;
uniform bool  hasTexture;
uniform sampler2D normalTex;
uniform bool  hasNormalTex;
uniform sampler2D metallicRoughnessTex;
uniform bool  hasMetallicRoughnessTex;
uniform sampler2D emissiveTex;
uniform bool  hasEmissiveTex;

uniform bool  toneMap;
uniform float exposure;

const float PI = 3.14159265359;

float calcShadow() {
    vec3 p = fragLightSpacePos.xyz / fragLightSpacePos.w;
    p = p * 0.5 + 0.5;
    if (p.z > 1.0) return 1.0;
    float shadow = 0.0;
    for (int x = -1; x <= 1; x++) {
        for (int y = -1; y <= 1; y++) {
            shadow += texture(shadowMap, vec3(p.xy + vec2(float(x), float(y)) * shadowTexel, p.z - 0.002));
        }
    }
    return shadow / 9.0;
}

vec2 equirectUV(vec3 d) {
    return vec2(atan(d.z, d.x) / (2.0 * PI) + 0.5, acos(clamp(d.y, -1.0, 1.0)) / PI);
}

float DistributionGGX(vec3 N, vec3 H, float roughness) {
    float a  = roughness * roughness;
    float a2 = a * a;
    float NdH = max(dot(N, H), 0.0);
    float d   = NdH * NdH * (a2 - 1.0) + 1.0;
    return a2 / (PI * d * d);
}

float GeometrySchlickGGX(float cosTheta, float roughness) {
    float r = roughness + 1.0;
    float k = (r * r) / 8.0;
    return cosTheta / (cosTheta * (1.0 - k) + k);
}

float GeometrySmith(float NdV, float NdL, float roughness) {
    return GeometrySchlickGGX(NdV, roughness) * GeometrySchlickGGX(NdL, roughness);
}

vec3 FresnelSchlick(float cosTheta, vec3 F0) {
    return F0 + (1.0 - F0) * pow(clamp(1.0 - cosTheta, 0.0, 1.0), 5.0);
}

vec3 FresnelSchlickRoughness(float cosTheta, vec3 F0, float roughness) {
    return F0 + (max(vec3(1.0 - roughness), F0) - F0) * pow(clamp(1.0 - cosTheta, 0.0, 1.0), 5.0);
}

vec3 evalPBR(vec3 N, vec3 V, vec3 L, vec3 rad, vec3 albedo, float metallic, float roughness, vec3 F0) {
    float NdL = max(dot(N, L), 0.0);
    if (NdL <= 0.0) return vec3(0.0);

    vec3  H   = normalize(V + L);
    float NdV = max(dot(N, V), 0.0);

    float D  = DistributionGGX(N, H, roughness);
    float G  = GeometrySmith(NdV, NdL, roughness);
    vec3  F  = FresnelSchlick(max(dot(H, V), 0.0), F0);

    vec3 kD       = (vec3(1.0) - F) * (1.0 - metallic);
    vec3 specular = D * G * F / max(4.0 * NdV * NdL, 0.001);

    return (kD * albedo / PI + specular) * rad * NdL;
}

void main() {
    if (shadowCatcher) {
        float vis = 1.0;
        if (hasAccum) {
            vec2 uv = (fragWorldPos.xz - accumRegion.xy) / accumRegion.z * 0.5 + 0.5;
            vis = texture(shadowAccum, uv).r;
        } else if (hasShadow) {
            vis = calcShadow();
        }
        float a = (1.0 - vis) * catcherOpacity;
        if (a < alphaTest) discard;
        outColor = vec4(matAlbedo, a);
        return;
    }

    vec4 baseColor = fragColor * vec4(matAlbedo, matAlpha);
    if (hasTexture) {
        baseColor *= texture(albedoTex, fragUV);
    }
    if (alphaTest > 0.0 && baseColor.a < alphaTest) discard;

    vec3 N;
    if (hasNormalTex) {
        mat3 TBN = mat3(normalize(fragTangent), normalize(fragBitangent), normalize(fragNormal));
        N = normalize(TBN * (texture(normalTex, fragUV).rgb * 2.0 - 1.0));
    } else {
        N = normalize(fragNormal);
    }
    if (!gl_FrontFacing) N = -N;
    vec3 V = normalize(cameraPos - fragWorldPos);

    float metallic  = matMetallic;
    float roughness = clamp(matRoughness, 0.04, 1.0);
    if (hasMetallicRoughnessTex) {
        vec4 mr   = texture(metallicRoughnessTex, fragUV);
        roughness = clamp(mr.g * matRoughness, 0.04, 1.0);
        metallic  = mr.b * matMetallic;
    }
    vec3 albedo = baseColor.rgb;

    vec3 color;
    if (unlit) {
        color = albedo;
    } else {
        vec3 F0 = mix(vec3(0.04), albedo, metallic);
        vec3 F_ibl = FresnelSchlickRoughness(max(dot(N, V), 0.0), F0, roughness);
        vec3 kD    = (vec3(1.0) - F_ibl) * (1.0 - metallic);
        if (hasEnv) {
            vec3 irradiance = textureLod(envMap, equirectUV(N), max(envMaxLod - 2.0, 0.0)).rgb;
            vec3 R = reflect(-V, N);
            vec3 prefiltered = textureLod(envMap, equirectUV(R), roughness * envMaxLod).rgb;
            color = kD * irradiance * albedo + prefiltered * F_ibl;
        } else {
            color = ambientColor * albedo * kD;
        }

        float shadowFactor = (hasShadow && receiveShadow) ? calcShadow() : 1.0;
        color += evalPBR(N, V, normalize(-lightDir), lightColor * shadowFactor, albedo, metallic, roughness, F0);
    }

    vec3 emissive = matEmissive;
    if (hasEmissiveTex) {
        emissive *= texture(emissiveTex, fragUV).rgb;
    }
    color += emissive;

    vec2 cur  = fragCurClip.xy / fragCurClip.w;
    vec2 prev = fragPrevClip.xy / fragPrevClip.w;
    outVelocity    = vec4((cur - prev) * 0.5, roughness, metallic);
    outNormalDepth = vec4(normalize(mat3(view) * N), -fragViewPos.z);
    outAlbedo      = vec4(albedo, 1.0);

    if (toneMap) {
        color = vec3(1.0) - exp(-color * exposure);
        color = pow(color, vec3(1.0 / 2.2));
    }
    outColor = vec4(color, 1.0);
}
` + "\x00"

// Renderer is the OpenGL rendering backend: a forward PBR pass plus the
// shadow maps it samples.
type Renderer struct {
	program uint32
	loc     map[string]int32

	depthProg   uint32
	depthMVPLoc int32

	gpuMeshes map[*scene.Mesh]*GPUMesh

	// Previous-frame transforms for the velocity buffer.
	prevWorld    map[*scene.Node]mgl32.Mat4
	prevViewProj mgl32.Mat4
	hasPrev      bool
	jitter       mgl32.Vec2

	keyShadow  *ShadowMap
	keyLightVP mgl32.Mat4
	hasKey     bool
	accum      *ShadowAccumulation

	Exposure       float32
	FrustumCulling bool

	viewportW, viewportH int32
}

// NewRenderer compiles the scene shaders and allocates the shadow targets.
// Progressive shadow accumulation is allocated only when enabled in cfg.
func NewRenderer(cfg config.Config) (*Renderer, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("init OpenGL: %w", err)
	}
	logger.Log.Info("OpenGL context",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))))

	r := &Renderer{
		gpuMeshes:      make(map[*scene.Mesh]*GPUMesh),
		prevWorld:      make(map[*scene.Node]mgl32.Mat4),
		Exposure:       cfg.Renderer.Exposure,
		FrustumCulling: true,
	}

	prog, err := newProgram(forwardVertSrc, forwardFragSrc)
	if err != nil {
		return nil, fmt.Errorf("forward shader: %w", err)
	}
	r.program = prog
	r.loc = uniforms(prog,
		"mvp", "prevMVP", "model", "view", "normalMatrix", "lightVP", "jitter",
		"cameraPos", "lightDir", "lightColor", "ambientColor",
		"envMap", "hasEnv", "envMaxLod",
		"shadowMap", "hasShadow", "receiveShadow", "shadowTexel",
		"shadowCatcher", "catcherOpacity", "alphaTest", "shadowAccum", "hasAccum", "accumRegion",
		"matAlbedo", "matAlpha", "matMetallic", "matRoughness", "matEmissive", "unlit",
		"albedoTex", "hasTexture", "normalTex", "hasNormalTex",
		"metallicRoughnessTex", "hasMetallicRoughnessTex", "emissiveTex", "hasEmissiveTex",
		"toneMap", "exposure")

	gl.UseProgram(prog)
	for name, unit := range map[string]int32{
		"albedoTex": unitAlbedo, "shadowMap": unitShadow, "normalTex": unitNormal,
		"metallicRoughnessTex": unitMR, "emissiveTex": unitEmissive,
		"envMap": unitEnv, "shadowAccum": unitAccum,
	} {
		gl.Uniform1i(r.loc[name], unit)
	}

	if r.depthProg, err = newProgram(depthVertSrc, depthFragSrc); err != nil {
		r.Destroy()
		return nil, fmt.Errorf("depth shader: %w", err)
	}
	r.depthMVPLoc = gl.GetUniformLocation(r.depthProg, gl.Str("lightMVP\x00"))

	if r.keyShadow, err = NewShadowMap(keyShadowSize); err != nil {
		r.Destroy()
		return nil, err
	}
	if cfg.Features.UseProgressiveShadows {
		if r.accum, err = NewShadowAccumulation(cfg.ProgressiveShadows.Resolution); err != nil {
			r.Destroy()
			return nil, err
		}
	}

	gl.Enable(gl.DEPTH_TEST)
	gl.DepthFunc(gl.LEQUAL)
	gl.Enable(gl.CULL_FACE)
	gl.CullFace(gl.BACK)
	return r, nil
}

// SetViewport records the default framebuffer size.
func (r *Renderer) SetViewport(width, height int) {
	r.viewportW = int32(width)
	r.viewportH = int32(height)
}

// SetJitter offsets the projection by a sub-pixel amount in NDC for the next
// draw. The velocity buffer is computed from the unjittered position.
func (r *Renderer) SetJitter(j mgl32.Vec2) { r.jitter = j }

// Upload pushes every mesh and material texture under root to the GPU.
func (r *Renderer) Upload(root *scene.Node) error {
	var firstErr error
	root.TraverseMeshes(func(n *scene.Node) {
		if r.ensureUploaded(n.Mesh) == nil {
			return
		}
		if n.Mesh.Material == nil {
			return
		}
		for _, tex := range n.Mesh.Material.Textures() {
			if err := UploadTexture(tex); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("mesh %q: %w", n.Mesh.Name, err)
			}
		}
	})
	return firstErr
}

// Release frees the GPU resources of every mesh and texture under root.
func (r *Renderer) Release(root *scene.Node) {
	root.Traverse(func(n *scene.Node) {
		delete(r.prevWorld, n)
		if n.Mesh == nil {
			return
		}
		r.ReleaseMesh(n.Mesh)
		if n.Mesh.Material != nil {
			for _, tex := range n.Mesh.Material.Textures() {
				DeleteTexture(tex)
			}
		}
	})
}

// RenderDirect draws the scene straight to the default framebuffer with
// tone mapping in the scene shader.
func (r *Renderer) RenderDirect(s *scene.Scene, cam *scene.Camera) {
	r.jitter = mgl32.Vec2{}
	r.drawScene(s, cam, 0, r.viewportW, r.viewportH, true)
}

// drawScene renders every visible mesh into fbo. Off-screen targets are
// cleared to transparent black so later passes can tell geometry from
// background; the default framebuffer is cleared to the background colour.
func (r *Renderer) drawScene(s *scene.Scene, cam *scene.Camera, fbo uint32, w, h int32, toneMap bool) {
	r.updateKeyShadow(s)

	gl.BindFramebuffer(gl.FRAMEBUFFER, fbo)
	gl.Viewport(0, 0, w, h)
	if fbo == 0 {
		bg := s.Background
		gl.ClearColor(bg.R, bg.G, bg.B, 1)
	} else {
		gl.ClearColor(0, 0, 0, 0)
	}
	gl.DepthMask(true)
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)

	view := cam.ViewMatrix()
	vp := cam.ProjectionMatrix().Mul4(view)
	prevVP := vp
	if r.hasPrev {
		prevVP = r.prevViewProj
	}

	gl.UseProgram(r.program)
	r.applyFrame(s, cam, view, toneMap)

	frustum := scene.FrustumFromVP(vp)
	var catchers []*scene.Node
	for _, node := range s.VisibleNodes() {
		world := node.WorldMatrix()
		if r.FrustumCulling && node.Mesh.HasLocalAABB {
			if !scene.ComputeAABB(node.Mesh, world).IntersectsFrustum(&frustum) {
				continue
			}
		}
		mat := node.Mesh.Material
		if mat == nil {
			mat = scene.DefaultMaterial()
		}
		if mat.ShadowCatcher {
			catchers = append(catchers, node)
			continue
		}
		r.drawNode(node, mat, world, vp, prevVP)
	}

	if len(catchers) > 0 {
		// Catchers only blend into the colour attachment.
		gl.Enable(gl.BLEND)
		gl.BlendFuncSeparate(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA, gl.ONE, gl.ONE_MINUS_SRC_ALPHA)
		gl.DepthMask(false)
		for i := uint32(1); i < 4; i++ {
			gl.ColorMaski(i, false, false, false, false)
		}
		for _, node := range catchers {
			r.drawNode(node, node.Mesh.Material, node.WorldMatrix(), vp, prevVP)
		}
		for i := uint32(1); i < 4; i++ {
			gl.ColorMaski(i, true, true, true, true)
		}
		gl.DepthMask(true)
		gl.Disable(gl.BLEND)
	}

	r.prevViewProj = vp
	r.hasPrev = true
}

func (r *Renderer) applyFrame(s *scene.Scene, cam *scene.Camera, view mgl32.Mat4, toneMap bool) {
	setMat4(r.loc["view"], view)
	gl.Uniform2f(r.loc["jitter"], r.jitter.X(), r.jitter.Y())
	gl.Uniform3f(r.loc["cameraPos"], cam.Position.X(), cam.Position.Y(), cam.Position.Z())

	l := s.Light
	dir := l.Direction.Normalize()
	gl.Uniform3f(r.loc["lightDir"], dir.X(), dir.Y(), dir.Z())
	gl.Uniform3f(r.loc["lightColor"], l.Color.R*l.Intensity, l.Color.G*l.Intensity, l.Color.B*l.Intensity)
	gl.Uniform3f(r.loc["ambientColor"], 0.3, 0.3, 0.3)

	env := s.Environment
	if env != nil && env.GLID != 0 {
		bindTexture(unitEnv, env.GLID)
		setBool(r.loc["hasEnv"], true)
		gl.Uniform1f(r.loc["envMaxLod"], float32(mipLevels(env.Width, env.Height)-1))
	} else {
		setBool(r.loc["hasEnv"], false)
	}

	setBool(r.loc["hasShadow"], r.hasKey)
	if r.hasKey {
		bindTexture(unitShadow, r.keyShadow.DepthTex)
		setMat4(r.loc["lightVP"], r.keyLightVP)
		gl.Uniform1f(r.loc["shadowTexel"], 1/float32(r.keyShadow.Size))
	}

	hasAccum := r.accum != nil && r.accum.Frames > 0
	setBool(r.loc["hasAccum"], hasAccum)
	if hasAccum {
		bindTexture(unitAccum, r.accum.Tex)
		reg := r.accum.Region
		gl.Uniform3f(r.loc["accumRegion"], reg.X(), reg.Y(), reg.Z())
	}

	setBool(r.loc["toneMap"], toneMap)
	gl.Uniform1f(r.loc["exposure"], r.Exposure)
}

func (r *Renderer) drawNode(node *scene.Node, mat *scene.Material, world, vp, prevVP mgl32.Mat4) {
	gpu := r.ensureUploaded(node.Mesh)
	if gpu == nil {
		return
	}
	prevWorld, ok := r.prevWorld[node]
	if !ok {
		prevWorld = world
	}
	r.prevWorld[node] = world

	setMat4(r.loc["mvp"], vp.Mul4(world))
	setMat4(r.loc["prevMVP"], prevVP.Mul4(prevWorld))
	setMat4(r.loc["model"], world)
	setMat3(r.loc["normalMatrix"], world.Mat3().Inv().Transpose())
	setBool(r.loc["receiveShadow"], node.ReceiveShadow)

	r.applyMaterial(mat)
	if mat.DoubleSided || mat.ShadowCatcher {
		gl.Disable(gl.CULL_FACE)
		gpu.draw()
		gl.Enable(gl.CULL_FACE)
		return
	}
	gpu.draw()
}

// applyMaterial sets all material-related shader uniforms and binds textures.
func (r *Renderer) applyMaterial(mat *scene.Material) {
	gl.Uniform3f(r.loc["matAlbedo"], mat.Albedo.R, mat.Albedo.G, mat.Albedo.B)
	gl.Uniform1f(r.loc["matAlpha"], mat.Albedo.A)
	gl.Uniform1f(r.loc["matMetallic"], mat.Metallic)
	gl.Uniform1f(r.loc["matRoughness"], mat.Roughness)
	gl.Uniform3f(r.loc["matEmissive"], mat.EmissiveColor.R, mat.EmissiveColor.G, mat.EmissiveColor.B)
	setBool(r.loc["unlit"], mat.Unlit)
	setBool(r.loc["shadowCatcher"], mat.ShadowCatcher)
	gl.Uniform1f(r.loc["catcherOpacity"], mat.Opacity)
	gl.Uniform1f(r.loc["alphaTest"], mat.AlphaTest)

	for _, t := range []struct {
		tex  *scene.Texture
		unit uint32
		flag string
	}{
		{mat.AlbedoTexture, unitAlbedo, "hasTexture"},
		{mat.NormalTexture, unitNormal, "hasNormalTex"},
		{mat.MetallicRoughnessTexture, unitMR, "hasMetallicRoughnessTex"},
		{mat.EmissiveTexture, unitEmissive, "hasEmissiveTex"},
	} {
		if t.tex != nil && t.tex.GLID != 0 {
			bindTexture(t.unit, t.tex.GLID)
			setBool(r.loc[t.flag], true)
		} else {
			setBool(r.loc[t.flag], false)
		}
	}
}

// ── Shadows ───────────────────────────────────────────────────────────────────

// updateKeyShadow renders the hard shadow of the unjittered key light when
// any mesh casts shadows.
func (r *Renderer) updateKeyShadow(s *scene.Scene) {
	casters := shadowCasters(s)
	r.hasKey = len(casters) > 0
	if !r.hasKey {
		return
	}
	r.keyLightVP = lightViewProj(s.Light.Direction, modelBounds(s))
	r.renderDepth(r.keyShadow, casters, r.keyLightVP)
}

func (r *Renderer) renderDepth(sm *ShadowMap, casters []*scene.Node, lightVP mgl32.Mat4) {
	gl.BindFramebuffer(gl.FRAMEBUFFER, sm.FBO)
	gl.Viewport(0, 0, sm.Size, sm.Size)
	gl.DepthMask(true)
	gl.Clear(gl.DEPTH_BUFFER_BIT)
	gl.UseProgram(r.depthProg)
	gl.Disable(gl.CULL_FACE)
	for _, n := range casters {
		gpu := r.ensureUploaded(n.Mesh)
		if gpu == nil {
			continue
		}
		setMat4(r.depthMVPLoc, lightVP.Mul4(n.WorldMatrix()))
		gpu.draw()
	}
	gl.Enable(gl.CULL_FACE)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
}

// ClearShadowAccumulation restarts progressive shadows.
func (r *Renderer) ClearShadowAccumulation() {
	if r.accum == nil {
		return
	}
	r.accum.Clear()
}

// AccumulateShadow renders one hard shadow from lightDir and blends it into
// the catcher accumulation with weight.
func (r *Renderer) AccumulateShadow(s *scene.Scene, lightDir mgl32.Vec3, weight float32) error {
	if r.accum == nil {
		return nil
	}
	bounds := modelBounds(s)
	if r.accum.Frames == 0 {
		r.accum.Region = groundRegion(bounds)
	}
	catchers := shadowCatchers(s)
	if len(catchers) == 0 {
		return nil
	}
	lvp := lightViewProj(lightDir, bounds)
	r.renderDepth(r.accum.Map, shadowCasters(s), lvp)
	r.accum.Blend(r, catchers, lvp, weight)
	return nil
}

func shadowCasters(s *scene.Scene) []*scene.Node {
	var out []*scene.Node
	for _, n := range s.VisibleNodes() {
		if n.CastShadow {
			out = append(out, n)
		}
	}
	return out
}

func shadowCatchers(s *scene.Scene) []*scene.Node {
	var out []*scene.Node
	for _, n := range s.VisibleNodes() {
		if n.Mesh.Material != nil && n.Mesh.Material.ShadowCatcher {
			out = append(out, n)
		}
	}
	return out
}

func modelBounds(s *scene.Scene) scene.AABB {
	if m := s.Model(); m != nil {
		return scene.WorldBounds(m)
	}
	return scene.EmptyAABB()
}

// ── Upload ────────────────────────────────────────────────────────────────────

func (r *Renderer) ensureUploaded(mesh *scene.Mesh) *GPUMesh {
	if gpu, ok := r.gpuMeshes[mesh]; ok {
		return gpu
	}
	if len(mesh.Vertices) == 0 {
		return nil
	}

	stride := int32(unsafe.Sizeof(core.Vertex{}))
	gpu := &GPUMesh{
		IndexCount:  int32(len(mesh.Indices)),
		VertexCount: int32(len(mesh.Vertices)),
		HasIndices:  len(mesh.Indices) > 0,
	}

	gl.GenVertexArrays(1, &gpu.VAO)
	gl.GenBuffers(1, &gpu.VBO)
	gl.BindVertexArray(gpu.VAO)

	gl.BindBuffer(gl.ARRAY_BUFFER, gpu.VBO)
	gl.BufferData(gl.ARRAY_BUFFER, len(mesh.Vertices)*int(stride), gl.Ptr(mesh.Vertices), gl.STATIC_DRAW)

	var v core.Vertex
	attribs := []struct {
		size   int32
		offset uintptr
	}{
		{3, unsafe.Offsetof(v.Position)},
		{3, unsafe.Offsetof(v.Normal)},
		{2, unsafe.Offsetof(v.UV)},
		{4, unsafe.Offsetof(v.Color)},
		{3, unsafe.Offsetof(v.Tangent)},
		{3, unsafe.Offsetof(v.Bitangent)},
	}
	for i, a := range attribs {
		gl.EnableVertexAttribArray(uint32(i))
		gl.VertexAttribPointer(uint32(i), a.size, gl.FLOAT, false, stride, gl.PtrOffset(int(a.offset)))
	}

	if gpu.HasIndices {
		gl.GenBuffers(1, &gpu.EBO)
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, gpu.EBO)
		gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(mesh.Indices)*4, gl.Ptr(mesh.Indices), gl.STATIC_DRAW)
	}

	gl.BindVertexArray(0)

	r.gpuMeshes[mesh] = gpu
	mesh.GPUData = gpu
	return gpu
}

// ReleaseMesh frees GPU buffers for the given mesh.
func (r *Renderer) ReleaseMesh(mesh *scene.Mesh) {
	gpu, ok := r.gpuMeshes[mesh]
	if !ok {
		return
	}
	gl.DeleteVertexArrays(1, &gpu.VAO)
	gl.DeleteBuffers(1, &gpu.VBO)
	if gpu.HasIndices {
		gl.DeleteBuffers(1, &gpu.EBO)
	}
	delete(r.gpuMeshes, mesh)
	mesh.GPUData = nil
}

// Destroy releases all GPU resources.
func (r *Renderer) Destroy() {
	for mesh := range r.gpuMeshes {
		r.ReleaseMesh(mesh)
	}
	if r.keyShadow != nil {
		r.keyShadow.Destroy()
		r.keyShadow = nil
	}
	if r.accum != nil {
		r.accum.Destroy()
		r.accum = nil
	}
	deletePrograms(&r.program, &r.depthProg)
}
