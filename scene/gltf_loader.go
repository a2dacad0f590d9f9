package scene

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"

	"realism-viewer/core"
	"realism-viewer/internal/logger"
)

// ErrUnsupportedExtension is returned for documents that require an
// extension this loader cannot decode (Draco, meshopt and friends).
var ErrUnsupportedExtension = errors.New("unsupported glTF extension")

// supportedExtensions are the required extensions DecodeGLTF honours.
var supportedExtensions = map[string]bool{
	"KHR_materials_unlit": true,
}

// GLTFResult holds the model graph and the textures loaded from a .glb / .gltf file.
// Every texture in Textures needs a GPU upload before the model is drawn.
type GLTFResult struct {
	Root     *Node
	Textures []*Texture
}

// CheckExtensions fails when doc requires an extension that is not supported.
func CheckExtensions(doc *gltf.Document) error {
	for _, ext := range doc.ExtensionsRequired {
		if !supportedExtensions[ext] {
			return fmt.Errorf("%w: %s", ErrUnsupportedExtension, ext)
		}
	}
	return nil
}

// LoadGLTF opens a .glb or .gltf file and decodes it.
func LoadGLTF(path string) (*GLTFResult, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gltf open %q: %w", path, err)
	}
	return DecodeGLTF(doc, filepath.Base(path), filepath.Dir(path))
}

// DecodeGLTF turns a parsed document into a scene graph rooted at a single
// node called name. dir resolves external image URIs; pass "" when the
// document came from memory. Mesh geometry, metallic-roughness materials,
// textures and the node hierarchy are all populated.
func DecodeGLTF(doc *gltf.Document, name, dir string) (*GLTFResult, error) {
	if err := CheckExtensions(doc); err != nil {
		return nil, err
	}
	result := &GLTFResult{}

	texCache := decodeTextures(doc, dir, result)
	matCache := decodeMaterials(doc, texCache)

	// meshPrims[meshIdx] = []*Mesh (one entry per primitive)
	meshPrims := make([][]*Mesh, len(doc.Meshes))
	for mi, gm := range doc.Meshes {
		for pi, prim := range gm.Primitives {
			if prim.Mode != gltf.PrimitiveTriangles {
				logger.Log.Warn("gltf: skipping non-triangle primitive", zap.Int("mesh", mi), zap.Int("primitive", pi))
				continue
			}
			m, err := loadGLTFPrimitive(doc, gm.Name, pi, prim)
			if err != nil {
				logger.Log.Warn("gltf: primitive skipped", zap.Int("mesh", mi), zap.Int("primitive", pi), zap.Error(err))
				continue
			}
			ComputeTangents(m)
			if prim.Material != nil && inRange(*prim.Material, len(matCache)) {
				m.Material = matCache[*prim.Material]
			} else {
				m.Material = DefaultMaterial()
			}
			meshPrims[mi] = append(meshPrims[mi], m)
		}
	}

	nodes := make([]*Node, len(doc.Nodes))
	for i, gn := range doc.Nodes {
		nodeName := gn.Name
		if nodeName == "" {
			nodeName = fmt.Sprintf("node_%d", i)
		}
		n := NewNode(nodeName)

		t := gn.TranslationOrDefault()
		n.SetPosition(mgl32.Vec3{float32(t[0]), float32(t[1]), float32(t[2])})

		sc := gn.ScaleOrDefault()
		n.SetScale(mgl32.Vec3{float32(sc[0]), float32(sc[1]), float32(sc[2])})

		r := gn.RotationOrDefault() // [x, y, z, w]
		n.SetRotation(mgl32.Quat{W: float32(r[3]), V: mgl32.Vec3{float32(r[0]), float32(r[1]), float32(r[2])}})

		if gn.Mesh != nil && inRange(*gn.Mesh, len(meshPrims)) {
			prims := meshPrims[*gn.Mesh]
			switch len(prims) {
			case 0:
			case 1:
				n.Mesh = prims[0]
			default:
				// Multiple primitives: one child node per primitive.
				for pi, p := range prims {
					child := NewNode(fmt.Sprintf("%s_prim%d", nodeName, pi))
					child.Mesh = p
					child.Primitive = true
					n.AddChild(child)
				}
			}
		}
		nodes[i] = n
	}

	for i, gn := range doc.Nodes {
		for _, childIdx := range gn.Children {
			if inRange(childIdx, len(nodes)) && childIdx != i {
				nodes[i].AddChild(nodes[childIdx])
			}
		}
	}

	root := NewNode(name)
	for _, idx := range rootIndices(doc) {
		if inRange(idx, len(nodes)) {
			root.AddChild(nodes[idx])
		}
	}
	result.Root = root
	return result, nil
}

// rootIndices returns the nodes of the default scene, or every parentless
// node when the document names none.
func rootIndices(doc *gltf.Document) []int {
	if doc.Scene != nil && inRange(*doc.Scene, len(doc.Scenes)) {
		return doc.Scenes[*doc.Scene].Nodes
	}
	if len(doc.Scenes) == 1 {
		return doc.Scenes[0].Nodes
	}
	hasParent := make([]bool, len(doc.Nodes))
	for _, gn := range doc.Nodes {
		for _, c := range gn.Children {
			if inRange(c, len(hasParent)) {
				hasParent[c] = true
			}
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !hasParent[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

func decodeTextures(doc *gltf.Document, dir string, result *GLTFResult) []*Texture {
	texCache := make([]*Texture, len(doc.Textures))
	imgCache := make(map[int]*Texture)
	for i, gt := range doc.Textures {
		if gt == nil || gt.Source == nil || !inRange(*gt.Source, len(doc.Images)) {
			continue
		}
		src := *gt.Source
		if tex, ok := imgCache[src]; ok {
			texCache[i] = tex
			continue
		}
		tex, err := decodeImage(doc, src, dir)
		if err != nil {
			logger.Log.Warn("gltf: image skipped", zap.Int("image", src), zap.Error(err))
			continue
		}
		imgCache[src] = tex
		texCache[i] = tex
		result.Textures = append(result.Textures, tex)
	}
	return texCache
}

func decodeImage(doc *gltf.Document, idx int, dir string) (*Texture, error) {
	img := doc.Images[idx]
	name := img.Name
	if name == "" {
		name = fmt.Sprintf("gltf_img_%d", idx)
	}
	switch {
	case img.BufferView != nil:
		// Binary GLB: image data lives in a buffer view.
		bv, err := bufferView(doc, *img.BufferView)
		if err != nil {
			return nil, err
		}
		raw, err := modeler.ReadBufferView(doc, bv)
		if err != nil {
			return nil, fmt.Errorf("buffer view: %w", err)
		}
		return DecodeTexture(name, raw)
	case img.IsEmbeddedResource():
		raw, err := img.MarshalData()
		if err != nil {
			return nil, fmt.Errorf("data uri: %w", err)
		}
		return DecodeTexture(name, raw)
	case img.URI != "" && dir != "":
		return LoadTexture(filepath.Join(dir, img.URI))
	}
	return nil, fmt.Errorf("image %q has no reachable data", name)
}

func decodeMaterials(doc *gltf.Document, texCache []*Texture) []*Material {
	lookup := func(idx int) *Texture {
		if idx >= 0 && idx < len(texCache) {
			return texCache[idx]
		}
		return nil
	}

	matCache := make([]*Material, len(doc.Materials))
	for i, gm := range doc.Materials {
		mat := DefaultMaterial()
		mat.Name = gm.Name
		mat.DoubleSided = gm.DoubleSided
		if _, ok := gm.Extensions["KHR_materials_unlit"]; ok {
			mat.Unlit = true
		}

		if pbr := gm.PBRMetallicRoughness; pbr != nil {
			cf := pbr.BaseColorFactorOrDefault()
			mat.Albedo = core.Color{
				R: float32(cf[0]), G: float32(cf[1]),
				B: float32(cf[2]), A: float32(cf[3]),
			}
			mat.Metallic = float32(pbr.MetallicFactorOrDefault())
			mat.Roughness = float32(pbr.RoughnessFactorOrDefault())
			if pbr.BaseColorTexture != nil {
				mat.AlbedoTexture = lookup(pbr.BaseColorTexture.Index)
			}
			if pbr.MetallicRoughnessTexture != nil {
				mat.MetallicRoughnessTexture = lookup(pbr.MetallicRoughnessTexture.Index)
			}
		}
		if gm.NormalTexture != nil && gm.NormalTexture.Index != nil {
			mat.NormalTexture = lookup(*gm.NormalTexture.Index)
		}
		if gm.EmissiveTexture != nil {
			mat.EmissiveTexture = lookup(gm.EmissiveTexture.Index)
			mat.EmissiveColor = core.ColorWhite
		}
		if gm.AlphaMode == gltf.AlphaMask {
			mat.AlphaTest = float32(gm.AlphaCutoffOrDefault())
		}
		matCache[i] = mat
	}
	return matCache
}

// loadGLTFPrimitive converts one glTF mesh primitive into a scene.Mesh.
func loadGLTFPrimitive(doc *gltf.Document, meshName string, primIdx int, prim *gltf.Primitive) (*Mesh, error) {
	name := fmt.Sprintf("%s_p%d", meshName, primIdx)
	if meshName == "" {
		name = fmt.Sprintf("prim_%d", primIdx)
	}

	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return nil, errors.New("no POSITION attribute")
	}
	acc, err := accessor(doc, posIdx)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	positions, err := modeler.ReadPosition(doc, acc, nil)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}

	var normals [][3]float32
	var uvs [][2]float32
	if idx, ok := prim.Attributes[gltf.NORMAL]; ok {
		if acc, err = accessor(doc, idx); err != nil {
			return nil, fmt.Errorf("normals: %w", err)
		}
		if normals, err = modeler.ReadNormal(doc, acc, nil); err != nil {
			return nil, fmt.Errorf("normals: %w", err)
		}
	}
	if idx, ok := prim.Attributes[gltf.TEXCOORD_0]; ok {
		if acc, err = accessor(doc, idx); err != nil {
			return nil, fmt.Errorf("texcoords: %w", err)
		}
		if uvs, err = modeler.ReadTextureCoord(doc, acc, nil); err != nil {
			return nil, fmt.Errorf("texcoords: %w", err)
		}
	}

	verts := make([]core.Vertex, len(positions))
	for i, p := range positions {
		v := core.Vertex{
			Position: mgl32.Vec3{p[0], p[1], p[2]},
			Normal:   mgl32.Vec3{0, 1, 0},
			Color:    core.ColorWhite,
		}
		if i < len(normals) {
			v.Normal = mgl32.Vec3{normals[i][0], normals[i][1], normals[i][2]}
		}
		if i < len(uvs) {
			v.UV = mgl32.Vec2{uvs[i][0], uvs[i][1]}
		}
		verts[i] = v
	}

	var indices []uint32
	if prim.Indices != nil {
		if acc, err = accessor(doc, *prim.Indices); err != nil {
			return nil, fmt.Errorf("indices: %w", err)
		}
		indices, err = modeler.ReadIndices(doc, acc, nil)
		if err != nil {
			return nil, fmt.Errorf("indices: %w", err)
		}
	}

	return CreateMeshFromData(name, verts, indices), nil
}

func inRange(i, n int) bool { return i >= 0 && i < n }

// accessor returns accessor i once it and the buffer data behind it are
// known to exist. Indices come straight from the file.
func accessor(doc *gltf.Document, i int) (*gltf.Accessor, error) {
	if !inRange(i, len(doc.Accessors)) || doc.Accessors[i] == nil {
		return nil, fmt.Errorf("accessor %d out of range", i)
	}
	acc := doc.Accessors[i]
	if acc.BufferView != nil {
		if _, err := bufferView(doc, *acc.BufferView); err != nil {
			return nil, fmt.Errorf("accessor %d: %w", i, err)
		}
	}
	return acc, nil
}

func bufferView(doc *gltf.Document, i int) (*gltf.BufferView, error) {
	if !inRange(i, len(doc.BufferViews)) || doc.BufferViews[i] == nil {
		return nil, fmt.Errorf("buffer view %d out of range", i)
	}
	bv := doc.BufferViews[i]
	if !inRange(bv.Buffer, len(doc.Buffers)) || doc.Buffers[bv.Buffer] == nil {
		return nil, fmt.Errorf("buffer view %d: buffer %d out of range", i, bv.Buffer)
	}
	if bv.ByteOffset < 0 || bv.ByteLength < 0 || bv.ByteOffset+bv.ByteLength > len(doc.Buffers[bv.Buffer].Data) {
		return nil, fmt.Errorf("buffer view %d exceeds buffer %d", i, bv.Buffer)
	}
	return bv, nil
}
