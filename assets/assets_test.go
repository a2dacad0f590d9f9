package assets

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realism-viewer/scene"
)

// memSource serves fixed bytes and counts blob releases.
type memSource struct {
	name     string
	data     []byte
	released *atomic.Int32
}

func (s memSource) Name() string { return s.name }

func (s memSource) Open(context.Context) (*Blob, error) {
	return NewBlob(s.name, s.data, "", func() { s.released.Add(1) }), nil
}

func triangleDoc() *gltf.Document {
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {4, 0, 0}, {0, 2, 0}})
	doc.Meshes = []*gltf.Mesh{{
		Name:       "Tri",
		Primitives: []*gltf.Primitive{{Attributes: map[string]int{gltf.POSITION: pos}}},
	}}
	doc.Nodes = []*gltf.Node{{Name: "Tri", Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = []int{0}
	return doc
}

// rgbeFile builds a flat Radiance file from raw RGBE quadruples.
func rgbeFile(w, h int, rgbe ...byte) []byte {
	head := fmt.Sprintf("#?RADIANCE\nFORMAT=32-bit_rle_rgbe\n\n-Y %d +X %d\n", h, w)
	return append([]byte(head), rgbe...)
}

func findNode(root *scene.Node, name string) *scene.Node {
	var found *scene.Node
	root.Traverse(func(n *scene.Node) {
		if found == nil && n.Name == name {
			found = n
		}
	})
	return found
}

func writeGLB(t *testing.T, doc *gltf.Document) (string, []byte) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tri.glb")
	require.NoError(t, gltf.SaveBinary(doc, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return path, data
}

func TestSniff(t *testing.T) {
	_, glb := writeGLB(t, triangleDoc())
	env := rgbeFile(1, 1, 128, 128, 128, 129)

	assert.Equal(t, FormatGLB, Sniff(glb))
	assert.Equal(t, FormatGLTF, Sniff([]byte(` {"asset": {"version": "2.0"}}`)))
	assert.Equal(t, FormatHDR, Sniff(env))
	assert.Equal(t, FormatUnknown, Sniff([]byte("not a model")))
	assert.Equal(t, FormatUnknown, Sniff([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}))
}

func TestModelLoaderDecodesGLBAndReleasesOnce(t *testing.T) {
	_, glb := writeGLB(t, triangleDoc())
	var released atomic.Int32

	res, err := ModelLoader{}.Load(context.Background(), memSource{name: "tri.glb", data: glb, released: &released})
	require.NoError(t, err)
	require.NotNil(t, findNode(res.Root, "Tri"))
	assert.Equal(t, int32(1), released.Load())
}

func TestModelLoaderFromFile(t *testing.T) {
	path, _ := writeGLB(t, triangleDoc())
	res, err := ModelLoader{}.Load(context.Background(), FileSource{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "tri.glb", res.Root.Name)
}

func TestModelLoaderFailures(t *testing.T) {
	draco := triangleDoc()
	draco.ExtensionsUsed = []string{"KHR_draco_mesh_compression"}
	draco.ExtensionsRequired = []string{"KHR_draco_mesh_compression"}
	_, dracoGLB := writeGLB(t, draco)

	empty := gltf.NewDocument()
	empty.Nodes = []*gltf.Node{{Name: "lonely"}}
	empty.Scenes[0].Nodes = []int{0}
	_, emptyGLB := writeGLB(t, empty)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"garbage", []byte("definitely not gltf"), ErrUnsupportedFormat},
		{"draco", dracoGLB, ErrUnsupportedExtension},
		{"empty", emptyGLB, ErrEmptyModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var released atomic.Int32
			_, err := ModelLoader{}.Load(context.Background(), memSource{name: tt.name, data: tt.data, released: &released})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), released.Load())
		})
	}
}

func TestModelLoaderRejectsOutOfRangeIndices(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"position accessor", `{"asset":{"version":"2.0"},
			"meshes":[{"primitives":[{"attributes":{"POSITION":7}}]}],
			"nodes":[{"mesh":0}],"scenes":[{"nodes":[0]}],"scene":0}`},
		{"buffer view", `{"asset":{"version":"2.0"},
			"accessors":[{"bufferView":5,"componentType":5126,"count":3,"type":"VEC3"}],
			"meshes":[{"primitives":[{"attributes":{"POSITION":0}}]}],
			"nodes":[{"mesh":0}],"scenes":[{"nodes":[0]}],"scene":0}`},
		{"indices accessor", `{"asset":{"version":"2.0"},
			"meshes":[{"primitives":[{"attributes":{"POSITION":0},"indices":-3}]}],
			"nodes":[{"mesh":-1,"children":[9]}],"scenes":[{"nodes":[0,4]}],"scene":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var released atomic.Int32
			src := memSource{name: "bad.gltf", data: []byte(tt.doc), released: &released}
			var err error
			require.NotPanics(t, func() {
				_, err = ModelLoader{}.Load(context.Background(), src)
			})
			assert.Error(t, err)
			assert.Equal(t, int32(1), released.Load())
		})
	}
}

func TestSafeDecodeTurnsPanicIntoError(t *testing.T) {
	res, err := safeDecode("broken.glb", func() (*scene.GLTFResult, error) {
		var doc []int
		_ = doc[3]
		return nil, nil
	})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrMalformedModel)
	assert.ErrorContains(t, err, "index out of range")
}

func TestModelLoaderHonoursCancellation(t *testing.T) {
	_, glb := writeGLB(t, triangleDoc())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var released atomic.Int32
	_, err := ModelLoader{}.Load(ctx, memSource{name: "tri.glb", data: glb, released: &released})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), released.Load())
}

func TestURLSource(t *testing.T) {
	_, glb := writeGLB(t, triangleDoc())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/tri.glb" {
			http.NotFound(w, r)
			return
		}
		w.Write(glb)
	}))
	defer srv.Close()

	src := SourceFor(srv.URL + "/models/tri.glb")
	require.IsType(t, URLSource{}, src)
	assert.Equal(t, "tri.glb", src.Name())

	res, err := ModelLoader{}.Load(context.Background(), src)
	require.NoError(t, err)
	assert.NotNil(t, findNode(res.Root, "Tri"))

	_, err = ModelLoader{}.Load(context.Background(), SourceFor(srv.URL+"/missing.glb"))
	assert.ErrorContains(t, err, "404")
}

func TestBlobReleaseIsIdempotent(t *testing.T) {
	calls := 0
	b := NewBlob("x", []byte{1}, "", func() { calls++ })
	b.Release()
	b.Release()
	assert.Equal(t, 1, calls)
	assert.Nil(t, b.Data)
}

func TestEnvironmentLoader(t *testing.T) {
	// (1, 2, 4) and (0.5, 0.5, 0.5).
	data := rgbeFile(2, 1, 32, 64, 128, 131, 128, 128, 128, 128)
	var released atomic.Int32

	env, err := EnvironmentLoader{}.Load(context.Background(), memSource{name: "studio.hdr", data: data, released: &released})
	require.NoError(t, err)
	assert.Equal(t, "studio.hdr", env.Name)
	assert.Equal(t, 2, env.Width)
	assert.Equal(t, [3]float32{0.5, 0.5, 0.5}, env.At(1, 0))
	assert.Equal(t, int32(1), released.Load())

	_, err = EnvironmentLoader{}.Load(context.Background(), memSource{name: "x.hdr", data: []byte("nope"), released: &released})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
