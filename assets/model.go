package assets

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/qmuntal/gltf"
	"go.uber.org/zap"

	"realism-viewer/internal/logger"
	"realism-viewer/scene"
)

// ModelLoader turns a Source into a decoded glTF scene graph.
type ModelLoader struct{}

// Load fetches, sniffs and decodes src. The blob is released before Load
// returns, on success and on failure.
func (ModelLoader) Load(ctx context.Context, src Source) (*scene.GLTFResult, error) {
	blob, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer blob.Release()

	format := Sniff(blob.Data)
	logger.Log.Debug("model fetched",
		zap.String("name", blob.Name),
		zap.Int("bytes", len(blob.Data)),
		zap.Stringer("format", format))

	var res *scene.GLTFResult
	if format == FormatGLTF && blob.Path != "" {
		// Local JSON documents may reference sidecar .bin and image files.
		res, err = safeDecode(blob.Name, func() (*scene.GLTFResult, error) {
			return scene.LoadGLTF(blob.Path)
		})
	} else {
		doc, perr := parseDocument(blob, format)
		if perr != nil {
			return nil, perr
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := ""
		if blob.Path != "" {
			dir = filepath.Dir(blob.Path)
		}
		res, err = safeDecode(blob.Name, func() (*scene.GLTFResult, error) {
			return scene.DecodeGLTF(doc, blob.Name, dir)
		})
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", blob.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meshes := 0
	res.Root.TraverseMeshes(func(*scene.Node) { meshes++ })
	if meshes == 0 {
		return nil, fmt.Errorf("%s: %w", blob.Name, ErrEmptyModel)
	}
	return res, nil
}

// safeDecode runs decode and reports a panic inside it as ErrMalformedModel.
// Loads run on their own goroutine, where a panic would end the process.
func safeDecode(name string, decode func() (*scene.GLTFResult, error)) (res *scene.GLTFResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("gltf decoder panic", zap.String("name", name), zap.Any("panic", r))
			res, err = nil, fmt.Errorf("%w: %v", ErrMalformedModel, r)
		}
	}()
	return decode()
}

func parseDocument(blob *Blob, format Format) (*gltf.Document, error) {
	switch format {
	case FormatGLB, FormatGLTF:
	default:
		return nil, fmt.Errorf("%s: %w", blob.Name, ErrUnsupportedFormat)
	}

	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(blob.Data)).Decode(doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", blob.Name, err)
	}
	return doc, nil
}
