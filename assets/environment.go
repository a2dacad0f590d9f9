package assets

import (
	"bytes"
	"context"
	"fmt"

	"realism-viewer/assets/hdr"
	"realism-viewer/scene"
)

// EnvironmentLoader decodes Radiance panoramas into scene environments.
type EnvironmentLoader struct{}

func (EnvironmentLoader) Load(ctx context.Context, src Source) (*scene.Environment, error) {
	blob, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer blob.Release()

	if Sniff(blob.Data) != FormatHDR {
		return nil, fmt.Errorf("%s: %w", blob.Name, ErrUnsupportedFormat)
	}
	img, err := hdr.Decode(bytes.NewReader(blob.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", blob.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &scene.Environment{
		Name:   blob.Name,
		Width:  img.Width,
		Height: img.Height,
		Pixels: img.Pix,
	}, nil
}
