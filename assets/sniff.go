package assets

import (
	"bytes"
	"errors"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"

	"realism-viewer/assets/hdr"
	"realism-viewer/scene"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrUnsupportedExtension is shared with the scene decoder so errors.Is
	// works on either side.
	ErrUnsupportedExtension = scene.ErrUnsupportedExtension
	ErrEmptyModel           = errors.New("model has no geometry")
	ErrMalformedModel       = errors.New("malformed model")
)

// Format is the detected container of a blob.
type Format int

const (
	FormatUnknown Format = iota
	FormatGLB
	FormatGLTF
	FormatHDR
)

func (f Format) String() string {
	switch f {
	case FormatGLB:
		return "glb"
	case FormatGLTF:
		return "gltf"
	case FormatHDR:
		return "hdr"
	}
	return "unknown"
}

var (
	glbType = filetype.NewType("glb", "model/gltf-binary")
	hdrType = filetype.NewType("hdr", "image/vnd.radiance")
)

func init() {
	filetype.AddMatcher(glbType, func(buf []byte) bool {
		return len(buf) >= 12 && bytes.Equal(buf[:4], []byte("glTF"))
	})
	filetype.AddMatcher(hdrType, hdr.IsHDR)
}

// Sniff detects the format from content, never from the file name.
func Sniff(data []byte) Format {
	kind, err := filetype.Match(data)
	if err == nil {
		switch kind {
		case glbType:
			return FormatGLB
		case hdrType:
			return FormatHDR
		}
	}
	if kind == types.Unknown && looksLikeGLTFJSON(data) {
		return FormatGLTF
	}
	return FormatUnknown
}

func looksLikeGLTFJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n\xef\xbb\xbf")
	return len(trimmed) > 0 && trimmed[0] == '{' && bytes.Contains(data, []byte(`"asset"`))
}
