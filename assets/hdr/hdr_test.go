package hdr

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripFlat(t *testing.T) {
	src := &Image{Width: 3, Height: 2, Pix: []float32{
		1, 0.5, 0.25, 0, 0, 0, 4, 4, 4,
		0.125, 2, 8, 1, 1, 1, 16, 0, 0,
	}}
	var buf bytes.Buffer
	require.NoError(t, encode(&buf, src))
	assert.True(t, IsHDR(buf.Bytes()))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Width)
	assert.Equal(t, 2, got.Height)
	// Powers of two survive the shared-exponent encoding exactly.
	assert.InDeltaSlice(t, src.Pix, got.Pix, 1e-6)
}

func TestDecodeRunLengthScanlines(t *testing.T) {
	const width = 8
	var buf bytes.Buffer
	buf.WriteString("#?RADIANCE\n# made by hand\nFORMAT=32-bit_rle_rgbe\nEXPOSURE=2\n\n-Y 1 +X 8\n")
	buf.Write([]byte{2, 2, 0, width})
	// R is a run of 128, G a run of 64, B four literals then a run of 255.
	buf.Write([]byte{128 + width, 128})
	buf.Write([]byte{128 + width, 64})
	buf.Write([]byte{4, 0, 0, 0, 0, 128 + 4, 255})
	// Exponent 129 scales by 1/128.
	buf.Write([]byte{128 + width, 129})

	img, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, float32(2), img.Exposure)
	require.Len(t, img.Pix, width*3)
	assert.InDelta(t, 1, img.Pix[0], 1e-6)
	assert.InDelta(t, 0.5, img.Pix[1], 1e-6)
	assert.InDelta(t, 0, img.Pix[2], 1e-6)
	assert.InDelta(t, 255.0/128, img.Pix[7*3+2], 1e-6)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := Decode(strings.NewReader("P6\n1 1\n255\n"))
	assert.ErrorIs(t, err, ErrBadHeader)

	_, err = Decode(strings.NewReader("#?RADIANCE\nFORMAT=32-bit_rle_xyze\n\n-Y 1 +X 1\n"))
	assert.ErrorIs(t, err, ErrBadFormat)

	_, err = Decode(strings.NewReader("#?RADIANCE\n\n-Y 2 +X 2\n\x01\x02"))
	assert.ErrorIs(t, err, ErrTruncated)

	for _, res := range []string{"-Y 2000000000 +X 2000000000", "-Y 1 +X 40000", "-Y 16384 +X 16384"} {
		var err error
		require.NotPanics(t, func() {
			_, err = Decode(strings.NewReader("#?RADIANCE\nFORMAT=32-bit_rle_rgbe\n\n" + res + "\n"))
		}, res)
		assert.ErrorIs(t, err, ErrBadHeader, res)
	}
}

// encode writes img as a flat (uncompressed) Radiance file.
func encode(w io.Writer, img *Image) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "#?RADIANCE\nFORMAT=32-bit_rle_rgbe\n\n-Y %d +X %d\n", img.Height, img.Width)
	for i := 0; i < img.Width*img.Height; i++ {
		bw.Write(floatToRGBE(img.Pix[i*3], img.Pix[i*3+1], img.Pix[i*3+2]))
	}
	return bw.Flush()
}

func floatToRGBE(r, g, b float32) []byte {
	v := max(r, g, b)
	if v < 1e-32 {
		return []byte{0, 0, 0, 0}
	}
	frac, exp := math.Frexp(float64(v))
	scale := frac * 256 / float64(v)
	return []byte{byte(float64(r) * scale), byte(float64(g) * scale), byte(float64(b) * scale), byte(exp + 128)}
}
