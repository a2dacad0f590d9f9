// Package hdr decodes Radiance RGBE (.hdr) images into linear float RGB.
package hdr

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var (
	ErrBadHeader = errors.New("hdr: bad header")
	ErrBadFormat = errors.New("hdr: unsupported pixel format")
	ErrTruncated = errors.New("hdr: truncated scanline data")
)

// Size limits applied to the header before any pixel memory is allocated.
const (
	maxSide   = 1 << 15
	maxPixels = 1 << 26
)

// Image is a decoded radiance map. Pix holds three floats per pixel, top row first.
type Image struct {
	Width, Height int
	Exposure      float32
	Pix           []float32
}

// IsHDR reports whether data starts with a Radiance signature.
func IsHDR(data []byte) bool {
	return bytes.HasPrefix(data, []byte("#?RADIANCE")) || bytes.HasPrefix(data, []byte("#?RGBE"))
}

// Decode reads a whole Radiance file.
func Decode(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)

	magic, err := readLine(br)
	if err != nil || !strings.HasPrefix(magic, "#?") {
		return nil, ErrBadHeader
	}

	img := &Image{Exposure: 1}
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
		}
		if line == "" {
			break
		}
		switch {
		case strings.HasPrefix(line, "FORMAT="):
			if f := strings.TrimPrefix(line, "FORMAT="); f != "32-bit_rle_rgbe" {
				return nil, fmt.Errorf("%w: %s", ErrBadFormat, f)
			}
		case strings.HasPrefix(line, "EXPOSURE="):
			if v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "EXPOSURE=")), 32); err == nil {
				img.Exposure *= float32(v)
			}
		}
	}

	res, err := readLine(br)
	if err != nil {
		return nil, fmt.Errorf("%w: missing resolution", ErrBadHeader)
	}
	if img.Width, img.Height, err = parseResolution(res); err != nil {
		return nil, err
	}

	img.Pix = make([]float32, img.Width*img.Height*3)
	scan := make([]byte, img.Width*4)
	for y := 0; y < img.Height; y++ {
		if err := readScanline(br, scan, img.Width); err != nil {
			return nil, fmt.Errorf("row %d: %w", y, err)
		}
		row := img.Pix[y*img.Width*3:]
		for x := 0; x < img.Width; x++ {
			r, g, b := rgbeToFloat(scan[x*4], scan[x*4+1], scan[x*4+2], scan[x*4+3])
			row[x*3], row[x*3+1], row[x*3+2] = r, g, b
		}
	}
	return img, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// parseResolution accepts the standard "-Y h +X w" orientation only.
func parseResolution(s string) (int, int, error) {
	f := strings.Fields(s)
	if len(f) != 4 || f[0] != "-Y" || f[2] != "+X" {
		return 0, 0, fmt.Errorf("%w: resolution %q", ErrBadFormat, s)
	}
	h, err1 := strconv.Atoi(f[1])
	w, err2 := strconv.Atoi(f[3])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: resolution %q", ErrBadHeader, s)
	}
	if w > maxSide || h > maxSide || w*h > maxPixels {
		return 0, 0, fmt.Errorf("%w: %dx%d exceeds the size limit", ErrBadHeader, w, h)
	}
	return w, h, nil
}

func readScanline(br *bufio.Reader, dst []byte, width int) error {
	if width < 8 || width > 0x7fff {
		return readFlat(br, dst)
	}
	head, err := br.Peek(4)
	if err != nil {
		return ErrTruncated
	}
	if head[0] != 2 || head[1] != 2 || head[2]&0x80 != 0 {
		return readFlat(br, dst)
	}
	if int(head[2])<<8|int(head[3]) != width {
		return fmt.Errorf("%w: scanline width mismatch", ErrBadFormat)
	}
	if _, err := br.Discard(4); err != nil {
		return ErrTruncated
	}

	// Adaptive RLE: each of the four channels is stored as its own run-length stream.
	for ch := 0; ch < 4; ch++ {
		for x := 0; x < width; {
			count, err := br.ReadByte()
			if err != nil {
				return ErrTruncated
			}
			if count > 128 {
				n := int(count - 128)
				if x+n > width {
					return fmt.Errorf("%w: run overflows scanline", ErrBadFormat)
				}
				v, err := br.ReadByte()
				if err != nil {
					return ErrTruncated
				}
				for ; n > 0; n-- {
					dst[x*4+ch] = v
					x++
				}
				continue
			}
			n := int(count)
			if n == 0 || x+n > width {
				return fmt.Errorf("%w: bad literal run", ErrBadFormat)
			}
			for ; n > 0; n-- {
				v, err := br.ReadByte()
				if err != nil {
					return ErrTruncated
				}
				dst[x*4+ch] = v
				x++
			}
		}
	}
	return nil
}

func readFlat(br *bufio.Reader, dst []byte) error {
	if _, err := io.ReadFull(br, dst); err != nil {
		return ErrTruncated
	}
	return nil
}

func rgbeToFloat(r, g, b, e byte) (float32, float32, float32) {
	if e == 0 {
		return 0, 0, 0
	}
	f := float32(math.Ldexp(1, int(e)-(128+8)))
	return float32(r) * f, float32(g) * f, float32(b) * f
}
