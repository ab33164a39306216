// Package imaging implements the preprocessing contract shared by training and
// inference: decode, bilinear resize to a square, and scale RGB to [0,1].
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"gorgonia.org/tensor"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Channels is the number of color channels in an image tensor.
const Channels = 3

// ErrDecode indicates the input bytes are not a supported image.
var ErrDecode = errors.New("decode image")

var extensions = []string{".jpg", ".jpeg", ".png"}

// IsImageFile reports whether name has a dataset image extension (.jpg, .jpeg, .png),
// ignoring case.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Decode decodes JPEG, PNG, GIF, BMP, TIFF or WebP bytes.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// Preprocess resizes img to size×size with bilinear interpolation and returns
// a float32 tensor of shape (size, size, 3) with values in [0,1].
// Alpha is dropped and grayscale sources are expanded to three channels.
func Preprocess(img image.Image, size int) *tensor.Dense {
	resized := resize.Resize(uint(size), uint(size), opaque(img), resize.Bilinear)
	bounds := resized.Bounds()

	data := make([]float32, size*size*Channels)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := (y*size + x) * Channels
			data[i] = float32(r) / 0xffff
			data[i+1] = float32(g) / 0xffff
			data[i+2] = float32(b) / 0xffff
		}
	}

	return tensor.New(
		tensor.WithShape(size, size, Channels),
		tensor.WithBacking(data),
	)
}

// opaque returns img with its alpha channel discarded: each pixel keeps its
// straight (non-premultiplied) RGB and becomes fully opaque.
func opaque(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}

	b := img.Bounds()
	out := image.NewRGBA64(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetRGBA64(x, y, straight(img.At(x, y)))
		}
	}
	return out
}

func straight(c color.Color) color.RGBA64 {
	switch c := c.(type) {
	case color.NRGBA:
		return color.RGBA64{R: uint16(c.R) * 0x101, G: uint16(c.G) * 0x101, B: uint16(c.B) * 0x101, A: 0xffff}
	case color.NRGBA64:
		return color.RGBA64{R: c.R, G: c.G, B: c.B, A: 0xffff}
	}
	n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
	return color.RGBA64{R: n.R, G: n.G, B: n.B, A: 0xffff}
}

// PreprocessBytes decodes data and preprocesses the result to a (size, size, 3) tensor.
func PreprocessBytes(data []byte, size int) (*tensor.Dense, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Preprocess(img, size), nil
}
