package embedding

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DecodeRGB sniffs data, decodes it and returns an opaque RGBA copy.
// Alpha is dropped, not composited: color channels keep their stored values
// even where the source pixel is fully transparent.
func DecodeRGB(data []byte) (*image.RGBA, string, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, "", fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, "", fmt.Errorf("%w: empty bounds", ErrNotImage)
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = straightRGB(src.At(x, y))
			dst.Pix[i+3] = 0xff
		}
	}
	return dst, format, nil
}

// straightRGB returns the non-premultiplied color channels of c.
func straightRGB(c color.Color) (r, g, b uint8) {
	switch c := c.(type) {
	case color.NRGBA:
		return c.R, c.G, c.B
	case color.NRGBA64:
		return uint8(c.R >> 8), uint8(c.G >> 8), uint8(c.B >> 8)
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return n.R, n.G, n.B
}

// CenterCrop scales the shortest side of img to size and crops the center square,
// matching the CLIP preprocessor geometry.
func CenterCrop(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	srcRect := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, srcRect, draw.Src, nil)
	return dst
}

// EncodePNG serializes img losslessly for transport.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
