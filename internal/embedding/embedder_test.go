package embedding

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUnitLength(t *testing.T) {
	v := make([]float64, 512)
	for i := range v {
		v[i] = float64(i%7) - 3.5
	}
	out, err := Normalize(v)
	require.NoError(t, err)
	assert.Len(t, out, 512)
	assert.InDelta(t, 1.0, Norm(out), 1e-5)
}

func TestNormalizeRejectsDegenerateInput(t *testing.T) {
	_, err := Normalize(make([]float64, 8))
	assert.ErrorIs(t, err, ErrZeroVector)

	_, err = Normalize([]float64{1, math.NaN()})
	assert.ErrorIs(t, err, ErrZeroVector)

	_, err = Normalize([]float64{math.Inf(1), 0})
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestDecodeRGBFormats(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			src.Set(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 0x80})
		}
	}
	encoders := map[string]func(*bytes.Buffer) error{
		"png":  func(b *bytes.Buffer) error { return png.Encode(b, src) },
		"jpeg": func(b *bytes.Buffer) error { return jpeg.Encode(b, src, nil) },
		"gif":  func(b *bytes.Buffer) error { return gif.Encode(b, src, nil) },
	}
	for name, enc := range encoders {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, enc(&buf))

			img, format, err := DecodeRGB(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, name, format)
			assert.Equal(t, 6, img.Bounds().Dx())
			assert.Equal(t, 4, img.Bounds().Dy())
			for i := 3; i < len(img.Pix); i += 4 {
				require.Equal(t, uint8(0xff), img.Pix[i])
			}
		})
	}
}

func TestDecodeRGBRejectsNonImage(t *testing.T) {
	_, _, err := DecodeRGB([]byte("just some text, not pixels"))
	assert.ErrorIs(t, err, ErrNotImage)

	// PNG signature followed by garbage sniffs as an image but cannot decode.
	corrupt := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x01}, 32)...)
	_, _, err = DecodeRGB(corrupt)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestCenterCropSquare(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 20))
	dst := CenterCrop(src, 8)
	assert.Equal(t, image.Rect(0, 0, 8, 8), dst.Bounds())

	data, err := EncodePNG(dst)
	require.NoError(t, err)
	_, _, err = DecodeRGB(data)
	assert.NoError(t, err)
}

func TestDecodeRGBDropsAlphaWithoutCompositing(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 128})
	src.SetNRGBA(1, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 0})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, _, err := DecodeRGB(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []uint8{200, 100, 50, 255}, img.Pix[0:4])
	assert.Equal(t, []uint8{255, 255, 255, 255}, img.Pix[4:8])
}

func TestDecodeRGBSixteenBitPNG(t *testing.T) {
	src := image.NewNRGBA64(image.Rect(0, 0, 1, 1))
	src.SetNRGBA64(0, 0, color.NRGBA64{R: 0x1234, G: 0xabcd, B: 0xff00, A: 0x0100})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, _, err := DecodeRGB(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []uint8{0x12, 0xab, 0xff, 0xff}, img.Pix[0:4])
}
