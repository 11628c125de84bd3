package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encode(t *testing.T, w, h int, enc func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Gray{Y: uint8(x * y)})
		}
	}
	var buf bytes.Buffer
	if err := enc(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeDimensions(t *testing.T) {
	pngData := encode(t, 40, 25, func(b *bytes.Buffer, i image.Image) error { return png.Encode(b, i) })
	jpgData := encode(t, 17, 60, func(b *bytes.Buffer, i image.Image) error { return jpeg.Encode(b, i, nil) })

	for name, c := range map[string]struct {
		data []byte
		w, h int
	}{
		"png":  {pngData, 40, 25},
		"jpeg": {jpgData, 17, 60},
	} {
		w, h, err := DecodeDimensions(c.data)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if w != c.w || h != c.h {
			t.Errorf("%s: got %dx%d, want %dx%d", name, w, h, c.w, c.h)
		}
	}
}

func TestDecodeDimensionsRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeDimensions([]byte("definitely not an image")); err == nil {
		t.Fatal("want error for undecodable bytes")
	}
}

func TestDecodeFullImage(t *testing.T) {
	data := encode(t, 12, 12, func(b *bytes.Buffer, i image.Image) error { return png.Encode(b, i) })
	img, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 12 || b.Dy() != 12 {
		t.Fatalf("bounds = %v, want 12x12", b)
	}
}
