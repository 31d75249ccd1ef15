package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"regexp"
	"strings"
	"testing"
)

func encodeTestImage(t *testing.T, width, height int, format string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, nil)
	}
	if err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func decodedBounds(t *testing.T, data []byte) image.Rectangle {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode processed image: %v", err)
	}
	return img.Bounds()
}

func TestProcessShrinksLargeImage(t *testing.T) {
	raw := encodeTestImage(t, 1600, 1200, "jpeg")
	out, err := Process("My Book Cover.jpg", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	bounds := decodedBounds(t, out.Data)
	if bounds.Dx() > 800 || bounds.Dy() > 800 {
		t.Fatalf("image exceeds bound: %dx%d", bounds.Dx(), bounds.Dy())
	}
	// 1600x1200 fitted into 800x800 keeps the 4:3 aspect ratio.
	if bounds.Dx() != 800 || bounds.Dy() != 600 {
		t.Fatalf("expected 800x600, got %dx%d", bounds.Dx(), bounds.Dy())
	}
	if out.ContentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", out.ContentType)
	}
}

func TestProcessNeverUpscales(t *testing.T) {
	raw := encodeTestImage(t, 200, 100, "jpeg")
	out, err := Process("small.jpg", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	bounds := decodedBounds(t, out.Data)
	if bounds.Dx() != 200 || bounds.Dy() != 100 {
		t.Fatalf("small image was rescaled to %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestProcessKeepsPNG(t *testing.T) {
	raw := encodeTestImage(t, 100, 100, "png")
	out, err := Process("cover.png", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.ContentType != "image/png" {
		t.Fatalf("expected image/png, got %s", out.ContentType)
	}
	if !strings.HasSuffix(out.Name, ".png") {
		t.Fatalf("expected .png name, got %s", out.Name)
	}
}

func TestProcessUnknownExtensionFallsBackToJPEG(t *testing.T) {
	raw := encodeTestImage(t, 100, 100, "jpeg")
	out, err := Process("cover.weird", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.ContentType != "image/jpeg" || !strings.HasSuffix(out.Name, ".jpg") {
		t.Fatalf("expected jpeg fallback, got %s (%s)", out.Name, out.ContentType)
	}
}

func TestProcessRejectsGarbage(t *testing.T) {
	if _, err := Process("cover.jpg", strings.NewReader("definitely not an image")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestStoredNameShape(t *testing.T) {
	out1, err := Process("My Book Cover.jpg", bytes.NewReader(encodeTestImage(t, 10, 10, "jpeg")))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	pattern := regexp.MustCompile(`^my-book-cover-\d+-[0-9a-f]{8}\.jpg$`)
	if !pattern.MatchString(out1.Name) {
		t.Fatalf("unexpected stored name %q", out1.Name)
	}
	out2, err := Process("My Book Cover.jpg", bytes.NewReader(encodeTestImage(t, 10, 10, "jpeg")))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out1.Name == out2.Name {
		t.Fatalf("two uploads produced the same stored name %q", out1.Name)
	}
}
