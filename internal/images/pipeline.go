// Package images implements the cover ingestion pipeline: decode an
// uploaded image, fit it inside a bounding box, recompress it and give
// it a collision-resistant stored name.
package images

import (
	"bytes"
	"fmt"
	"image/png"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	_ "golang.org/x/image/webp" // register webp decoding
)

const (
	maxWidth    = 800
	maxHeight   = 800
	jpegQuality = 80
)

// Image is a processed cover ready to be committed to blob storage.
type Image struct {
	Name        string
	Data        []byte
	ContentType string
}

// Process decodes, resizes and recompresses an uploaded cover.
// The output never exceeds 800x800, keeps the aspect ratio and is
// never upscaled. JPEG and PNG keep their format; everything else
// (webp included, which has no pure-Go encoder) becomes JPEG.
func Process(originalName string, r io.Reader) (Image, error) {
	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return Image{}, fmt.Errorf("decode image: %w", err)
	}
	fitted := imaging.Fit(src, maxWidth, maxHeight, imaging.Lanczos)

	ext := strings.ToLower(filepath.Ext(originalName))
	var (
		buf         bytes.Buffer
		contentType string
	)
	switch ext {
	case ".jpg", ".jpeg":
		err = imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
		contentType = "image/jpeg"
	case ".png":
		err = imaging.Encode(&buf, fitted, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
		contentType = "image/png"
	default:
		err = imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
		contentType = "image/jpeg"
		ext = ".jpg"
	}
	if err != nil {
		return Image{}, fmt.Errorf("encode image: %w", err)
	}
	return Image{
		Name:        storedName(originalName, ext),
		Data:        buf.Bytes(),
		ContentType: contentType,
	}, nil
}

// storedName derives a stable, collision-resistant blob name from the
// original filename. The uuid fragment guards against two uploads in
// the same millisecond.
func storedName(originalName, ext string) string {
	base := filepath.Base(originalName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	slug := slugify(base)
	if slug == "" {
		slug = "cover"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s%s", slug, time.Now().UnixMilli(), suffix, ext)
}

func slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
