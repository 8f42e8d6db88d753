// Package imagestore normalises uploaded images and keeps them in a local
// directory or an S3 bucket.
//
// Every upload goes through Process before it is stored: the type is sniffed
// from the bytes (not the client's Content-Type), the image is flattened onto
// white, scaled down so neither edge exceeds MaxDimension and re-encoded as
// JPEG. Stored names are random, so a new upload never overwrites an old one.
package imagestore

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

const (
	MaxDimension = 800
	JPEGQuality  = 85

	// DefaultMaxBytes bounds the size of an upload before decoding.
	DefaultMaxBytes int64 = 10 << 20

	// MaxPixels bounds width*height of an upload. The byte cap alone is not
	// enough: a 60000x60000 single-colour PNG compresses to a few megabytes
	// but decodes into gigabytes.
	MaxPixels = 40_000_000
)

// Folders objects are stored under.
const (
	FolderRecipes = "recipes"
	FolderAvatars = "avatars"
	FolderAssets  = "assets"
)

var (
	ErrUnsupportedType = errors.New("File type not allowed")
	ErrTooLarge        = errors.New("File is too large")
	ErrEmpty           = errors.New("File is empty")
)

var allowedTypes = []string{"image/jpeg", "image/png", "image/gif"}

// Process validates and re-encodes an upload read from r. At most maxBytes
// are accepted.
func Process(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("imagestore: reading upload: %w", err)
	}
	switch {
	case len(data) == 0:
		return nil, ErrEmpty
	case int64(len(data)) > maxBytes:
		return nil, ErrTooLarge
	}

	mt := mimetype.Detect(data)
	allowed := false
	for _, t := range allowedTypes {
		if mt.Is(t) {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrUnsupportedType
	}

	// DecodeConfig only reads the header, so oversized images are turned
	// away before any pixel buffer is allocated.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrUnsupportedType
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, ErrTooLarge
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}

	dst := flatten(src, fit(src.Bounds().Dx(), src.Bounds().Dy(), MaxDimension))

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("imagestore: encoding jpeg: %w", err)
	}
	return out.Bytes(), nil
}

// fit scales (w, h) down, keeping the aspect ratio, so both are <= max.
// Sizes already within bounds are returned unchanged.
func fit(w, h, max int) image.Point {
	if w <= max && h <= max {
		return image.Pt(w, h)
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return image.Pt(max, nh)
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return image.Pt(nw, max)
}

// flatten draws src scaled to size over a white background, dropping alpha.
func flatten(src image.Image, size image.Point) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if size == src.Bounds().Size() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// NewName returns a fresh object name for a processed image.
func NewName() string {
	return uuid.NewString() + ".jpg"
}

// placeholder renders a flat grey JPEG used as the default cover/avatar.
func placeholder(w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}), image.Point{}, draw.Src)
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
