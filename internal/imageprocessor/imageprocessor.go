package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// DefaultMaxDimension bounds the longest side of an image sent to the oracle.
const DefaultMaxDimension = 1024

// DefaultMaxPixels bounds the decoded frame size. Uploads declaring more pixels
// are rejected before any pixel data is allocated.
const DefaultMaxPixels = 50_000_000

// MIMEType is the encoding of every prepared image.
const MIMEType = "image/jpeg"

const jpegQuality = 90

// ErrInvalidImage is returned for uploads that do not decode as an image.
var ErrInvalidImage = errors.New("invalid image")

// Image is an upload normalised for the oracle and the history ledger.
type Image struct {
	Data     []byte
	MIMEType string
	Format   string
	Width    int
	Height   int
}

// Options bounds the images Prepare accepts and produces. Zero values fall
// back to the package defaults.
type Options struct {
	MaxDimension int
	MaxPixels    int64
}

// Prepare decodes data, shrinks it so that neither side exceeds
// opts.MaxDimension while keeping the aspect ratio, and re-encodes it as JPEG
// on a white background.
func Prepare(data []byte, opts Options) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrInvalidImage)
	}
	maxDim := opts.MaxDimension
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	width, height := fit(src.Bounds().Dx(), src.Bounds().Dy(), maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return &Image{
		Data:     buf.Bytes(),
		MIMEType: MIMEType,
		Format:   format,
		Width:    width,
		Height:   height,
	}, nil
}

// fit scales (w, h) down so that the longer side equals maxDim.
func fit(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		nh := h * maxDim / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := w * maxDim / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}
