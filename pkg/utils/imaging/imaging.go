// Package imaging converts received images into the canonical stored representation.
package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupportedFormat = goerr.New("unsupported image format")
)

const (
	DefaultMaxDimension = 512
	DefaultJPEGQuality  = 85
)

// Options controls normalization
type Options struct {
	// MaxDimension bounds the longer edge. Zero disables downscaling.
	MaxDimension int
	Quality      int
	// KeepAnimated stores multi-frame GIFs as received
	KeepAnimated bool
}

// DefaultOptions returns the options used by the pipeline when nothing is configured
func DefaultOptions() Options {
	return Options{
		MaxDimension: DefaultMaxDimension,
		Quality:      DefaultJPEGQuality,
		KeepAnimated: true,
	}
}

// DetectFormat sniffs the container format from content. It fails for data that is not
// a decodable still image header.
func DetectFormat(data []byte) (model.Format, error) {
	if len(data) == 0 {
		return model.FormatUnknown, goerr.Wrap(ErrUnsupportedFormat, "empty data")
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return model.FormatUnknown, goerr.Wrap(ErrUnsupportedFormat, "failed to decode image header",
			goerr.V("cause", err.Error()))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return model.FormatUnknown, goerr.Wrap(ErrUnsupportedFormat, "image has no pixels")
	}

	switch name {
	case "jpeg":
		return model.FormatJPEG, nil
	case "png":
		return model.FormatPNG, nil
	case "gif":
		return model.FormatGIF, nil
	case "webp":
		return model.FormatWebP, nil
	default:
		return model.FormatUnknown, goerr.Wrap(ErrUnsupportedFormat, "unknown image format", goerr.V("format", name))
	}
}

// Validate fully decodes data. A readable header over truncated or corrupt pixel data
// fails with ErrUnsupportedFormat.
func Validate(data []byte) (model.Format, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return model.FormatUnknown, err
	}

	if format == model.FormatGIF {
		if _, err := gif.DecodeAll(bytes.NewReader(data)); err != nil {
			return model.FormatUnknown, goerr.Wrap(ErrUnsupportedFormat, "failed to decode gif",
				goerr.V("cause", err.Error()))
		}
		return format, nil
	}

	if _, err := decode(data, format); err != nil {
		return model.FormatUnknown, err
	}
	return format, nil
}

func decode(data []byte, format model.Format) (image.Image, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, goerr.Wrap(ErrUnsupportedFormat, "failed to decode image",
			goerr.V("format", format), goerr.V("cause", err.Error()))
	}
	return src, nil
}

// Normalize decodes data, flattens it onto an opaque RGB canvas, downscales it so the
// longer edge fits opts.MaxDimension and re-encodes it as JPEG. Data that cannot be
// fully decoded fails with ErrUnsupportedFormat; any other error is an encoding failure.
func Normalize(data []byte, opts Options) ([]byte, model.Format, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, model.FormatUnknown, err
	}

	if opts.KeepAnimated && format == model.FormatGIF && isAnimated(data) {
		return data, format, nil
	}

	src, err := decode(data, format)
	if err != nil {
		return nil, model.FormatUnknown, err
	}

	bounds := src.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), opts.MaxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == bounds.Dx() && h == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, model.FormatUnknown, goerr.Wrap(err, "failed to encode jpeg")
	}

	return buf.Bytes(), model.FormatJPEG, nil
}

func fitWithin(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, max(h*limit/w, 1)
	}
	return max(w*limit/h, 1), limit
}

func isAnimated(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return len(g.Image) > 1
}
