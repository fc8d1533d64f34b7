package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

type imagingTransformer struct{}

// PassThroughTypes lists what Go's codecs cannot rasterize.
func (imagingTransformer) PassThroughTypes() []string {
	return []string{"image/svg+xml"}
}

func (t imagingTransformer) Transform(ctx context.Context, input []byte, opts Options) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	src, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return Output{}, fmt.Errorf("decode source image: %w", err)
	}

	bounds := src.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return Output{}, errors.New("source image has invalid dimensions")
	}

	plan := PlanResize(bounds.Dx(), bounds.Dy(), opts)
	out := applyImagingPlan(src, plan)

	data, err := encodeImaging(out, formatOf(input))
	if err != nil {
		return Output{}, err
	}

	ob := out.Bounds()
	return Output{Data: data, Width: ob.Dx(), Height: ob.Dy()}, nil
}

func applyImagingPlan(src image.Image, plan Plan) image.Image {
	img := src
	if plan.Resize {
		img = imaging.Resize(img, plan.ResizeWidth, plan.ResizeHeight, imaging.Lanczos)
	}
	if plan.Crop {
		img = imaging.CropCenter(img, plan.CanvasWidth, plan.CanvasHeight)
	}
	if plan.Embed {
		canvas := imaging.New(plan.CanvasWidth, plan.CanvasHeight, color.Black)
		img = imaging.PasteCenter(canvas, img)
	}
	return img
}

// formatOf sniffs the encoded input, since stored content types may be
// generic octet-stream.
func formatOf(input []byte) string {
	switch mimetype.Detect(input).String() {
	case "image/jpeg":
		return "jpeg"
	case "image/gif":
		return "gif"
	case "image/tiff":
		return "tiff"
	case "image/bmp":
		return "bmp"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

func encodeImaging(img image.Image, format string) ([]byte, error) {
	var (
		buf bytes.Buffer
		f   imaging.Format
	)

	switch normalizeOutputFormat(format) {
	case "jpeg":
		f = imaging.JPEG
	case "gif":
		f = imaging.GIF
	case "tiff":
		f = imaging.TIFF
	case "bmp":
		f = imaging.BMP
	default:
		// No pure Go webp encoder; png keeps the pixels lossless.
		f = imaging.PNG
	}

	if err := imaging.Encode(&buf, img, f, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
