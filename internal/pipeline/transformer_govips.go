//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsTransformer struct{}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, opts Options) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	params := vips.NewImportParams()
	params.FailOnError.Set(false)

	img, err := vips.LoadImageFromBuffer(input, params)
	if err != nil {
		return Output{}, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return Output{}, fmt.Errorf("auto-rotate image: %w", err)
	}

	plan := PlanResize(img.Width(), img.Height(), opts)
	if err := applyGovipsPlan(img, plan); err != nil {
		return Output{}, err
	}

	data, err := exportGovipsImage(img)
	if err != nil {
		return Output{}, err
	}

	return Output{Data: data, Width: img.Width(), Height: img.Height()}, nil
}

func applyGovipsPlan(img *vips.ImageRef, plan Plan) error {
	if plan.Resize {
		hScale := float64(plan.ResizeWidth) / float64(img.Width())
		vScale := float64(plan.ResizeHeight) / float64(img.Height())
		if err := img.ResizeWithVScale(hScale, vScale, vips.KernelLanczos3); err != nil {
			return fmt.Errorf("resize image: %w", err)
		}
	}

	if plan.Crop {
		left := (img.Width() - plan.CanvasWidth) / 2
		top := (img.Height() - plan.CanvasHeight) / 2
		if err := img.ExtractArea(left, top, plan.CanvasWidth, plan.CanvasHeight); err != nil {
			return fmt.Errorf("crop image: %w", err)
		}
	}

	if plan.Embed {
		left := (plan.CanvasWidth - img.Width()) / 2
		top := (plan.CanvasHeight - img.Height()) / 2
		if err := img.Embed(left, top, plan.CanvasWidth, plan.CanvasHeight, vips.ExtendBlack); err != nil {
			return fmt.Errorf("embed image: %w", err)
		}
	}
	return nil
}

// exportGovipsImage keeps the source encoding. Formats libvips can load but
// not save (svg, pdf) fall back to png.
func exportGovipsImage(img *vips.ImageRef) ([]byte, error) {
	switch img.Format() {
	case vips.ImageTypeJPEG:
		data, _, err := img.ExportJpeg(vips.NewJpegExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case vips.ImageTypePNG:
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case vips.ImageTypeWEBP:
		data, _, err := img.ExportWebp(vips.NewWebpExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	}

	if data, _, err := img.ExportNative(); err == nil {
		return data, nil
	}
	data, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return data, nil
}
