package pipeline

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixelcache/internal/domain"
)

type Options struct {
	Width  domain.Dimension
	Height domain.Dimension
	Fit    domain.Fit
}

func optionsFor(req domain.ResizeRequest) Options {
	return Options{Width: req.Width, Height: req.Height, Fit: req.Fit}
}

type Output struct {
	Data   []byte
	Width  int
	Height int
}

// Transformer resizes an encoded image and re-encodes it in its source
// format. Implementations auto-orient and never enlarge.
type Transformer interface {
	Transform(ctx context.Context, input []byte, opts Options) (Output, error)
}

// passThrougher is implemented by backends that cannot decode every allowed
// source type. The types it lists are served untransformed.
type passThrougher interface {
	PassThroughTypes() []string
}

type TransformError struct {
	Key string
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Key, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

func normalizeOutputFormat(format string) string {
	switch format {
	case "jpg":
		return "jpeg"
	case "jpeg", "png", "gif", "tiff", "bmp", "webp":
		return format
	default:
		return "png"
	}
}
