package pipeline

import (
	"math"

	"github.com/dunamismax/pixelcache/internal/domain"
)

// Plan is the geometry of one resize. The image is scaled to
// ResizeWidth x ResizeHeight, then either center-cropped (cover) or
// centered on a canvas (contain) of CanvasWidth x CanvasHeight.
type Plan struct {
	Resize       bool
	ResizeWidth  int
	ResizeHeight int
	Crop         bool
	Embed        bool
	CanvasWidth  int
	CanvasHeight int
}

// PlanResize never produces an axis larger than the source.
func PlanResize(srcW, srcH int, opts Options) Plan {
	if srcW <= 0 || srcH <= 0 {
		return Plan{}
	}

	w, h := opts.Width, opts.Height
	sw, sh := float64(srcW), float64(srcH)
	rw, rh := srcW, srcH

	switch {
	case w.Auto && h.Auto:
	case w.Auto:
		rw, rh = scaled(srcW, srcH, math.Min(float64(h.Value)/sh, 1))
	case h.Auto:
		rw, rh = scaled(srcW, srcH, math.Min(float64(w.Value)/sw, 1))
	default:
		xs, ys := float64(w.Value)/sw, float64(h.Value)/sh
		switch opts.Fit {
		case domain.FitFill:
			rw, rh = min(w.Value, srcW), min(h.Value, srcH)
		case domain.FitInside, domain.FitContain:
			rw, rh = scaled(srcW, srcH, math.Min(math.Min(xs, ys), 1))
		default:
			rw, rh = scaled(srcW, srcH, math.Min(math.Max(xs, ys), 1))
		}
	}

	plan := Plan{
		Resize:       rw != srcW || rh != srcH,
		ResizeWidth:  rw,
		ResizeHeight: rh,
		CanvasWidth:  rw,
		CanvasHeight: rh,
	}
	if w.Auto || h.Auto {
		return plan
	}

	switch opts.Fit {
	case domain.FitCover:
		plan.CanvasWidth, plan.CanvasHeight = min(w.Value, rw), min(h.Value, rh)
		plan.Crop = plan.CanvasWidth < rw || plan.CanvasHeight < rh
	case domain.FitContain:
		plan.CanvasWidth, plan.CanvasHeight = min(w.Value, srcW), min(h.Value, srcH)
		plan.Embed = plan.CanvasWidth > rw || plan.CanvasHeight > rh
	}
	return plan
}

func scaled(srcW, srcH int, scale float64) (int, int) {
	w := int(math.Round(float64(srcW) * scale))
	h := int(math.Round(float64(srcH) * scale))
	return max(1, w), max(1, h)
}
