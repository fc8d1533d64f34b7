package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultPrefix = "image-resize"

	autoToken     = "auto"
	sizeSeparator = "x"
	fitSeparator  = "_"
)

type Fit string

const (
	FitCover   Fit = "cover"
	FitContain Fit = "contain"
	FitFill    Fit = "fill"
	FitInside  Fit = "inside"
	FitOutside Fit = "outside"
)

// Fits lists every recognized fit mode in the order they are reported to clients.
var Fits = []Fit{FitCover, FitContain, FitFill, FitInside, FitOutside}

func (f Fit) Valid() bool {
	for _, known := range Fits {
		if f == known {
			return true
		}
	}
	return false
}

// Dimension is a target size on one axis. Auto means the axis is unconstrained.
type Dimension struct {
	Value int
	Auto  bool
}

func Pixels(n int) Dimension {
	return Dimension{Value: n}
}

func AutoDimension() Dimension {
	return Dimension{Auto: true}
}

func (d Dimension) String() string {
	if d.Auto {
		return autoToken
	}
	return strconv.Itoa(d.Value)
}

type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid resize path %q: %s", e.Path, e.Reason)
}

// ResizeRequest is a decoded variant path. Build it with ParsePath; the zero
// value is not a valid request.
type ResizeRequest struct {
	Width       Dimension
	Height      Dimension
	Fit         Fit
	FitExplicit bool
	SourceKey   string
	Prefix      string
}

// Size returns the raw WIDTHxHEIGHT token the request was decoded from.
func (r ResizeRequest) Size() string {
	return r.Width.String() + sizeSeparator + r.Height.String()
}

// Encode returns the un-prefixed path encoding of the request.
func (r ResizeRequest) Encode() string {
	var b strings.Builder
	b.WriteString(r.Size())
	if r.FitExplicit {
		b.WriteString(fitSeparator)
		b.WriteString(string(r.Fit))
	}
	b.WriteByte('/')
	b.WriteString(r.SourceKey)
	return b.String()
}

// VariantKey is the storage key of the derived image. It is the same key
// whether the request arrived with or without the prefix segment.
func (r ResizeRequest) VariantKey() string {
	if r.Prefix == "" {
		return r.Encode()
	}
	return r.Prefix + "/" + r.Encode()
}

// ParsePath decodes [<prefix>/]<width>x<height>[_<fit>]/<sourceKey...>.
// Only the structure is checked here; whitelist and fit membership are
// policy decisions made by Policy.Validate.
func ParsePath(raw, prefix string) (ResizeRequest, error) {
	prefix = strings.Trim(prefix, "/")
	p := strings.TrimLeft(raw, "/")
	if prefix != "" {
		if p == prefix {
			p = ""
		} else {
			p = strings.TrimPrefix(p, prefix+"/")
		}
	}
	if p == "" {
		return ResizeRequest{}, &InvalidPathError{Path: raw, Reason: "missing size segment"}
	}

	encoded, sourceKey, _ := strings.Cut(p, "/")
	sizePart, fitPart, hasFit := strings.Cut(encoded, fitSeparator)

	tokens := strings.Split(sizePart, sizeSeparator)
	if len(tokens) != 2 {
		return ResizeRequest{}, &InvalidPathError{
			Path:   raw,
			Reason: fmt.Sprintf("size %q must be WIDTHxHEIGHT", sizePart),
		}
	}

	width, err := parseDimension(tokens[0])
	if err != nil {
		return ResizeRequest{}, &InvalidPathError{Path: raw, Reason: "width " + err.Error()}
	}
	height, err := parseDimension(tokens[1])
	if err != nil {
		return ResizeRequest{}, &InvalidPathError{Path: raw, Reason: "height " + err.Error()}
	}

	fit := FitCover
	if hasFit {
		fit = Fit(fitPart)
	}

	return ResizeRequest{
		Width:       width,
		Height:      height,
		Fit:         fit,
		FitExplicit: hasFit,
		SourceKey:   sourceKey,
		Prefix:      prefix,
	}, nil
}

// parseDimension accepts "auto" or a canonical positive integer. Leading
// zeros and signs are refused so that encoding a request reproduces its path.
func parseDimension(token string) (Dimension, error) {
	if token == autoToken {
		return AutoDimension(), nil
	}
	if token == "" {
		return Dimension{}, fmt.Errorf("is empty")
	}
	for i, r := range token {
		if r < '0' || r > '9' || (i == 0 && r == '0') {
			return Dimension{}, fmt.Errorf("%q is not auto or a positive integer", token)
		}
	}
	n, err := strconv.Atoi(token)
	if err != nil {
		return Dimension{}, fmt.Errorf("%q is out of range", token)
	}
	return Pixels(n), nil
}
