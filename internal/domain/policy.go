package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultCacheControl = "public, max-age=86400"
	ErrorCacheControl   = "private, nocache"
	DefaultVariantTTL   = 30 * 24 * time.Hour
)

var (
	DefaultAllowedTypes = []string{
		"image/jpeg",
		"image/gif",
		"image/png",
		"image/svg+xml",
		"image/tiff",
		"image/bmp",
	}

	// Originals uploaded behind the CDN are often stored untyped.
	DefaultOriginAllowedTypes = append(append([]string{}, DefaultAllowedTypes...),
		"binary/octet-stream",
		"application/octet-stream",
	)

	DefaultPassThroughTypes = []string{"image/bmp"}
)

type RejectionKind string

const (
	RejectDimensionNotWhitelisted RejectionKind = "dimension_not_whitelisted"
	RejectUnknownFit              RejectionKind = "unknown_fit"
)

type Rejection struct {
	Kind   RejectionKind
	Detail string
}

func (r *Rejection) Error() string {
	return r.Detail
}

// Policy is built once at startup and only read afterwards.
type Policy struct {
	// Whitelist holds permitted WIDTHxHEIGHT tokens. Nil means unrestricted.
	Whitelist          map[string]struct{}
	AllowedTypes       []string
	OriginAllowedTypes []string
	PassThroughTypes   []string
	CacheControl       string
	VariantTTL         time.Duration
	StrictStoreErrors  bool
}

func DefaultPolicy() Policy {
	return Policy{
		AllowedTypes:       DefaultAllowedTypes,
		OriginAllowedTypes: DefaultOriginAllowedTypes,
		PassThroughTypes:   DefaultPassThroughTypes,
		CacheControl:       DefaultCacheControl,
		VariantTTL:         DefaultVariantTTL,
	}
}

// ParseWhitelist splits a space separated list of WIDTHxHEIGHT tokens.
// A blank list yields nil, which disables the whitelist.
func ParseWhitelist(raw string) map[string]struct{} {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// Validate returns nil when the request is accepted. The whitelist check runs
// first and never discloses the permitted sizes.
func (p Policy) Validate(req ResizeRequest) *Rejection {
	if p.Whitelist != nil {
		if _, ok := p.Whitelist[req.Size()]; !ok {
			return &Rejection{
				Kind:   RejectDimensionNotWhitelisted,
				Detail: fmt.Sprintf("WHITELIST is set but does not contain the size parameter %q", req.Size()),
			}
		}
	}

	if !req.Fit.Valid() {
		names := make([]string, 0, len(Fits))
		for _, f := range Fits {
			names = append(names, string(f))
		}
		return &Rejection{
			Kind: RejectUnknownFit,
			Detail: fmt.Sprintf("Unknown Fit action parameter %q\nAvailable Fit actions: %s.",
				string(req.Fit), strings.Join(names, ", ")),
		}
	}

	return nil
}

func (p Policy) IsPassThrough(contentType string) bool {
	return HasType(p.PassThroughTypes, contentType)
}

// HasType reports whether contentType is one of types, ignoring case.
func HasType(types []string, contentType string) bool {
	for _, t := range types {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}
