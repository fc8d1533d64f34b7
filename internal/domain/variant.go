package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	OriginFallback = "fallback"
	OriginWarm     = "warm"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// WarmRequest asks for variants of one original to be generated ahead of
// the first client request.
type WarmRequest struct {
	SourceKey  string   `json:"source_key" validate:"required,max=1024"`
	Sizes      []string `json:"sizes" validate:"required,min=1,max=64,dive,required"`
	WebhookURL string   `json:"webhook_url,omitempty" validate:"omitempty,url"`
}

func (r WarmRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid warm request: %w", err)
	}
	if _, err := r.Requests(""); err != nil {
		return err
	}
	return nil
}

// Requests decodes every size token (WIDTHxHEIGHT[_fit]) against SourceKey.
func (r WarmRequest) Requests(prefix string) ([]ResizeRequest, error) {
	out := make([]ResizeRequest, 0, len(r.Sizes))
	for i, size := range r.Sizes {
		size = strings.TrimSpace(size)
		if strings.Contains(size, "/") {
			return nil, fmt.Errorf("sizes[%d]: %q must not contain '/'", i, size)
		}
		req, err := ParsePath(size+"/"+r.SourceKey, "")
		if err != nil {
			return nil, fmt.Errorf("sizes[%d]: %w", i, err)
		}
		req.Prefix = strings.Trim(prefix, "/")
		out = append(out, req)
	}
	return out, nil
}

// VariantRecord is the ledger entry written each time a variant is persisted.
type VariantRecord struct {
	VariantKey  string    `json:"variant_key"`
	SourceKey   string    `json:"source_key"`
	ContentType string    `json:"content_type"`
	Bytes       int       `json:"bytes"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Origin      string    `json:"origin"`
	CreatedAt   time.Time `json:"created_at"`
}
