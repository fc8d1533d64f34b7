package invoke

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelcache/internal/pipeline"
)

// Header is one CDN header value. Header maps are keyed by the lowercased
// name and keep the original casing in Key.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Headers map[string][]Header

func (h Headers) Set(name, value string) {
	h[strings.ToLower(name)] = []Header{{Key: name, Value: value}}
}

func (h Headers) Get(name string) string {
	values := h[strings.ToLower(name)]
	if len(values) == 0 {
		return ""
	}
	return values[0].Value
}

type OriginEvent struct {
	Records []OriginRecord `json:"Records"`
}

type OriginRecord struct {
	CF OriginPayload `json:"cf"`
}

type OriginPayload struct {
	Request  OriginRequest  `json:"request"`
	Response OriginResponse `json:"response"`
}

type OriginRequest struct {
	URI     string         `json:"uri"`
	Method  string         `json:"method,omitempty"`
	Headers Headers        `json:"headers,omitempty"`
	Origin  *RequestOrigin `json:"origin,omitempty"`
}

type RequestOrigin struct {
	S3 *S3Origin `json:"s3,omitempty"`
}

type S3Origin struct {
	DomainName string `json:"domainName"`
}

// OriginResponse is the upstream response handed back to the CDN. Status is
// a string on the wire.
type OriginResponse struct {
	Status            string  `json:"status"`
	StatusDescription string  `json:"statusDescription,omitempty"`
	Headers           Headers `json:"headers"`
	Body              string  `json:"body,omitempty"`
	BodyEncoding      string  `json:"bodyEncoding,omitempty"`
}

var ErrMalformedEvent = errors.New("origin event has no records")

type Processor interface {
	Process(ctx context.Context, inv pipeline.Invocation) (pipeline.Result, error)
	Prefix() string
}

// HandleOriginResponse generates a missing variant when the CDN origin
// answered 403 or 404 for a path under the resize prefix. Every other
// response is returned unchanged. bucket overrides the bucket derived from
// the event's S3 origin.
func HandleOriginResponse(ctx context.Context, proc Processor, bucket string, event OriginEvent) (OriginResponse, error) {
	if len(event.Records) == 0 {
		return OriginResponse{}, ErrMalformedEvent
	}

	cf := event.Records[0].CF
	resp := cf.Response
	if resp.Headers == nil {
		resp.Headers = Headers{}
	}

	if !shouldGenerate(resp.Status, cf.Request.URI, proc.Prefix()) {
		return resp, nil
	}

	if bucket == "" {
		bucket = BucketFromOrigin(cf.Request.Origin)
	}

	res, err := proc.Process(ctx, pipeline.Invocation{
		Path:   cf.Request.URI,
		Bucket: bucket,
		Mode:   pipeline.FallbackMode,
	})
	if err != nil {
		res = pipeline.FailureResult(err)
	}

	applyResult(&resp, res)
	return resp, nil
}

// BucketFromOrigin returns the first label of the S3 origin domain, e.g.
// "images" for images.s3.amazonaws.com.
func BucketFromOrigin(origin *RequestOrigin) string {
	if origin == nil || origin.S3 == nil {
		return ""
	}
	name, _, _ := strings.Cut(origin.S3.DomainName, ".")
	return name
}

func shouldGenerate(status, uri, prefix string) bool {
	code, err := strconv.Atoi(strings.TrimSpace(status))
	if err != nil {
		return false
	}
	if code != http.StatusForbidden && code != http.StatusNotFound {
		return false
	}
	return strings.HasPrefix(uri, "/"+prefix)
}

func applyResult(resp *OriginResponse, res pipeline.Result) {
	resp.Status = strconv.Itoa(res.Status)
	resp.StatusDescription = http.StatusText(res.Status)
	for name, value := range res.Headers() {
		resp.Headers.Set(name, value)
	}

	if res.OK() {
		resp.Body = base64.StdEncoding.EncodeToString(res.Body)
		resp.BodyEncoding = "base64"
		return
	}
	resp.Body = string(res.Body)
	resp.BodyEncoding = "text"
}
