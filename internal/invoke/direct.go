package invoke

import (
	"encoding/base64"

	"github.com/dunamismax/pixelcache/internal/pipeline"
)

// DirectResponse is the proxy-integration envelope returned in direct mode.
type DirectResponse struct {
	StatusCode      int               `json:"statusCode"`
	Body            string            `json:"body"`
	IsBase64Encoded bool              `json:"isBase64Encoded"`
	Headers         map[string]string `json:"headers"`
}

// DirectRequest carries the requested path, with or without the prefix.
type DirectRequest struct {
	Path string `json:"path"`
}

// Direct renders a pipeline result. Image bodies are base64 encoded; error
// bodies are plain text.
func Direct(res pipeline.Result) DirectResponse {
	out := DirectResponse{
		StatusCode: res.Status,
		Headers:    res.Headers(),
	}
	if res.OK() {
		out.Body = base64.StdEncoding.EncodeToString(res.Body)
		out.IsBase64Encoded = true
		return out
	}
	out.Body = string(res.Body)
	return out
}
