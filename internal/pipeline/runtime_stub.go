//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

// NewTransformer returns the pure Go backend.
func NewTransformer() Transformer {
	return imagingTransformer{}
}

func BackendName() string {
	return "imaging"
}
