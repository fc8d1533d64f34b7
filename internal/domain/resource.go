package domain

// Resource is an object read from the blob store, either an original upload
// or a derived variant.
type Resource struct {
	Data         []byte
	ContentType  string
	CacheControl string
}
