// Package recognition holds the data exchanged with the recognition backend
// and the interfaces the upload-to-result cycle depends on.
package recognition

import "context"

// UploadRequest describes the file a write credential is requested for.
type UploadRequest struct {
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType"`
}

// UploadCredential is a single-use, time-limited storage write target.
// ID is the key for every later lookup of the uploaded image.
type UploadCredential struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Label is one classification produced by the recognition pipeline.
// Confidence is a percentage in the range 0-100.
type Label struct {
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// ImageInfo is the completed classification of an uploaded image.
type ImageInfo struct {
	Filename string  `json:"filename"`
	URL      string  `json:"url"`
	Labels   []Label `json:"labels"`
}

// Credentials issues write credentials for new uploads.
type Credentials interface {
	RequestCredential(ctx context.Context, req UploadRequest) (*UploadCredential, error)
}

// Storage writes file bytes to a credential's URL.
type Storage interface {
	Transfer(ctx context.Context, cred UploadCredential, payload []byte, contentType string) error
}

// Lookup queries the classification status of an upload. It returns
// ErrNotReady while the pipeline has not finished.
type Lookup interface {
	Info(ctx context.Context, id string) (*ImageInfo, error)
}
