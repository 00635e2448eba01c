// Package uploadapi holds the request and response bodies exchanged with the
// upload URL service.
package uploadapi

// Routes, relative to the service base URL.
const (
	DirectPath            = "/uploads/direct"
	MultipartPath         = "/uploads/multipart"
	MultipartPartPath     = "/uploads/multipart/part"
	MultipartCompletePath = "/uploads/multipart/complete"
)

// FileRequest describes the file an upload URL or a multipart session is requested for.
type FileRequest struct {
	FileName string `json:"filename" validate:"required,max=255"`
	MimeType string `json:"mime_type" validate:"required"`
	Size     int64  `json:"size" validate:"gte=0"`
}

// DirectResponse ...
type DirectResponse struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// InitiateResponse ...
type InitiateResponse struct {
	UploadID string `json:"upload_id"`
	Key      string `json:"key"`
}

// PartRequest ...
type PartRequest struct {
	UploadID   string `json:"upload_id" validate:"required"`
	Key        string `json:"key" validate:"required"`
	PartNumber int    `json:"part_number" validate:"gte=1,lte=10000"`
}

// PartResponse ...
type PartResponse struct {
	URL string `json:"url"`
}

// CompletedPart is a confirmed part of a multipart session.
type CompletedPart struct {
	PartNumber int    `json:"part_number" validate:"gte=1,lte=10000"`
	ETag       string `json:"etag" validate:"required"`
}

// CompleteRequest ...
type CompleteRequest struct {
	UploadID string          `json:"upload_id" validate:"required"`
	Key      string          `json:"key" validate:"required"`
	Parts    []CompletedPart `json:"parts" validate:"required,min=1,dive"`
}

// CompleteResponse ...
type CompleteResponse struct {
	Key      string `json:"key"`
	Location string `json:"location"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}
