// Package facerec talks to the external face embedding server and provides
// the distance math used to decide whether two faces belong to the same
// person. Face detection and embedding extraction are entirely delegated to
// the server; this package never inspects pixels itself.
package facerec

import "context"

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Provider detects faces in an image and returns their embeddings.
// Implemented by Client; handlers and the identify service accept the
// interface so tests can substitute a fake.
type Provider interface {
	DetectFaces(ctx context.Context, imageData []byte) (*FaceResponse, error)
}
