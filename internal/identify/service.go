// Package identify implements the visitor identification flow: load face
// enrollments for an allow-list of visitor IDs from the image library, then
// scan newly captured images for the first enrolled face that matches.
package identify

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/doorbell-identify/internal/facerec"
	"github.com/kozaktomas/doorbell-identify/internal/imaging"
)

// StatusComplete is the status reported for every finished identification,
// matched or not.
const StatusComplete = "complete"

// Unknown is the identification reported when no probe matches any enrollment.
const Unknown = "Unknown"

// ReasonNoValidFaces explains an Unknown verdict caused by an empty known set.
const ReasonNoValidFaces = "No valid faces found for the provided visitor IDs."

// imageExtensions are matched case-sensitively against filename suffixes,
// mirroring the capture pipeline which always writes lowercase extensions.
var imageExtensions = []string{".jpg", ".jpeg", ".png"}

// Enrollment pairs a visitor ID with one face embedding extracted from a
// single library image. A visitor with several library images gets several
// enrollments.
type Enrollment struct {
	Label     string
	Embedding []float32
}

// Result is the outcome of one identification request.
type Result struct {
	Status         string `json:"status"`
	Identification string `json:"identification"`
	Reason         string `json:"reason,omitempty"`

	// MatchedFile and ProbeEmbedding feed the audit log; they are not part
	// of the response body.
	MatchedFile    string    `json:"-"`
	ProbeEmbedding []float32 `json:"-"`
}

// Service orchestrates enrollment loading and probe matching. It holds no
// state between requests; every call rebuilds its own known set.
type Service struct {
	provider     facerec.Provider
	tolerance    float64
	maxImageSize int
}

// NewService creates an identification service. A non-positive tolerance
// falls back to the 0.6 default inside CompareFaces.
func NewService(provider facerec.Provider, tolerance float64, maxImageSize int) *Service {
	return &Service{
		provider:     provider,
		tolerance:    tolerance,
		maxImageSize: maxImageSize,
	}
}

// Identify runs the full flow: load enrollments restricted to allowedIDs,
// then match the probe directory against them.
func (s *Service) Identify(ctx context.Context, newImagesPath, knownVisitorsPath string, allowedIDs []string) (*Result, error) {
	known, err := s.LoadAllowedEnrollments(ctx, knownVisitorsPath, allowedIDs)
	if err != nil {
		return nil, err
	}
	return s.IdentifyFromProbes(ctx, newImagesPath, known)
}

// LoadAllowedEnrollments scans libraryRoot/<id> for every ID in allowedIDs
// and extracts one embedding per image that contains at least one face.
// Ordering follows allowedIDs, then filename order within each directory.
// Identities outside the allow-list are never loaded, even if their
// directories exist. A missing library root or ID directory is a skip, not
// an error; an unreadable image inside an existing directory is an error.
func (s *Service) LoadAllowedEnrollments(ctx context.Context, libraryRoot string, allowedIDs []string) ([]Enrollment, error) {
	info, err := os.Stat(libraryRoot)
	if err != nil || !info.IsDir() {
		log.Printf("visitor library %s does not exist, skipping enrollment", libraryRoot)
		return nil, nil
	}

	var known []Enrollment
	for _, id := range allowedIDs {
		dir := filepath.Join(libraryRoot, id)
		dirInfo, err := os.Stat(dir)
		if err != nil || !dirInfo.IsDir() {
			log.Printf("skipping visitor ID %s: directory not found", id)
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("reading visitor directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !isImageFile(entry.Name()) {
				continue
			}

			embedding, err := s.firstFaceEmbedding(ctx, filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			if embedding == nil {
				continue // no detectable face in this image
			}
			known = append(known, Enrollment{Label: id, Embedding: embedding})
		}
	}

	log.Printf("loaded %d enrollment(s) for %d allowed visitor ID(s)", len(known), len(allowedIDs))
	return known, nil
}

// IdentifyFromProbes scans probeDir in filename order and returns the label
// of the first enrollment matched by the first probe face that matches
// anything. First match wins on both axes: the earliest known-set entry
// within tolerance decides the label, and the earliest probe image with any
// match ends the scan.
func (s *Service) IdentifyFromProbes(ctx context.Context, probeDir string, known []Enrollment) (*Result, error) {
	if len(known) == 0 {
		return &Result{
			Status:         StatusComplete,
			Identification: Unknown,
			Reason:         ReasonNoValidFaces,
		}, nil
	}

	entries, err := os.ReadDir(probeDir)
	if err != nil {
		return nil, fmt.Errorf("reading probe directory %s: %w", probeDir, err)
	}

	knownEmbeddings := make([][]float32, len(known))
	for i := range known {
		knownEmbeddings[i] = known[i].Embedding
	}

	for _, entry := range entries {
		if entry.IsDir() || !isImageFile(entry.Name()) {
			continue
		}

		path := filepath.Join(probeDir, entry.Name())
		embedding, err := s.firstFaceEmbedding(ctx, path)
		if err != nil {
			return nil, err
		}
		if embedding == nil {
			continue
		}

		matches := facerec.CompareFaces(knownEmbeddings, embedding, s.tolerance)
		for i, matched := range matches {
			if matched {
				log.Printf("identified visitor %s from %s", known[i].Label, entry.Name())
				return &Result{
					Status:         StatusComplete,
					Identification: known[i].Label,
					MatchedFile:    path,
					ProbeEmbedding: embedding,
				}, nil
			}
		}
	}

	return &Result{Status: StatusComplete, Identification: Unknown}, nil
}

// firstFaceEmbedding reads an image, downscales it if needed, and returns the
// embedding of the first detected face, or nil when the image contains no
// detectable face.
func (s *Service) firstFaceEmbedding(ctx context.Context, path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", path, err)
	}

	data, err = imaging.Downscale(data, s.maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("preparing image %s: %w", path, err)
	}

	resp, err := s.provider.DetectFaces(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("detecting faces in %s: %w", path, err)
	}
	if len(resp.Faces) == 0 {
		return nil, nil
	}
	return resp.Faces[0].Embedding, nil
}

func isImageFile(name string) bool {
	for _, ext := range imageExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
