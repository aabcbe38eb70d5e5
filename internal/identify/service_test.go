package identify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/doorbell-identify/internal/facerec"
)

// fakeProvider maps raw image bytes to face embeddings. Content without an
// entry yields zero detected faces, like a picture with no face in frame.
type fakeProvider struct {
	faces map[string][][]float32
	err   error
	calls int
}

func (p *fakeProvider) DetectFaces(ctx context.Context, imageData []byte) (*facerec.FaceResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	embeddings := p.faces[string(imageData)]
	resp := &facerec.FaceResponse{FacesCount: len(embeddings), Model: "fake"}
	for i, emb := range embeddings {
		resp.Faces = append(resp.Faces, facerec.FaceDetection{FaceIndex: i, Dim: len(emb), Embedding: emb})
	}
	return resp, nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

// newLibrary builds known_visitors_path/<id>/<file> from a nested map.
func newLibrary(t *testing.T, visitors map[string]map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for id, files := range visitors {
		dir := filepath.Join(root, id)
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatalf("creating %s: %v", dir, err)
		}
		for name, content := range files {
			writeFile(t, dir, name, content)
		}
	}
	return root
}

// newService builds a service with downscaling disabled so test files can be
// arbitrary bytes instead of real images.
func newService(p facerec.Provider) *Service {
	return NewService(p, 0.6, 0)
}

func TestLoadAllowedEnrollmentsRestrictsToAllowList(t *testing.T) {
	provider := &fakeProvider{faces: map[string][][]float32{
		"face-seven": {{1, 0, 0}},
		"face-nine":  {{0, 1, 0}},
	}}
	library := newLibrary(t, map[string]map[string]string{
		"7": {"a.jpg": "face-seven"},
		"9": {"b.jpg": "face-nine"},
	})

	known, err := newService(provider).LoadAllowedEnrollments(context.Background(), library, []string{"7"})
	if err != nil {
		t.Fatalf("LoadAllowedEnrollments failed: %v", err)
	}

	if len(known) != 1 {
		t.Fatalf("expected 1 enrollment, got %d", len(known))
	}
	if known[0].Label != "7" {
		t.Errorf("expected label 7, got %s", known[0].Label)
	}
}

func TestLoadAllowedEnrollmentsMissingRoot(t *testing.T) {
	provider := &fakeProvider{}
	known, err := newService(provider).LoadAllowedEnrollments(context.Background(), "/nonexistent/library", []string{"7"})
	if err != nil {
		t.Fatalf("expected graceful empty set, got error: %v", err)
	}
	if len(known) != 0 {
		t.Errorf("expected empty known set, got %d entries", len(known))
	}
	if provider.calls != 0 {
		t.Errorf("expected no provider calls, got %d", provider.calls)
	}
}

func TestLoadAllowedEnrollmentsMissingIDDirectory(t *testing.T) {
	provider := &fakeProvider{faces: map[string][][]float32{"face-one": {{1}}}}
	library := newLibrary(t, map[string]map[string]string{
		"1": {"a.jpg": "face-one"},
	})

	known, err := newService(provider).LoadAllowedEnrollments(context.Background(), library, []string{"1", "404"})
	if err != nil {
		t.Fatalf("LoadAllowedEnrollments failed: %v", err)
	}
	if len(known) != 1 || known[0].Label != "1" {
		t.Errorf("expected only visitor 1 enrolled, got %+v", known)
	}
}

func TestLoadAllowedEnrollmentsSkipsFacelessAndNonImages(t *testing.T) {
	provider := &fakeProvider{faces: map[string][][]float32{"face-one": {{1}}}}
	library := newLibrary(t, map[string]map[string]string{
		"1": {
			"a.jpg":      "face-one",
			"empty.jpg":  "no face here",
			"notes.txt":  "face-one",
			"upper.JPG":  "face-one", // extension match is case-sensitive
			"cover.jpeg": "no face here",
		},
	})

	known, err := newService(provider).LoadAllowedEnrollments(context.Background(), library, []string{"1"})
	if err != nil {
		t.Fatalf("LoadAllowedEnrollments failed: %v", err)
	}
	if len(known) != 1 {
		t.Errorf("expected 1 enrollment, got %d", len(known))
	}
	// a.jpg, empty.jpg and cover.jpeg hit the provider; notes.txt and upper.JPG do not.
	if provider.calls != 3 {
		t.Errorf("expected 3 provider calls, got %d", provider.calls)
	}
}

func TestLoadAllowedEnrollmentsMultipleImagesPerVisitor(t *testing.T) {
	provider := &fakeProvider{faces: map[string][][]float32{
		"front": {{1, 0}},
		"side":  {{0, 1}},
	}}
	library := newLibrary(t, map[string]map[string]string{
		"5": {"a.jpg": "front", "b.jpg": "side"},
	})

	known, err := newService(provider).LoadAllowedEnrollments(context.Background(), library, []string{"5"})
	if err != nil {
		t.Fatalf("LoadAllowedEnrollments failed: %v", err)
	}
	if len(known) != 2 {
		t.Fatalf("expected 2 enrollments for the same label, got %d", len(known))
	}
	if known[0].Label != "5" || known[1].Label != "5" {
		t.Errorf("expected duplicate label 5, got %s and %s", known[0].Label, known[1].Label)
	}
}

func TestLoadAllowedEnrollmentsFirstFaceOnly(t *testing.T) {
	provider := &fakeProvider{faces: map[string][][]float32{
		"group-photo": {{1, 0}, {0, 1}},
	}}
	library := newLibrary(t, map[string]map[string]string{
		"2": {"group.jpg": "group-photo"},
	})

	known, err := newService(provider).LoadAllowedEnrollments(context.Background(), library, []string{"2"})
	if err != nil {
		t.Fatalf("LoadAllowedEnrollments failed: %v", err)
	}
	if len(known) != 1 {
		t.Fatalf("expected 1 enrollment, got %d", len(known))
	}
	if known[0].Embedding[0] != 1 {
		t.Errorf("expected first face's embedding to be enrolled, got %v", known[0].Embedding)
	}
}

func TestLoadAllowedEnrollmentsProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("model not loaded")}
	library := newLibrary(t, map[string]map[string]string{
		"1": {"a.jpg": "whatever"},
	})

	if _, err := newService(provider).LoadAllowedEnrollments(context.Background(), library, []string{"1"}); err == nil {
		t.Error("expected provider failure to propagate")
	}
}

func TestIdentifyEmptyKnownSet(t *testing.T) {
	provider := &fakeProvider{}
	result, err := newService(provider).IdentifyFromProbes(context.Background(), "/does/not/matter", nil)
	if err != nil {
		t.Fatalf("IdentifyFromProbes failed: %v", err)
	}

	if result.Status != StatusComplete {
		t.Errorf("expected status complete, got %s", result.Status)
	}
	if result.Identification != Unknown {
		t.Errorf("expected Unknown, got %s", result.Identification)
	}
	if result.Reason != ReasonNoValidFaces {
		t.Errorf("expected reason %q, got %q", ReasonNoValidFaces, result.Reason)
	}
	if provider.calls != 0 {
		t.Errorf("expected no probe scanning with empty known set, got %d calls", provider.calls)
	}
}

func TestIdentifyMatch(t *testing.T) {
	provider := &fakeProvider{faces: map[string][][]float32{
		"library-face": {{1, 0, 0}},
		"probe-face":   {{1, 0.1, 0}}, // distance 0.1, within tolerance
	}}
	probes := t.TempDir()
	writeFile(t, probes, "capture.jpg", "probe-face")

	known := []Enrollment{{Label: "7", Embedding: []float32{1, 0, 0}}}
	result, err := newService(provider).IdentifyFromProbes(context.Background(), probes, known)
	if err != nil {
		t.Fatalf("IdentifyFromProbes failed: %v", err)
	}

	if result.Identification != "7" {
		t.Errorf("expected identification 7, got %s", result.Identification)
	}
	if result.Reason != "" {
		t.Errorf("expected no reason on a match, got %q", result.Reason)
	}
	if result.MatchedFile != filepath.Join(probes, "capture.jpg") {
		t.Errorf("unexpected matched file: %s", result.MatchedFile)
	}
	if len(result.ProbeEmbedding) == 0 {
		t.Error("expected probe embedding on the result")
	}
}

func TestIdentifyFirstMatchWinsOverCloserMatch(t *testing.T) {
	provider := &fakeProvider{faces: map[string][][]float32{
		"probe-face": {{1, 0, 0}},
	}}
	probes := t.TempDir()
	writeFile(t, probes, "capture.jpg", "probe-face")

	// Both enrollments are within tolerance; the second is numerically
	// closer but the first in known-set order must win.
	known := []Enrollment{
		{Label: "far-but-first", Embedding: []float32{1, 0.5, 0}},
		{Label: "near-but-second", Embedding: []float32{1, 0, 0}},
	}
	result, err := newService(provider).IdentifyFromProbes(context.Background(), probes, known)
	if err != nil {
		t.Fatalf("IdentifyFromProbes failed: %v", err)
	}
	if result.Identification != "far-but-first" {
		t.Errorf("expected first-match policy, got %s", result.Identification)
	}
}

func TestIdentifyFirstProbeWithMatchStopsScan(t *testing.T) {
	provider := &fakeProvider{faces: map[string][][]float32{
		"matching-face": {{1, 0}},
		"another-face":  {{0, 1}},
	}}
	probes := t.TempDir()
	writeFile(t, probes, "a.jpg", "matching-face")
	writeFile(t, probes, "b.jpg", "another-face")

	known := []Enrollment{{Label: "3", Embedding: []float32{1, 0}}}
	result, err := newService(provider).IdentifyFromProbes(context.Background(), probes, known)
	if err != nil {
		t.Fatalf("IdentifyFromProbes failed: %v", err)
	}
	if result.Identification != "3" {
		t.Errorf("expected identification 3, got %s", result.Identification)
	}
	// a.jpg sorts first and matches; b.jpg is never inspected.
	if provider.calls != 1 {
		t.Errorf("expected scan to stop after first match, got %d provider calls", provider.calls)
	}
}

func TestIdentifyNoProbesIsUnknown(t *testing.T) {
	provider := &fakeProvider{}
	probes := t.TempDir()

	known := []Enrollment{{Label: "1", Embedding: []float32{1}}}
	result, err := newService(provider).IdentifyFromProbes(context.Background(), probes, known)
	if err != nil {
		t.Fatalf("IdentifyFromProbes failed: %v", err)
	}
	if result.Identification != Unknown {
		t.Errorf("expected Unknown for empty probe dir, got %s", result.Identification)
	}
	if result.Reason != "" {
		t.Errorf("expected no reason, got %q", result.Reason)
	}
}

func TestIdentifyFacelessProbesAreUnknown(t *testing.T) {
	provider := &fakeProvider{faces: map[string][][]float32{}}
	probes := t.TempDir()
	writeFile(t, probes, "a.jpg", "nobody home")
	writeFile(t, probes, "b.png", "still nobody")

	known := []Enrollment{{Label: "1", Embedding: []float32{1}}}
	result, err := newService(provider).IdentifyFromProbes(context.Background(), probes, known)
	if err != nil {
		t.Fatalf("IdentifyFromProbes failed: %v", err)
	}
	if result.Identification != Unknown {
		t.Errorf("expected Unknown, got %s", result.Identification)
	}
	if provider.calls != 2 {
		t.Errorf("expected both probes inspected, got %d calls", provider.calls)
	}
}

func TestIdentifyMissingProbeDirIsError(t *testing.T) {
	provider := &fakeProvider{}
	known := []Enrollment{{Label: "1", Embedding: []float32{1}}}
	if _, err := newService(provider).IdentifyFromProbes(context.Background(), "/nonexistent/probes", known); err == nil {
		t.Error("expected error for missing probe directory")
	}
}

func TestIdentifyExcludedVisitorScenario(t *testing.T) {
	// Library has faces for 7 and 9; allow-list is [7]; the probe shows
	// person 9. Must be Unknown even though 9 exists on disk.
	provider := &fakeProvider{faces: map[string][][]float32{
		"face-seven": {{1, 0, 0}},
		"face-nine":  {{0, 1, 0}},
		"probe-nine": {{0, 1, 0.05}},
	}}
	library := newLibrary(t, map[string]map[string]string{
		"7": {"a.jpg": "face-seven"},
		"9": {"b.jpg": "face-nine"},
	})
	probes := t.TempDir()
	writeFile(t, probes, "visitor.jpg", "probe-nine")

	svc := newService(provider)
	result, err := svc.Identify(context.Background(), probes, library, []string{"7"})
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if result.Identification != Unknown {
		t.Errorf("expected Unknown for allow-list excluded visitor, got %s", result.Identification)
	}
}

func TestIdentifyEmptyAllowList(t *testing.T) {
	provider := &fakeProvider{faces: map[string][][]float32{"face-one": {{1}}}}
	library := newLibrary(t, map[string]map[string]string{
		"1": {"a.jpg": "face-one"},
	})
	probes := t.TempDir()
	writeFile(t, probes, "visitor.jpg", "face-one")

	result, err := newService(provider).Identify(context.Background(), probes, library, nil)
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if result.Identification != Unknown || result.Reason != ReasonNoValidFaces {
		t.Errorf("expected Unknown with reason, got %+v", result)
	}
}

func TestIdentifyIdempotent(t *testing.T) {
	provider := &fakeProvider{faces: map[string][][]float32{
		"face-one":  {{1, 0}},
		"probe-one": {{1, 0.1}},
	}}
	library := newLibrary(t, map[string]map[string]string{
		"1": {"a.jpg": "face-one"},
	})
	probes := t.TempDir()
	writeFile(t, probes, "visitor.jpg", "probe-one")

	svc := newService(provider)
	first, err := svc.Identify(context.Background(), probes, library, []string{"1"})
	if err != nil {
		t.Fatalf("first Identify failed: %v", err)
	}
	second, err := svc.Identify(context.Background(), probes, library, []string{"1"})
	if err != nil {
		t.Fatalf("second Identify failed: %v", err)
	}

	if first.Status != second.Status || first.Identification != second.Identification || first.Reason != second.Reason {
		t.Errorf("expected identical results, got %+v and %+v", first, second)
	}
}
